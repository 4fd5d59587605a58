// Package tokencount implements the deterministic, provider-agnostic token
// estimator the supervisor's compaction and threshold decisions rely on
// (spec §4.D "Token estimator"), plus an optional tiktoken-go-backed precise
// counter for display/stats purposes only (see tiktoken.go).
//
// The deterministic estimator MUST stay exactly the len(utf8)/4 family of
// heuristics spec.md specifies: compaction's cut-point arithmetic has to be
// reproducible without a model-specific tokenizer dependency (§8 testable
// properties assert exact cut points from this formula).
package tokencount

import "github.com/corvidrun/agentcore/internal/agentmsg"

// ImageTokens is the fixed per-image estimate (spec.md: "fixed 1200 tokens
// (≈ 4800 chars / 4)").
const ImageTokens = 1200

// EstimateText implements the text/thinking-content estimator:
// len(utf-8-string) // 4.
func EstimateText(s string) int {
	return len(s) / 4
}

// EstimateToolCall implements the ToolCall estimator: 10 +
// len(name)/4 + len(arguments-JSON-string)/4.
func EstimateToolCall(name string, argumentsJSON string) int {
	return 10 + len(name)/4 + len(argumentsJSON)/4
}

// EstimateContentBlock dispatches to the per-variant estimator.
func EstimateContentBlock(b agentmsg.ContentBlock) int {
	switch b.Type {
	case agentmsg.ContentText, agentmsg.ContentThinking:
		return EstimateText(b.Text)
	case agentmsg.ContentImage:
		return ImageTokens
	case agentmsg.ContentToolCall:
		return EstimateToolCall(b.ToolCallName, string(b.Arguments))
	default:
		return 0
	}
}

// EstimateMessage sums the estimate of every content block in m. Role-
// specific fields beyond content (usage, stop reason, tool-result metadata)
// carry no token weight of their own under this heuristic; only the visible
// content blocks / text do.
func EstimateMessage(m agentmsg.Message) int {
	total := 0
	for _, b := range m.Content {
		total += EstimateContentBlock(b)
	}
	return total
}

// EstimateMessages sums EstimateMessage across a slice, with the
// spec-mandated boundary behaviour EstimateMessages(nil) == 0.
func EstimateMessages(messages []agentmsg.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}
