package provider

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// googleIDPattern is the character set Google-backed providers require for
// tool-call ids (§4.B "Normalisation rules common to all providers").
var googleIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// NormalizeToolCallID rewrites id to satisfy dialect's character-set
// requirements. Dialects that accept any printable string return id
// unchanged.
func NormalizeToolCallID(dialect, id string) string {
	switch dialect {
	case "google":
		cleaned := googleIDPattern.ReplaceAllString(id, "_")
		if len(cleaned) > 64 {
			cleaned = cleaned[:64]
		}
		if cleaned == "" {
			cleaned = "tc"
		}
		return cleaned
	default:
		return id
	}
}

// IsValidThoughtSignature reports whether sig looks like a usable base64
// payload: non-empty, length a multiple of 4, and actually base64-decodable.
// Per §4.B, an invalid signature must be dropped rather than replayed.
func IsValidThoughtSignature(sig string) bool {
	if sig == "" || len(sig)%4 != 0 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(sig)
	return err == nil
}

// clampReasoningForModel applies a per-model reasoning-effort policy lookup
// that overrides the general level->label mapping below it. GPT-5.1-codex-mini
// is the one model the spec calls out by name (Open Question: "preserve the
// table exactly... a per-model policy lookup, not general logic"): minimal
// stays minimal-equivalent but maps up to low, xhigh clamps to high, and
// every other level collapses to medium regardless of what was requested.
func clampReasoningForModel(modelID string, level agentmsg.ReasoningLevel) agentmsg.ReasoningLevel {
	if modelID != "gpt-5.1-codex-mini" {
		return level
	}
	switch level {
	case agentmsg.ReasoningMinimal:
		return agentmsg.ReasoningLow
	case agentmsg.ReasoningXHigh:
		return agentmsg.ReasoningHigh
	default:
		return agentmsg.ReasoningMedium
	}
}

// reasoningEffortLabel maps an internal reasoning level to the three-value
// effort label most "effort label" dialects (OpenAI Responses, Anthropic's
// discrete modes) expose, clamping xhigh to high unless the model supports
// it.
func reasoningEffortLabel(level agentmsg.ReasoningLevel, modelSupportsXHigh bool) string {
	switch level {
	case agentmsg.ReasoningMinimal:
		return "minimal"
	case agentmsg.ReasoningLow:
		return "low"
	case agentmsg.ReasoningMedium:
		return "medium"
	case agentmsg.ReasoningHigh:
		return "high"
	case agentmsg.ReasoningXHigh:
		if modelSupportsXHigh {
			return "xhigh"
		}
		return "high"
	default:
		return ""
	}
}

// reasoningBudget maps an internal reasoning level to a token budget for
// "token budget" dialects (Anthropic extended thinking, Gemini
// thinkingConfig, Bedrock reasoning_config), clamping xhigh to the same
// budget as high.
func reasoningBudget(level agentmsg.ReasoningLevel, budgets agentmsg.ThinkingBudgets) int {
	if level == agentmsg.ReasoningOff {
		return 0
	}
	if level == agentmsg.ReasoningXHigh {
		return budgets.Budget(agentmsg.ReasoningHigh)
	}
	return budgets.Budget(level)
}

// serviceTierCostMultiplier implements §4.B's "Usage & cost accounting":
// OpenAI Responses with a non-default service_tier scales cost.
func serviceTierCostMultiplier(tier string) float64 {
	switch tier {
	case "flex":
		return 0.5
	case "priority":
		return 2.0
	default:
		return 1.0
	}
}

// computeCost applies a model's per-megatoken price table to a usage
// breakdown, scaled by multiplier.
func computeCost(usage agentmsg.Usage, prices agentmsg.PriceTable, multiplier float64) agentmsg.Cost {
	const perMillion = 1_000_000.0
	return agentmsg.Cost{
		Input:      float64(usage.Input) * prices.Input / perMillion * multiplier,
		Output:     float64(usage.Output) * prices.Output / perMillion * multiplier,
		CacheRead:  float64(usage.CacheRead) * prices.CacheRead / perMillion * multiplier,
		CacheWrite: float64(usage.CacheWrite) * prices.CacheWrite / perMillion * multiplier,
	}
}

// coalesceToolResults groups adjacent ToolResultMessage entries so a dialect
// that sends them as one wire-level message can do so (§4.B normalisation
// rules). Returns the messages in order, each run of consecutive
// tool-result messages as one group and every other message in a group of
// its own.
func coalesceToolResults(messages []agentmsg.Message) [][]agentmsg.Message {
	var groups [][]agentmsg.Message
	var current []agentmsg.Message
	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}
	for _, m := range messages {
		if m.Role == agentmsg.RoleToolResult {
			current = append(current, m)
			continue
		}
		flush()
		groups = append(groups, []agentmsg.Message{m})
	}
	flush()
	return groups
}

// collapseToolResultContent joins a ToolResultMessage's content blocks into
// a single string, for dialects that don't accept multimodal tool results.
func collapseToolResultContent(blocks []agentmsg.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Type {
		case agentmsg.ContentText:
			sb.WriteString(b.Text)
		case agentmsg.ContentImage:
			sb.WriteString("[image]")
		}
	}
	return sb.String()
}
