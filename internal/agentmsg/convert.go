package agentmsg

import "unicode/utf16"

// SynthesizeOrphanToolResults scans messages for ToolCall blocks that are not
// immediately followed (before the next AssistantMessage or end of slice) by
// a ToolResultMessage carrying the matching id, and inserts a synthetic
// "Interrupted by user message" result for each. This is invariant #1: every
// ToolCall must be paired before the next AssistantMessage.
//
// Call this before appending a new UserMessage onto a branch whose tail may
// carry dangling tool calls (session.Store does this before every
// user-message append).
func SynthesizeOrphanToolResults(messages []Message, nowMs int64) []Message {
	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		out = append(out, m)
		if m.Role != RoleAssistant {
			continue
		}
		pending := map[string]string{} // id -> tool name
		for _, tc := range m.ToolCalls() {
			pending[tc.ToolCallID] = tc.ToolCallName
		}
		if len(pending) == 0 {
			continue
		}
		// Scan forward until the next assistant message or end, removing
		// ids that get a result.
		for j := i + 1; j < len(messages); j++ {
			next := messages[j]
			if next.Role == RoleAssistant {
				break
			}
			if next.Role == RoleToolResult {
				delete(pending, next.ToolCallID)
			}
		}
		if len(pending) == 0 {
			continue
		}
		for id, name := range pending {
			out = append(out, NewToolResultMessage(id, name,
				[]ContentBlock{Text("Interrupted by user message")}, nil, false, nowMs))
		}
	}
	return out
}

// FilterForProvider applies invariants #2 and #3 to a message slice before
// wire conversion: terminal-error/aborted assistant messages are dropped
// entirely, and empty Thinking blocks are dropped from surviving messages.
func FilterForProvider(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsTerminalError() {
			continue
		}
		if m.Role == RoleAssistant || m.Role == RoleUser {
			m.Content = dropEmptyThinking(m.Content)
		}
		out = append(out, m)
	}
	return out
}

func dropEmptyThinking(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.IsEmptyThinking() {
			continue
		}
		out = append(out, b)
	}
	return out
}

// StripForeignSignatures implements invariant #4: signatures on content
// produced by a different (provider, model) than the current call must be
// stripped, since they are provider-and-model-scoped and replaying them
// verbatim would confuse (or be rejected by) the target model.
func StripForeignSignatures(messages []Message, currentProvider, currentModelID string) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.Role != RoleAssistant || (m.Provider == currentProvider && m.ModelID == currentModelID) {
			out[i] = m
			continue
		}
		stripped := make([]ContentBlock, len(m.Content))
		for j, b := range m.Content {
			b.Signature = ""
			b.ThoughtSignature = ""
			stripped[j] = b
		}
		m.Content = stripped
		out[i] = m
	}
	return out
}

// ReplaceSurrogates replaces lone/unpaired UTF-16 surrogate halves with the
// Unicode replacement character, a normalisation some providers require
// before accepting text (§4.B "Normalisation rules common to all
// providers").
func ReplaceSurrogates(s string) string {
	units := utf16.Encode([]rune(s))
	runes := utf16.Decode(units)
	// utf16.Decode already substitutes invalid surrogate halves with
	// utf8.RuneError (U+FFFD) per its documented behaviour; re-encoding the
	// decoded runes back to a string yields the desired replacement.
	return string(runes)
}
