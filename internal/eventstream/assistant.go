package eventstream

import "github.com/corvidrun/agentcore/internal/agentmsg"

// AssistantEventType discriminates the tagged AssistantMessageEvent variants
// a provider adapter emits while streaming one assistant turn.
type AssistantEventType string

const (
	AssistantStart AssistantEventType = "start"

	AssistantTextStart AssistantEventType = "text_start"
	AssistantTextDelta AssistantEventType = "text_delta"
	AssistantTextEnd   AssistantEventType = "text_end"

	AssistantThinkingStart AssistantEventType = "thinking_start"
	AssistantThinkingDelta AssistantEventType = "thinking_delta"
	AssistantThinkingEnd   AssistantEventType = "thinking_end"

	AssistantToolCallStart AssistantEventType = "toolcall_start"
	AssistantToolCallDelta AssistantEventType = "toolcall_delta"
	AssistantToolCallEnd   AssistantEventType = "toolcall_end"

	AssistantDone  AssistantEventType = "done"
	AssistantError AssistantEventType = "error"
)

// AssistantMessageEvent is the tagged union a provider adapter's event
// stream carries. Only the fields relevant to Type are populated.
type AssistantMessageEvent struct {
	Type AssistantEventType

	// Every event carries the monotonically-growing snapshot of the message
	// being built, except done, which carries it as Message, and error,
	// which carries it as Error.
	Partial agentmsg.Message

	// text_start/text_delta/text_end, thinking_*, toolcall_*
	ContentIndex int
	Delta        string          // text/thinking delta, or toolcall argument-string delta
	Content      string          // full block content, set on *_end
	ToolCall     agentmsg.ContentBlock // set on toolcall_end, Arguments is a complete JSON object

	// done
	Reason  agentmsg.StopReason
	Message agentmsg.Message

	// error
	Error agentmsg.Message // stop_reason in {error, aborted}
}

// IsTerminalAssistantEvent implements the eventstream.Stream terminal predicate for
// AssistantMessageEvent: the stream ends on done or error.
func IsTerminalAssistantEvent(e AssistantMessageEvent) bool {
	return e.Type == AssistantDone || e.Type == AssistantError
}

// ExtractAssistantResult implements the eventstream.Stream result extractor:
// the final AssistantMessage, from Message on done or Error on error.
func ExtractAssistantResult(e AssistantMessageEvent) agentmsg.Message {
	if e.Type == AssistantDone {
		return e.Message
	}
	return e.Error
}

// AssistantMessageEventStream is the §4.A specialisation fixing the event
// type to AssistantMessageEvent and the result type to the final
// agentmsg.Message.
type AssistantMessageEventStream = Stream[AssistantMessageEvent, agentmsg.Message]

// NewAssistantMessageEventStream constructs the §4.A specialisation with the
// fixed is_terminal/extract_result pair every provider adapter shares.
func NewAssistantMessageEventStream() *AssistantMessageEventStream {
	return New(IsTerminalAssistantEvent, ExtractAssistantResult)
}
