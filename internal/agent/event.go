package agent

import (
	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

// EventType discriminates the tagged-union Event the agent loop (and, above
// it, the supervisor) delivers to subscribers (spec §4.C/§4.D).
type EventType string

const (
	EventAgentStart EventType = "agent_start"
	EventTurnStart  EventType = "turn_start"

	EventMessageStart  EventType = "message_start"
	EventMessageUpdate EventType = "message_update"
	EventMessageEnd    EventType = "message_end"

	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"

	EventTurnEnd  EventType = "turn_end"
	EventAgentEnd EventType = "agent_end"

	// Supervisor-originated events (spec §4.D), carried in the same union so
	// a single subscriber list can observe the whole run.
	EventAutoRetryStart      EventType = "auto_retry_start"
	EventAutoRetryEnd        EventType = "auto_retry_end"
	EventAutoCompactionStart EventType = "auto_compaction_start"
	EventAutoCompactionEnd   EventType = "auto_compaction_end"
)

// Event is the single value type delivered to every subscriber. Only the
// fields relevant to Type are populated; the rest are zero.
type Event struct {
	Type EventType

	// message_start / message_update / message_end
	Message        agentmsg.Message
	AssistantEvent eventstream.AssistantMessageEvent

	// tool_execution_*
	ToolCallID string
	ToolName   string
	ToolArgs   []byte
	ToolUpdate *ToolResult
	ToolResult *ToolResult
	ToolError  error

	// turn_end
	TurnMessage     agentmsg.Message
	TurnToolResults []agentmsg.Message

	// agent_end
	StopReason string
	Err        error

	// auto_retry_* / auto_compaction_*
	Attempt    int
	MaxRetries int
	DelayMs    int64
	Reason     string
	Outcome    string
	TokensBefore int
	TokensAfter  int
	Summary      string
}

// ToolResult mirrors tool.Result without importing internal/tool from this
// package's event type (kept dependency-light; agent.go converts).
type ToolResult struct {
	Content []agentmsg.ContentBlock
	Details any
}

type subscriber struct {
	id int
	fn func(Event)
}

// emit invokes every subscriber synchronously, in subscription order, on
// the calling goroutine (spec §4.C "subscribers are invoked synchronously,
// in the order they subscribed").
func (a *Agent) emit(e Event) {
	a.subsMu.Lock()
	subs := make([]subscriber, len(a.subs))
	copy(subs, a.subs)
	a.subsMu.Unlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Subscribe registers fn to receive every Event the agent (and any
// supervisor wrapping it) emits. The returned function unsubscribes and is
// idempotent.
func (a *Agent) Subscribe(fn func(Event)) func() {
	a.subsMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subs = append(a.subs, subscriber{id: id, fn: fn})
	a.subsMu.Unlock()

	var once bool
	return func() {
		a.subsMu.Lock()
		defer a.subsMu.Unlock()
		if once {
			return
		}
		once = true
		for i, s := range a.subs {
			if s.id == id {
				a.subs = append(a.subs[:i], a.subs[i+1:]...)
				break
			}
		}
	}
}
