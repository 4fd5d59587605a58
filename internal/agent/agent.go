// Package agent implements the core run loop (spec §4.C): one LLM call plus
// any tool executions it requests, repeated until the model stops without
// requesting a tool, steering and follow-up messages are drained, and the
// result is persisted to a session.Store as it happens.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/metrics"
	"github.com/corvidrun/agentcore/internal/provider"
	"github.com/corvidrun/agentcore/internal/session"
	"github.com/corvidrun/agentcore/internal/tool"
)

// State is the agent's run state (spec §4.C "two states: IDLE and RUNNING").
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// ErrAlreadyRunning is returned by Prompt/Continue when the agent is not
// idle.
var ErrAlreadyRunning = errors.New("agent: already running")

// SystemPromptFunc supplies the system prompt for the next provider call;
// a func rather than a static string since it may depend on live state
// (available tools, cwd) the way the teacher's settings layer does.
type SystemPromptFunc func() string

// Config constructs an Agent. Registry, Store, and Tools are required
// collaborators (spec §1 "out of scope: concrete tool implementations,
// ... persistence backend choice"; this package only consumes them as
// interfaces/structs already defined elsewhere).
type Config struct {
	Registry     *provider.Registry
	Store        *session.Store
	Tools        *tool.Set
	SystemPrompt SystemPromptFunc
	Model        agentmsg.Model
	Options      agentmsg.SimpleStreamOptions
	Metrics      *metrics.Registry // optional

	SteeringMode QueueMode // default OneAtATime
	FollowupMode QueueMode // default OneAtATime
}

// Agent drives one session's run loop. Not safe to Prompt/Continue
// concurrently with itself (spec §5 "single run active at a time per
// Agent"); Abort and Subscribe are safe to call from any goroutine at any
// time.
type Agent struct {
	registry *provider.Registry
	store    *session.Store
	tools    *tool.Set
	sysPrompt SystemPromptFunc
	metrics  *metrics.Registry

	steering *Queue
	followup *Queue

	mu      sync.Mutex
	state   State
	model   agentmsg.Model
	opts    agentmsg.SimpleStreamOptions
	cancel  context.CancelFunc
	doneCh  chan struct{}

	subsMu    sync.Mutex
	subs      []subscriber
	nextSubID int
}

// New constructs an idle Agent from cfg.
func New(cfg Config) *Agent {
	return &Agent{
		registry:  cfg.Registry,
		store:     cfg.Store,
		tools:     cfg.Tools,
		sysPrompt: cfg.SystemPrompt,
		metrics:   cfg.Metrics,
		steering:  newQueue(cfg.SteeringMode),
		followup:  newQueue(cfg.FollowupMode),
		state:     StateIdle,
		model:     cfg.Model,
		opts:      cfg.Options,
	}
}

// State reports the agent's current run state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Model returns the model currently configured for the next turn.
func (a *Agent) Model() agentmsg.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// SetModel switches the model used by subsequent turns and records a
// model_change session entry (spec SPEC_FULL.md supplemented feature:
// model cycling persists the choice it lands on).
func (a *Agent) SetModel(m agentmsg.Model) error {
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
	_, err := a.store.AppendModelChange(m.ID, m.Provider)
	return err
}

// SetReasoningLevel switches the reasoning level used by subsequent turns
// and records a thinking_level_change session entry.
func (a *Agent) SetReasoningLevel(level agentmsg.ReasoningLevel) error {
	a.mu.Lock()
	a.opts.Reasoning = level
	a.mu.Unlock()
	_, err := a.store.AppendThinkingLevelChange(level)
	return err
}

// Steer enqueues a steering message, delivered to the model between tool
// executions within the current turn or at the top of the next one (spec
// §4.C "steering queue: messages to splice in mid-turn, checked between
// tool executions").
func (a *Agent) Steer(msgs ...agentmsg.Message) {
	a.steering.Push(msgs)
}

// QueueFollowup enqueues a follow-up message, delivered once the current
// turn sequence would otherwise end (spec §4.C "follow-up queue: checked
// only once a turn ends with no pending tool calls").
func (a *Agent) QueueFollowup(msgs ...agentmsg.Message) {
	a.followup.Push(msgs)
}

// Prompt starts a new run from msg (a UserMessage). It returns
// ErrAlreadyRunning if the agent is not idle; otherwise it transitions to
// RUNNING and returns immediately, running the loop on its own goroutine
// so Abort can be called concurrently by another goroutine (spec §4.C
// "abort() ... does not wait for the loop to finish").
func (a *Agent) Prompt(ctx context.Context, msg agentmsg.Message) error {
	return a.start(ctx, []agentmsg.Message{msg})
}

// Continue resumes the loop with no new user input: used after a
// supervisor-driven retry or compaction reconnects to the run (spec §4.D).
func (a *Agent) Continue(ctx context.Context) error {
	return a.start(ctx, nil)
}

// Abort fires the current run's cancellation token. It is a no-op if the
// agent is idle and does not block until the loop observes it; call
// WaitForIdle to do that.
func (a *Agent) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateRunning && a.cancel != nil {
		a.cancel()
	}
}

// WaitForIdle blocks until the current run (if any) finishes.
func (a *Agent) WaitForIdle() {
	a.mu.Lock()
	ch := a.doneCh
	a.mu.Unlock()
	if ch == nil {
		return
	}
	<-ch
}

func (a *Agent) start(ctx context.Context, initial []agentmsg.Message) error {
	a.mu.Lock()
	if a.state == StateRunning {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.state = StateRunning
	a.cancel = cancel
	done := make(chan struct{})
	a.doneCh = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			a.mu.Lock()
			a.state = StateIdle
			a.cancel = nil
			a.mu.Unlock()
		}()
		a.runLoop(runCtx, initial)
	}()
	return nil
}

// runLoop is the per-turn algorithm (spec §4.C). Exactly one call is active
// per Agent at a time, enforced by start().
func (a *Agent) runLoop(ctx context.Context, initial []agentmsg.Message) {
	a.emit(Event{Type: EventAgentStart})

	pending := initial
	for {
		if err := a.appendAndAnnounce(pending); err != nil {
			a.emit(Event{Type: EventAgentEnd, StopReason: "error", Err: err})
			return
		}
		pending = nil

		a.emit(Event{Type: EventTurnStart})

		if msgs := a.steering.Drain(); len(msgs) > 0 {
			if err := a.appendAndAnnounce(msgs); err != nil {
				a.emit(Event{Type: EventAgentEnd, StopReason: "error", Err: err})
				return
			}
		}

		msg, err := a.runOneCall(ctx)
		if err != nil {
			a.emit(Event{Type: EventTurnEnd, TurnMessage: msg})
			a.emit(Event{Type: EventAgentEnd, StopReason: "error", Err: err})
			return
		}

		if ctx.Err() != nil {
			a.emit(Event{Type: EventTurnEnd, TurnMessage: msg})
			a.emit(Event{Type: EventAgentEnd, StopReason: "aborted", Err: ctx.Err()})
			return
		}

		// Silent overflow (spec Open Question): the provider returned no
		// error, but reported usage already crosses the model's context
		// window minus its slack margin. End this run so a supervisor
		// layered on top can compact and reconnect (SPEC_FULL.md
		// supplemented feature: disconnect/reconnect from the agent event
		// stream), rather than let the next turn hit a hard provider error.
		if isContextOverflow(a.Model(), msg) {
			a.emit(Event{Type: EventTurnEnd, TurnMessage: msg})
			a.emit(Event{Type: EventAgentEnd, StopReason: "context_overflow"})
			return
		}

		toolCalls := msg.ToolCalls()
		var toolResults []agentmsg.Message
		if len(toolCalls) > 0 {
			toolResults = a.runToolPhase(ctx, toolCalls)
		}

		a.emit(Event{Type: EventTurnEnd, TurnMessage: msg, TurnToolResults: toolResults})

		if len(toolCalls) > 0 {
			continue // next turn, no follow-up check: the loop only drains
			// follow-ups once a turn ends with no pending tool calls.
		}

		if next := a.followup.Drain(); len(next) > 0 {
			pending = next
			continue
		}

		a.emit(Event{Type: EventAgentEnd, StopReason: string(msg.StopReason)})
		return
	}
}

// appendAndAnnounce persists msgs to the session and emits the matching
// message_start/message_end pair for each (used for the initial prompt,
// spliced steering messages, and drained follow-ups — none of which stream,
// so start and end fire back to back).
func (a *Agent) appendAndAnnounce(msgs []agentmsg.Message) error {
	for _, m := range msgs {
		a.emit(Event{Type: EventMessageStart, Message: m})
		if _, err := a.store.AppendMessage(m); err != nil {
			return fmt.Errorf("agent: append message: %w", err)
		}
		a.emit(Event{Type: EventMessageEnd, Message: m})
	}
	return nil
}

// runOneCall builds context, calls the provider, streams the assistant
// message through message_update events, persists the final message, and
// returns it.
func (a *Agent) runOneCall(ctx context.Context) (agentmsg.Message, error) {
	a.mu.Lock()
	model := a.model
	opts := a.opts
	a.mu.Unlock()

	sysPrompt := ""
	if a.sysPrompt != nil {
		sysPrompt = a.sysPrompt()
	}
	agentCtx, err := a.store.BuildContext(sysPrompt, a.tools.Specs())
	if err != nil {
		return agentmsg.Message{}, fmt.Errorf("agent: build context: %w", err)
	}

	p, err := a.registry.Get(model.API)
	if err != nil {
		return agentmsg.Message{}, fmt.Errorf("agent: provider for %s: %w", model.API, err)
	}

	start := time.Now()
	es, err := p.StreamSimple(ctx, model, agentCtx, opts)
	if err != nil {
		return agentmsg.Message{}, fmt.Errorf("agent: stream: %w", err)
	}

	started := false
	for ev := range es.Iterate() {
		if !started {
			a.emit(Event{Type: EventMessageStart, Message: ev.Partial})
			started = true
		}
		a.emit(Event{Type: EventMessageUpdate, Message: ev.Partial, AssistantEvent: ev})
	}
	msg := es.Result()
	a.emit(Event{Type: EventMessageEnd, Message: msg})

	if a.metrics != nil {
		a.metrics.ObserveTurn(string(msg.StopReason), model.API, time.Since(start).Seconds())
	}
	if _, err := a.store.AppendMessage(msg); err != nil {
		return msg, fmt.Errorf("agent: persist assistant message: %w", err)
	}

	if msg.StopReason == agentmsg.StopReasonError {
		return msg, fmt.Errorf("agent: provider error: %s", msg.ErrorMsg)
	}
	return msg, nil
}

// runToolPhase executes every tool call sequentially (spec §4.C "tool calls
// within one turn execute in order, not concurrently"), checking the
// steering queue between each for preemption: if a steering message has
// arrived, remaining tool calls get a synthetic skipped result instead of
// running.
func (a *Agent) runToolPhase(ctx context.Context, calls []agentmsg.ContentBlock) []agentmsg.Message {
	results := make([]agentmsg.Message, 0, len(calls))
	skipRest := false

	for _, call := range calls {
		now := time.Now().UnixMilli()

		if !skipRest && !a.steering.Empty() {
			skipRest = true
		}
		if ctx.Err() != nil {
			skipRest = true
		}

		if skipRest {
			m := agentmsg.NewToolResultMessage(call.ToolCallID, call.ToolCallName,
				[]agentmsg.ContentBlock{agentmsg.Text("Skipped due to queued user message")}, nil, false, now)
			a.emit(Event{Type: EventToolExecutionStart, ToolCallID: call.ToolCallID, ToolName: call.ToolCallName, ToolArgs: call.Arguments})
			a.persistToolResult(m)
			a.emit(Event{Type: EventToolExecutionEnd, ToolCallID: call.ToolCallID, ToolName: call.ToolCallName, ToolResult: &ToolResult{Content: m.Content}})
			results = append(results, m)
			continue
		}

		a.emit(Event{Type: EventToolExecutionStart, ToolCallID: call.ToolCallID, ToolName: call.ToolCallName, ToolArgs: call.Arguments})
		m := a.executeTool(ctx, call)
		a.persistToolResult(m)
		if a.metrics != nil {
			a.metrics.ObserveToolCall(call.ToolCallName, m.IsError)
		}
		a.emit(Event{Type: EventToolExecutionEnd, ToolCallID: call.ToolCallID, ToolName: call.ToolCallName, ToolResult: &ToolResult{Content: m.Content, Details: m.Details}})
		results = append(results, m)
	}
	return results
}

func (a *Agent) executeTool(ctx context.Context, call agentmsg.ContentBlock) agentmsg.Message {
	now := time.Now().UnixMilli()
	t, ok := a.tools.Get(call.ToolCallName)
	if !ok {
		return agentmsg.NewToolResultMessage(call.ToolCallID, call.ToolCallName,
			[]agentmsg.ContentBlock{agentmsg.Text("unknown tool: " + call.ToolCallName)}, nil, true, now)
	}

	if errs := tool.ValidateArguments(t.Parameters(), call.Arguments); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.String()
		}
		return agentmsg.NewToolResultMessage(call.ToolCallID, call.ToolCallName,
			[]agentmsg.ContentBlock{agentmsg.Text("invalid arguments: " + joinErrors(msgs))}, nil, true, now)
	}

	onPartial := func(p tool.Result) {
		a.emit(Event{Type: EventToolExecutionUpdate, ToolCallID: call.ToolCallID, ToolName: call.ToolCallName,
			ToolUpdate: &ToolResult{Content: p.Content, Details: p.Details}})
	}
	res, err := t.Execute(ctx, call.ToolCallID, call.Arguments, onPartial)
	if err != nil {
		log.Error().Err(err).Str("tool", call.ToolCallName).Msg("agent: tool execution failed")
		return agentmsg.NewToolResultMessage(call.ToolCallID, call.ToolCallName,
			[]agentmsg.ContentBlock{agentmsg.Text(err.Error())}, nil, true, time.Now().UnixMilli())
	}
	return agentmsg.NewToolResultMessage(call.ToolCallID, call.ToolCallName, res.Content, res.Details, false, time.Now().UnixMilli())
}

func (a *Agent) persistToolResult(m agentmsg.Message) {
	if _, err := a.store.AppendMessage(m); err != nil {
		log.Error().Err(err).Str("toolCallId", m.ToolCallID).Msg("agent: persist tool result failed")
	}
}

// isContextOverflow reports whether an assistant message's reported usage
// already crosses the model's context window minus its slack margin
// (§3/§4.D, Open Question: "usage.Input > ContextWindow - OverflowSlackTokens").
func isContextOverflow(m agentmsg.Model, msg agentmsg.Message) bool {
	if m.ContextWindow <= 0 || msg.Role != agentmsg.RoleAssistant {
		return false
	}
	return msg.Usage.Input > m.ContextWindow-m.OverflowSlackTokens
}

func joinErrors(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}
