package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
	"github.com/corvidrun/agentcore/internal/provider"
	"github.com/corvidrun/agentcore/internal/session"
	"github.com/corvidrun/agentcore/internal/tool"
)

// stubProvider returns one canned assistant message per Stream call, in
// order, looping on the last once exhausted.
type stubProvider struct {
	messages []agentmsg.Message
	calls    int
}

func (p *stubProvider) next() agentmsg.Message {
	i := p.calls
	if i >= len(p.messages) {
		i = len(p.messages) - 1
	}
	p.calls++
	return p.messages[i]
}

func (p *stubProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	es := eventstream.NewAssistantMessageEventStream()
	msg := p.next()
	es.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Partial: msg, Message: msg, Reason: msg.StopReason})
	return es, nil
}

func (p *stubProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.Stream(ctx, model, c, opts.StreamOptions)
}

func (p *stubProvider) Close() error { return nil }

type stubFactory struct{ p provider.Provider }

func (f stubFactory) DialectName() string                               { return "stub" }
func (f stubFactory) Create(creds provider.CredentialSource) provider.Provider { return f.p }

type noopCreds struct{}

func (noopCreds) APIKey(string) (string, bool) { return "", false }

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes its input" }
func (echoTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Label() string               { return "Echo" }
func (echoTool) Execute(ctx context.Context, callID string, args json.RawMessage, onPartial func(tool.Result)) (tool.Result, error) {
	return tool.Result{Content: []agentmsg.ContentBlock{agentmsg.Text("ok")}}, nil
}

func newTestAgent(t *testing.T, msgs []agentmsg.Message) (*Agent, []Event) {
	t.Helper()
	dir := t.TempDir()
	store, err := session.New(filepath.Join(dir, "s.jsonl"), dir, "")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := provider.NewRegistry(noopCreds{})
	reg.RegisterFactory(stubFactory{p: &stubProvider{messages: msgs}})

	a := New(Config{
		Registry: reg,
		Store:    store,
		Tools:    tool.NewSet(echoTool{}),
		Model:    agentmsg.Model{ID: "m1", API: "stub", Provider: "stub"},
	})

	var events []Event
	a.Subscribe(func(e Event) { events = append(events, e) })
	return a, events
}

func waitIdle(t *testing.T, a *Agent) {
	t.Helper()
	done := make(chan struct{})
	go func() { a.WaitForIdle(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not return to idle")
	}
}

func TestPrompt_SingleTurn_NoToolCalls(t *testing.T) {
	final := agentmsg.Message{
		Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonStop,
		Content: []agentmsg.ContentBlock{agentmsg.Text("hi")},
	}
	a, _ := newTestAgent(t, []agentmsg.Message{final})

	if err := a.Prompt(context.Background(), agentmsg.NewUserMessage("hello", 0)); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	waitIdle(t, a)

	if a.State() != StateIdle {
		t.Fatalf("state = %v, want idle", a.State())
	}
}

func TestPrompt_WithToolCall_RunsSecondTurn(t *testing.T) {
	withTool := agentmsg.Message{
		Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonToolUse,
		Content: []agentmsg.ContentBlock{agentmsg.ToolCall("call1", "echo", json.RawMessage(`{}`))},
	}
	final := agentmsg.Message{
		Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonStop,
		Content: []agentmsg.ContentBlock{agentmsg.Text("done")},
	}
	a, _ := newTestAgent(t, []agentmsg.Message{withTool, final})

	if err := a.Prompt(context.Background(), agentmsg.NewUserMessage("do it", 0)); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	waitIdle(t, a)

	branch, err := a.store.GetBranch("")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	var toolResults int
	for _, e := range branch {
		if e.Type != session.TypeMessage {
			continue
		}
		m, _ := e.DecodeMessage()
		if m.Role == agentmsg.RoleToolResult {
			toolResults++
		}
	}
	if toolResults != 1 {
		t.Fatalf("toolResults = %d, want 1", toolResults)
	}
}

func TestPrompt_RejectsConcurrentRun(t *testing.T) {
	final := agentmsg.Message{Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonStop}
	a, _ := newTestAgent(t, []agentmsg.Message{final})

	if err := a.Prompt(context.Background(), agentmsg.NewUserMessage("hi", 0)); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	err := a.Prompt(context.Background(), agentmsg.NewUserMessage("again", 0))
	waitIdle(t, a)
	if err != ErrAlreadyRunning {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestClampThinkingLevel_NonReasoningModel(t *testing.T) {
	m := agentmsg.Model{Reasoning: false}
	if got := ClampThinkingLevel(m, agentmsg.ReasoningHigh); got != agentmsg.ReasoningOff {
		t.Fatalf("got %v, want off", got)
	}
}

func TestClampThinkingLevel_XHighWithoutSupport(t *testing.T) {
	m := agentmsg.Model{Reasoning: true, SupportsXHigh: false}
	if got := ClampThinkingLevel(m, agentmsg.ReasoningXHigh); got != agentmsg.ReasoningHigh {
		t.Fatalf("got %v, want high", got)
	}
}

func TestCycleModel_Wraps(t *testing.T) {
	models := []agentmsg.Model{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if got := CycleModel(models, "c", true); got.ID != "a" {
		t.Fatalf("got %v, want a", got.ID)
	}
	if got := CycleModel(models, "a", false); got.ID != "c" {
		t.Fatalf("got %v, want c", got.ID)
	}
}
