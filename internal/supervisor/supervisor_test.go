package supervisor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidrun/agentcore/internal/agent"
	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
	"github.com/corvidrun/agentcore/internal/provider"
	"github.com/corvidrun/agentcore/internal/session"
	"github.com/corvidrun/agentcore/internal/tool"
)

// scriptedProvider returns one canned message (or a synthetic error
// message) per call, driven by a list of steps.
type scriptedProvider struct {
	steps []agentmsg.Message
	calls int
}

func (p *scriptedProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	es := eventstream.NewAssistantMessageEventStream()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	msg := p.steps[i]
	if msg.StopReason == agentmsg.StopReasonError {
		es.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Partial: msg, Error: msg})
	} else {
		es.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Partial: msg, Message: msg, Reason: msg.StopReason})
	}
	return es, nil
}

func (p *scriptedProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.Stream(ctx, model, c, opts.StreamOptions)
}

func (p *scriptedProvider) Close() error { return nil }

type scriptedFactory struct{ p provider.Provider }

func (f scriptedFactory) DialectName() string                                 { return "stub" }
func (f scriptedFactory) Create(creds provider.CredentialSource) provider.Provider { return f.p }

type noopCreds struct{}

func (noopCreds) APIKey(string) (string, bool) { return "", false }

func newTestSupervisor(t *testing.T, steps []agentmsg.Message) (*Supervisor, *session.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := session.New(filepath.Join(dir, "s.jsonl"), dir, "")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := provider.NewRegistry(noopCreds{})
	reg.RegisterFactory(scriptedFactory{p: &scriptedProvider{steps: steps}})

	model := agentmsg.Model{ID: "m1", API: "stub", Provider: "stub", ContextWindow: 1000}
	a := agent.New(agent.Config{
		Registry: reg,
		Store:    store,
		Tools:    tool.NewSet(),
		Model:    model,
	})

	settings := DefaultSettings()
	settings.BaseDelayMs = 1 // keep the test fast
	settings.MaxDelayMs = 5
	settings.ReserveTokens = 0 // model's tiny ContextWindow would otherwise trip threshold compaction on every successful turn
	sv := New(a, store, reg, model, settings, nil)
	return sv, store
}

func waitForEvent(t *testing.T, events <-chan agent.Event, want agent.EventType, timeout time.Duration) agent.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestSupervisor_TransientErrorRetriesThenSucceeds(t *testing.T) {
	errMsg := agentmsg.Message{Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonError, ErrorMsg: "rate limit exceeded"}
	ok := agentmsg.Message{Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonStop, Content: []agentmsg.ContentBlock{agentmsg.Text("done")}}
	sv, _ := newTestSupervisor(t, []agentmsg.Message{errMsg, ok})

	ch := make(chan agent.Event, 64)
	sv.Subscribe(func(e agent.Event) { ch <- e })

	if err := sv.Prompt(context.Background(), agentmsg.NewUserMessage("hi", 0)); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	waitForEvent(t, ch, agent.EventAutoRetryStart, 2*time.Second)
	end := waitForEvent(t, ch, agent.EventAutoRetryEnd, 2*time.Second)
	if end.Outcome != "success" {
		t.Fatalf("retry outcome = %q, want success", end.Outcome)
	}
	waitForEvent(t, ch, agent.EventAgentEnd, 2*time.Second)
}

func TestSupervisor_FatalErrorDoesNotRetry(t *testing.T) {
	errMsg := agentmsg.Message{Role: agentmsg.RoleAssistant, StopReason: agentmsg.StopReasonError, ErrorMsg: "invalid api key"}
	sv, _ := newTestSupervisor(t, []agentmsg.Message{errMsg})

	ch := make(chan agent.Event, 64)
	sv.Subscribe(func(e agent.Event) { ch <- e })

	if err := sv.Prompt(context.Background(), agentmsg.NewUserMessage("hi", 0)); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	waitForEvent(t, ch, agent.EventAgentEnd, 2*time.Second)

	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event after fatal agent_end: %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFindCutPoint_WholeChainFits(t *testing.T) {
	raw, _ := json.Marshal(agentmsg.NewUserMessage("hi", 0))
	chain := []session.Entry{{Type: session.TypeMessage, ID: "a", Message: raw}}
	if _, _, ok := findCutPoint(chain, 20000); ok {
		t.Fatalf("expected no cut point for a small chain")
	}
}
