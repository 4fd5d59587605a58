// Package supervisor layers retry and compaction on top of the core run
// loop (spec §4.D): it observes agent_end, classifies any error, and either
// retries with backoff, compacts the session and reconnects, or forwards a
// fatal error unchanged. It never touches the agent loop's internals,
// observing and driving it purely through the public Agent API.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agent"
	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/metrics"
	"github.com/corvidrun/agentcore/internal/provider"
	"github.com/corvidrun/agentcore/internal/session"
)

// Settings configures retry and compaction behaviour (SPEC_FULL.md
// supplemented feature, grounded in the original implementation's
// retry/compaction configuration block).
type Settings struct {
	Enabled bool

	// ReserveTokens is subtracted from a model's context window before
	// comparing against reported usage; mirrors agentmsg.Model's own
	// OverflowSlackTokens but lets a deployment tighten it further without
	// editing model definitions.
	ReserveTokens int

	// KeepRecentTokens is the compaction cut-point budget: entries are kept
	// from the leaf backwards until their estimated token cost would exceed
	// this many tokens.
	KeepRecentTokens int

	MaxRetries  int
	BaseDelayMs int64
	MaxDelayMs  int64
}

// DefaultSettings are the spec's stated defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled: true,
		// ReserveTokens mirrors the output budget the spec holds back when
		// deciding whether to compact preemptively; 8000 is a conservative
		// default large enough to cover most models' max_tokens.
		ReserveTokens:    8000,
		KeepRecentTokens: 20000,
		MaxRetries:       3,
		BaseDelayMs:      2000,
		MaxDelayMs:       60000,
	}
}

// Supervisor wraps an *agent.Agent, relaying every one of its events plus
// its own auto_retry_*/auto_compaction_* events to its own subscribers.
type Supervisor struct {
	agent          *agent.Agent
	store          *session.Store
	registry       *provider.Registry
	summarizeModel agentmsg.Model
	settings       Settings
	metrics        *metrics.Registry

	mu       sync.Mutex
	lastCtx  context.Context
	attempt  int

	subsMu sync.Mutex
	subs   []func(agent.Event)
}

// New constructs a Supervisor around a. summarizeModel is the model used to
// produce compaction summaries (commonly the same model driving the agent,
// but kept separate so a cheaper model can be configured for summarization).
func New(a *agent.Agent, store *session.Store, registry *provider.Registry, summarizeModel agentmsg.Model, settings Settings, m *metrics.Registry) *Supervisor {
	sv := &Supervisor{
		agent:          a,
		store:          store,
		registry:       registry,
		summarizeModel: summarizeModel,
		settings:       settings,
		metrics:        m,
	}
	a.Subscribe(sv.onAgentEvent)
	return sv
}

// Subscribe registers fn to receive every event from the underlying agent
// plus this supervisor's own retry/compaction events, in emission order.
// The returned function unsubscribes.
func (sv *Supervisor) Subscribe(fn func(agent.Event)) func() {
	sv.subsMu.Lock()
	sv.subs = append(sv.subs, fn)
	idx := len(sv.subs) - 1
	sv.subsMu.Unlock()

	var once bool
	return func() {
		sv.subsMu.Lock()
		defer sv.subsMu.Unlock()
		if once || idx >= len(sv.subs) {
			return
		}
		once = true
		sv.subs[idx] = nil
	}
}

func (sv *Supervisor) broadcast(e agent.Event) {
	sv.subsMu.Lock()
	subs := make([]func(agent.Event), len(sv.subs))
	copy(subs, sv.subs)
	sv.subsMu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(e)
		}
	}
}

// Prompt resets the retry counter and starts a new run.
func (sv *Supervisor) Prompt(ctx context.Context, msg agentmsg.Message) error {
	sv.mu.Lock()
	sv.attempt = 0
	sv.lastCtx = ctx
	sv.mu.Unlock()
	return sv.agent.Prompt(ctx, msg)
}

// Abort cancels the current run.
func (sv *Supervisor) Abort() { sv.agent.Abort() }

// WaitForIdle blocks until the agent (and any in-flight retry/compaction
// reconnect this Supervisor has queued) settles. Since a reconnect is
// itself a new run, callers that need to wait past a retry should call this
// after observing an auto_retry_end/auto_compaction_end with no further
// activity, or simply call it in a loop until State() is idle and no
// reconnect is pending.
func (sv *Supervisor) WaitForIdle() { sv.agent.WaitForIdle() }

func (sv *Supervisor) onAgentEvent(e agent.Event) {
	sv.broadcast(e)
	if e.Type != agent.EventAgentEnd || !sv.settings.Enabled {
		return
	}

	sv.mu.Lock()
	ctx := sv.lastCtx
	sv.mu.Unlock()
	if ctx == nil {
		return
	}

	switch e.StopReason {
	case "context_overflow":
		go sv.reconnectAfterCompaction(ctx)
	case "error":
		class := Classify(errText(e.Err))
		switch class {
		case ClassContextOverflow:
			go sv.reconnectAfterCompaction(ctx)
		case ClassTransient:
			go sv.reconnectAfterRetry(ctx)
		case ClassFatal:
			// Nothing more to do; the error was already forwarded to
			// subscribers via the agent_end broadcast above.
		}
	default:
		// A non-error agent_end is a successful turn (spec §4.D "a
		// successful turn resets the attempt counter"). Also this is the
		// point to check preemptive threshold compaction: no error was
		// reported, but the branch may already be close enough to the
		// model's context window that the *next* call would overflow.
		sv.mu.Lock()
		sv.attempt = 0
		sv.mu.Unlock()
		go sv.maybeCompactThreshold(ctx)
	}
}

// maybeCompactThreshold implements spec §4.D's "threshold preemptive
// compaction": after a turn ends with no error, estimate the branch's token
// cost and, if it would leave less than ReserveTokens of headroom against
// the active model's context window, compact without reconnecting the loop
// (the agent is already idle; the next Prompt/Continue simply sees the
// post-compaction, smaller context).
func (sv *Supervisor) maybeCompactThreshold(ctx context.Context) {
	sv.agent.WaitForIdle()

	model := sv.agent.Model()
	if model.ContextWindow <= 0 {
		return
	}
	chain, err := sv.store.GetBranch("")
	if err != nil {
		return
	}
	tokens := session.EstimateContextTokens(chain)
	if tokens+sv.settings.ReserveTokens <= model.ContextWindow {
		return
	}

	sv.broadcast(agent.Event{Type: agent.EventAutoCompactionStart, Reason: "threshold"})
	before, after, err := sv.runCompaction(ctx)
	if err != nil {
		log.Error().Err(err).Msg("supervisor: threshold compaction failed")
		sv.broadcast(agent.Event{Type: agent.EventAutoCompactionEnd, Outcome: "failed", Err: err, TokensBefore: before})
		if sv.metrics != nil {
			sv.metrics.ObserveCompaction("threshold", "failed")
		}
		return
	}
	sv.broadcast(agent.Event{Type: agent.EventAutoCompactionEnd, Outcome: "success", TokensBefore: before, TokensAfter: after})
	if sv.metrics != nil {
		sv.metrics.ObserveCompaction("threshold", "success")
		sv.metrics.SetContextTokens(sv.store.Header().ID, after)
	}
	// No Continue() here: threshold compaction runs with no pending turn to
	// resume, unlike overflow compaction.
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// reconnectAfterRetry waits for the current run to fully settle, applies
// exponential backoff, and calls Continue — unless MaxRetries has been
// exhausted, in which case it gives up and leaves the last agent_end as the
// terminal outcome.
func (sv *Supervisor) reconnectAfterRetry(ctx context.Context) {
	sv.agent.WaitForIdle()

	sv.mu.Lock()
	sv.attempt++
	attempt := sv.attempt
	sv.mu.Unlock()

	if attempt > sv.settings.MaxRetries {
		sv.broadcast(agent.Event{Type: agent.EventAutoRetryEnd, Attempt: attempt, MaxRetries: sv.settings.MaxRetries, Outcome: "exhausted"})
		if sv.metrics != nil {
			sv.metrics.ObserveRetry("exhausted")
		}
		return
	}

	delay := ExponentialBackoffMs(attempt, sv.settings.BaseDelayMs, sv.settings.MaxDelayMs)
	sv.broadcast(agent.Event{Type: agent.EventAutoRetryStart, Attempt: attempt, MaxRetries: sv.settings.MaxRetries, DelayMs: delay})
	if sv.metrics != nil {
		sv.metrics.ObserveRetry("attempt")
	}

	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
	case <-ctx.Done():
		sv.broadcast(agent.Event{Type: agent.EventAutoRetryEnd, Attempt: attempt, Outcome: "aborted"})
		return
	}

	if err := sv.agent.Continue(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor: continue after retry failed")
		sv.broadcast(agent.Event{Type: agent.EventAutoRetryEnd, Attempt: attempt, Outcome: "failed", Err: err})
		return
	}
	sv.broadcast(agent.Event{Type: agent.EventAutoRetryEnd, Attempt: attempt, Outcome: "success"})
}

// reconnectAfterCompaction waits for the current run to settle, runs
// compaction, and reconnects via Continue on success.
func (sv *Supervisor) reconnectAfterCompaction(ctx context.Context) {
	sv.agent.WaitForIdle()

	sv.broadcast(agent.Event{Type: agent.EventAutoCompactionStart, Reason: "context_overflow"})
	before, after, err := sv.runCompaction(ctx)
	if err != nil {
		log.Error().Err(err).Msg("supervisor: compaction failed")
		sv.broadcast(agent.Event{Type: agent.EventAutoCompactionEnd, Outcome: "failed", Err: err, TokensBefore: before})
		if sv.metrics != nil {
			sv.metrics.ObserveCompaction("context_overflow", "failed")
		}
		return
	}
	sv.broadcast(agent.Event{Type: agent.EventAutoCompactionEnd, Outcome: "success", TokensBefore: before, TokensAfter: after})
	if sv.metrics != nil {
		sv.metrics.ObserveCompaction("context_overflow", "success")
		sv.metrics.SetContextTokens(sv.store.Header().ID, after)
	}

	if err := sv.agent.Continue(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor: continue after compaction failed")
	}
}
