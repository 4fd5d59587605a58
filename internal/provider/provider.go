// Package provider defines the provider-adapter contract (spec §4.B): each
// supported wire dialect converts an agentmsg.Context to its own request
// shape and parses the response back into a uniform
// eventstream.AssistantMessageEventStream.
package provider

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

// ErrProviderNotFound is returned when a requested dialect isn't registered.
var ErrProviderNotFound = errors.New("provider: dialect not found")

// ErrNoAPIKey is returned by an adapter when the credential collaborator has
// no key for it (§6 "Credential provider interface").
type ErrNoAPIKey struct {
	Provider string
}

func (e *ErrNoAPIKey) Error() string {
	return "no API key for provider: " + e.Provider
}

// CredentialSource is the §6 credential-provider collaborator interface.
type CredentialSource interface {
	APIKey(providerName string) (string, bool)
}

// Provider is the contract every wire dialect adapter implements.
type Provider interface {
	// Stream calls the model with c and returns an event stream the agent
	// loop drains for assistant-message deltas.
	Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error)

	// StreamSimple wraps Stream, translating opts.Reasoning to the dialect's
	// own reasoning knob (token budget or effort label) per §4.B's mapping
	// table, and applies AdjustMaxTokensForThinking.
	StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error)

	// Close releases any idle connections the adapter holds.
	Close() error
}

// Factory constructs a Provider instance for one wire dialect.
type Factory interface {
	// DialectName identifies the wire dialect this factory builds adapters
	// for: "anthropic", "openai-responses", "codex", "google", "bedrock",
	// or the name passed to NewZenFactory or NewOpenAIChatCompatFactory.
	DialectName() string
	Create(creds CredentialSource) Provider
}

// Registry holds one adapter instance per registered dialect, constructed
// lazily on first use and cached.
type Registry struct {
	factories map[string]Factory
	instances map[string]Provider
	creds     CredentialSource
}

// NewRegistry builds an empty registry backed by creds for API-key lookup.
func NewRegistry(creds CredentialSource) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
		creds:     creds,
	}
}

// RegisterFactory adds a dialect factory under its own DialectName().
func (r *Registry) RegisterFactory(f Factory) {
	r.factories[f.DialectName()] = f
	log.Debug().Str("dialect", f.DialectName()).Msg("provider: registered factory")
}

// Get returns the cached adapter for dialect, constructing it on first call.
func (r *Registry) Get(dialect string) (Provider, error) {
	if p, ok := r.instances[dialect]; ok {
		return p, nil
	}
	f, ok := r.factories[dialect]
	if !ok {
		log.Error().Str("dialect", dialect).Msg("provider: dialect not found")
		return nil, ErrProviderNotFound
	}
	p := f.Create(r.creds)
	r.instances[dialect] = p
	return p, nil
}

// Dialects lists every registered dialect name.
func (r *Registry) Dialects() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Close closes every constructed adapter instance.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.instances {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
