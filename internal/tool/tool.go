// Package tool defines the external Tool collaborator interface (spec §6)
// and the JSON Schema argument validation the agent loop runs before every
// invocation.
package tool

import (
	"context"
	"encoding/json"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// Result is what a Tool.Execute call returns: display content plus an
// opaque details payload the caller may persist alongside the
// ToolResultMessage (spec §6 ToolResult).
type Result struct {
	Content []agentmsg.ContentBlock
	Details any
}

// PartialUpdate is pushed by a long-running tool via the OnPartial callback
// to drive tool_execution_update agent events (spec §4.C).
type PartialUpdate = Result

// Tool is the contract every concrete tool implementation satisfies. The
// core consumes a set of these as an opaque collaborator (spec §1 "concrete
// tool implementations... out of scope"; this package only defines the
// boundary).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's argument schema as raw JSON Schema.
	Parameters() json.RawMessage
	Label() string

	// Execute runs the tool. onPartial, if non-nil, may be called zero or
	// more times with incremental Results before the final return value.
	// Execute MUST observe ctx's cancellation promptly (spec §5 "Suspension
	// points").
	Execute(ctx context.Context, callID string, args json.RawMessage, onPartial func(Result)) (Result, error)
}

// Set is a registry of tools keyed by name, the shape the agent loop and
// Context.Tools projection both consume.
type Set struct {
	byName map[string]Tool
	order  []string
}

// NewSet builds a Set from a list of tools, later entries winning on a name
// collision (mirrors normal registry-override semantics).
func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add registers or replaces a tool.
func (s *Set) Add(t Tool) {
	if _, exists := s.byName[t.Name()]; !exists {
		s.order = append(s.order, t.Name())
	}
	s.byName[t.Name()] = t
}

// Get looks up a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Specs projects the set into the wire-agnostic ToolSpec list a
// session.BuildContext call attaches to its Context (spec §3 ToolSpec).
func (s *Set) Specs() []agentmsg.ToolSpec {
	specs := make([]agentmsg.ToolSpec, 0, len(s.order))
	for _, name := range s.order {
		t := s.byName[name]
		specs = append(specs, agentmsg.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}
