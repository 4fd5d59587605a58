package session

import (
	"fmt"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// GetBranch returns the ordered list of entries from root to leafID
// (default: the current leaf, pass ""). §4.E "Every non-header entry has...
// a parent_id that either is null (root) or references an existing entry in
// the same session" (§8 testable property #5) — walking parent pointers
// from leafID must always terminate at a root entry.
func (s *Store) GetBranch(leafID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leafID == "" {
		leafID = s.leaf
	}
	return s.branchLocked(leafID)
}

func (s *Store) branchLocked(leafID string) ([]Entry, error) {
	if leafID == "" {
		return nil, nil // empty session: root == leaf, no entries yet
	}
	var chain []Entry
	id := leafID
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("session: cycle detected in parent chain at %s", id)
		}
		seen[id] = true
		e, ok := s.byID[id]
		if !ok {
			return nil, fmt.Errorf("session: dangling parent reference %s", id)
		}
		chain = append(chain, *e)
		if e.ParentID == nil {
			break
		}
		id = *e.ParentID
	}
	// reverse: chain was built leaf->root
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// branchMessagesLocked decodes every TypeMessage entry on the current
// branch, in order, as agentmsg.Message. It takes no lock itself, so it must
// be called with s.mu held, as synthesizeOrphansLocked does.
func (s *Store) branchMessagesLocked() ([]agentmsg.Message, error) {
	chain, err := s.branchLocked(s.leaf)
	if err != nil {
		return nil, err
	}
	var out []agentmsg.Message
	for _, e := range chain {
		if e.Type != TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// BuildContext reconstructs the agentmsg.Context a provider sees: walk the
// active branch, cut at the last compaction entry (if any), and apply every
// conversion invariant from §3/§4.B in order. systemPrompt and tools are
// supplied by external collaborators (settings / tool registry, §4.E
// build_context).
func (s *Store) BuildContext(systemPrompt string, tools []agentmsg.ToolSpec) (agentmsg.Context, error) {
	s.mu.Lock()
	chain, err := s.branchLocked(s.leaf)
	s.mu.Unlock()
	if err != nil {
		return agentmsg.Context{}, err
	}

	messages, err := messagesFromCutPoint(chain)
	if err != nil {
		return agentmsg.Context{}, err
	}
	// §3 invariants #2/#3: terminal-error/aborted assistant messages are
	// display-only and must never reach a provider; empty thinking blocks
	// are dropped. Invariant #4 (foreign-signature stripping) is applied by
	// the provider adapter itself, since it depends on which model is about
	// to be called, not on session state.
	messages = agentmsg.FilterForProvider(messages)

	return agentmsg.Context{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
	}, nil
}

// messagesFromCutPoint implements §3's "A compaction entry acts as a cut
// point": find the last compaction entry on chain; if present, the result is
// [synthetic "[Summary]\n<summary>" user message, ...message entries with id
// >= first_kept_entry_id]. When first_kept_entry_id is empty or not on the
// branch, only the message entries after the compaction entry are kept.
// Otherwise every message entry on the branch.
func messagesFromCutPoint(chain []Entry) ([]agentmsg.Message, error) {
	cutIdx := -1
	var lastCompaction Entry
	for i, e := range chain {
		if e.Type == TypeCompaction {
			cutIdx = i
			lastCompaction = e
		}
	}

	var out []agentmsg.Message
	start := 0
	if cutIdx >= 0 {
		out = append(out, agentmsg.NewUserMessage("[Summary]\n"+lastCompaction.Summary, 0))
		start = cutIdx + 1
		for i := 0; i < cutIdx; i++ {
			if chain[i].ID == lastCompaction.FirstKeptEntryID {
				start = i
				break
			}
		}
	}

	for _, e := range chain[start:] {
		if e.Type != TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
