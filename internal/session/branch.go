package session

import (
	"fmt"
	"os"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// Branch sets the active leaf to entryID; subsequent appends fork a new
// branch at that point (§4.E branch).
func (s *Store) Branch(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID != "" {
		if _, ok := s.byID[entryID]; !ok {
			return fmt.Errorf("session: branch target %s not found", entryID)
		}
	}
	s.leaf = entryID
	return nil
}

// BranchWithSummary sets the leaf to entryID, then appends a branch_summary
// entry as the first entry of the new branch, recording the abandoned
// branch's own entry ids (§4.D "Branch-summary flow", §4.E
// branch_with_summary).
func (s *Store) BranchWithSummary(entryID, summary string, abandonedEntryIDs []string) (string, error) {
	if err := s.Branch(entryID); err != nil {
		return "", err
	}
	e, err := s.appendEntry(Entry{Type: TypeBranchSummary, Summary: summary, BranchEntryIDs: abandonedEntryIDs})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// CreateBranchedSession copies the current branch (root -> leaf) into a new
// session file at newPath, recording this session's header id as
// parent_session in the new header (§4.E create_branched_session).
func (s *Store) CreateBranchedSession(newPath string) (*Store, error) {
	s.mu.Lock()
	chain, err := s.branchLocked(s.leaf)
	cwd := s.header.Cwd
	parentID := s.header.ID
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dst, err := New(newPath, cwd, parentID)
	if err != nil {
		return nil, err
	}
	for _, e := range chain {
		if _, err := dst.appendEntry(stripIdentity(e)); err != nil {
			dst.Close()
			os.Remove(newPath)
			return nil, fmt.Errorf("session: copy entry %s into branched session: %w", e.ID, err)
		}
	}
	return dst, nil
}

// stripIdentity clears the id/parent fields of e so appendEntryLocked mints
// fresh ones scoped to the destination session, matching CreateBranchedSession's
// "copy" semantics rather than reusing the source session's ids.
func stripIdentity(e Entry) Entry {
	e.ID = ""
	e.ParentID = nil
	return e
}

// ForkableUserMessages returns every user-message entry on the active
// branch, most recent first, as (entryID, text) pairs — the candidate list
// a "fork from here" UI would present (original_source
// session/navigation.py get_user_messages_for_forking).
func (s *Store) ForkableUserMessages() ([]ForkCandidate, error) {
	chain, err := s.GetBranch("")
	if err != nil {
		return nil, err
	}
	var out []ForkCandidate
	for _, e := range chain {
		if e.Type != TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil {
			return nil, err
		}
		if m.Role == agentmsg.RoleUser {
			out = append(out, ForkCandidate{EntryID: e.ID, Text: m.Text()})
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ForkCandidate is one entry ForkableUserMessages offers.
type ForkCandidate struct {
	EntryID string
	Text    string
}

// Fork branches from entryID's parent (so the forked session's next turn
// starts fresh with entryID's text as a pre-filled prompt rather than
// duplicating it) and returns that text for the caller to pre-fill into a
// new prompt (original_source session/navigation.py fork).
func (s *Store) Fork(entryID string) (text string, err error) {
	e, ok := s.Get(entryID)
	if !ok {
		return "", fmt.Errorf("session: fork target %s not found", entryID)
	}
	m, err := e.DecodeMessage()
	if err != nil {
		return "", err
	}
	parent := ""
	if e.ParentID != nil {
		parent = *e.ParentID
	}
	if err := s.Branch(parent); err != nil {
		return "", err
	}
	return m.Text(), nil
}
