package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// Store owns one session file on disk: an append-only JSONL log plus the
// derived in-memory index id -> entry (§3 "Ownership & lifecycle" —
// "entries are never rewritten"). Concurrent appends from outside a single
// Store instance are not supported (§4.E, §5 "Shared state").
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	header Entry

	byID  map[string]*Entry
	order []string // append order, including the header's id if any
	leaf  string    // id of the latest entry on the active branch; "" = root
}

// Open loads an existing session file, migrating older formats in memory
// (see migrate.go) and setting the active leaf to the last entry appended —
// branch() calls that aren't followed by an append don't persist, so on
// reload the file's own order is the best record of "most recently active".
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}

	s := &Store{path: path, file: f, byID: make(map[string]*Entry)}
	if err := s.loadExisting(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadExisting() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var rawLines []Entry
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// §4.E "Readers MUST tolerate and skip malformed lines."
			log.Warn().Err(err).Str("path", s.path).Msg("session: skipping malformed line")
			continue
		}
		if first {
			if e.Type != TypeSessionHeader {
				return fmt.Errorf("session: %s: first line is not a session header", s.path)
			}
			s.header = e
			first = false
			continue
		}
		rawLines = append(rawLines, e)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if first {
		return fmt.Errorf("session: %s: empty session file", s.path)
	}

	migrated := migrate(s.header, rawLines)
	var lastID string
	for i := range migrated {
		e := migrated[i]
		s.byID[e.ID] = &migrated[i]
		s.order = append(s.order, e.ID)
		lastID = e.ID
	}
	s.leaf = lastID

	if s.header.Version < CurrentVersion {
		s.header.Version = CurrentVersion
		log.Info().Str("path", s.path).Msg("session: migrated in memory; the file on disk is not rewritten")
	}
	return nil
}

// New creates a brand-new session file at path with a session header entry.
// parentSession, if non-empty, records the session this one was branched
// from (§4.E create_branched_session).
func New(path, cwd, parentSession string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}

	header := Entry{
		Type:          TypeSessionHeader,
		Version:       CurrentVersion,
		ID:            newEntryID(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Cwd:           cwd,
		ParentSession: parentSession,
	}
	line, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, err
	}

	return &Store{path: path, file: f, header: header, byID: make(map[string]*Entry)}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Path returns the session file's path on disk.
func (s *Store) Path() string { return s.path }

// Header returns the session header entry.
func (s *Store) Header() Entry { return s.header }

// Leaf returns the id of the latest entry on the currently-active branch, or
// "" if the session has no entries yet (leaf == root).
func (s *Store) Leaf() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaf
}

// Get returns the entry with the given id, if present.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// appendEntryLocked writes e (with Type and its type's fields filled in by
// the caller's convenience wrapper) as the next line, assigning it a fresh
// ID and parenting it to the current leaf, and advances the leaf. Must be
// called with s.mu held.
func (s *Store) appendEntryLocked(e Entry) (Entry, error) {
	e.ID = newEntryID()
	for s.byID[e.ID] != nil { // astronomically unlikely, but cheap to guard
		e.ID = newEntryID()
	}
	if s.leaf != "" {
		parent := s.leaf
		e.ParentID = &parent
	}

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("session: marshal entry: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("session: write entry: %w", err)
	}

	stored := e
	s.byID[e.ID] = &stored
	s.order = append(s.order, e.ID)
	s.leaf = e.ID
	return e, nil
}

func (s *Store) appendEntry(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

// AppendMessage wraps msg into a message entry parented to the current leaf,
// applying the orphan-tool-call synthesis invariant (§3 invariant #1) when
// msg is a UserMessage arriving after dangling tool calls on the branch.
func (s *Store) AppendMessage(msg agentmsg.Message) (string, error) {
	if msg.Role == agentmsg.RoleUser {
		if err := s.synthesizeOrphansLocked(); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("session: marshal message: %w", err)
	}
	e, err := s.appendEntry(Entry{Type: TypeMessage, Message: raw})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// synthesizeOrphansLocked appends synthetic tool-result entries after the
// current leaf for any tool calls on the branch that never got a result,
// before a new user message would otherwise follow (§3 invariant #1). It
// holds s.mu while reading the branch and again for each append, not for
// its whole duration.
func (s *Store) synthesizeOrphansLocked() error {
	s.mu.Lock()
	branch, err := s.branchMessagesLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(branch) == 0 {
		return nil
	}
	synthesized := agentmsg.SynthesizeOrphanToolResults(branch, time.Now().UnixMilli())
	if len(synthesized) == len(branch) {
		return nil // nothing dangling
	}
	answered := make(map[string]bool)
	for _, m := range branch {
		if m.Role == agentmsg.RoleToolResult {
			answered[m.ToolCallID] = true
		}
	}
	for _, m := range synthesized {
		if m.Role != agentmsg.RoleToolResult || answered[m.ToolCallID] {
			continue
		}
		answered[m.ToolCallID] = true
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("session: marshal synthetic tool result: %w", err)
		}
		if _, err := s.appendEntry(Entry{Type: TypeMessage, Message: raw}); err != nil {
			return err
		}
	}
	return nil
}

// AppendCompaction records a compaction cut point (§4.D step 6).
func (s *Store) AppendCompaction(summary, firstKeptEntryID string, tokensBefore int, details *CompactionDetails) (string, error) {
	e, err := s.appendEntry(Entry{
		Type:             TypeCompaction,
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		Details:          details,
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendModelChange records a model switch.
func (s *Store) AppendModelChange(modelID, provider string) (string, error) {
	e, err := s.appendEntry(Entry{Type: TypeModelChange, ModelID: modelID, Provider: provider})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendThinkingLevelChange records a reasoning-level switch.
func (s *Store) AppendThinkingLevelChange(level agentmsg.ReasoningLevel) (string, error) {
	e, err := s.appendEntry(Entry{Type: TypeThinkingLevelChange, Level: string(level)})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendLabel attaches a human label to targetEntryID.
func (s *Store) AppendLabel(text, targetEntryID string) (string, error) {
	e, err := s.appendEntry(Entry{Type: TypeLabel, Text: text, TargetEntryID: targetEntryID})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendSessionName records a (re)naming of the session.
func (s *Store) AppendSessionName(name string) (string, error) {
	e, err := s.appendEntry(Entry{Type: TypeSessionName, Name: name})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendCustomEntry records an extension-authored payload, opaque to the
// core (§3 "custom { source_id, payload }"; extension loading itself is a
// collaborator interface per spec.md §1 non-goals).
func (s *Store) AppendCustomEntry(sourceID string, payload json.RawMessage) (string, error) {
	e, err := s.appendEntry(Entry{Type: TypeCustom, SourceID: sourceID, Payload: payload})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}
