// Package session implements the append-only, branchable transcript store
// (spec §4.E / §6): a session is a JSONL file whose first line is a header
// and whose remaining lines are parent-pointered entries forming a DAG. The
// path from root to the active leaf, filtered to message-and-compaction
// entries, is what BuildContext hands a provider.
package session

import "encoding/json"

// EntryType discriminates the tagged Entry variants a session line carries.
type EntryType string

const (
	// TypeSessionHeader marks the first line of a session file.
	TypeSessionHeader         EntryType = "session"
	TypeMessage               EntryType = "message"
	TypeCompaction            EntryType = "compaction"
	TypeBranchSummary         EntryType = "branch_summary"
	TypeModelChange           EntryType = "model_change"
	TypeThinkingLevelChange   EntryType = "thinking_level_change"
	TypeLabel                EntryType = "label"
	TypeSessionName           EntryType = "session_name"
	TypeCustom                EntryType = "custom"
)

// CurrentVersion is the format version new session headers are written with.
const CurrentVersion = 3

// CompactionDetails records what a compaction's discard set touched, used to
// build the <read-files>/<modified-files> tags in the synthetic summary
// message.
type CompactionDetails struct {
	ReadFiles     []string `json:"readFiles,omitempty"`
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`
}

// Entry is every line in a session file after the header, and the header
// itself — a single tagged-union struct in the style of agentmsg.Message:
// only the fields relevant to Type are populated.
type Entry struct {
	Type     EntryType `json:"type"`
	ID       string    `json:"id,omitempty"`
	ParentID *string   `json:"parentId,omitempty"`

	// Header only (Type == TypeSessionHeader).
	Version       int    `json:"version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Cwd           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`

	// message — the raw wire form of an agentmsg.Message, kept as
	// json.RawMessage here and decoded on demand (see message.go) so this
	// package has no import-time dependency ordering surprises.
	Message json.RawMessage `json:"message,omitempty"`

	// compaction
	Summary          string              `json:"summary,omitempty"`
	FirstKeptEntryID string              `json:"firstKeptEntryId,omitempty"`
	TokensBefore     int                 `json:"tokensBefore,omitempty"`
	Details          *CompactionDetails  `json:"details,omitempty"`

	// branch_summary
	BranchEntryIDs []string `json:"branchEntryIds,omitempty"`

	// model_change
	ModelID  string `json:"modelId,omitempty"`
	Provider string `json:"provider,omitempty"`

	// thinking_level_change
	Level string `json:"level,omitempty"`

	// label
	Text          string `json:"text,omitempty"`
	TargetEntryID string `json:"targetEntryId,omitempty"`

	// session_name
	Name string `json:"name,omitempty"`

	// custom
	SourceID string          `json:"sourceId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
