package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/session"
)

// compactionSystemPrompt is the fixed summarization instruction (spec §6):
// the structure is always the same six sections, regardless of model or
// what's being compacted, so summaries stay machine-parseable turn over
// turn.
const compactionSystemPrompt = `You are compacting a conversation transcript that has grown too large for the model's context window. You will be shown the messages being discarded, tagged with any files they read or modified. Produce a summary with exactly these sections, each a short paragraph or bullet list:

Goal: what the user is trying to accomplish.
Constraints: limits, preferences, or requirements stated so far.
Progress: what has been done already.
Decisions: choices made and why, where non-obvious.
Next Steps: what remains to be done.
Critical Context: file paths, identifiers, error messages, or other specifics a fresh reader would otherwise have to rediscover.

Do not include anything outside these six sections. Be concise; this summary replaces the discarded messages entirely.`

// findCutPoint walks chain (root..leaf order) accumulating
// EstimateEntryTokens from the end, and returns the id of the first entry to
// keep once the running total would exceed keepRecentTokens, plus the index
// of that entry in chain. If the whole chain fits, ok is false (nothing to
// compact).
func findCutPoint(chain []session.Entry, keepRecentTokens int) (firstKeptID string, firstKeptIdx int, ok bool) {
	if len(chain) == 0 {
		return "", 0, false
	}
	running := 0
	for i := len(chain) - 1; i >= 0; i-- {
		running += session.EstimateEntryTokens(chain[i])
		if running > keepRecentTokens {
			// chain[i] itself is already over budget; keep starts after it,
			// unless it's the only entry (nothing to discard).
			if i == len(chain)-1 {
				return "", 0, false
			}
			return chain[i+1].ID, i + 1, true
		}
	}
	return "", 0, false // entire chain fits within the budget
}

// buildDiscardPrompt serializes the discarded entries into the summarizer's
// user turn, tagging file paths touched by tool calls with <read-files> and
// <modified-files> (spec §6's discard-set serialization).
func buildDiscardPrompt(discarded []session.Entry) (string, session.CompactionDetails) {
	var b strings.Builder
	var details session.CompactionDetails
	seenRead := map[string]bool{}
	seenMod := map[string]bool{}

	for _, e := range discarded {
		if e.Type != session.TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil {
			continue
		}
		switch m.Role {
		case agentmsg.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Text())
		case agentmsg.RoleAssistant:
			if t := m.Text(); t != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", t)
			}
			for _, tc := range m.ToolCalls() {
				fmt.Fprintf(&b, "Assistant called %s(%s)\n", tc.ToolCallName, string(tc.Arguments))
				if path, ok := argPath(tc.Arguments); ok {
					if isWriteTool(tc.ToolCallName) {
						if !seenMod[path] {
							seenMod[path] = true
							details.ModifiedFiles = append(details.ModifiedFiles, path)
						}
					} else if isReadTool(tc.ToolCallName) {
						if !seenRead[path] {
							seenRead[path] = true
							details.ReadFiles = append(details.ReadFiles, path)
						}
					}
				}
			}
		case agentmsg.RoleToolResult:
			fmt.Fprintf(&b, "Tool %s result: %s\n", m.ToolName, joinBlocks(m.Content))
		}
	}

	if len(details.ReadFiles) > 0 {
		fmt.Fprintf(&b, "\n<read-files>%s</read-files>\n", strings.Join(details.ReadFiles, ", "))
	}
	if len(details.ModifiedFiles) > 0 {
		fmt.Fprintf(&b, "<modified-files>%s</modified-files>\n", strings.Join(details.ModifiedFiles, ", "))
	}
	return b.String(), details
}

func joinBlocks(blocks []agentmsg.ContentBlock) string {
	var b strings.Builder
	for _, c := range blocks {
		if c.Type == agentmsg.ContentText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func argPath(args json.RawMessage) (string, bool) {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &v); err != nil || v.Path == "" {
		return "", false
	}
	return v.Path, true
}

func isWriteTool(name string) bool {
	name = strings.ToLower(name)
	for _, kw := range []string{"write", "edit", "patch", "create", "delete", "remove"} {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func isReadTool(name string) bool {
	name = strings.ToLower(name)
	for _, kw := range []string{"read", "list", "search", "grep", "glob"} {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// runCompaction implements spec §4.D step 6: find the cut point, serialize
// the discard set, ask the summarization model for a structured summary,
// and persist a compaction entry. Returns the tokens-before/after estimate
// for the auto_compaction_end event.
func (sv *Supervisor) runCompaction(ctx context.Context) (tokensBefore, tokensAfter int, err error) {
	chain, err := sv.store.GetBranch("")
	if err != nil {
		return 0, 0, fmt.Errorf("supervisor: get branch: %w", err)
	}
	tokensBefore = session.EstimateContextTokens(chain)

	firstKeptID, firstKeptIdx, ok := findCutPoint(chain, sv.settings.KeepRecentTokens)
	if !ok {
		return tokensBefore, tokensBefore, fmt.Errorf("supervisor: nothing to compact")
	}
	discarded := chain[:firstKeptIdx]

	discardText, details := buildDiscardPrompt(discarded)

	p, err := sv.registry.Get(sv.summarizeModel.API)
	if err != nil {
		return tokensBefore, 0, fmt.Errorf("supervisor: summarizer provider: %w", err)
	}
	sumCtx := agentmsg.Context{
		SystemPrompt: compactionSystemPrompt,
		Messages:     []agentmsg.Message{agentmsg.NewUserMessage(discardText, 0)},
	}
	es, err := p.StreamSimple(ctx, sv.summarizeModel, sumCtx, agentmsg.SimpleStreamOptions{
		StreamOptions: agentmsg.StreamOptions{MaxTokens: 2048},
	})
	if err != nil {
		return tokensBefore, 0, fmt.Errorf("supervisor: summarize: %w", err)
	}
	summaryMsg := es.Result()
	if summaryMsg.StopReason == agentmsg.StopReasonError {
		return tokensBefore, 0, fmt.Errorf("supervisor: summarizer error: %s", summaryMsg.ErrorMsg)
	}
	summary := summaryMsg.Text()

	if _, err := sv.store.AppendCompaction(summary, firstKeptID, tokensBefore, &details); err != nil {
		return tokensBefore, 0, fmt.Errorf("supervisor: append compaction: %w", err)
	}

	chain, err = sv.store.GetBranch("")
	if err != nil {
		return tokensBefore, 0, err
	}
	tokensAfter = session.EstimateContextTokens(chain)
	return tokensBefore, tokensAfter, nil
}
