package session

import (
	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/tokencount"
)

// EstimateEntryTokens implements spec §4.D's per-entry estimator: message
// entries delegate to tokencount, a compaction entry counts its summary
// text, and every other entry type (branch_summary, model_change, ...)
// contributes 0.
func EstimateEntryTokens(e Entry) int {
	switch e.Type {
	case TypeMessage:
		m, err := e.DecodeMessage()
		if err != nil {
			return 0
		}
		return tokencount.EstimateMessage(m)
	case TypeCompaction:
		return tokencount.EstimateText(e.Summary)
	default:
		return 0
	}
}

// EstimateContextTokens implements spec §4.D's whole-context estimate: it
// prefers the last reported usage total on the branch (from an assistant
// message) and adds the per-entry estimator for everything strictly after
// it; with no such message, it sums the estimator over the whole chain.
// EstimateContextTokens(nil) == 0 (spec boundary behaviour).
func EstimateContextTokens(chain []Entry) int {
	lastUsageIdx := -1
	lastUsageTotal := 0
	for i, e := range chain {
		if e.Type != TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil || m.Role != agentmsg.RoleAssistant {
			continue
		}
		if t := m.Usage.Total(); t > 0 {
			lastUsageIdx = i
			lastUsageTotal = t
		}
	}

	total, start := 0, 0
	if lastUsageIdx >= 0 {
		total, start = lastUsageTotal, lastUsageIdx+1
	}
	for _, e := range chain[start:] {
		total += EstimateEntryTokens(e)
	}
	return total
}

// EstimateContextTokens is also exposed as a Store method over the active
// branch, for callers that don't want to fetch the chain themselves.
func (s *Store) EstimateContextTokens() (int, error) {
	chain, err := s.GetBranch("")
	if err != nil {
		return 0, err
	}
	return EstimateContextTokens(chain), nil
}
