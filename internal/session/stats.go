package session

import "github.com/corvidrun/agentcore/internal/agentmsg"

// Stats summarises the active branch: message/tool-call counts and token
// and cost totals, matching the original Python source's
// session/navigation.py session statistics view (SPEC_FULL.md supplemented
// feature #2).
type Stats struct {
	UserMessages     int
	AssistantTurns   int
	ToolCalls        int
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	TotalCost        float64
}

// Stats computes branch statistics as a pure function over the entry list —
// no I/O beyond the branch walk already cached in memory.
func (s *Store) Stats() (Stats, error) {
	chain, err := s.GetBranch("")
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range chain {
		if e.Type != TypeMessage {
			continue
		}
		m, err := e.DecodeMessage()
		if err != nil {
			continue
		}
		switch m.Role {
		case agentmsg.RoleUser:
			st.UserMessages++
		case agentmsg.RoleAssistant:
			st.AssistantTurns++
			st.ToolCalls += len(m.ToolCalls())
			st.InputTokens += m.Usage.Input
			st.OutputTokens += m.Usage.Output
			st.CacheReadTokens += m.Usage.CacheRead
			st.CacheWriteTokens += m.Usage.CacheWrite
			st.TotalCost += m.Usage.Cost.Total()
		}
	}
	return st, nil
}

// ContextUsage reports the active branch's current estimated token count as
// a fraction of contextWindow, e.g. for a "42% of context used" display
// (SPEC_FULL.md supplemented feature #2). Returns 0 if contextWindow <= 0.
func (s *Store) ContextUsage(contextWindow int) (float64, error) {
	if contextWindow <= 0 {
		return 0, nil
	}
	tokens, err := s.EstimateContextTokens()
	if err != nil {
		return 0, err
	}
	return float64(tokens) / float64(contextWindow), nil
}
