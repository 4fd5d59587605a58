package agent

import "github.com/corvidrun/agentcore/internal/agentmsg"

// thinkingLevelOrder is the full reasoning-level ladder, lowest to highest.
var thinkingLevelOrder = []agentmsg.ReasoningLevel{
	agentmsg.ReasoningOff,
	agentmsg.ReasoningMinimal,
	agentmsg.ReasoningLow,
	agentmsg.ReasoningMedium,
	agentmsg.ReasoningHigh,
	agentmsg.ReasoningXHigh,
}

// SupportedThinkingLevels returns the levels a model accepts: just "off" for
// a non-reasoning model, the full ladder (xhigh clamped out unless the model
// opts in) otherwise.
func SupportedThinkingLevels(m agentmsg.Model) []agentmsg.ReasoningLevel {
	if !m.Reasoning {
		return []agentmsg.ReasoningLevel{agentmsg.ReasoningOff}
	}
	levels := make([]agentmsg.ReasoningLevel, 0, len(thinkingLevelOrder))
	for _, l := range thinkingLevelOrder {
		if l == agentmsg.ReasoningXHigh && !m.SupportsXHigh {
			continue
		}
		levels = append(levels, l)
	}
	return levels
}

// ClampThinkingLevel finds the nearest level to requested that m supports:
// exact match if present, otherwise the nearest lower level, otherwise the
// nearest higher one (forward-then-backward search, SPEC_FULL.md
// supplemented feature grounded in the original implementation's model
// switching, which re-clamps the thinking level whenever the active model
// changes rather than rejecting the combination outright).
func ClampThinkingLevel(m agentmsg.Model, requested agentmsg.ReasoningLevel) agentmsg.ReasoningLevel {
	supported := SupportedThinkingLevels(m)
	idx := indexOfLevel(thinkingLevelOrder, requested)
	if idx < 0 {
		return supported[0]
	}
	for i := idx; i >= 0; i-- {
		if containsLevel(supported, thinkingLevelOrder[i]) {
			return thinkingLevelOrder[i]
		}
	}
	for i := idx + 1; i < len(thinkingLevelOrder); i++ {
		if containsLevel(supported, thinkingLevelOrder[i]) {
			return thinkingLevelOrder[i]
		}
	}
	return supported[0]
}

func indexOfLevel(levels []agentmsg.ReasoningLevel, l agentmsg.ReasoningLevel) int {
	for i, x := range levels {
		if x == l {
			return i
		}
	}
	return -1
}

func containsLevel(levels []agentmsg.ReasoningLevel, l agentmsg.ReasoningLevel) bool {
	return indexOfLevel(levels, l) >= 0
}

// CycleModel returns the next model in models after the one with currentID,
// wrapping around; CycleModel with forward=false goes the other way. Used to
// back a "switch to next/previous configured model" action (SPEC_FULL.md
// supplemented feature).
func CycleModel(models []agentmsg.Model, currentID string, forward bool) agentmsg.Model {
	if len(models) == 0 {
		return agentmsg.Model{}
	}
	idx := 0
	for i, m := range models {
		if m.ID == currentID {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(models)
	} else {
		idx = (idx - 1 + len(models)) % len(models)
	}
	return models[idx]
}

// CycleThinkingLevel returns the next (or previous) level m supports after
// current, wrapping around within the model's supported ladder.
func CycleThinkingLevel(m agentmsg.Model, current agentmsg.ReasoningLevel, forward bool) agentmsg.ReasoningLevel {
	supported := SupportedThinkingLevels(m)
	idx := indexOfLevel(supported, current)
	if idx < 0 {
		idx = 0
	} else if forward {
		idx = (idx + 1) % len(supported)
	} else {
		idx = (idx - 1 + len(supported)) % len(supported)
	}
	return supported[idx]
}
