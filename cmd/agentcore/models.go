package main

import "github.com/corvidrun/agentcore/internal/agentmsg"

// catalog is a small built-in model list so the REPL driver has something to
// call without requiring a models.toml; a real deployment would load this
// from its own config instead (spec §3 Model "immutable after registration").
var catalog = []agentmsg.Model{
	{
		ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", API: "anthropic", Provider: "anthropic",
		Reasoning: true, Input: []agentmsg.ModalityInput{agentmsg.InputText, agentmsg.InputImage},
		Cost: agentmsg.PriceTable{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		ContextWindow: 200000, MaxTokens: 64000, OverflowSlackTokens: 4000,
	},
	{
		ID: "gpt-5", Name: "GPT-5", API: "openai-responses", Provider: "openai",
		Reasoning: true, Input: []agentmsg.ModalityInput{agentmsg.InputText, agentmsg.InputImage},
		Cost: agentmsg.PriceTable{Input: 1.25, Output: 10, CacheRead: 0.125},
		ContextWindow: 400000, MaxTokens: 128000, SupportsXHigh: true, OverflowSlackTokens: 8000,
	},
	{
		ID: "codex-mini", Name: "Codex Mini", API: "codex", Provider: "openai",
		Reasoning: true, Input: []agentmsg.ModalityInput{agentmsg.InputText},
		Cost: agentmsg.PriceTable{Input: 1.5, Output: 6},
		ContextWindow: 200000, MaxTokens: 64000, OverflowSlackTokens: 4000,
	},
	{
		ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", API: "google", Provider: "google",
		Reasoning: true, Input: []agentmsg.ModalityInput{agentmsg.InputText, agentmsg.InputImage},
		Cost: agentmsg.PriceTable{Input: 1.25, Output: 10, CacheRead: 0.31},
		ContextWindow: 1048576, MaxTokens: 65536, OverflowSlackTokens: 8000,
	},
	{
		ID: "anthropic.claude-sonnet-4-5-20250929-v1:0", Name: "Claude Sonnet 4.5 (Bedrock)", API: "bedrock", Provider: "bedrock",
		Reasoning: true, Input: []agentmsg.ModalityInput{agentmsg.InputText, agentmsg.InputImage},
		Cost: agentmsg.PriceTable{Input: 3, Output: 15},
		ContextWindow: 200000, MaxTokens: 64000, OverflowSlackTokens: 4000,
	},
}

func lookupModel(dialect, modelID string) (agentmsg.Model, bool) {
	for _, m := range catalog {
		if m.API != dialect {
			continue
		}
		if modelID == "" || m.ID == modelID {
			return m, true
		}
	}
	return agentmsg.Model{}, false
}
