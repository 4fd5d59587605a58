package agentmsg

// ReasoningLevel is the internal reasoning-effort dial SimpleStreamOptions
// exposes; provider adapters translate it to each wire format's own knob
// (token budget or effort label) in internal/provider.
type ReasoningLevel string

const (
	ReasoningOff    ReasoningLevel = "off"
	ReasoningMinimal ReasoningLevel = "minimal"
	ReasoningLow    ReasoningLevel = "low"
	ReasoningMedium ReasoningLevel = "medium"
	ReasoningHigh   ReasoningLevel = "high"
	ReasoningXHigh  ReasoningLevel = "xhigh"
)

// ModalityInput names content types a model accepts as input.
type ModalityInput string

const (
	InputText  ModalityInput = "text"
	InputImage ModalityInput = "image"
)

// PriceTable holds per-megatoken prices in the model's billing currency.
type PriceTable struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// ThinkingBudgets maps a ReasoningLevel to a token budget for providers whose
// wire format wants a budget rather than an effort label. Zero means "use
// the spec's default for this level".
type ThinkingBudgets map[ReasoningLevel]int

// DefaultThinkingBudgets are the fallback budgets named in the spec.
var DefaultThinkingBudgets = ThinkingBudgets{
	ReasoningMinimal: 1024,
	ReasoningLow:     2048,
	ReasoningMedium:  8192,
	ReasoningHigh:    16384,
	ReasoningXHigh:   16384, // clamped to high
}

// Budget returns the configured or default budget for a level.
func (b ThinkingBudgets) Budget(level ReasoningLevel) int {
	if v, ok := b[level]; ok && v > 0 {
		return v
	}
	return DefaultThinkingBudgets[level]
}

// Model describes one callable LLM endpoint. Immutable after registration;
// shared by reference (§3 Ownership & lifecycle).
type Model struct {
	ID        string
	Name      string
	API       string // registry dialect name: "anthropic", "openai-responses", "codex", "google", "bedrock", or a Zen/chat-compat factory's name
	Provider  string
	BaseURL   string
	Reasoning bool
	Input     []ModalityInput
	Cost      PriceTable

	ContextWindow int
	MaxTokens     int

	Headers map[string]string

	// Compat flags.
	SupportsXHigh bool // model can accept reasoning effort "high" uncapped as "xhigh" semantics

	// OverflowSlackTokens tunes the silent-overflow check
	// (usage.Input > ContextWindow - OverflowSlackTokens) per provider, since
	// some providers report post-cache-hit input which can understate the
	// true prompt size (spec Open Question).
	OverflowSlackTokens int
}

// AcceptsInput reports whether the model accepts a given input modality.
func (m Model) AcceptsInput(mod ModalityInput) bool {
	for _, i := range m.Input {
		if i == mod {
			return true
		}
	}
	return false
}

// SameOrigin reports whether an AssistantMessage produced under
// (provider, modelID) matches this model — used to decide whether to strip
// provider/model-scoped signatures (invariant #4).
func (m Model) SameOrigin(provider, modelID string) bool {
	return m.Provider == provider && m.ID == modelID
}

// Context is the unit consumed by a provider call: a system prompt, the
// full message history, and the tool set available this turn.
type Context struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
}

// ToolSpec is the wire-agnostic tool definition a Context carries; it is the
// provider-facing projection of the external Tool collaborator (§6).
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema, raw
}

// CacheRetention selects a provider's prompt-cache TTL tier, where supported.
type CacheRetention string

const (
	CacheNone  CacheRetention = "none"
	CacheShort CacheRetention = "short"
	CacheLong  CacheRetention = "long"
)

// StreamOptions configures one provider.Stream call.
type StreamOptions struct {
	Temperature    float64
	MaxTokens      int
	APIKey         string
	CacheRetention CacheRetention
	SessionID      string
	ExtraHeaders   map[string]string
	MaxRetryDelayMs int
}

// SimpleStreamOptions extends StreamOptions with the reasoning-level dial
// translated per-provider by stream_simple.
type SimpleStreamOptions struct {
	StreamOptions
	Reasoning       ReasoningLevel
	ThinkingBudgets ThinkingBudgets
}

// AdjustMaxTokensForThinking enforces a floor of 1024 output tokens: if
// maxTokens+thinkingBudget would leave less than that for output, the
// thinking budget is reduced first. Returns the (possibly reduced) thinking
// budget to use.
func AdjustMaxTokensForThinking(maxTokens, thinkingBudget int) int {
	const outputFloor = 1024
	if maxTokens <= 0 || thinkingBudget <= 0 {
		return thinkingBudget
	}
	if maxTokens-thinkingBudget >= outputFloor {
		return thinkingBudget
	}
	reduced := maxTokens - outputFloor
	if reduced < 0 {
		reduced = 0
	}
	return reduced
}
