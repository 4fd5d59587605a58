// Package agentmsg defines the provider-agnostic message and content-block
// data model shared by every component of the runtime: the messages a
// session persists, the messages a provider adapter converts to wire form,
// and the messages the agent loop accumulates while streaming.
package agentmsg

import "encoding/json"

// ContentType discriminates the tagged ContentBlock variants.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentThinking ContentType = "thinking"
	ContentImage    ContentType = "image"
	ContentToolCall ContentType = "tool_call"
)

// ContentBlock is a tagged union over the four content-block variants an
// AssistantMessage or UserMessage body can carry. Exactly the fields for
// Type are meaningful; the rest are zero.
type ContentBlock struct {
	Type ContentType `json:"type"`

	// Text / Thinking
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"` // provider-opaque, echoed back verbatim

	// Image
	ImageData string `json:"imageData,omitempty"` // base64
	MimeType  string `json:"mimeType,omitempty"`

	// ToolCall
	ToolCallID       string          `json:"id,omitempty"`
	ToolCallName     string          `json:"name,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
}

// Text returns a Text content block.
func Text(text string) ContentBlock { return ContentBlock{Type: ContentText, Text: text} }

// Thinking returns a Thinking content block.
func Thinking(text, signature string) ContentBlock {
	return ContentBlock{Type: ContentThinking, Text: text, Signature: signature}
}

// Image returns an Image content block.
func Image(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentImage, ImageData: base64Data, MimeType: mimeType}
}

// ToolCall returns a ToolCall content block.
func ToolCall(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Type: ContentToolCall, ToolCallID: id, ToolCallName: name, Arguments: args}
}

// IsEmptyThinking reports whether a Thinking block has neither text nor a
// signature; such blocks must be dropped before conversion to a provider's
// wire form (invariant #3 on message sequences).
func (b ContentBlock) IsEmptyThinking() bool {
	return b.Type == ContentThinking && b.Text == "" && b.Signature == ""
}

// StopReason is the terminal state of an AssistantMessage.
type StopReason string

const (
	StopReasonStop     StopReason = "stop"
	StopReasonLength   StopReason = "length"
	StopReasonToolUse  StopReason = "tool_use"
	StopReasonError    StopReason = "error"
	StopReasonAborted  StopReason = "aborted"
)

// Usage carries token accounting for one AssistantMessage.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`

	// Cost is populated by the OpenAI Responses and Codex adapters from the
	// model's per-megatoken prices, scaled by service tier. The Anthropic,
	// Google, Bedrock, Zen and chat-compat adapters leave it zero.
	Cost Cost `json:"cost,omitempty"`
}

// Total returns the sum of Input, Output, CacheRead and CacheWrite; the
// session's context-token estimate takes it from the last assistant message.
func (u Usage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Cost breaks out the dollar cost of one AssistantMessage by token class.
type Cost struct {
	Input      float64 `json:"input,omitempty"`
	Output     float64 `json:"output,omitempty"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
}

// Total sums the cost across all token classes.
func (c Cost) Total() float64 {
	return c.Input + c.Output + c.CacheRead + c.CacheWrite
}
