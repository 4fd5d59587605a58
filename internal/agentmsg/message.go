package agentmsg

// Role discriminates the tagged Message variants.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Message is a tagged union over UserMessage, AssistantMessage, and
// ToolResultMessage. Only the fields relevant to Role are populated; the
// constructors below are the preferred way to build one.
type Message struct {
	Role Role `json:"role"`

	// UserMessage / AssistantMessage
	Content []ContentBlock `json:"content,omitempty"`

	// AssistantMessage
	API        string     `json:"api,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	ModelID    string     `json:"modelId,omitempty"`
	Usage      Usage      `json:"usage,omitempty"`
	StopReason StopReason `json:"stopReason,omitempty"`
	ErrorMsg   string     `json:"errorMessage,omitempty"`

	// ToolResultMessage
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Details    any    `json:"details,omitempty"`
	IsError    bool   `json:"isError,omitempty"`

	TimestampMs int64 `json:"timestampMs"`
}

// NewUserMessage builds a UserMessage from plain text.
func NewUserMessage(text string, timestampMs int64) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text(text)}, TimestampMs: timestampMs}
}

// NewUserMessageBlocks builds a UserMessage from arbitrary content blocks
// (multimodal input).
func NewUserMessageBlocks(blocks []ContentBlock, timestampMs int64) Message {
	return Message{Role: RoleUser, Content: blocks, TimestampMs: timestampMs}
}

// NewToolResultMessage builds a ToolResultMessage.
func NewToolResultMessage(toolCallID, toolName string, content []ContentBlock, details any, isError bool, timestampMs int64) Message {
	return Message{
		Role:       RoleToolResult,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Content:    content,
		Details:    details,
		IsError:    isError,
		TimestampMs: timestampMs,
	}
}

// Text concatenates every Text content block in the message. Useful for
// display and for the fallback "echo user's original request" recitation.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == ContentText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns every ToolCall content block in the message, in order.
func (m Message) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == ContentToolCall {
			out = append(out, b)
		}
	}
	return out
}

// IsTerminalError reports whether an AssistantMessage ended in error or was
// aborted — such messages are display-only and must be omitted from a
// provider's wire form (invariant #2).
func (m Message) IsTerminalError() bool {
	return m.Role == RoleAssistant && (m.StopReason == StopReasonError || m.StopReason == StopReasonAborted)
}
