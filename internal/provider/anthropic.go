package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

const anthropicDialect = "anthropic"
const anthropicAPIURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"

// AnthropicFactory constructs the Anthropic Messages dialect adapter.
type AnthropicFactory struct{}

func (AnthropicFactory) DialectName() string { return anthropicDialect }
func (AnthropicFactory) Create(creds CredentialSource) Provider {
	return newAnthropicProvider(creds)
}

// Anthropic Messages API request types, grounded on the teacher's
// internal/provider/anthropic.go.

type anthropicRequest struct {
	Model       string                `json:"model"`
	Messages    []anthropicMessage    `json:"messages"`
	System      []anthropicCacheBlock `json:"system,omitempty"`
	MaxTokens   int                   `json:"max_tokens"`
	Temperature float64               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream"`
	Tools       []anthropicTool       `json:"tools,omitempty"`
	Thinking    *anthropicThinking    `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicCacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type anthropicCacheBlock struct {
	Type         string                 `json:"type"` // "text"
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type anthropicThinkingBlock struct {
	Type      string `json:"type"` // "thinking"
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"` // "tool_use"
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"` // "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

// Anthropic SSE streaming response types.

type anthropicMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			CacheReadTokens  int `json:"cache_read_input_tokens"`
			CacheWriteTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"` // "text", "thinking", or "tool_use"
		Text string `json:"text,omitempty"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"` // "text_delta", "thinking_delta", "input_json_delta", "signature_delta"
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		Signature   string `json:"signature,omitempty"`
	} `json:"delta"`
}

// anthropicProvider implements Provider for the Anthropic Messages API.
type anthropicProvider struct {
	client *http.Client
	creds  CredentialSource
}

func newAnthropicProvider(creds CredentialSource) *anthropicProvider {
	return &anthropicProvider{
		client: &http.Client{Timeout: 300 * time.Second},
		creds:  creds,
	}
}

func (p *anthropicProvider) Close() error { p.client.CloseIdleConnections(); return nil }

func (p *anthropicProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	budget := reasoningBudget(opts.Reasoning, opts.ThinkingBudgets)
	budget = agentmsg.AdjustMaxTokensForThinking(opts.MaxTokens, budget)
	return p.stream(ctx, model, c, opts.StreamOptions, budget)
}

func (p *anthropicProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.stream(ctx, model, c, opts, 0)
}

func (p *anthropicProvider) stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions, thinkingBudget int) (*eventstream.AssistantMessageEventStream, error) {
	apiKey, ok := p.creds.APIKey(anthropicDialect)
	if !ok {
		return nil, &ErrNoAPIKey{Provider: anthropicDialect}
	}

	system, messages := toAnthropicMessages(c.Messages, c.SystemPrompt, model)
	req := anthropicRequest{
		Model:       model.ID,
		Messages:    messages,
		System:      system,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      true,
		Tools:       toAnthropicTools(c.Tools),
	}
	if thinkingBudget > 0 {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: thinkingBudget}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	resp, err := httpDoSSE(ctx, httpRequestConfig{
		client:  p.client,
		url:     anthropicAPIURL,
		body:    body,
		dialect: anthropicDialect,
		modelID: model.ID,
		headers: map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropicVersion,
		},
	})
	if err != nil {
		return nil, err
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runAnthropicStream(ctx, resp, model, stream)
	return stream, nil
}

// toAnthropicMessages converts the runtime's message model to Anthropic
// Messages API format, applying §4.B's invariants (orphan tool-call
// synthesis happens upstream in internal/session) and replaying thinking
// signatures when the assistant message originated from this same model.
func toAnthropicMessages(messages []agentmsg.Message, systemPrompt string, model agentmsg.Model) ([]anthropicCacheBlock, []anthropicMessage) {
	var result []anthropicMessage

	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleToolResult:
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []any{anthropicToolResultBlock{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   collapseToolResultContent(m.Content),
				}},
			})
		case agentmsg.RoleAssistant:
			sameOrigin := model.SameOrigin(m.Provider, m.ModelID)
			var blocks []any
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					blocks = append(blocks, anthropicTextBlock{Type: "text", Text: b.Text})
				case agentmsg.ContentThinking:
					sig := b.Signature
					if !sameOrigin {
						sig = ""
					}
					blocks = append(blocks, anthropicThinkingBlock{Type: "thinking", Thinking: b.Text, Signature: sig})
				case agentmsg.ContentToolCall:
					input := b.Arguments
					if len(input) == 0 {
						input = json.RawMessage(`{}`)
					}
					blocks = append(blocks, anthropicToolUseBlock{Type: "tool_use", ID: b.ToolCallID, Name: b.ToolCallName, Input: input})
				}
			}
			result = append(result, anthropicMessage{Role: "assistant", Content: blocks})
		case agentmsg.RoleUser:
			var blocks []any
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					blocks = append(blocks, anthropicTextBlock{Type: "text", Text: agentmsg.ReplaceSurrogates(b.Text)})
				case agentmsg.ContentImage:
					blocks = append(blocks, map[string]any{
						"type":   "image",
						"source": map[string]string{"type": "base64", "media_type": b.MimeType, "data": b.ImageData},
					})
				}
			}
			result = append(result, anthropicMessage{Role: "user", Content: blocks})
		}
	}

	var system []anthropicCacheBlock
	if systemPrompt != "" {
		system = []anthropicCacheBlock{{Type: "text", Text: systemPrompt, CacheControl: &anthropicCacheControl{Type: "ephemeral"}}}
	}
	return system, result
}

func toAnthropicTools(tools []agentmsg.ToolSpec) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]anthropicTool, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = emptySchema
		}
		result[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema}
	}
	result[len(result)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	return result
}

// anthropicBlockTracker maps Anthropic content-block indices to this
// runtime's content_index and tracks per-block tool-argument accumulation.
type anthropicBlockTracker struct {
	blockType map[int]string
	toolArgs  map[int]string
	toolID    map[int]string
	toolName  map[int]string
}

func newAnthropicBlockTracker() *anthropicBlockTracker {
	return &anthropicBlockTracker{
		blockType: make(map[int]string),
		toolArgs:  make(map[int]string),
		toolID:    make(map[int]string),
		toolName:  make(map[int]string),
	}
}

// runAnthropicStream drains the SSE body, accumulating content blocks into
// partial and pushing AssistantMessageEvents, mirroring the teacher's
// parseAnthropicSSEStream dispatch but targeting the generic event stream
// instead of a dialect-specific channel.
func runAnthropicStream(ctx context.Context, body io.ReadCloser, model agentmsg.Model, stream *eventstream.AssistantMessageEventStream) {
	defer body.Close()

	partial := agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: anthropicDialect, ModelID: model.ID, API: model.API}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: partial})

	bt := newAnthropicBlockTracker()
	usage := agentmsg.Usage{}
	stopReason := agentmsg.StopReasonStop

	fail := func(err error) {
		partial.StopReason = classifyAbortOrError(ctx, err)
		partial.ErrorMsg = err.Error()
		stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
	}

	for frame := range sseFrames(body) {
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return
		default:
		}

		switch frame.Event {
		case "message_start":
			var ms anthropicMessageStart
			if err := json.Unmarshal([]byte(frame.Data), &ms); err == nil {
				usage.Input = ms.Message.Usage.InputTokens
				usage.Output = ms.Message.Usage.OutputTokens
				usage.CacheRead = ms.Message.Usage.CacheReadTokens
				usage.CacheWrite = ms.Message.Usage.CacheWriteTokens
			}
		case "content_block_start":
			var evt anthropicContentBlockStart
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: parse content_block_start")
				continue
			}
			bt.blockType[evt.Index] = evt.ContentBlock.Type
			switch evt.ContentBlock.Type {
			case "text":
				appendBlock(&partial, agentmsg.Text(""))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: evt.Index, Partial: partial})
			case "thinking":
				appendBlock(&partial, agentmsg.Thinking("", ""))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingStart, ContentIndex: evt.Index, Partial: partial})
			case "tool_use":
				bt.toolID[evt.Index] = evt.ContentBlock.ID
				bt.toolName[evt.Index] = evt.ContentBlock.Name
				appendBlock(&partial, agentmsg.ToolCall(evt.ContentBlock.ID, evt.ContentBlock.Name, nil))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: evt.Index, Partial: partial})
			}
		case "content_block_delta":
			var evt anthropicContentBlockDelta
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
				log.Warn().Err(err).Msg("anthropic: parse content_block_delta")
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				setBlockText(&partial, evt.Index, appendText(blockText(partial, evt.Index), evt.Delta.Text))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: evt.Index, Delta: evt.Delta.Text, Partial: partial})
			case "thinking_delta":
				setBlockText(&partial, evt.Index, appendText(blockText(partial, evt.Index), evt.Delta.Thinking))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingDelta, ContentIndex: evt.Index, Delta: evt.Delta.Thinking, Partial: partial})
			case "signature_delta":
				setBlockSignature(&partial, evt.Index, evt.Delta.Signature)
			case "input_json_delta":
				bt.toolArgs[evt.Index] += evt.Delta.PartialJSON
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: evt.Index, Delta: evt.Delta.PartialJSON, Partial: partial})
			}
		case "content_block_stop":
			var evt struct {
				Index int `json:"index"`
			}
			_ = json.Unmarshal([]byte(frame.Data), &evt)
			switch bt.blockType[evt.Index] {
			case "text":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: evt.Index, Content: blockText(partial, evt.Index), Partial: partial})
			case "thinking":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingEnd, ContentIndex: evt.Index, Content: blockText(partial, evt.Index), Partial: partial})
			case "tool_use":
				args := completeToolArguments(bt.toolArgs[evt.Index])
				setBlockArguments(&partial, evt.Index, args)
				block := blockAt(partial, evt.Index)
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: evt.Index, ToolCall: block, Partial: partial})
			}
		case "message_delta":
			var evt anthropicMessageDelta
			if err := json.Unmarshal([]byte(frame.Data), &evt); err == nil {
				usage.Output = evt.Usage.OutputTokens
				if evt.Delta.StopReason == "tool_use" {
					stopReason = agentmsg.StopReasonToolUse
				} else if evt.Delta.StopReason == "max_tokens" {
					stopReason = agentmsg.StopReasonLength
				}
			}
		case "message_stop":
			partial.Usage = usage
			partial.StopReason = stopReason
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
			return
		}
	}
}
