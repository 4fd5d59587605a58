package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

// openaiChatCompatProvider implements the OpenAI Chat Completions dialect
// for Ollama/vLLM-style endpoints (OpenAI-compatible but not the Responses
// API), using github.com/sashabaranov/go-openai's wire types the way the
// teacher's internal/provider/openai_common.go does for its OllamaProvider.
type openaiChatCompatProvider struct {
	dialectName string
	baseURL     string
	client      *http.Client
	creds       CredentialSource
}

// NewOpenAIChatCompatFactory builds a Factory for an OpenAI-compatible chat
// completions endpoint registered under dialectName (e.g. "ollama", "vllm").
func NewOpenAIChatCompatFactory(dialectName, baseURL string) Factory {
	return &openaiChatCompatFactory{dialectName: dialectName, baseURL: strings.TrimRight(baseURL, "/")}
}

type openaiChatCompatFactory struct {
	dialectName string
	baseURL     string
}

func (f *openaiChatCompatFactory) DialectName() string { return f.dialectName }
func (f *openaiChatCompatFactory) Create(creds CredentialSource) Provider {
	return &openaiChatCompatProvider{
		dialectName: f.dialectName,
		baseURL:     f.baseURL,
		client:      &http.Client{Timeout: 300 * time.Second},
		creds:       creds,
	}
}

func (p *openaiChatCompatProvider) Close() error { p.client.CloseIdleConnections(); return nil }

func (p *openaiChatCompatProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	// Chat Completions has no effort/budget knob; local models ignore the
	// reasoning dial entirely.
	return p.Stream(ctx, model, c, opts.StreamOptions)
}

func (p *openaiChatCompatProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	apiKey, _ := p.creds.APIKey(p.dialectName) // local endpoints often need no key

	messages := toOpenAIChatMessages(c.Messages)
	if c.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{{Role: "system", Content: c.SystemPrompt}}, messages...)
	}
	messages = mergeSystemMessagesOpenAI(messages)

	req := chatCompletionRequest{
		Model:         model.ID,
		Messages:      messages,
		Tools:         toOpenAIChatTools(c.Tools),
		Temperature:   float32(opts.Temperature),
		Stream:        true,
		StreamOptions: &chatStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.dialectName, err)
	}

	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	resp, err := httpDoSSE(ctx, httpRequestConfig{
		client:  p.client,
		url:     p.baseURL + "/chat/completions",
		body:    body,
		dialect: p.dialectName,
		modelID: model.ID,
		headers: headers,
	})
	if err != nil {
		return nil, err
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runChatCompletionsStream(ctx, resp, model, p.dialectName, stream)
	return stream, nil
}

type chatCompletionRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *chatStreamOptions             `json:"stream_options,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionStreamResponse struct {
	Choices []chatCompletionStreamChoice `json:"choices"`
	Usage   *chatCompletionUsage         `json:"usage,omitempty"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionStreamChoice struct {
	Delta        chatCompletionStreamDelta `json:"delta"`
	FinishReason *string                   `json:"finish_reason"`
}

type chatCompletionStreamDelta struct {
	Role             string                   `json:"role,omitempty"`
	Content          string                   `json:"content,omitempty"`
	Reasoning        string                   `json:"reasoning,omitempty"`
	ReasoningContent string                   `json:"reasoning_content,omitempty"`
	ToolCalls        []chatCompletionToolCall `json:"tool_calls,omitempty"`
}

type chatCompletionToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function chatCompletionFunction `json:"function"`
}

type chatCompletionFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toOpenAIChatMessages converts the runtime's message model to go-openai's
// ChatCompletionMessage, grounded on the teacher's toOpenAIMessages.
func toOpenAIChatMessages(messages []agentmsg.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleToolResult:
			result = append(result, openai.ChatCompletionMessage{
				Role:       "tool",
				Content:    collapseToolResultContent(m.Content),
				ToolCallID: m.ToolCallID,
			})
		case agentmsg.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: "assistant", Content: m.Text()}
			for _, tc := range m.ToolCalls() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolCallName,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, msg)
		case agentmsg.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: "user", Content: agentmsg.ReplaceSurrogates(m.Text())})
		}
	}
	return result
}

// mergeSystemMessagesOpenAI merges multiple system messages into one
// leading message, grounded on the teacher's identically-named helper.
func mergeSystemMessagesOpenAI(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if len(messages) == 0 {
		return messages
	}
	var systemParts []string
	var rest []openai.ChatCompletionMessage
	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(systemParts) == 0 {
		return rest
	}
	merged := []openai.ChatCompletionMessage{{Role: "system", Content: strings.Join(systemParts, "\n\n")}}
	return append(merged, rest...)
}

func toOpenAIChatTools(tools []agentmsg.ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParams
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func runChatCompletionsStream(ctx context.Context, body interface {
	Read([]byte) (int, error)
	Close() error
}, model agentmsg.Model, dialect string, stream *eventstream.AssistantMessageEventStream) {
	defer body.Close()

	partial := agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: dialect, ModelID: model.ID, API: model.API}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: partial})

	textIdx := -1
	toolIdxToContentIdx := map[int]int{}
	toolArgs := map[int]string{}
	usage := agentmsg.Usage{}
	stopReason := agentmsg.StopReasonStop

	for frame := range sseFrames(body) {
		select {
		case <-ctx.Done():
			partial.StopReason = agentmsg.StopReasonAborted
			partial.ErrorMsg = ctx.Err().Error()
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
			return
		default:
		}

		if frame.Data == "[DONE]" {
			break
		}
		var chunk chatCompletionStreamResponse
		if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.Input = chunk.Usage.PromptTokens
			usage.Output = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta
		if delta.Content != "" {
			if textIdx < 0 {
				textIdx = appendBlock(&partial, agentmsg.Text(""))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: textIdx, Partial: partial})
			}
			setBlockText(&partial, textIdx, blockText(partial, textIdx)+delta.Content)
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: textIdx, Delta: delta.Content, Partial: partial})
		}
		for _, tc := range delta.ToolCalls {
			ci, ok := toolIdxToContentIdx[tc.Index]
			if !ok {
				ci = appendBlock(&partial, agentmsg.ToolCall(tc.ID, tc.Function.Name, nil))
				toolIdxToContentIdx[tc.Index] = ci
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: partial})
				stopReason = agentmsg.StopReasonToolUse
			}
			if tc.Function.Arguments != "" {
				toolArgs[tc.Index] += tc.Function.Arguments
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: ci, Delta: tc.Function.Arguments, Partial: partial})
			}
		}
		if choice.FinishReason != nil {
			for idx, ci := range toolIdxToContentIdx {
				args := completeToolArguments(toolArgs[idx])
				setBlockArguments(&partial, ci, args)
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: ci, ToolCall: blockAt(partial, ci), Partial: partial})
			}
			if textIdx >= 0 {
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: textIdx, Content: blockText(partial, textIdx), Partial: partial})
			}
			switch *choice.FinishReason {
			case "length":
				stopReason = agentmsg.StopReasonLength
			case "tool_calls":
				stopReason = agentmsg.StopReasonToolUse
			}
			partial.Usage = usage
			partial.StopReason = stopReason
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
			return
		}
	}
	partial.Usage = usage
	partial.StopReason = stopReason
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
}
