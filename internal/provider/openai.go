package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

const (
	openaiResponsesDialect = "openai-responses"
	openaiResponsesURL     = "https://api.openai.com/v1/responses"
)

// Responses API wire types, grounded on the teacher's
// internal/provider/openai_common.go responsesRequest family, extended with
// the reasoning/encrypted-content fields §4.B requires.

type responsesRequest struct {
	Model      string               `json:"model"`
	Input      []responsesInputItem `json:"input"`
	Tools      []responsesToolParam `json:"tools,omitempty"`
	Reasoning  *responsesReasoning  `json:"reasoning,omitempty"`
	Include    []string             `json:"include,omitempty"`
	Temperature *float32            `json:"temperature,omitempty"`
	Stream     bool                 `json:"stream"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	ServiceTier string              `json:"service_tier,omitempty"`
}

type responsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"` // "auto"
}

type responsesInputItem struct {
	Type    string `json:"type"` // "message", "function_call", "function_call_output", "reasoning"
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`

	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`

	// EncryptedContent carries an opaque reasoning continuation blob the
	// server must see again to maintain chain-of-thought continuity across
	// turns (§4.B "encrypted reasoning content MUST be requested and
	// forwarded").
	EncryptedContent string `json:"encrypted_content,omitempty"`
	Summary          []any  `json:"summary,omitempty"`
}

type responsesToolParam struct {
	Type        string          `json:"type"` // "function"
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type responsesOutputTextDelta struct {
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type responsesOutputItemAdded struct {
	OutputIndex int                     `json:"output_index"`
	Item        responsesOutputItemInfo `json:"item"`
}

type responsesOutputItemInfo struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "message", "function_call", "reasoning"
	Name   string `json:"name,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

type responsesFuncCallArgsDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type responsesReasoningDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type responsesCompleted struct {
	Response struct {
		Usage *struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			InputTokenDetails struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"input_tokens_details"`
		} `json:"usage,omitempty"`
		ServiceTier string `json:"service_tier"`
	} `json:"response"`
}

type responsesFailed struct {
	Response struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// toResponsesInput converts the runtime's message model to Responses API
// input items, preserving encrypted reasoning content for same-origin
// assistant messages so the server can maintain reasoning continuity.
func toResponsesInput(messages []agentmsg.Message, model agentmsg.Model) []responsesInputItem {
	var items []responsesInputItem
	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleToolResult:
			items = append(items, responsesInputItem{
				Type:   "function_call_output",
				CallID: m.ToolCallID,
				Output: collapseToolResultContent(m.Content),
			})
		case agentmsg.RoleAssistant:
			sameOrigin := model.SameOrigin(m.Provider, m.ModelID)
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					items = append(items, responsesInputItem{Type: "message", Role: "assistant", Content: b.Text})
				case agentmsg.ContentThinking:
					if sameOrigin && b.Signature != "" {
						items = append(items, responsesInputItem{Type: "reasoning", EncryptedContent: b.Signature})
					}
				case agentmsg.ContentToolCall:
					items = append(items, responsesInputItem{Type: "function_call", CallID: b.ToolCallID, Name: b.ToolCallName, Arguments: string(b.Arguments)})
				}
			}
		case agentmsg.RoleUser:
			items = append(items, responsesInputItem{Type: "message", Role: "user", Content: agentmsg.ReplaceSurrogates(m.Text())})
		}
	}
	return items
}

func toResponsesTools(tools []agentmsg.ToolSpec) []responsesToolParam {
	if len(tools) == 0 {
		return nil
	}
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]responsesToolParam, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParams
		}
		result[i] = responsesToolParam{Type: "function", Name: t.Name, Description: t.Description, Parameters: params}
	}
	return result
}

// openaiResponsesProvider implements Provider for the OpenAI/Azure Responses
// API. Codex embeds this with its own endpoint and header injection (see
// codex.go).
type openaiResponsesProvider struct {
	client   *http.Client
	creds    CredentialSource
	dialect  string
	endpoint string
	extraHeaders func(apiKey string) (map[string]string, error)
}

func newOpenAIResponsesProvider(creds CredentialSource) *openaiResponsesProvider {
	return &openaiResponsesProvider{
		client:   &http.Client{Timeout: 300 * time.Second},
		creds:    creds,
		dialect:  openaiResponsesDialect,
		endpoint: openaiResponsesURL,
	}
}

func (p *openaiResponsesProvider) Close() error { p.client.CloseIdleConnections(); return nil }

func (p *openaiResponsesProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	effort := reasoningEffortLabel(clampReasoningForModel(model.ID, opts.Reasoning), model.SupportsXHigh)
	return p.stream(ctx, model, c, opts.StreamOptions, effort)
}

func (p *openaiResponsesProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.stream(ctx, model, c, opts, "")
}

func (p *openaiResponsesProvider) stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions, effort string) (*eventstream.AssistantMessageEventStream, error) {
	apiKey, ok := p.creds.APIKey(p.dialect)
	if !ok {
		return nil, &ErrNoAPIKey{Provider: p.dialect}
	}

	req := responsesRequest{
		Model:  model.ID,
		Input:  toResponsesInput(c.Messages, model),
		Tools:  toResponsesTools(c.Tools),
		Stream: true,
	}
	if len(c.SystemPrompt) > 0 {
		req.Input = append([]responsesInputItem{{Type: "message", Role: "developer", Content: c.SystemPrompt}}, req.Input...)
	}
	if model.Reasoning && effort != "" {
		req.Reasoning = &responsesReasoning{Effort: effort, Summary: "auto"}
		req.Include = []string{"reasoning.encrypted_content"}
	}
	if opts.MaxTokens > 0 {
		req.MaxOutputTokens = opts.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.dialect, err)
	}

	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if p.extraHeaders != nil {
		extra, err := p.extraHeaders(apiKey)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			headers[k] = v
		}
	}
	if opts.SessionID != "" {
		headers["session_id"] = opts.SessionID
	}

	resp, err := httpDoSSE(ctx, httpRequestConfig{
		client:  p.client,
		url:     p.endpoint,
		body:    body,
		dialect: p.dialect,
		modelID: model.ID,
		headers: headers,
	})
	if err != nil {
		return nil, err
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runResponsesStream(ctx, resp, model, p.dialect, stream)
	return stream, nil
}

type responsesTracker struct {
	toolCallCount    int
	outputToToolIdx  map[int]int
	outputToContentIdx map[int]int
	toolArgs         map[int]string
}

func newResponsesTracker() *responsesTracker {
	return &responsesTracker{
		outputToToolIdx:    make(map[int]int),
		outputToContentIdx: make(map[int]int),
		toolArgs:           make(map[int]string),
	}
}

func runResponsesStream(ctx context.Context, body interface {
	Read([]byte) (int, error)
	Close() error
}, model agentmsg.Model, dialect string, stream *eventstream.AssistantMessageEventStream) {
	defer body.Close()

	partial := agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: dialect, ModelID: model.ID, API: model.API}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: partial})

	rt := newResponsesTracker()
	usage := agentmsg.Usage{}
	textIdx := -1
	reasoningIdx := -1

	for frame := range sseFrames(body) {
		select {
		case <-ctx.Done():
			partial.StopReason = agentmsg.StopReasonAborted
			partial.ErrorMsg = ctx.Err().Error()
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
			return
		default:
		}

		switch frame.Event {
		case "response.output_item.added":
			var evt responsesOutputItemAdded
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
				log.Warn().Err(err).Msg("responses: parse output_item.added")
				continue
			}
			switch evt.Item.Type {
			case "function_call":
				idx := rt.toolCallCount
				rt.toolCallCount++
				rt.outputToToolIdx[evt.OutputIndex] = idx
				ci := appendBlock(&partial, agentmsg.ToolCall(evt.Item.CallID, evt.Item.Name, nil))
				rt.outputToContentIdx[evt.OutputIndex] = ci
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: partial})
			case "message":
				textIdx = appendBlock(&partial, agentmsg.Text(""))
				rt.outputToContentIdx[evt.OutputIndex] = textIdx
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: textIdx, Partial: partial})
			case "reasoning":
				reasoningIdx = appendBlock(&partial, agentmsg.Thinking("", ""))
				rt.outputToContentIdx[evt.OutputIndex] = reasoningIdx
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingStart, ContentIndex: reasoningIdx, Partial: partial})
			}
		case "response.output_text.delta":
			var evt responsesOutputTextDelta
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil || textIdx < 0 {
				continue
			}
			setBlockText(&partial, textIdx, blockText(partial, textIdx)+evt.Delta)
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: textIdx, Delta: evt.Delta, Partial: partial})
		case "response.reasoning_summary_text.delta":
			var evt responsesReasoningDelta
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil || reasoningIdx < 0 {
				continue
			}
			setBlockText(&partial, reasoningIdx, blockText(partial, reasoningIdx)+evt.Delta)
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingDelta, ContentIndex: reasoningIdx, Delta: evt.Delta, Partial: partial})
		case "response.reasoning.encrypted_content.done":
			var evt struct {
				OutputIndex int    `json:"output_index"`
				Content     string `json:"content"`
			}
			if err := json.Unmarshal([]byte(frame.Data), &evt); err == nil {
				if ci, ok := rt.outputToContentIdx[evt.OutputIndex]; ok {
					setBlockSignature(&partial, ci, evt.Content)
				}
			}
		case "response.function_call_arguments.delta":
			var evt responsesFuncCallArgsDelta
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
				continue
			}
			rt.toolArgs[evt.OutputIndex] += evt.Delta
			ci := rt.outputToContentIdx[evt.OutputIndex]
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: ci, Delta: evt.Delta, Partial: partial})
		case "response.output_item.done":
			var evt responsesOutputItemAdded
			if err := json.Unmarshal([]byte(frame.Data), &evt); err != nil {
				continue
			}
			ci, ok := rt.outputToContentIdx[evt.OutputIndex]
			if !ok {
				continue
			}
			switch evt.Item.Type {
			case "function_call":
				args := completeToolArguments(rt.toolArgs[evt.OutputIndex])
				setBlockArguments(&partial, ci, args)
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: ci, ToolCall: blockAt(partial, ci), Partial: partial})
			case "message":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: ci, Content: blockText(partial, ci), Partial: partial})
			case "reasoning":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingEnd, ContentIndex: ci, Content: blockText(partial, ci), Partial: partial})
			}
		case "response.completed":
			var evt responsesCompleted
			stopReason := agentmsg.StopReasonStop
			if rt.toolCallCount > 0 {
				stopReason = agentmsg.StopReasonToolUse
			}
			if err := json.Unmarshal([]byte(frame.Data), &evt); err == nil && evt.Response.Usage != nil {
				usage.Input = evt.Response.Usage.InputTokens
				usage.Output = evt.Response.Usage.OutputTokens
				usage.CacheRead = evt.Response.Usage.InputTokenDetails.CachedTokens
				usage.Cost = computeCost(usage, model.Cost, serviceTierCostMultiplier(evt.Response.ServiceTier))
			}
			partial.Usage = usage
			partial.StopReason = stopReason
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
			return
		case "response.failed", "response.incomplete":
			var evt responsesFailed
			_ = json.Unmarshal([]byte(frame.Data), &evt)
			msg := evt.Response.Error.Message
			if msg == "" {
				msg = "responses stream " + frame.Event
			}
			partial.StopReason = agentmsg.StopReasonError
			partial.ErrorMsg = msg
			stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
			return
		}
	}
}

// OpenAIResponsesFactory constructs the plain OpenAI/Azure Responses
// dialect adapter.
type OpenAIResponsesFactory struct{}

func (OpenAIResponsesFactory) DialectName() string { return openaiResponsesDialect }
func (OpenAIResponsesFactory) Create(creds CredentialSource) Provider {
	return newOpenAIResponsesProvider(creds)
}
