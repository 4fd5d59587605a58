package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	zen "github.com/sacenox/go-opencode-ai-zen-sdk"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

const zenDefaultBaseURL = "https://opencode.ai/zen/v1"

// zenFactory constructs the OpenCode Zen gateway adapter: a single dialect
// that proxies to whichever of the four upstream wire formats (OpenAI Chat
// Completions, Anthropic Messages, Gemini, OpenAI Responses) the requested
// model actually speaks, normalizing all four into one event shape via the
// zen SDK itself.
type zenFactory struct {
	dialectName string
	baseURL     string
}

// NewZenFactory builds a Factory for the Zen gateway registered under
// dialectName. An empty baseURL falls back to the public gateway.
func NewZenFactory(dialectName, baseURL string) Factory {
	if baseURL == "" {
		baseURL = zenDefaultBaseURL
	}
	return &zenFactory{dialectName: dialectName, baseURL: strings.TrimRight(baseURL, "/")}
}

func (f *zenFactory) DialectName() string { return f.dialectName }
func (f *zenFactory) Create(creds CredentialSource) Provider {
	return &zenProvider{dialectName: f.dialectName, baseURL: f.baseURL, creds: creds}
}

// zenProvider implements Provider over the zen SDK's unified stream. The
// client is constructed lazily on first use, the same way the HTTP-based
// adapters resolve their API key inside stream() rather than at Create time,
// so a missing credential surfaces as ErrNoAPIKey instead of a panic.
type zenProvider struct {
	dialectName string
	baseURL     string
	creds       CredentialSource

	mu     sync.Mutex
	client *zen.Client
}

func (p *zenProvider) ensureClient() (*zen.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	apiKey, ok := p.creds.APIKey(p.dialectName)
	if !ok {
		return nil, &ErrNoAPIKey{Provider: p.dialectName}
	}
	client, err := zen.NewClient(zen.Config{APIKey: apiKey, BaseURL: p.baseURL})
	if err != nil {
		return nil, fmt.Errorf("%s: new client: %w", p.dialectName, err)
	}
	p.client = client
	return client, nil
}

func (p *zenProvider) Close() error { return nil }

func (p *zenProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	// The SDK's NormalizedRequest carries Temperature/MaxTokens only; it has
	// no effort/budget knob of its own, so the reasoning dial is left to
	// whichever default the upstream dialect behind the gateway applies.
	return p.Stream(ctx, model, c, opts.StreamOptions)
}

func (p *zenProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	client, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	req := zen.NormalizedRequest{
		Model:    model.ID,
		System:   c.SystemPrompt,
		Messages: toZenMessages(c.Messages),
		Tools:    toZenTools(c.Tools),
		Stream:   true,
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		req.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		req.MaxTokens = &maxTokens
	}

	events, errs, err := client.UnifiedStreamNormalized(ctx, req)
	if err != nil {
		return nil, err
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runZenStream(ctx, events, errs, model, p.dialectName, stream)
	return stream, nil
}

// toZenMessages converts the runtime's message model to the zen SDK's
// dialect-agnostic wire shape, grounded on the teacher's toZenMessages but
// sourced from agentmsg.Message instead of the teacher's flat Message.
func toZenMessages(messages []agentmsg.Message) []zen.NormalizedMessage {
	var result []zen.NormalizedMessage
	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleToolResult:
			result = append(result, zen.NormalizedMessage{
				Role:       "tool",
				Content:    collapseToolResultContent(m.Content),
				ToolCallID: m.ToolCallID,
			})
		case agentmsg.RoleAssistant:
			nm := zen.NormalizedMessage{Role: "assistant", Content: m.Text()}
			for _, tc := range m.ToolCalls() {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				nm.ToolCalls = append(nm.ToolCalls, zen.NormalizedToolCall{
					ID:        tc.ToolCallID,
					Name:      tc.ToolCallName,
					Arguments: args,
				})
			}
			result = append(result, nm)
		case agentmsg.RoleUser:
			result = append(result, zen.NormalizedMessage{Role: "user", Content: agentmsg.ReplaceSurrogates(m.Text())})
		}
	}
	return result
}

func toZenTools(tools []agentmsg.ToolSpec) []zen.NormalizedTool {
	if len(tools) == 0 {
		return nil
	}
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]zen.NormalizedTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParams
		}
		result[i] = zen.NormalizedTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		}
	}
	return result
}

// zenRunState accumulates one streaming turn's partial AssistantMessage
// across whichever of the four upstream dialects the gateway is proxying,
// the same role anthropicBlockTracker plays for the Anthropic adapter but
// generalized over all four event shapes.
type zenRunState struct {
	stream  *eventstream.AssistantMessageEventStream
	partial agentmsg.Message

	textIdx     int
	thinkingIdx int

	// toolIdxToContentIdx/toolArgs key by the wire-reported index (Chat
	// Completions' tool_calls[].index, Anthropic's content_block index,
	// Responses' output_index); Gemini function calls arrive whole so they
	// never populate these.
	toolIdxToContentIdx map[int]int
	toolArgs            map[int]string

	usage      agentmsg.Usage
	stopReason agentmsg.StopReason
}

// runZenStream drains the SDK's unified event/error channels, dispatching
// each event to the emitter matching its upstream dialect, and pushes the
// uniform AssistantMessageEvent sequence the other adapters produce.
func runZenStream(ctx context.Context, events <-chan zen.UnifiedEvent, errs <-chan error, model agentmsg.Model, dialect string, stream *eventstream.AssistantMessageEventStream) {
	s := &zenRunState{
		stream:              stream,
		partial:             agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: dialect, ModelID: model.ID, API: model.API},
		textIdx:             -1,
		thinkingIdx:         -1,
		toolIdxToContentIdx: map[int]int{},
		toolArgs:            map[int]string{},
		stopReason:          agentmsg.StopReasonStop,
	}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: s.partial})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.finish()
				return
			}
			if s.handle(ev) {
				s.finish()
				return
			}
		case err, ok := <-errs:
			if ok && err != nil {
				var apiErr *zen.APIError
				if errors.As(err, &apiErr) {
					log.Error().Int("status", apiErr.StatusCode).Str("body", string(apiErr.Body)).Msg("zen: stream API error")
				}
				s.fail(ctx, err)
			}
			return
		case <-ctx.Done():
			s.fail(ctx, ctx.Err())
			return
		}
	}
}

func (s *zenRunState) fail(ctx context.Context, err error) {
	s.partial.StopReason = classifyAbortOrError(ctx, err)
	s.partial.ErrorMsg = err.Error()
	s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: s.partial})
}

// finish closes any still-open text/thinking/tool-call blocks and pushes the
// terminal done event. The SDK signals the end of a turn with an empty or
// "[DONE]" data payload rather than a dialect-specific stop event, so the
// per-dialect emitters never close blocks themselves.
func (s *zenRunState) finish() {
	if s.textIdx >= 0 {
		s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: s.textIdx, Content: blockText(s.partial, s.textIdx), Partial: s.partial})
	}
	if s.thinkingIdx >= 0 {
		s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingEnd, ContentIndex: s.thinkingIdx, Content: blockText(s.partial, s.thinkingIdx), Partial: s.partial})
	}
	for wireIdx, ci := range s.toolIdxToContentIdx {
		args := completeToolArguments(s.toolArgs[wireIdx])
		setBlockArguments(&s.partial, ci, args)
		s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: ci, ToolCall: blockAt(s.partial, ci), Partial: s.partial})
	}
	s.partial.Usage = s.usage
	s.partial.StopReason = s.stopReason
	s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: s.stopReason, Message: s.partial})
}

// handle dispatches one UnifiedEvent by endpoint, reporting whether it was
// the terminal sentinel.
func (s *zenRunState) handle(ev zen.UnifiedEvent) bool {
	data := ev.Data
	if len(data) == 0 || string(data) == "[DONE]" {
		return true
	}

	switch ev.Endpoint {
	case zen.EndpointMessages:
		s.handleAnthropic(ev.Event, data)
	case zen.EndpointModels:
		s.handleGemini(data)
	case zen.EndpointResponses:
		s.handleResponses(ev.Event, data)
	default:
		s.handleChatCompletions(data)
	}
	return false
}

func (s *zenRunState) startText() {
	if s.textIdx < 0 {
		s.textIdx = appendBlock(&s.partial, agentmsg.Text(""))
		s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: s.textIdx, Partial: s.partial})
	}
}

func (s *zenRunState) deltaText(text string) {
	s.startText()
	setBlockText(&s.partial, s.textIdx, appendText(blockText(s.partial, s.textIdx), text))
	s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: s.textIdx, Delta: text, Partial: s.partial})
}

func (s *zenRunState) startThinking() {
	if s.thinkingIdx < 0 {
		s.thinkingIdx = appendBlock(&s.partial, agentmsg.Thinking("", ""))
		s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingStart, ContentIndex: s.thinkingIdx, Partial: s.partial})
	}
}

func (s *zenRunState) deltaThinking(text string) {
	s.startThinking()
	setBlockText(&s.partial, s.thinkingIdx, appendText(blockText(s.partial, s.thinkingIdx), text))
	s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingDelta, ContentIndex: s.thinkingIdx, Delta: text, Partial: s.partial})
}

// handleChatCompletions handles OpenAI chat completions SSE chunks, the
// fallback dialect for any endpoint the gateway doesn't tag more
// specifically.
func (s *zenRunState) handleChatCompletions(data json.RawMessage) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}

	if usage, ok := chunk["usage"].(map[string]any); ok {
		s.usage.Input = getIntOrZero(usage, "prompt_tokens")
		s.usage.Output = getIntOrZero(usage, "completion_tokens")
	}

	var delta map[string]any
	var finishReason string
	choices, _ := chunk["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		delta, _ = choice["delta"].(map[string]any)
		finishReason = getStringOrEmpty(choice, "finish_reason")
	} else {
		delta, _ = chunk["delta"].(map[string]any)
	}
	if delta != nil {
		s.applyChatDelta(delta)
	}

	switch finishReason {
	case "length":
		s.stopReason = agentmsg.StopReasonLength
	case "tool_calls":
		s.stopReason = agentmsg.StopReasonToolUse
	}
}

func (s *zenRunState) applyChatDelta(delta map[string]any) {
	if reasoning := getStringOrEmpty(delta, "reasoning"); reasoning != "" {
		s.deltaThinking(reasoning)
	}
	if reasoning := getStringOrEmpty(delta, "reasoning_content"); reasoning != "" {
		s.deltaThinking(reasoning)
	}
	if content := getStringOrEmpty(delta, "content"); content != "" {
		s.deltaText(content)
	}

	toolCalls, _ := delta["tool_calls"].([]any)
	for _, tcAny := range toolCalls {
		tc, _ := tcAny.(map[string]any)
		idx := getIntOrZero(tc, "index")
		fn, _ := tc["function"].(map[string]any)
		name := getStringOrEmpty(fn, "name")
		args := getStringOrEmpty(fn, "arguments")

		ci, ok := s.toolIdxToContentIdx[idx]
		if !ok {
			ci = appendBlock(&s.partial, agentmsg.ToolCall(getStringOrEmpty(tc, "id"), name, nil))
			s.toolIdxToContentIdx[idx] = ci
			s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: s.partial})
			s.stopReason = agentmsg.StopReasonToolUse
		}
		if args != "" {
			s.toolArgs[idx] += args
			s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: ci, Delta: args, Partial: s.partial})
		}
	}
}

// handleAnthropic handles Anthropic Messages SSE chunks:
//   - content_block_start: carries tool_use id/name
//   - content_block_delta: text_delta, thinking_delta, signature_delta, or input_json_delta
//   - message_delta: usage and stop_reason
func (s *zenRunState) handleAnthropic(event string, data json.RawMessage) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}

	switch event {
	case "content_block_start":
		cb, _ := chunk["content_block"].(map[string]any)
		if getStringOrEmpty(cb, "type") == "tool_use" {
			idx := getIntOrZero(chunk, "index")
			ci := appendBlock(&s.partial, agentmsg.ToolCall(getStringOrEmpty(cb, "id"), getStringOrEmpty(cb, "name"), nil))
			s.toolIdxToContentIdx[idx] = ci
			s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: s.partial})
			s.stopReason = agentmsg.StopReasonToolUse
		}

	case "content_block_delta":
		idx := getIntOrZero(chunk, "index")
		delta, _ := chunk["delta"].(map[string]any)
		switch getStringOrEmpty(delta, "type") {
		case "text_delta":
			if text := getStringOrEmpty(delta, "text"); text != "" {
				s.deltaText(text)
			}
		case "thinking_delta":
			if thinking := getStringOrEmpty(delta, "thinking"); thinking != "" {
				s.deltaThinking(thinking)
			}
		case "signature_delta":
			if s.thinkingIdx >= 0 {
				setBlockSignature(&s.partial, s.thinkingIdx, getStringOrEmpty(delta, "signature"))
			}
		case "input_json_delta":
			if ci, ok := s.toolIdxToContentIdx[idx]; ok {
				if args := getStringOrEmpty(delta, "partial_json"); args != "" {
					s.toolArgs[idx] += args
					s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: ci, Delta: args, Partial: s.partial})
				}
			}
		}

	case "message_delta":
		if usage, ok := chunk["usage"].(map[string]any); ok {
			if in := getIntOrZero(usage, "input_tokens"); in > 0 {
				s.usage.Input = in
			}
			if out := getIntOrZero(usage, "output_tokens"); out > 0 {
				s.usage.Output = out
			}
		}
		if delta, ok := chunk["delta"].(map[string]any); ok {
			switch getStringOrEmpty(delta, "stop_reason") {
			case "max_tokens":
				s.stopReason = agentmsg.StopReasonLength
			case "tool_use":
				s.stopReason = agentmsg.StopReasonToolUse
			}
		}
	}
}

// handleGemini handles Gemini SSE chunks. Each chunk carries
// candidates[0].content.parts[].{text,functionCall} whole rather than as
// incremental deltas, so a function call both starts and ends within one
// call; Gemini's REST wire form carries no call id, so one is synthesized
// from the content index.
func (s *zenRunState) handleGemini(data json.RawMessage) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}

	candidates, _ := chunk["candidates"].([]any)
	if len(candidates) > 0 {
		candidate, _ := candidates[0].(map[string]any)
		content, _ := candidate["content"].(map[string]any)
		parts, _ := content["parts"].([]any)

		for _, p2 := range parts {
			part, _ := p2.(map[string]any)
			if text := getStringOrEmpty(part, "text"); text != "" {
				s.deltaText(text)
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				name := getStringOrEmpty(fc, "name")
				if name == "" {
					continue
				}
				var args json.RawMessage
				if raw, ok := fc["args"]; ok {
					if encoded, err := json.Marshal(raw); err == nil {
						args = encoded
					}
				}
				id := fmt.Sprintf("zen_gemini_%d", len(s.partial.Content))
				ci := appendBlock(&s.partial, agentmsg.ToolCall(id, name, nil))
				s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: s.partial})
				setBlockArguments(&s.partial, ci, args)
				s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: ci, ToolCall: blockAt(s.partial, ci), Partial: s.partial})
				s.stopReason = agentmsg.StopReasonToolUse
			}
		}
	}

	if meta, ok := chunk["usageMetadata"].(map[string]any); ok {
		if in := getIntOrZero(meta, "promptTokenCount"); in > 0 {
			s.usage.Input = in
		}
		if out := getIntOrZero(meta, "candidatesTokenCount"); out > 0 {
			s.usage.Output = out
		}
	}
}

// handleResponses handles OpenAI Responses API SSE chunks: output_text
// deltas, function_call_arguments deltas, output_item.added (tool call
// id/name), and response.completed (usage).
func (s *zenRunState) handleResponses(event string, data json.RawMessage) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}

	switch event {
	case "response.output_text.delta":
		if delta := getStringOrEmpty(chunk, "delta"); delta != "" {
			s.deltaText(delta)
		}

	case "response.output_item.added":
		item, _ := chunk["item"].(map[string]any)
		if getStringOrEmpty(item, "type") == "function_call" {
			idx := getIntOrZero(chunk, "output_index")
			ci := appendBlock(&s.partial, agentmsg.ToolCall(getStringOrEmpty(item, "call_id"), getStringOrEmpty(item, "name"), nil))
			s.toolIdxToContentIdx[idx] = ci
			s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: ci, Partial: s.partial})
			s.stopReason = agentmsg.StopReasonToolUse
		}

	case "response.function_call_arguments.delta":
		idx := getIntOrZero(chunk, "output_index")
		if ci, ok := s.toolIdxToContentIdx[idx]; ok {
			if delta := getStringOrEmpty(chunk, "delta"); delta != "" {
				s.toolArgs[idx] += delta
				s.stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: ci, Delta: delta, Partial: s.partial})
			}
		}

	case "response.completed":
		resp, _ := chunk["response"].(map[string]any)
		if usage, ok := resp["usage"].(map[string]any); ok {
			s.usage.Input = getIntOrZero(usage, "input_tokens")
			s.usage.Output = getIntOrZero(usage, "output_tokens")
		}
	}
}

func getStringOrEmpty(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func getIntOrZero(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return 0
}
