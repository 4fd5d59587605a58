package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

const googleDialect = "google"

// GoogleFactory constructs the Gemini adapter over the google.golang.org/genai
// SDK, grounded on the teacher's internal/provider package shape but
// replacing the Anthropic/OpenAI-style raw-HTTP-SSE plumbing with the SDK's
// own streaming iterator, since genai ships one and the pack's other
// examples prefer an official SDK over hand-rolled wire parsing when one
// exists.
type GoogleFactory struct{}

func (GoogleFactory) DialectName() string { return googleDialect }
func (GoogleFactory) Create(creds CredentialSource) Provider {
	return &googleProvider{creds: creds}
}

type googleProvider struct {
	creds CredentialSource
}

func (p *googleProvider) Close() error { return nil }

func (p *googleProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	budget := reasoningBudget(opts.Reasoning, opts.ThinkingBudgets)
	budget = agentmsg.AdjustMaxTokensForThinking(opts.MaxTokens, budget)
	return p.stream(ctx, model, c, opts.StreamOptions, budget)
}

func (p *googleProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.stream(ctx, model, c, opts, 0)
}

func (p *googleProvider) stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions, thinkingBudget int) (*eventstream.AssistantMessageEventStream, error) {
	apiKey, ok := p.creds.APIKey(googleDialect)
	if !ok {
		return nil, &ErrNoAPIKey{Provider: googleDialect}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}

	contents := toGoogleContents(c.Messages, model)
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(opts.Temperature)),
		MaxOutputTokens: int32(opts.MaxTokens),
		Tools:           toGoogleTools(c.Tools),
	}
	if c.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(c.SystemPrompt, genai.RoleUser)
	}
	if thinkingBudget > 0 {
		b := int32(thinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &b, IncludeThoughts: true}
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runGoogleStream(ctx, client, model, contents, cfg, stream)
	return stream, nil
}

// toGoogleContents converts the runtime's message model to genai.Content,
// applying invariant #4 (foreign signature stripping is already done by
// session.BuildContext for ordinary signatures; thought signatures are
// origin-scoped the same way and re-validated here since Gemini rejects a
// malformed one outright rather than ignoring it).
func toGoogleContents(messages []agentmsg.Message, model agentmsg.Model) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleUser:
			var parts []*genai.Part
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					parts = append(parts, genai.NewPartFromText(agentmsg.ReplaceSurrogates(b.Text)))
				case agentmsg.ContentImage:
					parts = append(parts, genai.NewPartFromBytes(decodeBase64(b.ImageData), b.MimeType))
				}
			}
			result = append(result, genai.NewContentFromParts(parts, genai.RoleUser))
		case agentmsg.RoleAssistant:
			sameOrigin := model.SameOrigin(m.Provider, m.ModelID)
			var parts []*genai.Part
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					parts = append(parts, genai.NewPartFromText(b.Text))
				case agentmsg.ContentThinking:
					if b.Text == "" {
						continue
					}
					part := genai.NewPartFromText(b.Text)
					part.Thought = true
					if sameOrigin && IsValidThoughtSignature(b.ThoughtSignature) {
						part.ThoughtSignature = decodeBase64(b.ThoughtSignature)
					}
					parts = append(parts, part)
				case agentmsg.ContentToolCall:
					id := NormalizeToolCallID(googleDialect, b.ToolCallID)
					var args map[string]any
					_ = json.Unmarshal(b.Arguments, &args)
					part := genai.NewPartFromFunctionCall(b.ToolCallName, args)
					part.FunctionCall.ID = id
					if sameOrigin && IsValidThoughtSignature(b.ThoughtSignature) {
						part.ThoughtSignature = decodeBase64(b.ThoughtSignature)
					}
					parts = append(parts, part)
				}
			}
			result = append(result, genai.NewContentFromParts(parts, genai.RoleModel))
		case agentmsg.RoleToolResult:
			id := NormalizeToolCallID(googleDialect, m.ToolCallID)
			resp := map[string]any{"result": collapseToolResultContent(m.Content)}
			if m.IsError {
				resp = map[string]any{"error": collapseToolResultContent(m.Content)}
			}
			part := genai.NewPartFromFunctionResponse(m.ToolName, resp)
			part.FunctionResponse.ID = id
			result = append(result, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return result
}

func toGoogleTools(tools []agentmsg.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, ParametersJsonSchema: t.Parameters}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func decodeBase64(s string) []byte {
	b, _ := base64.StdEncoding.DecodeString(s)
	return b
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// runGoogleStream drains the SDK's streaming iterator, accumulating content
// parts into the monotonically-growing partial message the way the
// Anthropic/OpenAI adapters do, and pushes the uniform AssistantMessageEvent
// sequence.
func runGoogleStream(ctx context.Context, client *genai.Client, model agentmsg.Model, contents []*genai.Content, cfg *genai.GenerateContentConfig, stream *eventstream.AssistantMessageEventStream) {
	partial := agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: googleDialect, ModelID: model.ID, API: model.API}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: partial})

	usage := agentmsg.Usage{}
	stopReason := agentmsg.StopReasonStop

	fail := func(err error) {
		partial.StopReason = classifyAbortOrError(ctx, err)
		partial.ErrorMsg = err.Error()
		stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
	}

	textIdx, thinkingIdx := -1, -1
	for resp, err := range client.Models.GenerateContentStream(ctx, model.ID, contents, cfg) {
		if err != nil {
			fail(err)
			return
		}
		if resp.UsageMetadata != nil {
			usage.Input = int(resp.UsageMetadata.PromptTokenCount)
			usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.CacheRead = int(resp.UsageMetadata.CachedContentTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				idx := appendBlock(&partial, agentmsg.ToolCall(part.FunctionCall.ID, part.FunctionCall.Name, marshalArgs(part.FunctionCall.Args)))
				if len(part.ThoughtSignature) > 0 {
					partial.Content[idx].ThoughtSignature = encodeBase64(part.ThoughtSignature)
				}
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: idx, ToolCall: partial.Content[idx], Partial: partial})
				stopReason = agentmsg.StopReasonToolUse
			case part.Thought:
				if thinkingIdx < 0 {
					thinkingIdx = appendBlock(&partial, agentmsg.Thinking("", ""))
					stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingStart, ContentIndex: thinkingIdx, Partial: partial})
				}
				setBlockText(&partial, thinkingIdx, appendText(blockText(partial, thinkingIdx), part.Text))
				if len(part.ThoughtSignature) > 0 {
					setBlockSignature(&partial, thinkingIdx, encodeBase64(part.ThoughtSignature))
				}
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingDelta, ContentIndex: thinkingIdx, Delta: part.Text, Partial: partial})
			case part.Text != "":
				if textIdx < 0 {
					textIdx = appendBlock(&partial, agentmsg.Text(""))
					stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: textIdx, Partial: partial})
				}
				setBlockText(&partial, textIdx, appendText(blockText(partial, textIdx), part.Text))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: textIdx, Delta: part.Text, Partial: partial})
			}
		}
		if len(resp.Candidates) > 0 {
			switch resp.Candidates[0].FinishReason {
			case genai.FinishReasonMaxTokens:
				stopReason = agentmsg.StopReasonLength
			}
		}
	}

	if textIdx >= 0 {
		stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: textIdx, Content: blockText(partial, textIdx), Partial: partial})
	}
	if thinkingIdx >= 0 {
		stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingEnd, ContentIndex: thinkingIdx, Content: blockText(partial, thinkingIdx), Partial: partial})
	}

	partial.Usage = usage
	partial.StopReason = stopReason
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
}

func marshalArgs(args map[string]any) json.RawMessage {
	raw, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
