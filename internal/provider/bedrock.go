package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/eventstream"
)

const bedrockDialect = "bedrock"

// BedrockFactory constructs the AWS Bedrock Converse dialect adapter.
// Unlike the other dialects, Bedrock's own request signing is the
// credential mechanism (SigV4 over the AWS SDK's credential chain), so
// CredentialSource supplies an optional "accessKeyId:secretAccessKey:region"
// triple rather than a bearer token; an empty/absent value falls back to
// the SDK's ambient credential chain (environment, shared config, IAM
// role), which is the common deployment shape for Bedrock.
type BedrockFactory struct{}

func (BedrockFactory) DialectName() string { return bedrockDialect }
func (BedrockFactory) Create(creds CredentialSource) Provider {
	return &bedrockProvider{creds: creds}
}

type bedrockProvider struct {
	creds CredentialSource
}

func (p *bedrockProvider) Close() error { return nil }

func (p *bedrockProvider) StreamSimple(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.SimpleStreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	budget := reasoningBudget(opts.Reasoning, opts.ThinkingBudgets)
	budget = agentmsg.AdjustMaxTokensForThinking(opts.MaxTokens, budget)
	return p.stream(ctx, model, c, opts.StreamOptions, budget)
}

func (p *bedrockProvider) Stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions) (*eventstream.AssistantMessageEventStream, error) {
	return p.stream(ctx, model, c, opts, 0)
}

func (p *bedrockProvider) stream(ctx context.Context, model agentmsg.Model, c agentmsg.Context, opts agentmsg.StreamOptions, thinkingBudget int) (*eventstream.AssistantMessageEventStream, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	messages := toBedrockMessages(c.Messages)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model.ID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(opts.MaxTokens)),
			Temperature: aws.Float32(float32(opts.Temperature)),
		},
	}
	if c.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: c.SystemPrompt}}
	}
	if tools := toBedrockTools(c.Tools); tools != nil {
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}
	if thinkingBudget > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"reasoning_config": map[string]any{"type": "enabled", "budget_tokens": thinkingBudget},
		})
	}

	out, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	stream := eventstream.NewAssistantMessageEventStream()
	go runBedrockStream(ctx, out, model, stream)
	return stream, nil
}

// client builds a bedrockruntime.Client, preferring an explicit
// "accessKeyId:secretAccessKey:region" triple from the credential
// collaborator and falling back to the AWS SDK's default credential chain.
func (p *bedrockProvider) client(ctx context.Context) (*bedrockruntime.Client, error) {
	region := "us-east-1"
	var optFns []func(*awsconfig.LoadOptions) error

	if raw, ok := p.creds.APIKey(bedrockDialect); ok && raw != "" {
		accessKeyID, secretAccessKey, r, ok := splitBedrockTriple(raw)
		if ok {
			if r != "" {
				region = r
			}
			optFns = append(optFns, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
		}
	}
	optFns = append(optFns, awsconfig.WithRegion(region))

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func splitBedrockTriple(raw string) (accessKeyID, secretAccessKey, region string, ok bool) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	parts = append(parts, raw[start:])
	if len(parts) < 2 {
		return "", "", "", false
	}
	accessKeyID, secretAccessKey = parts[0], parts[1]
	if len(parts) >= 3 {
		region = parts[2]
	}
	return accessKeyID, secretAccessKey, region, true
}

func toBedrockMessages(messages []agentmsg.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agentmsg.RoleUser:
			var blocks []types.ContentBlock
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					blocks = append(blocks, &types.ContentBlockMemberText{Value: agentmsg.ReplaceSurrogates(b.Text)})
				case agentmsg.ContentImage:
					blocks = append(blocks, &types.ContentBlockMemberImage{Value: types.ImageBlock{
						Format: bedrockImageFormat(b.MimeType),
						Source: &types.ImageSourceMemberBytes{Value: decodeBase64(b.ImageData)},
					}})
				}
			}
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: blocks})
		case agentmsg.RoleAssistant:
			var blocks []types.ContentBlock
			for _, b := range m.Content {
				switch b.Type {
				case agentmsg.ContentText:
					blocks = append(blocks, &types.ContentBlockMemberText{Value: b.Text})
				case agentmsg.ContentThinking:
					if b.Text == "" {
						continue
					}
					rc := types.ReasoningContentBlockMemberReasoningText{
						Value: types.ReasoningTextBlock{Text: aws.String(b.Text), Signature: aws.String(b.Signature)},
					}
					blocks = append(blocks, &types.ContentBlockMemberReasoningContent{Value: &rc})
				case agentmsg.ContentToolCall:
					var input map[string]any
					_ = json.Unmarshal(b.Arguments, &input)
					blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String(b.ToolCallID),
						Name:      aws.String(b.ToolCallName),
						Input:     document.NewLazyDocument(input),
					}})
				}
			}
			result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		case agentmsg.RoleToolResult:
			status := types.ToolResultStatusSuccess
			if m.IsError {
				status = types.ToolResultStatusError
			}
			result = append(result, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Status:    status,
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: collapseToolResultContent(m.Content)}},
				}}},
			})
		}
	}
	return result
}

func bedrockImageFormat(mimeType string) types.ImageFormat {
	switch mimeType {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

func toBedrockTools(tools []agentmsg.ToolSpec) []types.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		result[i] = &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}}
	}
	return result
}

// runBedrockStream drains the Converse streaming response, accumulating
// content blocks into the monotonically-growing partial message and pushing
// the uniform AssistantMessageEvent sequence, mirroring the anthropic.go
// adapter's dispatch shape over AWS's event stream instead of raw SSE.
func runBedrockStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, model agentmsg.Model, stream *eventstream.AssistantMessageEventStream) {
	eventStream := out.GetStream()
	defer eventStream.Close()

	partial := agentmsg.Message{Role: agentmsg.RoleAssistant, Provider: bedrockDialect, ModelID: model.ID, API: model.API}
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantStart, Partial: partial})

	usage := agentmsg.Usage{}
	stopReason := agentmsg.StopReasonStop
	blockType := map[int32]string{}
	toolArgs := map[int32]string{}

	fail := func(err error) {
		partial.StopReason = classifyAbortOrError(ctx, err)
		partial.ErrorMsg = err.Error()
		stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantError, Error: partial})
	}

	for event := range eventStream.Events() {
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return
		default:
		}

		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			idx := v.Value.ContentBlockIndex
			if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				blockType[aws.ToInt32(idx)] = "tool_use"
				i := appendBlock(&partial, agentmsg.ToolCall(aws.ToString(tu.Value.ToolUseId), aws.ToString(tu.Value.Name), nil))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallStart, ContentIndex: i, Partial: partial})
			}
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			idx := aws.ToInt32(v.Value.ContentBlockIndex)
			switch d := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				i := ensureTextBlock(&partial, blockType, idx, stream)
				setBlockText(&partial, i, appendText(blockText(partial, i), d.Value))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextDelta, ContentIndex: i, Delta: d.Value, Partial: partial})
			case *types.ContentBlockDeltaMemberReasoningContent:
				i := ensureThinkingBlock(&partial, blockType, idx, stream)
				if rt, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
					setBlockText(&partial, i, appendText(blockText(partial, i), rt.Value))
					stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingDelta, ContentIndex: i, Delta: rt.Value, Partial: partial})
				}
				if sig, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberSignature); ok {
					setBlockSignature(&partial, i, sig.Value)
				}
			case *types.ContentBlockDeltaMemberToolUse:
				toolArgs[idx] += aws.ToString(d.Value.Input)
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallDelta, ContentIndex: int(idx), Delta: aws.ToString(d.Value.Input), Partial: partial})
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			idx := aws.ToInt32(v.Value.ContentBlockIndex)
			switch blockType[idx] {
			case "text":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextEnd, ContentIndex: int(idx), Content: blockText(partial, int(idx)), Partial: partial})
			case "thinking":
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingEnd, ContentIndex: int(idx), Content: blockText(partial, int(idx)), Partial: partial})
			case "tool_use":
				args := completeToolArguments(toolArgs[idx])
				setBlockArguments(&partial, int(idx), args)
				block := blockAt(partial, int(idx))
				stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantToolCallEnd, ContentIndex: int(idx), ToolCall: block, Partial: partial})
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			switch v.Value.StopReason {
			case types.StopReasonToolUse:
				stopReason = agentmsg.StopReasonToolUse
			case types.StopReasonMaxTokens:
				stopReason = agentmsg.StopReasonLength
			}
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				usage.Input = int(aws.ToInt32(v.Value.Usage.InputTokens))
				usage.Output = int(aws.ToInt32(v.Value.Usage.OutputTokens))
			}
		}
	}

	if err := eventStream.Err(); err != nil {
		fail(err)
		return
	}

	partial.Usage = usage
	partial.StopReason = stopReason
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantDone, Reason: stopReason, Message: partial})
}

func ensureTextBlock(partial *agentmsg.Message, blockType map[int32]string, idx int32, stream *eventstream.AssistantMessageEventStream) int {
	if blockType[idx] == "text" {
		return blockAtIndex(*partial, idx)
	}
	blockType[idx] = "text"
	i := appendBlock(partial, agentmsg.Text(""))
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantTextStart, ContentIndex: i, Partial: *partial})
	return i
}

func ensureThinkingBlock(partial *agentmsg.Message, blockType map[int32]string, idx int32, stream *eventstream.AssistantMessageEventStream) int {
	if blockType[idx] == "thinking" {
		return blockAtIndex(*partial, idx)
	}
	blockType[idx] = "thinking"
	i := appendBlock(partial, agentmsg.Thinking("", ""))
	stream.Push(eventstream.AssistantMessageEvent{Type: eventstream.AssistantThinkingStart, ContentIndex: i, Partial: *partial})
	return i
}

// blockAtIndex assumes this runtime's content block indices line up 1:1
// with Bedrock's content_block_index within one message, true since both
// append in arrival order with no gaps.
func blockAtIndex(partial agentmsg.Message, idx int32) int {
	return int(idx)
}
