package provider

import (
	"context"
	"encoding/json"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// appendBlock appends a new content block to partial.Content and returns its
// index, the shared accumulator every streaming dialect adapter uses to
// build up the monotonically-growing AssistantMessage snapshot §4.A
// requires.
func appendBlock(partial *agentmsg.Message, block agentmsg.ContentBlock) int {
	partial.Content = append(partial.Content, block)
	return len(partial.Content) - 1
}

// blockAt returns the content block at content_index idx.
func blockAt(partial agentmsg.Message, idx int) agentmsg.ContentBlock {
	if idx < 0 || idx >= len(partial.Content) {
		return agentmsg.ContentBlock{}
	}
	return partial.Content[idx]
}

// blockText returns the accumulated text of the block at idx (for text or
// thinking blocks under construction).
func blockText(partial agentmsg.Message, idx int) string {
	return blockAt(partial, idx).Text
}

func appendText(existing, delta string) string { return existing + delta }

// setBlockText overwrites the accumulated text of the block at idx.
func setBlockText(partial *agentmsg.Message, idx int, text string) {
	if idx < 0 || idx >= len(partial.Content) {
		return
	}
	partial.Content[idx].Text = text
}

// setBlockSignature overwrites the provider-opaque signature of the block
// at idx.
func setBlockSignature(partial *agentmsg.Message, idx int, sig string) {
	if idx < 0 || idx >= len(partial.Content) {
		return
	}
	partial.Content[idx].Signature = sig
}

// setBlockArguments overwrites the completed tool-call arguments of the
// block at idx.
func setBlockArguments(partial *agentmsg.Message, idx int, args json.RawMessage) {
	if idx < 0 || idx >= len(partial.Content) {
		return
	}
	partial.Content[idx].Arguments = args
}

// setBlockThoughtSignature overwrites the Gemini-style thought signature of
// the block at idx.
func setBlockThoughtSignature(partial *agentmsg.Message, idx int, sig string) {
	if idx < 0 || idx >= len(partial.Content) {
		return
	}
	partial.Content[idx].ThoughtSignature = sig
}

// classifyAbortOrError returns StopReasonAborted if ctx was cancelled,
// otherwise StopReasonError, implementing §4.B's terminal-failure rule.
func classifyAbortOrError(ctx context.Context, err error) agentmsg.StopReason {
	select {
	case <-ctx.Done():
		return agentmsg.StopReasonAborted
	default:
		return agentmsg.StopReasonError
	}
}
