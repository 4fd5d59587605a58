package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// PreciseCounter wraps tiktoken-go to give a display-only, per-model-accurate
// token count — NEVER fed into compaction/threshold decisions (see the
// package doc and SPEC_FULL.md's Open Question on estimator precision).
// Encodings are resolved lazily and cached since constructing one loads a
// BPE rank file.
type PreciseCounter struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewPreciseCounter constructs an empty, ready-to-use counter.
func NewPreciseCounter() *PreciseCounter {
	return &PreciseCounter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// CountMessage returns the precise token count of every text/thinking block
// in m under modelID's tokenizer, falling back to the deterministic
// estimator if modelID has no known tiktoken encoding (local/novel models).
func (c *PreciseCounter) CountMessage(modelID string, m agentmsg.Message) int {
	enc, ok := c.encodingFor(modelID)
	if !ok {
		return EstimateMessage(m)
	}
	total := 0
	for _, b := range m.Content {
		switch b.Type {
		case agentmsg.ContentText, agentmsg.ContentThinking:
			total += len(enc.Encode(b.Text, nil, nil))
		case agentmsg.ContentImage:
			total += ImageTokens
		case agentmsg.ContentToolCall:
			total += 10 + len(enc.Encode(b.ToolCallName, nil, nil)) + len(enc.Encode(string(b.Arguments), nil, nil))
		}
	}
	return total
}

func (c *PreciseCounter) encodingFor(modelID string) (*tiktoken.Tiktoken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[modelID]; ok {
		return enc, enc != nil
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		c.cache[modelID] = nil
		return nil, false
	}
	c.cache[modelID] = enc
	return enc, true
}
