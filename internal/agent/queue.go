package agent

import (
	"sync"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

// QueueMode selects how a Queue drains on each check (spec §4.C: steering
// and follow-up queues each support one-at-a-time or all-at-once draining).
type QueueMode string

const (
	OneAtATime QueueMode = "one-at-a-time"
	AllAtOnce  QueueMode = "all-at-once"
)

// Queue holds pending message groups (steering or follow-up), each the set
// of messages pushed together in one Push call. Drain dequeues according to
// Mode: OneAtATime pops the oldest group only, AllAtOnce pops and flattens
// every pending group.
type Queue struct {
	mode QueueMode

	mu     sync.Mutex
	groups [][]agentmsg.Message
}

func newQueue(mode QueueMode) *Queue {
	if mode != AllAtOnce {
		mode = OneAtATime
	}
	return &Queue{mode: mode}
}

// Push enqueues one group of messages.
func (q *Queue) Push(msgs []agentmsg.Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.groups = append(q.groups, msgs)
}

// Empty reports whether the queue has no pending groups, without draining.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.groups) == 0
}

// Drain removes and returns pending messages according to Mode. It returns
// nil if the queue is empty.
func (q *Queue) Drain() []agentmsg.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.groups) == 0 {
		return nil
	}
	switch q.mode {
	case AllAtOnce:
		var out []agentmsg.Message
		for _, g := range q.groups {
			out = append(out, g...)
		}
		q.groups = nil
		return out
	default: // OneAtATime
		g := q.groups[0]
		q.groups = q.groups[1:]
		return g
	}
}
