// Package eventstream provides a generic producer/consumer event channel
// with a terminal event and an awaitable final result, matching the
// streaming pattern the teacher's internal/provider package uses for its
// StreamEvent channel but generalized to any event/result pair so both
// provider streaming and agent-loop streaming can share one implementation.
package eventstream

import "sync"

// Stream is a single-producer, single-consumer event channel of type E with
// a terminal event carrying a final result of type R. The zero value is not
// usable; construct with New.
//
// Behaviour with more than one concurrent consumer of Iterate is undefined,
// matching the contract's "single consumer" note.
type Stream[E any, R any] struct {
	isTerminal    func(E) bool
	extractResult func(E) R

	mu       sync.Mutex
	events   []E
	notify   chan struct{} // closed and replaced whenever events/done changes
	done     bool
	result   R
	resultMu sync.Mutex
	resultCh chan struct{} // closed exactly once, when result is set
}

// New constructs a Stream. isTerminal decides whether a pushed event ends the
// stream; extractResult computes the final result from that terminal event.
func New[E any, R any](isTerminal func(E) bool, extractResult func(E) R) *Stream[E, R] {
	return &Stream[E, R]{
		isTerminal:    isTerminal,
		extractResult: extractResult,
		notify:        make(chan struct{}),
		resultCh:      make(chan struct{}),
	}
}

// Push enqueues event. It is a no-op if the stream is already terminated.
// If isTerminal(event) is true, the final result is computed and the stream
// is marked done, but the event is still enqueued so Iterate observes it.
func (s *Stream[E, R]) Push(event E) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, event)
	terminal := s.isTerminal(event)
	if terminal {
		s.done = true
	}
	old := s.notify
	s.notify = make(chan struct{})
	s.mu.Unlock()
	close(old)

	if terminal {
		s.setResult(s.extractResult(event))
	}
}

// End forcibly terminates the stream. If no terminal event has been pushed
// yet, the final result resolves to result.
func (s *Stream[E, R]) End(result R) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	old := s.notify
	s.notify = make(chan struct{})
	s.mu.Unlock()
	close(old)

	s.setResult(result)
}

func (s *Stream[E, R]) setResult(r R) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	select {
	case <-s.resultCh:
		return // already resolved
	default:
	}
	s.result = r
	close(s.resultCh)
}

// Iterate returns a channel yielding every pushed event in order, closed
// after the terminal event (if any) has been yielded. Safe for exactly one
// consumer.
func (s *Stream[E, R]) Iterate() <-chan E {
	out := make(chan E)
	go func() {
		defer close(out)
		i := 0
		for {
			s.mu.Lock()
			for i < len(s.events) {
				e := s.events[i]
				i++
				s.mu.Unlock()
				out <- e
				s.mu.Lock()
			}
			if s.done {
				s.mu.Unlock()
				return
			}
			wait := s.notify
			s.mu.Unlock()
			<-wait
		}
	}()
	return out
}

// Result blocks until the final result resolves and returns it. Resolves
// exactly once; subsequent calls return the same cached value immediately.
func (s *Stream[E, R]) Result() R {
	<-s.resultCh
	return s.result
}

// Done reports whether the stream has terminated, without blocking.
func (s *Stream[E, R]) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
