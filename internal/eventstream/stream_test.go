package eventstream

import (
	"testing"
	"time"
)

type testEvent struct {
	val      int
	terminal bool
}

func newTestStream() *Stream[testEvent, int] {
	return New(
		func(e testEvent) bool { return e.terminal },
		func(e testEvent) int { return e.val },
	)
}

func TestStream_IterateYieldsAllEventsInOrder(t *testing.T) {
	s := newTestStream()
	go func() {
		s.Push(testEvent{val: 1})
		s.Push(testEvent{val: 2})
		s.Push(testEvent{val: 3, terminal: true})
	}()

	var got []int
	for e := range s.Iterate() {
		got = append(got, e.val)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
	if !s.Done() {
		t.Fatal("expected stream done after terminal event")
	}
}

func TestStream_ResultResolvesFromTerminalEvent(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{val: 42, terminal: true})

	if got := s.Result(); got != 42 {
		t.Errorf("Result() = %d, want 42", got)
	}
}

func TestStream_ResultResolvesExactlyOnce(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{val: 1, terminal: true})
	s.Push(testEvent{val: 2, terminal: true}) // no-op: already done

	if got := s.Result(); got != 1 {
		t.Errorf("Result() = %d, want 1 (first terminal wins)", got)
	}
}

func TestStream_EndWithoutTerminalEventResolvesGivenResult(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{val: 7})
	s.End(99)

	if got := s.Result(); got != 99 {
		t.Errorf("Result() = %d, want 99", got)
	}
	if !s.Done() {
		t.Fatal("expected stream done after End")
	}
}

func TestStream_PushAfterTerminationIsNoOp(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{val: 1, terminal: true})
	s.Push(testEvent{val: 2})

	var got []int
	for e := range s.Iterate() {
		got = append(got, e.val)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestStream_IterateBlocksUntilPush(t *testing.T) {
	s := newTestStream()
	done := make(chan struct{})
	var got []int
	go func() {
		for e := range s.Iterate() {
			got = append(got, e.val)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Push(testEvent{val: 5, terminal: true})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Iterate did not unblock after Push")
	}
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("got %v, want [5]", got)
	}
}
