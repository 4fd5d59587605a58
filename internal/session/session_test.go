package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/corvidrun/agentcore/internal/agentmsg"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	s, err := New(path, "/tmp/proj", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendMessage_ParentChain(t *testing.T) {
	s := newTestStore(t)

	uid, err := s.AppendMessage(agentmsg.NewUserMessage("hi", 1))
	if err != nil {
		t.Fatalf("AppendMessage user: %v", err)
	}
	aid, err := s.AppendMessage(agentmsg.Message{Role: agentmsg.RoleAssistant, Content: []agentmsg.ContentBlock{agentmsg.Text("hello")}, StopReason: agentmsg.StopReasonStop, TimestampMs: 2})
	if err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}

	branch, err := s.GetBranch("")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if len(branch) != 2 {
		t.Fatalf("want 2 entries, got %d", len(branch))
	}
	if branch[0].ID != uid || branch[1].ID != aid {
		t.Fatalf("unexpected branch order: %+v", branch)
	}
	if branch[0].ParentID != nil {
		t.Fatalf("root entry must have nil parent")
	}
	if branch[1].ParentID == nil || *branch[1].ParentID != uid {
		t.Fatalf("second entry must be parented to the first")
	}
}

// TestOrphanToolCallSynthesis covers §3 invariant #1 and §8 property #1: a
// dangling tool call must get a synthetic result before the next user
// message lands.
func TestOrphanToolCallSynthesis(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AppendMessage(agentmsg.NewUserMessage("list files", 1)); err != nil {
		t.Fatal(err)
	}
	assistant := agentmsg.Message{
		Role: agentmsg.RoleAssistant,
		Content: []agentmsg.ContentBlock{
			agentmsg.ToolCall("t1", "ls", []byte(`{}`)),
		},
		StopReason:  agentmsg.StopReasonToolUse,
		TimestampMs: 2,
	}
	if _, err := s.AppendMessage(assistant); err != nil {
		t.Fatal(err)
	}

	// No tool result appended — now a user message arrives mid-flight.
	if _, err := s.AppendMessage(agentmsg.NewUserMessage("never mind", 3)); err != nil {
		t.Fatal(err)
	}

	branch, err := s.GetBranch("")
	if err != nil {
		t.Fatal(err)
	}
	if len(branch) != 4 {
		t.Fatalf("want 4 entries (user, assistant, synthetic tool result, user), got %d", len(branch))
	}
	synth, err := branch[2].DecodeMessage()
	if err != nil {
		t.Fatal(err)
	}
	if synth.Role != agentmsg.RoleToolResult || synth.ToolCallID != "t1" {
		t.Fatalf("expected synthetic tool result for t1, got %+v", synth)
	}
	if synth.Text() != "Interrupted by user message" {
		t.Fatalf("unexpected synthetic content: %q", synth.Text())
	}
}

func TestBuildContext_CompactionCutPoint(t *testing.T) {
	s := newTestStore(t)

	_, _ = s.AppendMessage(agentmsg.NewUserMessage("first", 1))
	_, _ = s.AppendMessage(agentmsg.Message{Role: agentmsg.RoleAssistant, Content: []agentmsg.ContentBlock{agentmsg.Text("ack")}, StopReason: agentmsg.StopReasonStop, TimestampMs: 2})

	if _, err := s.AppendCompaction("the summary", "", 100, nil); err != nil {
		t.Fatal(err)
	}
	keptID, err := s.AppendMessage(agentmsg.NewUserMessage("after compaction", 3))
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := s.BuildContext("sys", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.Messages) != 2 {
		t.Fatalf("want synthetic summary + 1 kept message, got %d: %+v", len(ctx.Messages), ctx.Messages)
	}
	if ctx.Messages[0].Text() != "[Summary]\nthe summary" {
		t.Fatalf("unexpected summary message: %q", ctx.Messages[0].Text())
	}
	if ctx.Messages[1].Text() != "after compaction" {
		t.Fatalf("unexpected kept message: %q", ctx.Messages[1].Text())
	}
	_ = keptID
}

func TestReopen_SkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendMessage(agentmsg.NewUserMessage("hi", 1)); err != nil {
		t.Fatal(err)
	}
	path := s.Path()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("not json at all\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open after corrupt append: %v", err)
	}
	defer reopened.Close()

	branch, err := reopened.GetBranch("")
	if err != nil {
		t.Fatal(err)
	}
	if len(branch) != 1 {
		t.Fatalf("want 1 surviving entry, got %d", len(branch))
	}
}

func TestCreateBranchedSession(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.AppendMessage(agentmsg.NewUserMessage("root msg", 1))

	newPath := filepath.Join(t.TempDir(), "branched.jsonl")
	branched, err := s.CreateBranchedSession(newPath)
	if err != nil {
		t.Fatalf("CreateBranchedSession: %v", err)
	}
	defer branched.Close()

	if branched.Header().ParentSession != s.Header().ID {
		t.Fatalf("branched session must record parent_session")
	}
	branch, err := branched.GetBranch("")
	if err != nil {
		t.Fatal(err)
	}
	if len(branch) != 1 {
		t.Fatalf("want 1 copied entry, got %d", len(branch))
	}
}

func TestEstimateContextTokens_Empty(t *testing.T) {
	if got := EstimateContextTokens(nil); got != 0 {
		t.Fatalf("EstimateContextTokens(nil) = %d, want 0", got)
	}
}
