package history

import (
	"path/filepath"
	"testing"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAddAndSnapshot(t *testing.T) {
	s := newTestDB(t)

	msgs := []providers.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "calling", ToolCalls: []providers.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: map[string]interface{}{"path": "a.txt"}},
		}},
		{Role: "tool", Content: "file body", ToolCallID: "c1"},
	}
	for _, m := range msgs {
		if err := s.Add("telegram:42", m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got, err := s.Messages("telegram:42")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].ToolCalls[0].Name != "read_file" {
		t.Fatalf("tool calls not round-tripped: %+v", got[1].ToolCalls)
	}
	if got[2].ToolCallID != "c1" {
		t.Fatalf("tool_call_id lost: %+v", got[2])
	}
}

func TestSQLiteSessionIsolation(t *testing.T) {
	s := newTestDB(t)
	s.Add("terminal:a", providers.Message{Role: "user", Content: "for a"})
	s.Add("terminal:b", providers.Message{Role: "user", Content: "for b"})

	got, _ := s.Messages("terminal:a")
	if len(got) != 1 || got[0].Content != "for a" {
		t.Fatalf("session a leaked: %+v", got)
	}
	n, _ := s.Len("terminal:b")
	if n != 1 {
		t.Fatalf("session b len = %d", n)
	}
}

func TestSQLiteReplaceAndClear(t *testing.T) {
	s := newTestDB(t)
	for i := 0; i < 5; i++ {
		s.Add("k", providers.Message{Role: "user", Content: "old"})
	}
	if err := s.Replace("k", []providers.Message{{Role: "system", Content: "summary"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := s.Messages("k")
	if len(got) != 1 || got[0].Content != "summary" {
		t.Fatalf("replace result: %+v", got)
	}

	if err := s.Clear("k"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.Len("k"); n != 0 {
		t.Fatalf("len after clear = %d", n)
	}
}

func TestSQLiteUnknownSessionEmpty(t *testing.T) {
	s := newTestDB(t)
	got, err := s.Messages("never:seen")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
}
