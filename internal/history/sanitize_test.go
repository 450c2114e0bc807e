package history

import (
	"testing"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

func user(content string) providers.Message {
	return providers.Message{Role: "user", Content: content}
}

func assistant(content string, callIDs ...string) providers.Message {
	msg := providers.Message{Role: "assistant", Content: content}
	for _, id := range callIDs {
		msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{ID: id, Name: "tool_" + id})
	}
	return msg
}

func toolMsg(callID, content string) providers.Message {
	return providers.Message{Role: "tool", Content: content, ToolCallID: callID}
}

func roles(msgs []providers.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSanitizePassesCleanHistory(t *testing.T) {
	in := []providers.Message{
		user("hi"),
		assistant("checking", "c1"),
		toolMsg("c1", "ok"),
		assistant("done"),
	}
	out := Sanitize(in)
	if len(out) != 4 {
		t.Fatalf("clean history changed: %v", roles(out))
	}
}

func TestSanitizeDropsLeadingOrphanTools(t *testing.T) {
	in := []providers.Message{
		toolMsg("ghost", "stale"),
		toolMsg("ghost2", "stale"),
		user("hi"),
	}
	out := Sanitize(in)
	if len(out) != 1 || out[0].Role != "user" {
		t.Fatalf("got %v", roles(out))
	}
}

func TestSanitizeDropsMidHistoryOrphanTool(t *testing.T) {
	in := []providers.Message{
		user("hi"),
		assistant("plain answer"),
		toolMsg("ghost", "stale"),
		user("next"),
	}
	out := Sanitize(in)
	if len(out) != 3 {
		t.Fatalf("orphan survived: %v", roles(out))
	}
	for _, m := range out {
		if m.Role == "tool" {
			t.Fatalf("orphan tool message kept: %+v", m)
		}
	}
}

func TestSanitizeSynthesizesMissingToolResult(t *testing.T) {
	in := []providers.Message{
		user("do two things"),
		assistant("", "c1", "c2"),
		toolMsg("c1", "first done"),
		// c2's result was lost to an interruption.
	}
	out := Sanitize(in)
	if len(out) != 4 {
		t.Fatalf("got %v", roles(out))
	}
	last := out[3]
	if last.Role != "tool" || last.ToolCallID != "c2" {
		t.Fatalf("expected synthetic result for c2, got %+v", last)
	}
	if last.Content != "[Tool result missing — conversation was interrupted]" {
		t.Fatalf("synthetic content = %q", last.Content)
	}
}

func TestSanitizeDropsMismatchedToolResult(t *testing.T) {
	in := []providers.Message{
		assistant("", "c1"),
		toolMsg("wrong-id", "noise"),
		toolMsg("c1", "real"),
	}
	out := Sanitize(in)
	if len(out) != 2 {
		t.Fatalf("got %v", roles(out))
	}
	if out[1].ToolCallID != "c1" || out[1].Content != "real" {
		t.Fatalf("kept wrong result: %+v", out[1])
	}
}

func TestSanitizeAllOrphansYieldsNil(t *testing.T) {
	in := []providers.Message{toolMsg("a", "x"), toolMsg("b", "y")}
	if out := Sanitize(in); len(out) != 0 {
		t.Fatalf("got %v", roles(out))
	}
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	in := []providers.Message{
		toolMsg("ghost", "stale"),
		user("hi"),
	}
	_ = Sanitize(in)
	if in[0].Role != "tool" || in[1].Content != "hi" {
		t.Fatal("input slice was modified")
	}
}
