package tools

import (
	"context"
	"strings"
	"testing"
)

// fakeTool is a minimal tool for registry tests.
type fakeTool struct {
	name    string
	params  map[string]interface{}
	execute func(ctx context.Context, args map[string]interface{}) *Result
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool " + t.name }
func (t *fakeTool) Parameters() map[string]interface{} {
	if t.params != nil {
		return t.params
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	text, _ := args["text"].(string)
	return NewResult("echo: " + text)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "echo"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&fakeTool{name: "echo"}); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestExecuteHappyPath(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo"})
	got := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if got != "echo: hi" {
		t.Fatalf("Execute = %q", got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	got := r.Execute(context.Background(), "nope", nil)
	if !strings.Contains(got, "unknown tool 'nope'") {
		t.Fatalf("Execute = %q", got)
	}
}

func TestExecuteValidatesArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo"})

	got := r.Execute(context.Background(), "echo", map[string]interface{}{"wrong": 1})
	if !strings.Contains(got, "invalid arguments for 'echo'") {
		t.Fatalf("missing validation error: %q", got)
	}
	// The LLM needs the expected shape to retry.
	if !strings.Contains(got, "Expected schema:") || !strings.Contains(got, "required") {
		t.Fatalf("missing expected schema: %q", got)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "bomb",
		params: map[string]interface{}{"type": "object"},
		execute: func(context.Context, map[string]interface{}) *Result {
			panic("kaboom")
		},
	})
	got := r.Execute(context.Background(), "bomb", nil)
	if !strings.Contains(got, "Error executing 'bomb'") {
		t.Fatalf("panic not converted: %q", got)
	}
}

func TestRestrictedViewBlocksAndAllows(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"read_file", "write_file", "spawn", "cron"} {
		r.Register(&fakeTool{name: name, params: map[string]interface{}{"type": "object"}})
	}

	view := r.Restricted([]string{"read_file", "spawn"}, []string{"spawn", "cron"})
	if !view.Has("read_file") {
		t.Fatal("allowed tool missing from view")
	}
	for _, blocked := range []string{"spawn", "cron", "write_file"} {
		if view.Has(blocked) {
			t.Fatalf("%q should not exist in view", blocked)
		}
	}
	// Blocked tools do not exist at all in the view.
	if got := view.Execute(context.Background(), "spawn", nil); !strings.Contains(got, "unknown tool") {
		t.Fatalf("blocked tool executable: %q", got)
	}
	// Parent unaffected.
	if !r.Has("spawn") {
		t.Fatal("parent registry lost a tool")
	}
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "zeta", params: map[string]interface{}{"type": "object"}})
	r.Register(&fakeTool{name: "alpha", params: map[string]interface{}{"type": "object"}})
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("defs = %+v", defs)
	}
}
