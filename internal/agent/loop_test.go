package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/bootstrap"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
	"github.com/piyushgupta53/featherbot-sub000/internal/history"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

// fakeClient scripts provider behavior per call.
type fakeClient struct {
	generate func(ctx context.Context, req providers.Request) (*providers.Result, error)
	requests []providers.Request
}

func (c *fakeClient) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	c.requests = append(c.requests, req)
	return c.generate(ctx, req)
}

func (c *fakeClient) DefaultModel() string { return "fake-model" }
func (c *fakeClient) Name() string         { return "fake" }

func newTestLoop(t *testing.T, client *fakeClient, cfg Config) (*Loop, *history.Manager) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := bootstrap.NewBuilder(ws)
	t.Cleanup(builder.Close)
	hist := history.NewManager(history.NewMemoryStore(), 100)
	return New(client, hist, builder, nil, cfg), hist
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		MessageID: "m1", Channel: "terminal", SenderID: "s", ChatID: "c",
		Content: content, Timestamp: time.Now(),
	}
}

func TestProcessMessageHappyPath(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{
				Text:         "hello back",
				FinishReason: "stop",
				Usage:        providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}
	loop, hist := newTestLoop(t, client, Config{})

	res := loop.ProcessMessage(context.Background(), inbound("hi"))
	if res.Text != "hello back" || res.FinishReason != FinishStop {
		t.Fatalf("res = %+v", res)
	}
	if res.Steps != 1 {
		t.Fatalf("steps = %d, want 1", res.Steps)
	}
	if res.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", res.Usage)
	}

	msgs, _ := hist.RawMessages("terminal:c")
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Content != "hello back" {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestPromptComposition(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{Text: "ok", FinishReason: "stop"}, nil
		},
	}
	loop, hist := newTestLoop(t, client, Config{})
	hist.Add("terminal:c", providers.Message{Role: "user", Content: "earlier question"})
	hist.Add("terminal:c", providers.Message{Role: "assistant", Content: "earlier answer"})

	loop.ProcessMessage(context.Background(), inbound("now"))

	req := client.requests[len(client.requests)-1]
	if req.Messages[0].Role != "system" {
		t.Fatal("first message must be system")
	}
	if req.Messages[1].Content != "earlier question" || req.Messages[2].Content != "earlier answer" {
		t.Fatalf("history not threaded: %+v", req.Messages)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "now" {
		t.Fatalf("current message missing: %+v", last)
	}
}

func TestStepsCountsToolCalls(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{
				Text:         "did it",
				FinishReason: "tool-calls",
				ToolCalls: []providers.ToolCall{
					{ID: "c1", Name: "read_file"},
					{ID: "c2", Name: "write_file"},
				},
				ToolResults: []providers.ToolResult{
					{ToolCallID: "c1", ToolName: "read_file", Content: "data"},
					{ToolCallID: "c2", ToolName: "write_file", Content: "Wrote 4 bytes"},
				},
			}, nil
		},
	}
	loop, hist := newTestLoop(t, client, Config{})

	res := loop.ProcessMessage(context.Background(), inbound("do it"))
	if res.Steps != 3 {
		t.Fatalf("steps = %d, want 3", res.Steps)
	}

	// Tool activity lands in history between user and final text.
	msgs, _ := hist.RawMessages("terminal:c")
	var toolMsgs int
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsgs++
		}
	}
	if toolMsgs != 2 {
		t.Fatalf("tool messages in history = %d, want 2", toolMsgs)
	}
}

func TestProviderErrorPersisted(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return nil, errors.New("rate limited")
		},
	}
	loop, hist := newTestLoop(t, client, Config{})

	res := loop.ProcessMessage(context.Background(), inbound("hi"))
	if res.FinishReason != FinishError {
		t.Fatalf("finishReason = %q", res.FinishReason)
	}
	if !strings.HasPrefix(res.Text, "[LLM Error]") {
		t.Fatalf("text = %q", res.Text)
	}

	msgs, _ := hist.RawMessages("terminal:c")
	found := false
	for _, m := range msgs {
		if m.Role == "assistant" && strings.HasPrefix(m.Content, "[LLM Error]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("error text not persisted: %+v", msgs)
	}
}

func TestTimeoutReturnsCannedResultAndSkipsHistory(t *testing.T) {
	client := &fakeClient{
		generate: func(ctx context.Context, _ providers.Request) (*providers.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	loop, hist := newTestLoop(t, client, Config{MessageTimeoutMs: 50})

	res := loop.ProcessMessage(context.Background(), inbound("slow"))
	if res.FinishReason != FinishError || res.Text != TimeoutText {
		t.Fatalf("res = %+v", res)
	}
	if n, _ := hist.Len("terminal:c"); n != 0 {
		t.Fatalf("timeout persisted %d messages", n)
	}
}

func TestSkipHistory(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{Text: "background", FinishReason: "stop"}, nil
		},
	}
	loop, hist := newTestLoop(t, client, Config{})

	loop.ProcessDirect(context.Background(), "internal task", Opts{
		SessionKey: "terminal:c", SkipHistory: true,
	})
	if n, _ := hist.Len("terminal:c"); n != 0 {
		t.Fatalf("SkipHistory persisted %d messages", n)
	}
}

func TestSystemPromptOverride(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{Text: "ok", FinishReason: "stop"}, nil
		},
	}
	loop, _ := newTestLoop(t, client, Config{})

	loop.ProcessDirect(context.Background(), "task", Opts{
		SessionKey:           "sub:1",
		SystemPromptOverride: "You are a research sub-agent.",
		SkipHistory:          true,
	})
	req := client.requests[0]
	if req.Messages[0].Content != "You are a research sub-agent." {
		t.Fatalf("override not applied: %q", req.Messages[0].Content)
	}
}

func TestEmptyTextSynthesizesToolSummary(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{
				Text:         "",
				FinishReason: "tool-calls",
				ToolCalls:    []providers.ToolCall{{ID: "c1", Name: "exec"}},
				ToolResults:  []providers.ToolResult{{ToolCallID: "c1", ToolName: "exec", Content: "done cleanly"}},
			}, nil
		},
	}
	loop, _ := newTestLoop(t, client, Config{})

	res := loop.ProcessMessage(context.Background(), inbound("run it"))
	if !strings.Contains(res.Text, "exec") || !strings.Contains(res.Text, "done cleanly") {
		t.Fatalf("synthesized summary = %q", res.Text)
	}
}

func TestEmptyTextNoToolsApologizes(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{Text: "<think>hmm</think>", FinishReason: "stop"}, nil
		},
	}
	loop, _ := newTestLoop(t, client, Config{})

	res := loop.ProcessMessage(context.Background(), inbound("hi"))
	if res.Text != apologyText {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestOnStepFinishPanicsAreContained(t *testing.T) {
	client := &fakeClient{
		generate: func(_ context.Context, _ providers.Request) (*providers.Result, error) {
			return &providers.Result{Text: "ok", FinishReason: "stop"}, nil
		},
	}
	loop, _ := newTestLoop(t, client, Config{})
	called := false
	loop.SetOnStepFinish(func(string, *Result) {
		called = true
		panic("callback bug")
	})

	res := loop.ProcessMessage(context.Background(), inbound("hi"))
	if !called || res.Text != "ok" {
		t.Fatalf("callback panic leaked: called=%v res=%+v", called, res)
	}
}
