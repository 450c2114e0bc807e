package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionResponse(content, finish string, toolCalls ...map[string]interface{}) string {
	msg := map[string]interface{}{"content": content}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{{"message": msg, "finish_reason": finish}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func toolCallJSON(id, name, args string) map[string]interface{} {
	return map[string]interface{}{
		"id": id, "type": "function",
		"function": map[string]interface{}{"name": name, "arguments": args},
	}
}

func TestGenerateSimpleTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("model = %v", req["model"])
		}
		fmt.Fprint(w, completionResponse("hello there", "stop"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "sk-test", srv.URL, "test-model")
	res, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello there" || res.FinishReason != "stop" {
		t.Fatalf("res = %+v", res)
	}
	if res.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", res.Usage)
	}
}

func TestGenerateIteratesToolRounds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			fmt.Fprint(w, completionResponse("", "tool_calls",
				toolCallJSON("c1", "read_file", `{"path":"notes.md"}`)))
		default:
			// The tool result must be threaded back as a tool message.
			var req struct {
				Messages []map[string]interface{} `json:"messages"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			last := req.Messages[len(req.Messages)-1]
			if last["role"] != "tool" || last["tool_call_id"] != "c1" {
				t.Errorf("last message = %v", last)
			}
			fmt.Fprint(w, completionResponse("the file says hi", "stop"))
		}
	}))
	defer srv.Close()

	executed := 0
	c := NewOpenAIClient("test", "k", srv.URL, "m")
	res, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "read my notes"}},
		MaxSteps: 5,
		Tools:    []ToolDefinition{{Name: "read_file", Parameters: map[string]interface{}{"type": "object"}}},
		ToolExecutor: func(_ context.Context, name string, args map[string]interface{}) string {
			executed++
			if name != "read_file" || args["path"] != "notes.md" {
				t.Errorf("executor got %s %v", name, args)
			}
			return "hi"
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if executed != 1 || calls != 2 {
		t.Fatalf("executed=%d calls=%d", executed, calls)
	}
	if res.Text != "the file says hi" || res.FinishReason != "tool-calls" {
		t.Fatalf("res = %+v", res)
	}
	if len(res.ToolCalls) != 1 || len(res.ToolResults) != 1 || res.ToolResults[0].Content != "hi" {
		t.Fatalf("tool records = %+v %+v", res.ToolCalls, res.ToolResults)
	}
	if res.Usage.TotalTokens != 30 {
		t.Fatalf("usage not accumulated: %+v", res.Usage)
	}
}

func TestGenerateStopsAtMaxSteps(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, completionResponse("", "tool_calls",
			toolCallJSON(fmt.Sprintf("c%d", calls), "exec", `{}`)))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	res, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "loop forever"}},
		MaxSteps: 3,
		ToolExecutor: func(context.Context, string, map[string]interface{}) string {
			return "ok"
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(res.ToolCalls) != 3 || res.FinishReason != "tool-calls" {
		t.Fatalf("res = %+v", res)
	}
}

func TestGenerateRetriesOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionResponse("recovered", "stop"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	res, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "recovered" || calls != 2 {
		t.Fatalf("text=%q calls=%d", res.Text, calls)
	}
}

func TestGenerateDoesNotRetryOn400(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", "k", srv.URL, "m")
	_, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
