package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAIClient implements Client for OpenAI-compatible chat-completions
// APIs (OpenAI, Groq, OpenRouter, DeepSeek, vLLM, etc.). Generate runs
// the tool rounds internally: when the model requests tool calls and a
// ToolExecutor is present, tools are executed and the conversation is
// continued until the model answers in text or MaxSteps is reached.
type OpenAIClient struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	maxRetries   int
}

// NewOpenAIClient creates a client. An empty apiBase targets the
// official OpenAI endpoint.
func NewOpenAIClient(name, apiKey, apiBase, defaultModel string) *OpenAIClient {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   3,
	}
}

func (c *OpenAIClient) Name() string         { return c.name }
func (c *OpenAIClient) DefaultModel() string { return c.defaultModel }

// Generate runs one logical turn, iterating tool rounds as needed.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	messages := make([]Message, len(req.Messages))
	copy(messages, req.Messages)

	result := &Result{FinishReason: "stop"}
	for step := 0; step < maxSteps; step++ {
		resp, err := c.complete(ctx, model, messages, req)
		if err != nil {
			return nil, err
		}
		result.Usage.Add(resp.usage)
		result.Text = resp.content
		result.FinishReason = mapFinishReason(resp.finishReason)

		if len(resp.toolCalls) == 0 || req.ToolExecutor == nil {
			break
		}

		result.ToolCalls = append(result.ToolCalls, resp.toolCalls...)
		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.content,
			ToolCalls: resp.toolCalls,
		})
		for _, call := range resp.toolCalls {
			output := req.ToolExecutor(ctx, call.Name, call.Arguments)
			tr := ToolResult{ToolCallID: call.ID, ToolName: call.Name, Content: output}
			result.ToolResults = append(result.ToolResults, tr)
			messages = append(messages, Message{Role: "tool", Content: output, ToolCallID: call.ID})
		}
	}

	if len(result.ToolCalls) > 0 && result.FinishReason == "stop" {
		result.FinishReason = "tool-calls"
	}
	return result, nil
}

// completion is one wire round-trip's parsed outcome.
type completion struct {
	content      string
	toolCalls    []ToolCall
	finishReason string
	usage        Usage
}

func (c *OpenAIClient) complete(ctx context.Context, model string, messages []Message, req Request) (*completion, error) {
	body := c.buildRequestBody(model, messages, req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			if he, ok := lastErr.(*httpError); ok && he.retryAfter > 0 {
				delay = he.retryAfter
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

type httpError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.status == http.StatusTooManyRequests || he.status >= 500
	}
	// Network-level failures are worth one more attempt.
	return true
}

func (c *OpenAIClient) buildRequestBody(model string, messages []Message, req Request) map[string]interface{} {
	// Convert to the OpenAI wire format: tool_calls need the
	// type+function wrapper with arguments as a JSON string.
	msgs := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		msg := map[string]interface{}{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	return body
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) doRequest(ctx context.Context, body map[string]interface{}) (*completion, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &httpError{
			status:     resp.StatusCode,
			body:       fmt.Sprintf("%s: %s", c.name, strings.TrimSpace(string(respBody))),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return c.parseResponse(&parsed), nil
}

func (c *OpenAIClient) parseResponse(resp *openAIResponse) *completion {
	out := &completion{finishReason: "stop"}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.content = choice.Message.Content
		if choice.FinishReason != "" {
			out.finishReason = choice.FinishReason
		}
		for _, tc := range choice.Message.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.toolCalls = append(out.toolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}
	}
	if resp.Usage != nil {
		out.usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "length"
	case "tool_calls":
		return "tool-calls"
	default:
		return "stop"
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
