// Package providers defines the LLM provider contract consumed by the agent
// loop. Featherbot does not ship provider SDK bindings; a Client is injected
// at gateway construction time.
package providers

import "context"

// Client is the interface an LLM provider integration must implement.
//
// Generate runs one agent turn: the provider iterates tool-call rounds
// internally (calling req.ToolExecutor for each requested tool) up to
// req.MaxSteps, then returns the final text plus everything it observed
// along the way. Cancellation flows through ctx.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ToolExecutor runs a named tool with already-decoded arguments and returns
// the result as plain text. It must not panic; failures come back as error
// strings the model can read.
type ToolExecutor func(ctx context.Context, name string, args map[string]interface{}) string

// Request contains the input for a Generate call.
type Request struct {
	Model        string           `json:"model,omitempty"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	MaxSteps     int              `json:"max_steps,omitempty"`
	ToolExecutor ToolExecutor     `json:"-"`
}

// Result is the outcome of a completed Generate call.
type Result struct {
	Text         string       `json:"text"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
	FinishReason string       `json:"finish_reason"` // "stop", "tool-calls", "length", "error"
	Usage        Usage        `json:"usage"`
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the recorded outcome of one tool invocation.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
