// Package agent implements the core execution loop: context assembly,
// the LLM call with tool rounds, response verification, and history
// persistence.
package agent

import "github.com/piyushgupta53/featherbot-sub000/internal/providers"

// Finish reasons carried by a Result.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishError     = "error"
	FinishLength    = "length"
	FinishBatched   = "batched"
)

// Result is the outcome of one agent turn.
type Result struct {
	Text         string                 `json:"text"`
	Usage        providers.Usage        `json:"usage"`
	Steps        int                    `json:"steps"`
	FinishReason string                 `json:"finish_reason"`
	ToolCalls    []providers.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []providers.ToolResult `json:"tool_results,omitempty"`
}

// BatchedResult returns the sentinel handed to callers whose messages
// were merged into a later turn.
func BatchedResult() *Result {
	return &Result{FinishReason: FinishBatched}
}

// IsBatched reports whether the result is the batching sentinel.
func (r *Result) IsBatched() bool {
	return r != nil && r.FinishReason == FinishBatched
}

// errorResult builds an error-turn result with the given user-visible text.
func errorResult(text string) *Result {
	return &Result{Text: text, FinishReason: FinishError}
}
