package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/tools"
)

// ContextCapture builds the parent-context and memory excerpts for a
// spawn originating from the given conversation.
type ContextCapture func(channel, chatID string) (parentContext, memoryContext string)

// SpawnTool launches background tasks from the parent conversation.
type SpawnTool struct {
	supervisor *Supervisor
	capture    ContextCapture

	mu      sync.Mutex
	channel string
	chatID  string
}

// NewSpawnTool creates the spawn tool. capture may be nil.
func NewSpawnTool(supervisor *Supervisor, capture ContextCapture) *SpawnTool {
	return &SpawnTool{supervisor: supervisor, capture: capture}
}

// SetRoute records the conversation that owns subsequently spawned tasks.
func (t *SpawnTool) SetRoute(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Launch a background task that runs independently while the conversation continues. " +
		"The result is reported back when the task finishes. Types: general, research, coding."
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete, self-contained task description.",
			},
			"type": map[string]interface{}{
				"type": "string",
				"enum": []string{"general", "research", "coding"},
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	task, _ := args["task"].(string)
	kind, _ := args["type"].(string)

	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()

	var parentCtx, memoryCtx string
	if t.capture != nil {
		parentCtx, memoryCtx = t.capture(channel, chatID)
	}

	id, err := t.supervisor.Spawn(SpawnRequest{
		Task:          task,
		OriginChannel: channel,
		OriginChatID:  chatID,
		Type:          kind,
		ParentContext: parentCtx,
		MemoryContext: memoryCtx,
	})
	if err != nil {
		return tools.ErrorResult("Error: " + err.Error())
	}
	return tools.AsyncResult(fmt.Sprintf("Started background task %s. The result will be reported when it finishes.", id))
}

// StatusTool inspects and cancels background tasks.
type StatusTool struct {
	supervisor *Supervisor
}

// NewStatusTool creates the status tool.
func NewStatusTool(supervisor *Supervisor) *StatusTool {
	return &StatusTool{supervisor: supervisor}
}

func (t *StatusTool) Name() string { return "subagent_status" }

func (t *StatusTool) Description() string {
	return "Inspect background tasks: list running ones, get one task's state, or cancel a task."
}

func (t *StatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"list", "get", "cancel"},
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Task id (get/cancel).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *StatusTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	action, _ := args["action"].(string)
	id, _ := args["id"].(string)
	switch action {
	case "list":
		active := t.supervisor.ListActive()
		if len(active) == 0 {
			return tools.NewResult("No background tasks running.")
		}
		var sb strings.Builder
		for _, st := range active {
			fmt.Fprintf(&sb, "- %s (%s): %s, running since %s\n",
				st.ID, st.Preset, st.Task, st.StartedAt.Format(time.RFC3339))
		}
		return tools.NewResult(strings.TrimRight(sb.String(), "\n"))
	case "get":
		st, ok := t.supervisor.GetState(id)
		if !ok {
			return tools.ErrorResult(fmt.Sprintf("Error: unknown task %s", id))
		}
		out := fmt.Sprintf("Task %s: %s (%s)", st.ID, st.Status, st.Task)
		if st.Result != "" {
			out += "\nResult: " + st.Result
		}
		if st.Error != "" {
			out += "\nError: " + st.Error
		}
		return tools.NewResult(out)
	case "cancel":
		if err := t.supervisor.Cancel(id); err != nil {
			return tools.ErrorResult("Error: " + err.Error())
		}
		return tools.NewResult("Cancelled task " + id)
	default:
		return tools.ErrorResult(fmt.Sprintf("Error: unknown action %q", action))
	}
}
