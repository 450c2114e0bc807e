package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/tools"
)

// Tool exposes the scheduler to the LLM: add, list, remove, enable and
// disable jobs. The gateway keeps the routing context current so jobs
// created mid-conversation deliver back to the same chat.
type Tool struct {
	service *Service

	mu      sync.Mutex
	channel string
	chatID  string
	userLoc *time.Location
}

// NewTool wraps the service for tool registration.
func NewTool(service *Service) *Tool {
	return &Tool{service: service}
}

// SetRoute records where newly added jobs should deliver their payload.
func (t *Tool) SetRoute(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

// SetUserLocation sets the timezone used to interpret zone-less "at"
// instants. A nil location means UTC.
func (t *Tool) SetUserLocation(loc *time.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userLoc = loc
}

func (t *Tool) Name() string { return "cron" }

func (t *Tool) Description() string {
	return "Manage scheduled jobs: reminders, recurring tasks and one-shot timers. " +
		"Actions: add (with a cron expression, an interval in seconds, or a one-time instant), list, remove, enable, disable."
}

func (t *Tool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"add", "list", "remove", "enable", "disable"},
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Short job name (add).",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message delivered to the agent when the job fires (add).",
			},
			"expr": map[string]interface{}{
				"type":        "string",
				"description": "5-field cron expression, e.g. \"0 9 * * 1-5\" (add, recurring).",
			},
			"tz": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone for the cron expression; defaults to UTC.",
			},
			"seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Fixed interval in seconds (add, recurring).",
			},
			"at": map[string]interface{}{
				"type":        "string",
				"description": "One-time instant, ISO 8601. Without a zone offset it is read in the user's timezone (add, one-shot).",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Job id (remove/enable/disable).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *Tool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(args)
	case "list":
		return t.list()
	case "remove":
		id, _ := args["id"].(string)
		if err := t.service.RemoveJob(id); err != nil {
			return tools.ErrorResult(fmt.Sprintf("Error: %v", err))
		}
		return tools.NewResult("Removed job " + id)
	case "enable", "disable":
		id, _ := args["id"].(string)
		if err := t.service.EnableJob(id, action == "enable"); err != nil {
			return tools.ErrorResult(fmt.Sprintf("Error: %v", err))
		}
		return tools.NewResult(fmt.Sprintf("Job %s %sd", id, action))
	default:
		return tools.ErrorResult(fmt.Sprintf("Error: unknown action %q", action))
	}
}

func (t *Tool) add(args map[string]interface{}) *tools.Result {
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return tools.ErrorResult("Error: add requires a message")
	}
	if name == "" {
		name = message
		if len(name) > 40 {
			name = name[:40]
		}
	}

	schedule, err := t.scheduleFromArgs(args)
	if err != nil {
		return tools.ErrorResult("Error: " + err.Error())
	}

	t.mu.Lock()
	payload := Payload{Message: message, Channel: t.channel, ChatID: t.chatID}
	t.mu.Unlock()

	job, err := t.service.AddJob(name, schedule, payload, false)
	if err != nil {
		return tools.ErrorResult("Error: " + err.Error())
	}
	return tools.NewResult(fmt.Sprintf("Scheduled job %s (%s), next run %s",
		job.ID, job.Schedule.Describe(), job.State.NextRunAt.Format(time.RFC3339)))
}

func (t *Tool) scheduleFromArgs(args map[string]interface{}) (Schedule, error) {
	if expr, ok := args["expr"].(string); ok && expr != "" {
		tz, _ := args["tz"].(string)
		return Schedule{Kind: KindCron, Expr: expr, TZ: tz}, nil
	}
	if seconds, ok := args["seconds"].(float64); ok && seconds > 0 {
		return Schedule{Kind: KindEvery, Seconds: int64(seconds)}, nil
	}
	if at, ok := args["at"].(string); ok && at != "" {
		instant, err := t.parseInstant(at)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: KindAt, At: instant}, nil
	}
	return Schedule{}, fmt.Errorf("add requires one of expr, seconds or at")
}

// parseInstant reads an ISO 8601 instant. Zone-less values are
// interpreted in the user's timezone and stored as UTC.
func (t *Tool) parseInstant(value string) (time.Time, error) {
	if instant, err := time.Parse(time.RFC3339, value); err == nil {
		return instant.UTC(), nil
	}
	t.mu.Lock()
	loc := t.userLoc
	t.mu.Unlock()
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if instant, err := time.ParseInLocation(layout, value, loc); err == nil {
			return instant.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse instant %q", value)
}

func (t *Tool) list() *tools.Result {
	jobs := t.service.ListJobs()
	if len(jobs) == 0 {
		return tools.NewResult("No scheduled jobs.")
	}
	var sb strings.Builder
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "- %s %q %s, %s, next %s",
			job.ID, job.Name, state, job.Schedule.Describe(),
			job.State.NextRunAt.Format(time.RFC3339))
		if job.State.LastStatus != "" {
			fmt.Fprintf(&sb, ", last %s", job.State.LastStatus)
		}
		sb.WriteString("\n")
	}
	return tools.NewResult(strings.TrimRight(sb.String(), "\n"))
}
