package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
	"github.com/piyushgupta53/featherbot-sub000/internal/tools"
)

// Task statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// State is the lifecycle record of one sub-agent task.
type State struct {
	ID            string    `json:"id"`
	Task          string    `json:"task"`
	Status        string    `json:"status"`
	Preset        string    `json:"preset"`
	OriginChannel string    `json:"origin_channel"`
	OriginChatID  string    `json:"origin_chat_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`

	cancel context.CancelFunc
}

// SpawnRequest describes a task to launch.
type SpawnRequest struct {
	Task          string
	OriginChannel string
	OriginChatID  string
	Type          string // preset name; empty means "general"
	ParentContext string // conversation excerpt, see CaptureParentContext
	MemoryContext string // memory snapshot passed by the parent
}

// Runtime is the slice of the agent loop a supervisor needs.
type Runtime interface {
	ProcessDirect(ctx context.Context, text string, opts agent.Opts) *agent.Result
	InjectMessage(sessionKey string, msg providers.Message) error
}

// Deliver publishes a completion notice to the origin conversation.
type Deliver func(channel, chatID, content string) error

// Supervisor launches and tracks sub-agent tasks.
type Supervisor struct {
	runtime  Runtime
	registry *tools.Registry
	deliver  Deliver
	sem      *semaphore.Weighted
	timeout  time.Duration

	mu    sync.Mutex
	tasks map[string]*State
	// Terminal records stay queryable via subagent_status for a while;
	// the oldest are pruned so a long-lived process does not accumulate
	// them.
	finished     []string
	keepFinished int
}

// defaultKeepFinished bounds retained terminal task records.
const defaultKeepFinished = 50

// NewSupervisor creates a supervisor allowing at most maxConcurrent
// simultaneous tasks, each bounded by timeout.
func NewSupervisor(runtime Runtime, registry *tools.Registry, deliver Deliver, maxConcurrent int, timeout time.Duration) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Supervisor{
		runtime:      runtime,
		registry:     registry,
		deliver:      deliver,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:      timeout,
		tasks:        make(map[string]*State),
		keepFinished: defaultKeepFinished,
	}
}

// Spawn launches a task and returns its id immediately.
func (s *Supervisor) Spawn(req SpawnRequest) (string, error) {
	if strings.TrimSpace(req.Task) == "" {
		return "", fmt.Errorf("empty task")
	}
	if !s.sem.TryAcquire(1) {
		return "", fmt.Errorf("too many active background tasks")
	}

	preset := PresetFor(req.Type)
	ctx, cancel := context.WithCancel(context.Background())
	st := &State{
		ID:            uuid.NewString(),
		Task:          req.Task,
		Status:        StatusRunning,
		Preset:        preset.Name,
		OriginChannel: req.OriginChannel,
		OriginChatID:  req.OriginChatID,
		StartedAt:     time.Now().UTC(),
		cancel:        cancel,
	}

	s.mu.Lock()
	s.tasks[st.ID] = st
	s.mu.Unlock()

	slog.Info("sub-agent spawned", "id", st.ID, "preset", preset.Name, "task", req.Task)
	go s.execute(ctx, st, preset, req)
	return st.ID, nil
}

func (s *Supervisor) execute(ctx context.Context, st *State, preset Preset, req SpawnRequest) {
	defer s.sem.Release(1)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	restricted := s.registry.Restricted(preset.Tools, blockedTools)
	res := s.runtime.ProcessDirect(ctx, req.Task, agent.Opts{
		SystemPromptOverride: s.systemPrompt(preset, req),
		SessionKey:           bus.SessionKey("subagent", st.ID),
		SkipHistory:          true,
		MaxSteps:             preset.MaxIterations,
		Tools:                restricted,
	})

	s.mu.Lock()
	st.CompletedAt = time.Now().UTC()
	switch {
	case ctx.Err() != nil && st.Status == StatusCancelled:
		// Cancel already set the status; keep it.
	case res.FinishReason == agent.FinishError:
		st.Status = StatusFailed
		st.Error = res.Text
	default:
		st.Status = StatusCompleted
		st.Result = res.Text
	}
	snapshot := *st
	s.finished = append(s.finished, st.ID)
	for len(s.finished) > s.keepFinished {
		delete(s.tasks, s.finished[0])
		s.finished = s.finished[1:]
	}
	s.mu.Unlock()

	s.complete(snapshot)
}

func (s *Supervisor) systemPrompt(preset Preset, req SpawnRequest) string {
	var sb strings.Builder
	sb.WriteString(preset.SystemPrompt)
	if req.ParentContext != "" {
		sb.WriteString("\n\n## Conversation context\n")
		sb.WriteString(req.ParentContext)
	}
	if req.MemoryContext != "" {
		sb.WriteString("\n\n## Memory\n")
		sb.WriteString(req.MemoryContext)
	}
	return sb.String()
}

// complete notifies the origin conversation and records the outcome in
// the parent's history so the next turn can refer to it.
func (s *Supervisor) complete(st State) {
	short := st.Result
	if st.Status != StatusCompleted {
		short = st.Error
	}
	if idx := strings.IndexByte(short, '\n'); idx >= 0 {
		short = short[:idx]
	}
	if len(short) > 200 {
		short = short[:200] + "..."
	}
	record := fmt.Sprintf("[Background task %s: %q — %s]", st.Status, st.Task, short)

	if st.OriginChannel != "" && st.OriginChatID != "" {
		parentKey := bus.SessionKey(st.OriginChannel, st.OriginChatID)
		if err := s.runtime.InjectMessage(parentKey, providers.Message{Role: "assistant", Content: record}); err != nil {
			slog.Warn("sub-agent history injection failed", "id", st.ID, "error", err)
		}
		if s.deliver != nil {
			if err := s.deliver(st.OriginChannel, st.OriginChatID, s.userNotice(st)); err != nil {
				slog.Warn("sub-agent completion delivery failed", "id", st.ID, "error", err)
			}
		}
	}
	slog.Info("sub-agent finished", "id", st.ID, "status", st.Status)
}

func (s *Supervisor) userNotice(st State) string {
	switch st.Status {
	case StatusCompleted:
		return fmt.Sprintf("Background task finished: %s\n\n%s", st.Task, st.Result)
	case StatusCancelled:
		return fmt.Sprintf("Background task cancelled: %s", st.Task)
	default:
		return fmt.Sprintf("Background task failed: %s\n\n%s", st.Task, st.Error)
	}
}

// GetState returns a snapshot of one task.
func (s *Supervisor) GetState(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// ListActive returns running tasks, oldest first.
func (s *Supervisor) ListActive() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, st := range s.tasks {
		if st.Status == StatusRunning {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel trips a running task's cancel token. The in-flight turn
// observes it at the next provider or tool boundary.
func (s *Supervisor) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	if st.Status != StatusRunning {
		return fmt.Errorf("task %s is already %s", id, st.Status)
	}
	st.Status = StatusCancelled
	st.cancel()
	return nil
}

// CaptureParentContext renders the tail of a conversation for a
// sub-agent prompt: the last pairs of user/assistant messages (at most
// maxPairs), each truncated to maxChars, with role labels.
func CaptureParentContext(msgs []providers.Message) string {
	const maxPairs = 5
	const maxChars = 2000

	var convo []providers.Message
	for _, m := range msgs {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			convo = append(convo, m)
		}
	}
	if len(convo) > maxPairs*2 {
		convo = convo[len(convo)-maxPairs*2:]
	}

	var lines []string
	for _, m := range convo {
		content := m.Content
		if len(content) > maxChars {
			content = content[:maxChars] + "..."
		}
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		lines = append(lines, label+": "+content)
	}
	return strings.Join(lines, "\n")
}
