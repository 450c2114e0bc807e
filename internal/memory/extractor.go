// Package memory implements conversation distillation: after a session
// goes idle (or immediately on a correction signal), recent history is
// summarized by the model and appended to the workspace memory files.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/bootstrap"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

const extractionPrompt = `You distill conversations into durable memory. From the transcript below, extract only facts worth remembering across sessions: user preferences, commitments, corrections, names, dates, decisions.
Write each fact as one markdown bullet. If nothing is worth remembering, reply with exactly: NOTHING`

const nothingSentinel = "NOTHING"

// Runtime is the slice of the agent loop the extractor needs.
type Runtime interface {
	ProcessDirect(ctx context.Context, text string, opts agent.Opts) *agent.Result
	History(sessionKey string) ([]providers.Message, error)
}

// Extractor schedules idle-triggered memory extraction per session.
type Extractor struct {
	runtime     Runtime
	ws          *workspace.Workspace
	idle        time.Duration
	minMessages int

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]bool
	disposed bool
	wg       sync.WaitGroup

	// Serializes appends to the memory files across sessions.
	fileMu sync.Mutex
}

// NewExtractor creates an extractor; sessions with fewer than
// minMessages are never distilled.
func NewExtractor(runtime Runtime, ws *workspace.Workspace, idle time.Duration, minMessages int) *Extractor {
	return &Extractor{
		runtime:     runtime,
		ws:          ws,
		idle:        idle,
		minMessages: minMessages,
		timers:      make(map[string]*time.Timer),
		inflight:    make(map[string]bool),
	}
}

// Schedule (re)arms the idle timer for a session. Each inbound message
// pushes the extraction further out.
func (e *Extractor) Schedule(sessionKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	if t, ok := e.timers[sessionKey]; ok {
		t.Stop()
	}
	e.timers[sessionKey] = time.AfterFunc(e.idle, func() { e.extract(sessionKey) })
}

// ScheduleUrgent bypasses the idle debounce and extracts now. Used when
// the inbound content carries a correction signal.
func (e *Extractor) ScheduleUrgent(sessionKey string) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if t, ok := e.timers[sessionKey]; ok {
		t.Stop()
		delete(e.timers, sessionKey)
	}
	e.mu.Unlock()
	go e.extract(sessionKey)
}

// Dispose cancels all timers and waits for running extractions to drain.
func (e *Extractor) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Extractor) extract(sessionKey string) {
	e.mu.Lock()
	if e.disposed || e.inflight[sessionKey] {
		e.mu.Unlock()
		return
	}
	e.inflight[sessionKey] = true
	e.wg.Add(1)
	delete(e.timers, sessionKey)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, sessionKey)
		e.mu.Unlock()
		e.wg.Done()
	}()

	msgs, err := e.runtime.History(sessionKey)
	if err != nil {
		slog.Warn("memory extraction history read failed", "session", sessionKey, "error", err)
		return
	}
	transcript := renderTranscript(msgs)
	if countConversational(msgs) < e.minMessages || transcript == "" {
		return
	}

	res := e.runtime.ProcessDirect(context.Background(), transcript, agent.Opts{
		SystemPromptOverride: extractionPrompt,
		SessionKey:           "memory:" + sessionKey,
		SkipHistory:          true,
		MaxSteps:             1,
	})
	if res.FinishReason == agent.FinishError {
		slog.Warn("memory extraction turn failed", "session", sessionKey, "error", res.Text)
		return
	}
	facts := strings.TrimSpace(res.Text)
	if facts == "" || strings.EqualFold(facts, nothingSentinel) {
		return
	}

	if err := e.appendMemory(facts); err != nil {
		slog.Error("memory write failed", "session", sessionKey, "error", err)
		return
	}
	slog.Info("memory extracted", "session", sessionKey, "len", len(facts))
}

// appendMemory writes the distilled facts to the long-term memory file
// and the daily note.
func (e *Extractor) appendMemory(facts string) error {
	now := time.Now()
	entry := fmt.Sprintf("\n### %s\n%s\n", now.Format("2006-01-02 15:04"), facts)

	e.fileMu.Lock()
	defer e.fileMu.Unlock()
	if err := e.appendFile(workspace.MemoryFile, entry); err != nil {
		return err
	}
	return e.appendFile(bootstrap.DailyNotePath(now), entry)
}

func (e *Extractor) appendFile(rel, entry string) error {
	path, err := e.ws.Resolve(rel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

// renderTranscript flattens conversational messages for the extraction
// prompt, dropping tool traffic and system text.
func renderTranscript(msgs []providers.Message) string {
	const maxMessages = 40
	var convo []providers.Message
	for _, m := range msgs {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			convo = append(convo, m)
		}
	}
	if len(convo) > maxMessages {
		convo = convo[len(convo)-maxMessages:]
	}
	var lines []string
	for _, m := range convo {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		content := m.Content
		if len(content) > 2000 {
			content = content[:2000] + "..."
		}
		lines = append(lines, label+": "+content)
	}
	return strings.Join(lines, "\n")
}

func countConversational(msgs []providers.Message) int {
	n := 0
	for _, m := range msgs {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			n++
		}
	}
	return n
}
