package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

// SummaryPrefix marks a leading system message produced by summarization.
const SummaryPrefix = "[CONVERSATION SUMMARY]\n"

// Summarizer condenses a span of messages into a short plain-text summary.
type Summarizer func(ctx context.Context, msgs []providers.Message) (string, error)

// Manager layers the trim policy on top of a Store: at most maxMessages
// non-system messages are kept per session. When a summarizer is
// configured the oldest ~40% of non-system messages are folded into a
// single leading system summary message; at most one summarization runs
// per session at a time, and while one is in flight the cap is enforced
// when it lands.
type Manager struct {
	store       Store
	maxMessages int

	mu         sync.Mutex
	summarizer Summarizer

	// Per-session summarization in-flight flags.
	inflight sync.Map // sessionKey -> struct{}

	// Per-session write locks: appends and transcript rewrites are
	// serialized so a rewrite never clobbers a concurrent append.
	locks sync.Map // sessionKey -> *sync.Mutex
}

func (m *Manager) lock(sessionKey string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(sessionKey, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NewManager wraps a store. maxMessages <= 0 disables trimming.
func NewManager(store Store, maxMessages int) *Manager {
	return &Manager{store: store, maxMessages: maxMessages}
}

// SetSummarizer installs (or clears) the summarizer.
func (m *Manager) SetSummarizer(s Summarizer) {
	m.mu.Lock()
	m.summarizer = s
	m.mu.Unlock()
}

func (m *Manager) getSummarizer() Summarizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarizer
}

// Add appends a message and applies the trim policy if the session grew
// past maxMessages.
func (m *Manager) Add(sessionKey string, msg providers.Message) error {
	lock := m.lock(sessionKey)
	lock.Lock()
	err := m.store.Add(sessionKey, msg)
	lock.Unlock()
	if err != nil {
		return err
	}
	m.maybeTrim(sessionKey)
	return nil
}

// Messages returns a sanitized snapshot ready for an LLM call.
func (m *Manager) Messages(sessionKey string) ([]providers.Message, error) {
	msgs, err := m.store.Messages(sessionKey)
	if err != nil {
		return nil, err
	}
	return Sanitize(msgs), nil
}

// RawMessages returns the stored snapshot without sanitization.
func (m *Manager) RawMessages(sessionKey string) ([]providers.Message, error) {
	return m.store.Messages(sessionKey)
}

// Clear drops the session's messages.
func (m *Manager) Clear(sessionKey string) error {
	lock := m.lock(sessionKey)
	lock.Lock()
	defer lock.Unlock()
	return m.store.Clear(sessionKey)
}

// Len reports the stored message count.
func (m *Manager) Len(sessionKey string) (int, error) {
	return m.store.Len(sessionKey)
}

// Touch bumps the session metadata.
func (m *Manager) Touch(sessionKey string) error {
	return m.store.Touch(sessionKey)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// maybeTrim enforces maxMessages. With a summarizer configured and no
// summarization already in flight for this session, the work happens in
// the background; otherwise older messages are evicted immediately.
func (m *Manager) maybeTrim(sessionKey string) {
	if m.maxMessages <= 0 {
		return
	}
	msgs, err := m.store.Messages(sessionKey)
	if err != nil {
		slog.Warn("history trim: read failed", "session", sessionKey, "error", err)
		return
	}
	if countNonSystem(msgs) <= m.maxMessages {
		return
	}

	summarizer := m.getSummarizer()
	if summarizer != nil {
		if _, busy := m.inflight.LoadOrStore(sessionKey, struct{}{}); !busy {
			go m.summarizeTrim(sessionKey, summarizer)
		}
		// With a summarization in flight the cap is enforced when it
		// lands; evicting underneath it would invalidate its result.
		return
	}
	m.tailKeep(sessionKey)
}

// summarizeTrim folds the oldest ~40% of non-system messages into the
// leading summary message. Messages appended while the summarizer call
// is in flight are never removed: the transcript is re-read under the
// session lock at replace time and only the summarized prefix goes.
func (m *Manager) summarizeTrim(sessionKey string, summarize Summarizer) {
	ok := m.doSummarizeTrim(sessionKey, summarize)
	m.inflight.Delete(sessionKey)
	if ok {
		// Appends during the summarizer call may have pushed the
		// session back over the cap.
		m.maybeTrim(sessionKey)
	}
}

func (m *Manager) doSummarizeTrim(sessionKey string, summarize Summarizer) bool {
	msgs, err := m.store.Messages(sessionKey)
	if err != nil {
		slog.Warn("history summarize: read failed", "session", sessionKey, "error", err)
		return false
	}

	prior, rest := splitSummary(msgs)
	cut := len(rest) * 40 / 100
	if cut == 0 {
		return false
	}
	// Never split an assistant tool call from its results.
	for cut < len(rest) && rest[cut].Role == "tool" {
		cut++
	}
	victims, keep := rest[:cut], rest[cut:]

	input := victims
	if prior != "" {
		// Fold the previous summary in so context is not lost.
		input = append([]providers.Message{{Role: "system", Content: prior}}, victims...)
	}
	summary, err := summarize(context.Background(), input)
	if err != nil {
		slog.Warn("history summarize failed, evicting instead",
			"session", sessionKey, "error", err)
		m.tailKeep(sessionKey)
		return false
	}

	lock := m.lock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.store.Messages(sessionKey)
	if err != nil {
		slog.Warn("history summarize: re-read failed", "session", sessionKey, "error", err)
		return false
	}
	if !hasPrefix(current, msgs) {
		// The transcript was rewritten mid-flight (eviction or clear);
		// the summary is stale, drop it.
		slog.Warn("history summarize: transcript changed, dropping summary", "session", sessionKey)
		return false
	}
	appended := current[len(msgs):]

	out := make([]providers.Message, 0, len(keep)+len(appended)+1)
	out = append(out, providers.Message{
		Role:    "system",
		Content: SummaryPrefix + strings.TrimSpace(summary),
	})
	out = append(out, keep...)
	out = append(out, appended...)
	if err := m.store.Replace(sessionKey, out); err != nil {
		slog.Warn("history summarize: replace failed", "session", sessionKey, "error", err)
		return false
	}
	return true
}

// tailKeep drops the oldest non-system messages until the cap holds.
func (m *Manager) tailKeep(sessionKey string) {
	lock := m.lock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := m.store.Messages(sessionKey)
	if err != nil {
		slog.Warn("history trim: read failed", "session", sessionKey, "error", err)
		return
	}
	excess := countNonSystem(msgs) - m.maxMessages
	if excess <= 0 {
		return
	}
	out := make([]providers.Message, 0, len(msgs)-excess)
	for _, msg := range msgs {
		if excess > 0 && msg.Role != "system" {
			excess--
			continue
		}
		out = append(out, msg)
	}
	out = Sanitize(out)
	if err := m.store.Replace(sessionKey, out); err != nil {
		slog.Warn("history trim: replace failed", "session", sessionKey, "error", err)
	}
}

// splitSummary separates an existing leading summary message from the
// rest of the non-system transcript.
func splitSummary(msgs []providers.Message) (summary string, rest []providers.Message) {
	for _, msg := range msgs {
		if msg.Role == "system" {
			if summary == "" && strings.HasPrefix(msg.Content, SummaryPrefix) {
				summary = msg.Content
			}
			continue
		}
		rest = append(rest, msg)
	}
	return summary, rest
}

// hasPrefix reports whether current still starts with the snapshot,
// i.e. only appends happened since it was taken.
func hasPrefix(current, snapshot []providers.Message) bool {
	if len(current) < len(snapshot) {
		return false
	}
	for i, msg := range snapshot {
		if current[i].Role != msg.Role || current[i].Content != msg.Content {
			return false
		}
	}
	return true
}

func countNonSystem(msgs []providers.Message) int {
	n := 0
	for _, msg := range msgs {
		if msg.Role != "system" {
			n++
		}
	}
	return n
}
