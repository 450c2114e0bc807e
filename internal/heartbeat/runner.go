package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
)

// SkipSentinel is the exact reply the agent uses to decline a proactive send.
const SkipSentinel = "SKIP"

// fillerPatterns are short non-answers treated as a skip.
var fillerPatterns = []string{
	"nothing actionable",
	"nothing to report",
	"nothing new",
	"no updates",
	"no new updates",
	"all good",
	"everything is on track",
}

const systemPrompt = `You are running a scheduled self-check. Review the checklist below against what you know.
If something genuinely needs the user's attention right now, reply with the exact message to send them. Keep it short.
If nothing needs attention, reply with exactly: SKIP`

// Processor runs an agent turn outside the inbound flow.
type Processor interface {
	ProcessDirect(ctx context.Context, text string, opts agent.Opts) *agent.Result
}

// Deliver publishes one proactive message to the user.
type Deliver func(content string) error

// Runner is the heartbeat OnTick callback: it runs the self-check turn
// and enforces the cooldown, the daily cap, and the skip sentinel.
type Runner struct {
	processor Processor
	deliver   Deliver
	state     *State
	cooldown  time.Duration
	dailyCap  int
	location  func() *time.Location // user timezone for the calendar-day cap
}

// NewRunner wires a runner. A nil location func pins the daily cap to UTC.
func NewRunner(processor Processor, deliver Deliver, state *State, cooldown time.Duration, dailyCap int, location func() *time.Location) *Runner {
	if location == nil {
		location = func() *time.Location { return time.UTC }
	}
	return &Runner{
		processor: processor,
		deliver:   deliver,
		state:     state,
		cooldown:  cooldown,
		dailyCap:  dailyCap,
		location:  location,
	}
}

// OnTick is the Service callback.
func (r *Runner) OnTick(ctx context.Context, content string) error {
	now := time.Now()
	if last := r.state.LastSentAt(); !last.IsZero() && now.Sub(last) < r.cooldown {
		slog.Debug("heartbeat in cooldown", "since_last", now.Sub(last), "cooldown", r.cooldown)
		return nil
	}
	if sent := r.state.SentToday(now, r.location()); sent >= r.dailyCap {
		slog.Debug("heartbeat daily cap reached", "sent", sent, "cap", r.dailyCap)
		return nil
	}

	res := r.processor.ProcessDirect(ctx, r.prompt(content), agent.Opts{
		SystemPromptOverride: systemPrompt,
		SessionKey:           "heartbeat:heartbeat",
		SkipHistory:          true,
	})
	if res.FinishReason == agent.FinishError {
		return fmt.Errorf("heartbeat turn failed: %s", res.Text)
	}

	text := strings.TrimSpace(res.Text)
	if ShouldSkip(text) {
		slog.Debug("heartbeat skipped by agent")
		return nil
	}

	if err := r.deliver(text); err != nil {
		return fmt.Errorf("heartbeat delivery: %w", err)
	}
	if err := r.state.RecordSend(summarize(text), now); err != nil {
		slog.Warn("heartbeat state persist failed", "error", err)
	}
	slog.Info("heartbeat delivered proactive message", "len", len(text))
	return nil
}

// prompt builds the self-check input: the checklist plus the recent-send
// log so the agent avoids repeating itself.
func (r *Runner) prompt(content string) string {
	var sb strings.Builder
	sb.WriteString("Checklist:\n")
	sb.WriteString(content)
	if sends := r.state.RecentSends(); len(sends) > 0 {
		sb.WriteString("\n\nRecently sent (do not repeat):\n")
		for _, rec := range sends {
			fmt.Fprintf(&sb, "- %s: %s\n", rec.SentAt.Format("2006-01-02 15:04"), rec.Summary)
		}
	}
	return sb.String()
}

// ShouldSkip reports whether a self-check reply declines to send: the
// SKIP sentinel, or a short filler non-answer.
func ShouldSkip(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(strings.ToUpper(trimmed), SkipSentinel) {
		return true
	}
	if len(trimmed) <= 100 {
		lower := strings.ToLower(trimmed)
		for _, p := range fillerPatterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

func summarize(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return text
}
