package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/piyushgupta53/featherbot-sub000/internal/bootstrap"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
	"github.com/piyushgupta53/featherbot-sub000/internal/history"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
	"github.com/piyushgupta53/featherbot-sub000/internal/tools"
)

// TimeoutText is the canned response for a turn that hit its deadline.
const TimeoutText = "Sorry, that took too long to process. Please try again."

// apologyText covers responses that sanitize down to nothing.
const apologyText = "Sorry, I couldn't produce a proper response to that."

// Config holds the loop's tunables.
type Config struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	MaxSteps         int
	MessageTimeoutMs int
	MaxMessageChars  int
	Verification     bool
}

// Loop runs agent turns: one inbound message (or direct invocation) in,
// one Result out. History access is serialized per session by the
// callers (the session queue guarantees no two turns per session
// overlap).
type Loop struct {
	client   providers.Client
	history  *history.Manager
	builder  *bootstrap.Builder
	tools    *tools.Registry
	verifier *Verifier
	cfg      Config
	tracer   trace.Tracer

	// Per-session one-time history clear for first conversations.
	clearedFirst sync.Map // sessionKey -> struct{}

	// Called after every completed turn; errors inside are swallowed.
	onStepFinish func(sessionKey string, res *Result)
}

// New creates a Loop. A nil registry disables tools; verification is
// active only when cfg.Verification is set.
func New(client providers.Client, hist *history.Manager, builder *bootstrap.Builder, registry *tools.Registry, cfg Config) *Loop {
	if cfg.Model == "" {
		cfg.Model = client.DefaultModel()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 20
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 32000
	}
	l := &Loop{
		client:  client,
		history: hist,
		builder: builder,
		tools:   registry,
		cfg:     cfg,
		tracer:  otel.Tracer("featherbot/agent"),
	}
	if cfg.Verification {
		l.verifier = NewVerifier(client, cfg.Model)
	}
	return l
}

// SetOnStepFinish installs the per-turn completion callback.
func (l *Loop) SetOnStepFinish(fn func(sessionKey string, res *Result)) {
	l.onStepFinish = fn
}

// Opts customizes a ProcessDirect invocation.
type Opts struct {
	SystemPromptOverride string
	SessionKey           string
	Channel              string
	ChatID               string
	SkipHistory          bool
	MaxSteps             int

	// Tools replaces the loop's registry for this turn (restricted
	// sub-agent views). Nil keeps the default.
	Tools *tools.Registry
}

// ProcessMessage runs one turn for an inbound channel message. Errors
// are encoded in the Result, never returned.
func (l *Loop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) *Result {
	return l.run(ctx, msg.Content, Opts{
		SessionKey: bus.SessionKey(msg.Channel, msg.ChatID),
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
	})
}

// ProcessDirect runs a turn outside the normal inbound flow (scheduler,
// heartbeat, sub-agents, memory extraction).
func (l *Loop) ProcessDirect(ctx context.Context, text string, opts Opts) *Result {
	if opts.SessionKey == "" {
		opts.SessionKey = bus.SessionKey("direct", "direct")
	}
	return l.run(ctx, text, opts)
}

// History returns a raw snapshot of the session transcript.
func (l *Loop) History(sessionKey string) ([]providers.Message, error) {
	return l.history.RawMessages(sessionKey)
}

// InjectMessage appends a message to a session transcript without
// running a turn (sub-agent completion records, scheduler notes).
func (l *Loop) InjectMessage(sessionKey string, msg providers.Message) error {
	return l.history.Add(sessionKey, msg)
}

// Close shuts down the history backend.
func (l *Loop) Close() error {
	return l.history.Close()
}

func (l *Loop) run(ctx context.Context, userText string, opts Opts) (res *Result) {
	ctx, span := l.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session", opts.SessionKey),
		attribute.String("model", l.cfg.Model),
	))
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("finish_reason", res.FinishReason),
				attribute.Int("steps", res.Steps),
			)
		}
		span.End()
		l.stepFinish(opts.SessionKey, res)
	}()

	if l.cfg.MessageTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(l.cfg.MessageTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	// Oversized input is truncated with a notice the model can act on.
	if len(userText) > l.cfg.MaxMessageChars {
		original := len(userText)
		userText = userText[:l.cfg.MaxMessageChars] +
			fmt.Sprintf("\n\n[Message truncated from %d to %d characters.]", original, l.cfg.MaxMessageChars)
		slog.Warn("inbound message truncated", "session", opts.SessionKey,
			"original_len", original, "max", l.cfg.MaxMessageChars)
	}

	systemPrompt := opts.SystemPromptOverride
	if systemPrompt == "" {
		bctx := l.builder.Build(bootstrap.Session{Channel: opts.Channel, ChatID: opts.ChatID})
		systemPrompt = bctx.SystemPrompt

		// A fresh user profile means any stored transcript belongs to a
		// previous installation; clear it exactly once per session key.
		if bctx.IsFirstConversation && !opts.SkipHistory {
			if _, done := l.clearedFirst.LoadOrStore(opts.SessionKey, struct{}{}); !done {
				if err := l.history.Clear(opts.SessionKey); err != nil {
					slog.Warn("first-conversation history clear failed",
						"session", opts.SessionKey, "error", err)
				}
			}
		}
	}

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}
	if !opts.SkipHistory {
		snapshot, err := l.history.Messages(opts.SessionKey)
		if err != nil {
			slog.Warn("history read failed, continuing without context",
				"session", opts.SessionKey, "error", err)
		} else {
			messages = append(messages, snapshot...)
		}
	}
	messages = append(messages, providers.Message{Role: "user", Content: userText})

	maxSteps := l.cfg.MaxSteps
	if opts.MaxSteps > 0 {
		maxSteps = opts.MaxSteps
	}

	req := providers.Request{
		Model:       l.cfg.Model,
		Messages:    messages,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
		MaxSteps:    maxSteps,
	}
	registry := l.tools
	if opts.Tools != nil {
		registry = opts.Tools
	}
	if registry != nil && maxSteps > 1 && registry.Len() > 0 {
		req.Tools = registry.Definitions()
		req.ToolExecutor = registry.Execute
	}

	resp, err := l.client.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Timed-out turns leave no trace in history.
			slog.Warn("agent turn timed out", "session", opts.SessionKey,
				"timeout_ms", l.cfg.MessageTimeoutMs)
			return errorResult(TimeoutText)
		}
		span.RecordError(err)
		slog.Error("provider call failed", "session", opts.SessionKey, "error", err)
		// The error text is persisted so the next turn can see and recover.
		res = errorResult("[LLM Error] " + err.Error())
		if !opts.SkipHistory {
			l.persistTurn(opts.SessionKey, userText, res)
		}
		return res
	}

	res = &Result{
		Text:         resp.Text,
		Usage:        resp.Usage,
		Steps:        len(resp.ToolCalls) + 1,
		FinishReason: resp.FinishReason,
		ToolCalls:    resp.ToolCalls,
		ToolResults:  resp.ToolResults,
	}
	if res.FinishReason == "" {
		res.FinishReason = FinishStop
	}

	if l.verifier != nil && res.FinishReason != FinishError && strings.TrimSpace(res.Text) != "" {
		res.Text, _ = l.verifier.Verify(ctx, res.Text, res.ToolCalls, res.ToolResults)
	}

	res.Text = l.ensureVisibleText(res)

	if !opts.SkipHistory {
		l.persistTurn(opts.SessionKey, userText, res)
	}
	return res
}

// ensureVisibleText guarantees a non-empty user-facing string: strip
// model artifacts, fall back to a tool summary, then a generic apology.
func (l *Loop) ensureVisibleText(res *Result) string {
	text := sanitizeAssistantText(res.Text)
	if text != "" {
		return text
	}
	if len(res.ToolCalls) > 0 {
		return toolSummary(res)
	}
	return apologyText
}

// toolSummary synthesizes a one-line report from the tool activity of a
// turn whose final text came back empty.
func toolSummary(res *Result) string {
	names := make([]string, 0, len(res.ToolCalls))
	for _, call := range res.ToolCalls {
		names = append(names, call.Name)
	}
	summary := "Done. Used " + strings.Join(names, ", ")
	if len(res.ToolResults) > 0 {
		last := strings.TrimSpace(res.ToolResults[len(res.ToolResults)-1].Content)
		if len(last) > 200 {
			last = last[:200] + "..."
		}
		if last != "" {
			summary += ". Last result: " + last
		}
	}
	return summary
}

// persistTurn appends the turn to history: the user message, the tool
// activity (with evicted results reduced to their pointer line), and the
// final assistant text. Session metadata is touched on success.
func (l *Loop) persistTurn(sessionKey, userText string, res *Result) {
	add := func(msg providers.Message) {
		if err := l.history.Add(sessionKey, msg); err != nil {
			slog.Warn("history append failed", "session", sessionKey,
				"role", msg.Role, "error", err)
		}
	}

	add(providers.Message{Role: "user", Content: userText})

	if len(res.ToolCalls) > 0 {
		add(providers.Message{Role: "assistant", ToolCalls: res.ToolCalls})
		for _, tr := range res.ToolResults {
			content := tr.Content
			if tools.IsEvictedPointer(content) {
				content = tools.PointerOnly(content)
			}
			add(providers.Message{Role: "tool", Content: content, ToolCallID: tr.ToolCallID})
		}
	}

	add(providers.Message{Role: "assistant", Content: res.Text})

	if err := l.history.Touch(sessionKey); err != nil {
		slog.Debug("session touch failed", "session", sessionKey, "error", err)
	}
}

// stepFinish invokes the completion callback, containing panics and
// ignoring its errors.
func (l *Loop) stepFinish(sessionKey string, res *Result) {
	if l.onStepFinish == nil || res == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("onStepFinish panicked", "session", sessionKey, "panic", r)
		}
	}()
	l.onStepFinish(sessionKey, res)
}
