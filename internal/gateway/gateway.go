package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/bootstrap"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
	"github.com/piyushgupta53/featherbot-sub000/internal/channels"
	"github.com/piyushgupta53/featherbot-sub000/internal/config"
	"github.com/piyushgupta53/featherbot-sub000/internal/cron"
	"github.com/piyushgupta53/featherbot-sub000/internal/heartbeat"
	"github.com/piyushgupta53/featherbot-sub000/internal/history"
	"github.com/piyushgupta53/featherbot-sub000/internal/memory"
	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
	"github.com/piyushgupta53/featherbot-sub000/internal/queue"
	"github.com/piyushgupta53/featherbot-sub000/internal/subagent"
	"github.com/piyushgupta53/featherbot-sub000/internal/telemetry"
	"github.com/piyushgupta53/featherbot-sub000/internal/tools"
	"github.com/piyushgupta53/featherbot-sub000/internal/transcribe"
	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

// route is the conversation scheduled work falls back to when a job or
// heartbeat has no configured destination.
type route struct {
	channel string
	chatID  string
}

// Gateway wires every runtime component together and owns their
// lifecycle.
type Gateway struct {
	cfg     *config.Config
	ws      *workspace.Workspace
	bus     *bus.MessageBus
	builder *bootstrap.Builder
	loop    *agent.Loop
	queue   *queue.SessionQueue
	adapter *Adapter

	channelMgr *channels.Manager
	cronSvc    *cron.Service
	cronTool   *cron.Tool
	spawnTool  *subagent.SpawnTool
	heartbeatS *heartbeat.Service
	supervisor *subagent.Supervisor
	extractor  *memory.Extractor

	transcriber transcribe.Transcriber

	mu        sync.Mutex
	lastRoute route
	userLoc   *time.Location

	inboundSub   int
	outboundSub  int
	shutdownOTel func(context.Context) error
}

// New builds the full runtime from config and an LLM client. Nothing
// runs until Start.
func New(ctx context.Context, cfg *config.Config, client providers.Client) (*Gateway, error) {
	ws, err := workspace.New(cfg.Agent.Workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if seeded, err := bootstrap.EnsureWorkspaceFiles(ws.Root()); err != nil {
		return nil, fmt.Errorf("seed workspace: %w", err)
	} else if len(seeded) > 0 {
		slog.Info("workspace files seeded", "files", seeded)
	}

	shutdownOTel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	g := &Gateway{
		cfg:          cfg,
		ws:           ws,
		bus:          bus.NewMessageBus(),
		builder:      bootstrap.NewBuilder(ws),
		channelMgr:   channels.NewManager(),
		shutdownOTel: shutdownOTel,
	}
	g.refreshUserLocation()

	hist, err := g.buildHistory(client)
	if err != nil {
		return nil, err
	}

	registry := g.buildRegistry()
	g.loop = agent.New(client, hist, g.builder, registry, agent.Config{
		Model:            cfg.Agent.Model,
		Temperature:      cfg.Agent.Temperature,
		MaxTokens:        cfg.Agent.MaxTokens,
		MaxSteps:         cfg.Agent.MaxSteps,
		MessageTimeoutMs: cfg.Agent.MessageTimeoutMs,
		MaxMessageChars:  cfg.Gateway.MaxMessageChars,
		Verification:     cfg.Agent.Verification,
	})

	g.queue = queue.New(func(ctx context.Context, msg bus.InboundMessage) (*agent.Result, error) {
		return g.loop.ProcessMessage(ctx, msg), nil
	}, time.Duration(cfg.Queue.DebounceMs)*time.Millisecond)
	g.adapter = NewAdapter(g.bus, g.queue.Process, cfg.Gateway.RateLimitRPM, cfg.Gateway.OwnerIDs)

	if err := g.buildScheduler(registry); err != nil {
		return nil, err
	}
	g.buildSupervisor(registry)
	g.buildHeartbeat()
	g.buildMemory()

	if cfg.Transcribe.Enabled {
		g.transcriber = transcribe.NewHTTPClient(cfg.Transcribe.Endpoint, cfg.Transcribe.Model, cfg.Transcribe.APIKey)
	}

	if cfg.Channels.Terminal.Enabled {
		if err := g.channelMgr.Register(channels.NewTerminalChannel(g.bus)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gateway) buildHistory(client providers.Client) (*history.Manager, error) {
	var store history.Store
	switch g.cfg.History.Backend {
	case "", "sqlite":
		path, err := g.ws.Resolve(g.cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history path: %w", err)
		}
		store, err = history.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	case "memory":
		store = history.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown history backend %q", g.cfg.History.Backend)
	}

	mgr := history.NewManager(store, g.cfg.History.MaxMessages)
	if g.cfg.History.Summarize {
		model := g.cfg.Agent.Model
		mgr.SetSummarizer(func(ctx context.Context, msgs []providers.Message) (string, error) {
			return summarizeMessages(ctx, client, model, msgs)
		})
	}
	return mgr, nil
}

func (g *Gateway) buildRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	evictor := tools.NewEvictor(g.ws.Root(),
		g.cfg.Tools.Evictor.MaxChars, g.cfg.Tools.Evictor.HeadChars, g.cfg.Tools.Evictor.TailChars)
	evictor.CleanOnStartup()
	registry.SetEvictor(evictor)

	for _, t := range []tools.Tool{
		tools.NewReadFileTool(g.ws),
		tools.NewWriteFileTool(g.ws),
		tools.NewListDirTool(g.ws),
		tools.NewExecTool(g.ws.Root()),
	} {
		if err := registry.Register(t); err != nil {
			slog.Error("tool registration failed", "tool", t.Name(), "error", err)
		}
	}
	return registry
}

func (g *Gateway) buildScheduler(registry *tools.Registry) error {
	if !g.cfg.Cron.Enabled {
		return nil
	}
	storePath, err := g.ws.Resolve(g.cfg.Cron.StorePath)
	if err != nil {
		return fmt.Errorf("cron store path: %w", err)
	}
	svc, err := cron.NewService(cron.NewStore(storePath), g.onJobFire)
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}
	g.cronSvc = svc
	g.cronTool = cron.NewTool(svc)
	if err := registry.Register(g.cronTool); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) buildSupervisor(registry *tools.Registry) {
	g.supervisor = subagent.NewSupervisor(g.loop, registry, func(channel, chatID, content string) error {
		g.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
		return nil
	}, g.cfg.Subagents.MaxConcurrent, time.Duration(g.cfg.Subagents.TimeoutSec)*time.Second)

	g.spawnTool = subagent.NewSpawnTool(g.supervisor, func(channel, chatID string) (string, string) {
		parent := ""
		if msgs, err := g.loop.History(bus.SessionKey(channel, chatID)); err == nil {
			parent = subagent.CaptureParentContext(msgs)
		}
		memoryCtx, _ := g.ws.ReadFile(workspace.MemoryFile)
		if len(memoryCtx) > 4000 {
			memoryCtx = memoryCtx[len(memoryCtx)-4000:]
		}
		return parent, memoryCtx
	})
	if err := registry.Register(g.spawnTool); err != nil {
		slog.Error("tool registration failed", "tool", "spawn", "error", err)
	}
	if err := registry.Register(subagent.NewStatusTool(g.supervisor)); err != nil {
		slog.Error("tool registration failed", "tool", "subagent_status", "error", err)
	}
}

func (g *Gateway) buildHeartbeat() {
	if !g.cfg.Heartbeat.Enabled {
		return
	}
	statePath, err := g.ws.Resolve(workspace.DataDir + "/heartbeat-state.json")
	if err != nil {
		slog.Error("heartbeat state path", "error", err)
		return
	}
	runner := heartbeat.NewRunner(
		g.loop,
		g.deliverHeartbeat,
		heartbeat.LoadState(statePath),
		time.Duration(g.cfg.Heartbeat.CooldownMs)*time.Millisecond,
		g.cfg.Heartbeat.DailyCap,
		g.userLocation,
	)
	g.heartbeatS = heartbeat.NewService(g.ws, bootstrap.HeartbeatFile,
		time.Duration(g.cfg.Heartbeat.IntervalMs)*time.Millisecond, runner.OnTick)
}

func (g *Gateway) buildMemory() {
	if !g.cfg.Memory.Enabled {
		return
	}
	g.extractor = memory.NewExtractor(g.loop, g.ws,
		time.Duration(g.cfg.Memory.IdleMs)*time.Millisecond, g.cfg.Memory.MinMessages)
}

// Transcriber returns the voice transcription client, or nil when
// transcription is disabled. Channel adapters use it for audio media.
func (g *Gateway) Transcriber() transcribe.Transcriber {
	return g.transcriber
}

// Bus exposes the message bus for channel adapters registered by the
// caller.
func (g *Gateway) Bus() *bus.MessageBus {
	return g.bus
}

// RegisterChannel adds an externally constructed channel adapter.
func (g *Gateway) RegisterChannel(ch channels.Channel) error {
	return g.channelMgr.Register(ch)
}

// Start brings the runtime up: bus plumbing first, then scheduler,
// heartbeat, and channels.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.adapter.Start(); err != nil {
		return err
	}

	outSub, err := g.bus.Subscribe(bus.KindOutbound, func(ev bus.Event) error {
		if ev.Outbound != nil {
			g.channelMgr.Dispatch(context.Background(), *ev.Outbound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.outboundSub = outSub

	inSub, err := g.bus.Subscribe(bus.KindInbound, func(ev bus.Event) error {
		if ev.Inbound != nil {
			g.observeInbound(*ev.Inbound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.inboundSub = inSub

	if g.cronSvc != nil {
		g.cronSvc.Start()
	}
	if g.heartbeatS != nil {
		g.heartbeatS.Start()
	}
	if err := g.channelMgr.StartAll(ctx); err != nil {
		return err
	}
	slog.Info("gateway started", "channels", g.channelMgr.Names())
	return nil
}

// Stop tears the runtime down in reverse: channels, heartbeat,
// scheduler, extractor, queue, loop, bus.
func (g *Gateway) Stop(ctx context.Context) {
	g.channelMgr.StopAll(ctx)
	if g.heartbeatS != nil {
		g.heartbeatS.Stop()
	}
	if g.cronSvc != nil {
		g.cronSvc.Stop()
	}
	if g.extractor != nil {
		g.extractor.Dispose()
	}
	g.queue.Dispose()
	g.adapter.Stop()
	g.bus.Unsubscribe(bus.KindInbound, g.inboundSub)
	g.bus.Unsubscribe(bus.KindOutbound, g.outboundSub)
	if err := g.loop.Close(); err != nil {
		slog.Warn("history close failed", "error", err)
	}
	g.builder.Close()
	g.bus.Close()
	if g.shutdownOTel != nil {
		if err := g.shutdownOTel(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}
	slog.Info("gateway stopped")
}

// observeInbound runs on every inbound event: it tracks the last active
// route, keeps the cached timezone and tool routing context fresh, and
// schedules memory extraction.
func (g *Gateway) observeInbound(msg bus.InboundMessage) {
	g.mu.Lock()
	g.lastRoute = route{channel: msg.Channel, chatID: msg.ChatID}
	g.mu.Unlock()

	g.refreshUserLocation()
	if g.cronTool != nil {
		g.cronTool.SetRoute(msg.Channel, msg.ChatID)
		g.cronTool.SetUserLocation(g.userLocation())
	}
	if g.spawnTool != nil {
		g.spawnTool.SetRoute(msg.Channel, msg.ChatID)
	}

	if g.extractor != nil {
		key := bus.SessionKey(msg.Channel, msg.ChatID)
		if memory.IsCorrectionSignal(msg.Content) {
			g.extractor.ScheduleUrgent(key)
		} else {
			g.extractor.Schedule(key)
		}
	}
}

// onJobFire runs a scheduled job as an agent turn and delivers the
// result to the job's route (or the last active conversation).
func (g *Gateway) onJobFire(ctx context.Context, job *cron.Job) error {
	channel, chatID := job.Payload.Channel, job.Payload.ChatID
	if channel == "" || chatID == "" {
		channel, chatID = g.fallbackRoute()
	}
	if channel == "" || chatID == "" {
		return fmt.Errorf("job %s has no delivery route", job.ID)
	}

	text := fmt.Sprintf("[Scheduled task %q fired] %s", job.Name, job.Payload.Message)
	res := g.loop.ProcessDirect(ctx, text, agent.Opts{
		SessionKey: bus.SessionKey(channel, chatID),
		Channel:    channel,
		ChatID:     chatID,
	})
	if res.FinishReason == agent.FinishError {
		return fmt.Errorf("job turn failed: %s", res.Text)
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil
	}
	g.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: res.Text})
	return nil
}

// deliverHeartbeat publishes a proactive message to the configured
// heartbeat route, falling back to the last active conversation.
func (g *Gateway) deliverHeartbeat(content string) error {
	channel, chatID := g.cfg.Heartbeat.Channel, g.cfg.Heartbeat.ChatID
	if channel == "" || chatID == "" {
		channel, chatID = g.fallbackRoute()
	}
	if channel == "" || chatID == "" {
		return fmt.Errorf("no route for proactive message")
	}
	g.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	return nil
}

func (g *Gateway) fallbackRoute() (string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRoute.channel, g.lastRoute.chatID
}

// refreshUserLocation re-reads the timezone from the user profile,
// falling back to the configured default.
func (g *Gateway) refreshUserLocation() {
	tz := ""
	if g.builder != nil {
		tz = bootstrap.UserTimezone(g.builder.UserProfile())
	}
	if tz == "" {
		tz = g.cfg.Agent.Timezone
	}
	if tz == "" {
		return
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.userLoc = loc
	g.mu.Unlock()
}

func (g *Gateway) userLocation() *time.Location {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.userLoc == nil {
		return time.UTC
	}
	return g.userLoc
}

// summarizeMessages condenses a history span for the rolling summary.
func summarizeMessages(ctx context.Context, client providers.Client, model string, msgs []providers.Message) (string, error) {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		content := m.Content
		if len(content) > 1000 {
			content = content[:1000] + "..."
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, content)
	}
	res, err := client.Generate(ctx, providers.Request{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the conversation below in a few sentences. Keep names, dates, decisions and open tasks."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
