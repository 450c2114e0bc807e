// Package heartbeat implements the periodic self-check: a timer that
// reads a workspace content file and asks the agent whether anything
// needs proactive attention, with a cooldown and a daily send cap.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

// OnTick runs one heartbeat turn over the content file. Errors are
// logged; the timer keeps running.
type OnTick func(ctx context.Context, content string) error

// Service fires OnTick at a fixed interval. The first tick happens one
// full interval after Start; overlapping ticks are skipped.
type Service struct {
	ws       *workspace.Workspace
	file     string
	interval time.Duration
	onTick   OnTick

	busy   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a heartbeat reading the given workspace-relative
// file on each tick.
func NewService(ws *workspace.Workspace, file string, interval time.Duration, onTick OnTick) *Service {
	return &Service{ws: ws, file: file, interval: interval, onTick: onTick}
}

// Start launches the timer loop.
func (s *Service) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	slog.Info("heartbeat started", "interval", s.interval, "file", s.file)
}

// Stop halts the timer and waits for the loop to exit. An in-flight
// tick observes the cancelled context.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		slog.Debug("heartbeat tick skipped, previous still running")
		return
	}
	defer s.busy.Store(false)

	content, err := s.ws.ReadFile(s.file)
	if err != nil {
		slog.Warn("heartbeat file read failed", "file", s.file, "error", err)
		return
	}
	if strings.TrimSpace(content) == "" {
		slog.Debug("heartbeat file empty, skipping tick", "file", s.file)
		return
	}

	if err := s.onTick(ctx, content); err != nil {
		slog.Error("heartbeat tick failed", "error", err)
	}
}
