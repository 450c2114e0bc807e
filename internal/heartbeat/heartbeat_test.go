package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

func newTestWorkspace(t *testing.T, heartbeatContent string) *workspace.Workspace {
	t.Helper()
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if heartbeatContent != "" {
		if err := os.WriteFile(filepath.Join(dir, "HEARTBEAT.md"), []byte(heartbeatContent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return ws
}

func TestServiceDoesNotFireImmediately(t *testing.T) {
	ws := newTestWorkspace(t, "check things")
	var ticks atomic.Int32
	svc := NewService(ws, "HEARTBEAT.md", time.Hour, func(_ context.Context, _ string) error {
		ticks.Add(1)
		return nil
	})
	svc.Start()
	defer svc.Stop()
	time.Sleep(100 * time.Millisecond)
	if n := ticks.Load(); n != 0 {
		t.Fatalf("fired %d times before the first interval", n)
	}
}

func TestServiceSkipsMissingAndEmptyFile(t *testing.T) {
	for _, content := range []string{"", "   \n\t  "} {
		ws := newTestWorkspace(t, content)
		var ticks atomic.Int32
		svc := NewService(ws, "HEARTBEAT.md", 30*time.Millisecond, func(_ context.Context, _ string) error {
			ticks.Add(1)
			return nil
		})
		svc.Start()
		time.Sleep(120 * time.Millisecond)
		svc.Stop()
		if n := ticks.Load(); n != 0 {
			t.Fatalf("content %q: callback ran %d times", content, n)
		}
	}
}

func TestServiceSkipsWhileBusy(t *testing.T) {
	ws := newTestWorkspace(t, "check things")
	var mu sync.Mutex
	starts := 0
	release := make(chan struct{})
	svc := NewService(ws, "HEARTBEAT.md", 30*time.Millisecond, func(_ context.Context, _ string) error {
		mu.Lock()
		starts++
		first := starts == 1
		mu.Unlock()
		if first {
			<-release
		}
		return nil
	})
	svc.Start()
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	n := starts
	mu.Unlock()
	close(release)
	svc.Stop()
	if n != 1 {
		t.Fatalf("overlapping ticks: %d starts while first was blocked", n)
	}
}

type fakeProcessor struct {
	text string
	mu   sync.Mutex
	runs int
}

func (p *fakeProcessor) ProcessDirect(_ context.Context, _ string, _ agent.Opts) *agent.Result {
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	return &agent.Result{Text: p.text, FinishReason: agent.FinishStop}
}

func newTestRunner(t *testing.T, text string, delivered *[]string) (*Runner, *fakeProcessor, *State) {
	t.Helper()
	proc := &fakeProcessor{text: text}
	state := LoadState(filepath.Join(t.TempDir(), "heartbeat.json"))
	r := NewRunner(proc, func(content string) error {
		*delivered = append(*delivered, content)
		return nil
	}, state, 2*time.Hour, 5, nil)
	return r, proc, state
}

func TestRunnerDeliversAndRecords(t *testing.T) {
	var delivered []string
	r, _, state := newTestRunner(t, "You have a meeting in 10 minutes.", &delivered)

	if err := r.OnTick(context.Background(), "calendar check"); err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 1 || delivered[0] != "You have a meeting in 10 minutes." {
		t.Fatalf("delivered = %v", delivered)
	}
	if state.LastSentAt().IsZero() || len(state.RecentSends()) != 1 {
		t.Fatalf("state not recorded: last=%v sends=%v", state.LastSentAt(), state.RecentSends())
	}
}

func TestRunnerHonorsSkipSentinel(t *testing.T) {
	var delivered []string
	r, _, _ := newTestRunner(t, "SKIP", &delivered)

	if err := r.OnTick(context.Background(), "calendar check"); err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 0 {
		t.Fatalf("SKIP reply was delivered: %v", delivered)
	}
}

func TestRunnerCooldownSuppressesTurn(t *testing.T) {
	var delivered []string
	r, proc, state := newTestRunner(t, "another ping", &delivered)
	if err := state.RecordSend("first ping", time.Now().Add(-30*time.Minute)); err != nil {
		t.Fatal(err)
	}

	if err := r.OnTick(context.Background(), "calendar check"); err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 0 || proc.runs != 0 {
		t.Fatalf("cooldown violated: delivered=%v runs=%d", delivered, proc.runs)
	}
}

func TestRunnerDailyCap(t *testing.T) {
	var delivered []string
	r, _, state := newTestRunner(t, "ping", &delivered)
	r.cooldown = 0
	for i := 0; i < 5; i++ {
		if err := state.RecordSend("old", time.Now().Add(-time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.OnTick(context.Background(), "calendar check"); err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 0 {
		t.Fatalf("daily cap violated: %v", delivered)
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"SKIP", true},
		{"skip", true},
		{"SKIP — nothing today", true},
		{"", true},
		{"Nothing actionable right now.", true},
		{"No updates.", true},
		{"All good!", true},
		{"You have a package arriving today.", false},
		// Filler phrases inside a long substantive reply do not skip.
		{"There are no updates on the flight, but your visa appointment moved to Friday 9am — you need to confirm by tomorrow and bring the new form.", false},
	}
	for _, tt := range tests {
		if got := ShouldSkip(tt.text); got != tt.want {
			t.Fatalf("ShouldSkip(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	s := LoadState(path)
	at := time.Now().Truncate(time.Second)
	if err := s.RecordSend("hello", at); err != nil {
		t.Fatal(err)
	}

	reloaded := LoadState(path)
	if !reloaded.LastSentAt().Equal(at) {
		t.Fatalf("lastSent = %v, want %v", reloaded.LastSentAt(), at)
	}
	if sends := reloaded.RecentSends(); len(sends) != 1 || sends[0].Summary != "hello" {
		t.Fatalf("sends = %v", sends)
	}
}

func TestStateBoundsRecentSends(t *testing.T) {
	s := LoadState(filepath.Join(t.TempDir(), "heartbeat.json"))
	for i := 0; i < maxRecentSends+10; i++ {
		if err := s.RecordSend("msg", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.RecentSends()); n != maxRecentSends {
		t.Fatalf("recent sends = %d, want %d", n, maxRecentSends)
	}
}
