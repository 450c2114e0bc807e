package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want 500", cfg.Queue.DebounceMs)
	}
	if cfg.History.Backend != "sqlite" {
		t.Errorf("History.Backend = %q, want sqlite", cfg.History.Backend)
	}
	if cfg.Heartbeat.DailyCap != 5 {
		t.Errorf("Heartbeat.DailyCap = %d, want 5", cfg.Heartbeat.DailyCap)
	}
}

func TestLoadJSON5OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	// JSON5: comments and trailing commas are fine.
	content := `{
		// coalesce fast typers a bit longer
		queue: { debounce_ms: 900 },
		agent: { max_steps: 8, },
		heartbeat: { enabled: true, chat_id: "owner" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.DebounceMs != 900 {
		t.Errorf("DebounceMs = %d, want 900", cfg.Queue.DebounceMs)
	}
	if cfg.Agent.MaxSteps != 8 {
		t.Errorf("MaxSteps = %d, want 8", cfg.Agent.MaxSteps)
	}
	if !cfg.Heartbeat.Enabled || cfg.Heartbeat.ChatID != "owner" {
		t.Errorf("heartbeat not applied: %+v", cfg.Heartbeat)
	}
	// Untouched sections keep defaults.
	if cfg.Agent.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want default 8192", cfg.Agent.MaxTokens)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FEATHERBOT_DEBOUNCE_MS", "250")
	t.Setenv("FEATHERBOT_MODEL", "test-model")
	t.Setenv("FEATHERBOT_OWNER_IDS", "alice, bob")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.DebounceMs != 250 {
		t.Errorf("DebounceMs = %d, want 250", cfg.Queue.DebounceMs)
	}
	if cfg.Agent.Model != "test-model" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
	if len(cfg.Gateway.OwnerIDs) != 2 || cfg.Gateway.OwnerIDs[1] != "bob" {
		t.Errorf("OwnerIDs = %v", cfg.Gateway.OwnerIDs)
	}
}

func TestTranscribeAutoEnable(t *testing.T) {
	t.Setenv("FEATHERBOT_TRANSCRIBE_API_KEY", "k")
	t.Setenv("FEATHERBOT_TRANSCRIBE_ENDPOINT", "https://asr.example/v1/audio/transcriptions")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Transcribe.Enabled {
		t.Error("transcribe should auto-enable when endpoint and key are set")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs should hash equal")
	}
	b.Queue.DebounceMs = 1
	if a.Hash() == b.Hash() {
		t.Fatal("different configs should hash differently")
	}
}
