// Package config holds the runtime configuration for featherbot.
// Config is loaded once at startup from a JSON5 file and overlaid with
// FEATHERBOT_* environment variables; secrets only ever come from env.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultAgentID is the agent used when no per-agent override matches.
const DefaultAgentID = "default"

// Config is the root configuration.
type Config struct {
	mu sync.RWMutex

	Agent      AgentConfig      `json:"agent"`
	Provider   ProviderConfig   `json:"provider"`
	Queue      QueueConfig      `json:"queue"`
	History    HistoryConfig    `json:"history"`
	Gateway    GatewayConfig    `json:"gateway"`
	Channels   ChannelsConfig   `json:"channels"`
	Cron       CronConfig       `json:"cron"`
	Heartbeat  HeartbeatConfig  `json:"heartbeat"`
	Subagents  SubagentsConfig  `json:"subagents"`
	Memory     MemoryConfig     `json:"memory"`
	Transcribe TranscribeConfig `json:"transcribe"`
	Tools      ToolsConfig      `json:"tools"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// AgentConfig controls the agent loop and model parameters.
type AgentConfig struct {
	Workspace        string  `json:"workspace"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	MaxSteps         int     `json:"max_steps"`
	MessageTimeoutMs int     `json:"message_timeout_ms"`
	Verification     bool    `json:"verification"`
	Timezone         string  `json:"timezone"`
}

// ProviderConfig selects the LLM backend. The API key only ever
// arrives via env.
type ProviderConfig struct {
	Name    string `json:"name"`     // e.g. "openai", "openrouter"
	APIBase string `json:"api_base"` // OpenAI-compatible endpoint base
	APIKey  string `json:"-"`
}

// QueueConfig controls per-session burst coalescing.
type QueueConfig struct {
	DebounceMs int `json:"debounce_ms"`
}

// HistoryConfig controls conversation persistence and trimming.
type HistoryConfig struct {
	Backend     string `json:"backend"` // "sqlite", "memory"
	Path        string `json:"path"`
	MaxMessages int    `json:"max_messages"`
	Summarize   bool   `json:"summarize"`
}

// GatewayConfig controls the composition root.
type GatewayConfig struct {
	MaxMessageChars int      `json:"max_message_chars"`
	RateLimitRPM    int      `json:"rate_limit_rpm"`
	OwnerIDs        []string `json:"owner_ids,omitempty"`
}

// ChannelsConfig enables channel adapters. Protocol-level settings live
// with the adapter implementations, not here.
type ChannelsConfig struct {
	Terminal TerminalConfig `json:"terminal"`
}

// TerminalConfig configures the built-in terminal channel.
type TerminalConfig struct {
	Enabled bool `json:"enabled"`
}

// CronConfig controls the scheduler.
type CronConfig struct {
	Enabled   bool   `json:"enabled"`
	StorePath string `json:"store_path"`
}

// HeartbeatConfig controls periodic proactive self-invocation.
type HeartbeatConfig struct {
	Enabled    bool   `json:"enabled"`
	IntervalMs int    `json:"interval_ms"`
	CooldownMs int    `json:"cooldown_ms"`
	DailyCap   int    `json:"daily_cap"`
	Channel    string `json:"channel"`
	ChatID     string `json:"chat_id"`
}

// SubagentsConfig controls background task spawning.
type SubagentsConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
	TimeoutSec    int `json:"timeout_sec"`
}

// MemoryConfig controls the long-term memory extractor.
type MemoryConfig struct {
	Enabled     bool `json:"enabled"`
	IdleMs      int  `json:"idle_ms"`
	MinMessages int  `json:"min_messages"`
}

// TranscribeConfig configures the voice transcription client.
type TranscribeConfig struct {
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	APIKey         string `json:"-"` // env only, never persisted
	MaxDurationSec int    `json:"max_duration_sec"`
}

// ToolsConfig controls the tool registry and result eviction.
type ToolsConfig struct {
	Evictor EvictorConfig `json:"evictor"`
}

// EvictorConfig bounds oversized tool results.
type EvictorConfig struct {
	MaxChars  int `json:"max_chars"`
	HeadChars int `json:"head_chars"`
	TailChars int `json:"tail_chars"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:        "~/.featherbot/workspace",
			Temperature:      0.7,
			MaxTokens:        8192,
			MaxSteps:         20,
			MessageTimeoutMs: 300000,
		},
		Queue: QueueConfig{
			DebounceMs: 500,
		},
		Provider: ProviderConfig{
			Name: "openai",
		},
		History: HistoryConfig{
			Backend:     "sqlite",
			Path:        "data/history.db", // workspace-relative
			MaxMessages: 100,
			Summarize:   true,
		},
		Gateway: GatewayConfig{
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Channels: ChannelsConfig{
			Terminal: TerminalConfig{Enabled: true},
		},
		Cron: CronConfig{
			Enabled:   true,
			StorePath: "data/cron.json", // workspace-relative
		},
		Heartbeat: HeartbeatConfig{
			IntervalMs: 30 * 60 * 1000,
			CooldownMs: 2 * 60 * 60 * 1000,
			DailyCap:   5,
		},
		Subagents: SubagentsConfig{
			MaxConcurrent: 5,
			TimeoutSec:    600,
		},
		Memory: MemoryConfig{
			Enabled:     true,
			IdleMs:      120000,
			MinMessages: 4,
		},
		Transcribe: TranscribeConfig{
			Model:          "whisper-1",
			MaxDurationSec: 600,
		},
		Tools: ToolsConfig{
			Evictor: EvictorConfig{
				MaxChars:  30000,
				HeadChars: 2000,
				TailChars: 2000,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "featherbot",
		},
	}
}

// Hash returns a short content hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
