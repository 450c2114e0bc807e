package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("FEATHERBOT_WORKSPACE", &c.Agent.Workspace)
	envStr("FEATHERBOT_MODEL", &c.Agent.Model)
	envStr("FEATHERBOT_TIMEZONE", &c.Agent.Timezone)
	envInt("FEATHERBOT_DEBOUNCE_MS", &c.Queue.DebounceMs)

	// Provider secrets only ever arrive via env.
	envStr("FEATHERBOT_API_KEY", &c.Provider.APIKey)
	envStr("FEATHERBOT_API_BASE", &c.Provider.APIBase)
	envStr("FEATHERBOT_PROVIDER", &c.Provider.Name)

	envStr("FEATHERBOT_HISTORY_BACKEND", &c.History.Backend)
	envStr("FEATHERBOT_HISTORY_PATH", &c.History.Path)

	envStr("FEATHERBOT_CRON_STORE", &c.Cron.StorePath)
	envBool("FEATHERBOT_HEARTBEAT_ENABLED", &c.Heartbeat.Enabled)

	// Transcription secrets only ever arrive via env.
	envStr("FEATHERBOT_TRANSCRIBE_API_KEY", &c.Transcribe.APIKey)
	envStr("FEATHERBOT_TRANSCRIBE_ENDPOINT", &c.Transcribe.Endpoint)
	if c.Transcribe.APIKey != "" && c.Transcribe.Endpoint != "" {
		c.Transcribe.Enabled = true
	}

	envStr("FEATHERBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FEATHERBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("FEATHERBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("FEATHERBOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Owner IDs from env (comma-separated).
	if v := os.Getenv("FEATHERBOT_OWNER_IDS"); v != "" {
		parts := strings.Split(v, ",")
		ids := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
		c.Gateway.OwnerIDs = ids
	}
}
