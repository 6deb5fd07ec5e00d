package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching the values
// named in spec §3.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			BufferMaxTurns:           16,
			BufferMaxOverflow:        16,
			BufferTTLSeconds:         8,
			PreviousMessagesTurns:    3,
			TaskAgentMaxIterations:   4,
			ProcessingTimeoutSeconds: 60,
			SessionLockWaitSeconds:   1,
			HandlerTimeoutSeconds:    96,
			LLMCallTimeoutSeconds:    60,
			MaxRetries:               1,
			RetryDelaySeconds:        1,
			Prefetch:                 32,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5-20250929",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "taskloom",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env-var secrets.
// A missing file is not an error: defaults plus env overrides apply.
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

// applyEnvOverrides overlays secret env vars onto the config. Env vars
// always take precedence over file values and are the only source for
// any field tagged json:"-".
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TASKLOOM_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TASKLOOM_REDIS_URL", &c.Lock.RedisURL)
	envStr("TASKLOOM_AMQP_URL", &c.Broker.AMQPURL)
	envStr("TASKLOOM_S3_ACCESS_KEY_ID", &c.ObjectStore.AccessKeyID)
	envStr("TASKLOOM_S3_SECRET_ACCESS_KEY", &c.ObjectStore.SecretAccessKey)
	envStr("TASKLOOM_ANTHROPIC_API_KEY", &c.LLM.APIKey)
	envStr("TASKLOOM_ANTHROPIC_BASE_URL", &c.LLM.APIBase)
	envStr("TASKLOOM_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
}
