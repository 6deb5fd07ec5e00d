package config

import "sync"

// Config is the root configuration for the taskloom engine.
type Config struct {
	Project     ProjectConfig     `json:"project"`
	Database    DatabaseConfig    `json:"database,omitempty"`
	Lock        LockConfig        `json:"lock,omitempty"`
	Broker      BrokerConfig      `json:"broker,omitempty"`
	ObjectStore ObjectStoreConfig `json:"object_store,omitempty"`
	LLM         LLMConfig         `json:"llm,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	mu          sync.RWMutex
}

// ProjectConfig holds the tunables named in spec §3, all with defaults.
type ProjectConfig struct {
	BufferMaxTurns         int `json:"buffer_max_turns"`
	BufferMaxOverflow      int `json:"buffer_max_overflow"`
	BufferTTLSeconds       int `json:"buffer_ttl_seconds"`
	PreviousMessagesTurns  int `json:"previous_messages_turns"`
	TaskAgentMaxIterations int `json:"task_agent_max_iterations"`

	// ProcessingTimeoutSeconds is the session lock's TTL (§3: "Session
	// Lock... TTL = processing-timeout (default 60s)").
	ProcessingTimeoutSeconds int `json:"processing_timeout_seconds"`
	// SessionLockWaitSeconds is the insert-retry parking TTL and the
	// flush_session spin-wait interval (§4.5, §6).
	SessionLockWaitSeconds int `json:"session_lock_wait_seconds"`
	// HandlerTimeoutSeconds is the outer broker-handler timeout (§5,
	// default 96s).
	HandlerTimeoutSeconds int `json:"handler_timeout_seconds"`
	// LLMCallTimeoutSeconds is the per-completion-call timeout setting
	// (§5, default 60s). No caller reads it: a completion call is bounded
	// only by the context it runs under.
	LLMCallTimeoutSeconds int `json:"llm_call_timeout_seconds"`
	// MaxRetries bounds broker redelivery attempts before dead-lettering
	// (§7, default 1).
	MaxRetries int `json:"max_retries"`
	// RetryDelaySeconds is the base of the quadratic backoff
	// retry_delay × attempt² (§5).
	RetryDelaySeconds int `json:"retry_delay_seconds"`
	// Prefetch is the global per-consumer prefetch count (§5, default 32).
	Prefetch int `json:"prefetch"`
}

// DatabaseConfig configures Postgres. PostgresDSN is never read from the
// config file — only from env TASKLOOM_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

// LockConfig configures the Redis-backed session lock.
type LockConfig struct {
	RedisURL string `json:"-"` // env TASKLOOM_REDIS_URL only
	DB       int    `json:"db,omitempty"`
}

// BrokerConfig configures the AMQP broker connection.
type BrokerConfig struct {
	AMQPURL string `json:"-"` // env TASKLOOM_AMQP_URL only
}

// ObjectStoreConfig configures the S3-compatible message-parts store.
type ObjectStoreConfig struct {
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty"`
	AccessKeyID     string `json:"-"` // env TASKLOOM_S3_ACCESS_KEY_ID
	SecretAccessKey string `json:"-"` // env TASKLOOM_S3_SECRET_ACCESS_KEY
}

// LLMConfig configures the task-agent's LLM provider.
type LLMConfig struct {
	Provider string `json:"provider,omitempty"` // "anthropic" (only supported provider)
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"-"` // env TASKLOOM_ANTHROPIC_API_KEY
	APIBase  string `json:"api_base,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	MetricsAddr  string `json:"metrics_addr,omitempty"` // Prometheus scrape listener
}

// Snapshot returns a copy of the project tunables for safe concurrent
// reads against a config value shared across consumer goroutines.
func (c *Config) Snapshot() ProjectConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Project
}
