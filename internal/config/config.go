// Package config provides the configuration schema, loader, and provider
// registry for the clinic intake agent.
package config

import "time"

// LogLevel controls log verbosity for the agent.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend names a collaborator implementation selected in config.
type Backend string

const (
	// BackendHTTP talks to the clinic backend's JSON API.
	BackendHTTP Backend = "http"

	// BackendPostgres talks to PostgreSQL directly.
	BackendPostgres Backend = "postgres"

	// BackendPGVector runs similarity search over a pgvector table.
	BackendPGVector Backend = "pgvector"

	// BackendMemory keeps everything in process. Useful for demos and tests.
	BackendMemory Backend = "memory"

	// BackendNone disables the collaborator.
	BackendNone Backend = "none"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tenant       TenantConfig       `yaml:"tenant"`
	Providers    ProvidersConfig    `yaml:"providers"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Dialogue     DialogueConfig     `yaml:"dialogue"`
	RAG          RAGConfig          `yaml:"rag"`
	Memory       MemoryConfig       `yaml:"memory"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// LogFile enables a rotating log file next to stderr. When nil, logs go
	// to stderr only.
	LogFile *LogFileConfig `yaml:"log_file"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins"`

	// SessionIdleTimeout ends calls that received no utterance for this long.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogFileConfig configures log rotation.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TenantConfig identifies the clinic this agent instance serves.
type TenantConfig struct {
	// ID is passed to the session store and knowledge collaborator. Calls may
	// override it per request.
	ID string `yaml:"id"`

	// ClinicName is substituted into prompts that mention the clinic.
	ClinicName string `yaml:"clinic_name"`
}

// ProvidersConfig declares which provider implementation to use for the
// generative model and the embeddings model. Each entry selects a named
// provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// SessionStoreConfig selects and tunes the session persistence backend.
type SessionStoreConfig struct {
	// Backend is one of http, postgres or memory.
	Backend Backend `yaml:"backend"`

	// BaseURL is the clinic backend root (e.g., "http://localhost:8000").
	// Required for the http backend.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the total number of attempts per call.
	Retries int `yaml:"retries"`

	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// PostgresDSN is required for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxConns caps the pgx pool size.
	MaxConns int32 `yaml:"max_conns"`

	// OutboxPath is the SQLite file that records writes which could not be
	// delivered. Empty disables the outbox.
	OutboxPath string `yaml:"outbox_path"`

	// WriteQueueSize is the per-call buffered write queue length.
	WriteQueueSize int `yaml:"write_queue_size"`
}

// KnowledgeConfig selects and tunes the knowledge collaborator.
type KnowledgeConfig struct {
	// Backend is one of http, pgvector or none.
	Backend Backend `yaml:"backend"`

	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	PostgresDSN string        `yaml:"postgres_dsn"`

	// Breaker guards the http backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DialogueConfig tunes the intake state machine.
type DialogueConfig struct {
	// ScriptPath overrides the embedded prompt script.
	ScriptPath string `yaml:"script_path"`

	// Language is the default prompt language ("en" or "ur").
	Language string `yaml:"language"`

	// LLMValidation enables the model second opinion on rejected values.
	// Nil means enabled.
	LLMValidation *bool `yaml:"llm_validation"`

	// ValidatorTimeout bounds one model plausibility check.
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`

	// FlushTimeout bounds how long the confirmation read-back waits for
	// pending writes.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// LLMValidationEnabled reports whether rejected values get a model second
// opinion.
func (d DialogueConfig) LLMValidationEnabled() bool {
	return d.LLMValidation == nil || *d.LLMValidation
}

// RAGConfig tunes the knowledge-grounded responder.
type RAGConfig struct {
	TopK         int `yaml:"top_k"`
	FallbackTopK int `yaml:"fallback_top_k"`

	// FallbackQuery is sent when the literal question retrieved nothing.
	FallbackQuery string `yaml:"fallback_query"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// MaxSentences clamps spoken answers.
	MaxSentences int `yaml:"max_sentences"`

	// BackchannelProbability is the coin-flip weight once the pacing rules
	// allow a backchannel. Nil means 0.5; 0 disables backchannels.
	BackchannelProbability *float64 `yaml:"backchannel_probability"`
}

// BackchannelChance returns the configured backchannel probability.
func (r RAGConfig) BackchannelChance() float64 {
	if r.BackchannelProbability == nil {
		return 0.5
	}
	return *r.BackchannelProbability
}

// MemoryConfig tunes the per-call collected-data cache.
type MemoryConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TelemetryConfig controls OpenTelemetry setup.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the Prometheus exporter and the /metrics endpoint.
	// Nil means enabled.
	Metrics *bool `yaml:"metrics"`

	// OTLPEndpoint is the host:port of an OTLP/HTTP trace collector such as
	// Jaeger. Empty keeps spans in-process (trace IDs still reach the logs).
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure sends traces over plain HTTP.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// MetricsEnabled reports whether /metrics is served.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}
