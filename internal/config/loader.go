package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"embeddings": {"openai", "ollama"},
}

// Supported prompt languages.
var validLanguages = []string{"en", "ur"}

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadOption customises [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookup LookupFunc
}

// WithEnv applies environment overrides resolved through lookup after the
// YAML is decoded and before defaults are filled in.
func WithEnv(lookup LookupFunc) LoadOption {
	return func(o *loadOptions) { o.lookup = lookup }
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Variables that are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Environment overrides from the process environment are applied.
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	opts = append([]LoadOption{WithEnv(os.LookupEnv)}, opts...)
	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies overrides and
// defaults, and validates the result. Without [WithEnv] the environment is
// not consulted, which keeps tests hermetic.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if o.lookup != nil {
		if err := ApplyEnv(cfg, o.lookup); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables understood by the clinic
// backend deployment onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error

	if v, ok := lookup("AGENT_API_BASE_URL"); ok && v != "" {
		cfg.SessionStore.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup("AGENT_API_TIMEOUT"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENT_API_TIMEOUT: %w", err))
		} else {
			cfg.SessionStore.Timeout = d
		}
	}
	if v, ok := lookup("AGENT_API_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENT_API_RETRIES: %w", err))
		} else {
			cfg.SessionStore.Retries = n
		}
	}
	if v, ok := lookup("KB_API_BASE_URL"); ok && v != "" {
		cfg.Knowledge.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.SessionStore.PostgresDSN = v
		if cfg.Knowledge.PostgresDSN == "" {
			cfg.Knowledge.PostgresDSN = v
		}
	}
	if v, ok := lookup("DB_POOL_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_POOL_SIZE: %w", err))
		} else {
			cfg.SessionStore.MaxConns = int32(n)
		}
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		setKey := func(e *ProviderEntry) {
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = v
			}
		}
		setKey(&cfg.Providers.LLM)
		setKey(&cfg.Providers.Embeddings)
		for i := range cfg.Providers.LLMFallbacks {
			setKey(&cfg.Providers.LLMFallbacks[i])
		}
	}
	if v, ok := lookup("OLLAMA_MODEL"); ok && v != "" {
		if cfg.Providers.LLM.Name == "ollama" {
			cfg.Providers.LLM.Model = v
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookup("TENANT_ID"); ok && v != "" {
		cfg.Tenant.ID = v
	}
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}

// parseSeconds accepts either a Go duration ("5s") or a bare number of
// seconds ("5", "2.5").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if lf := s.LogFile; lf != nil {
		if lf.MaxSizeMB == 0 {
			lf.MaxSizeMB = 100
		}
		if lf.MaxBackups == 0 {
			lf.MaxBackups = 3
		}
		if lf.MaxAgeDays == 0 {
			lf.MaxAgeDays = 28
		}
	}
	if s.SessionIdleTimeout == 0 {
		s.SessionIdleTimeout = 10 * time.Minute
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Tenant.ID == "" {
		cfg.Tenant.ID = "default"
	}

	ss := &cfg.SessionStore
	if ss.Backend == "" {
		ss.Backend = BackendHTTP
	}
	if ss.Timeout == 0 {
		ss.Timeout = 5 * time.Second
	}
	if ss.Retries == 0 {
		ss.Retries = 3
	}
	if ss.RetryBackoff == 0 {
		ss.RetryBackoff = 300 * time.Millisecond
	}
	if ss.MaxConns == 0 {
		ss.MaxConns = 10
	}
	if ss.WriteQueueSize == 0 {
		ss.WriteQueueSize = 64
	}

	kb := &cfg.Knowledge
	if kb.Backend == "" {
		kb.Backend = BackendHTTP
	}
	// The knowledge routes live on the same backend as the session routes.
	if kb.Backend == BackendHTTP && kb.BaseURL == "" {
		kb.BaseURL = ss.BaseURL
	}
	if kb.Timeout == 0 {
		kb.Timeout = 5 * time.Second
	}
	if kb.Breaker.MaxFailures == 0 {
		kb.Breaker.MaxFailures = 5
	}
	if kb.Breaker.ResetTimeout == 0 {
		kb.Breaker.ResetTimeout = 30 * time.Second
	}

	d := &cfg.Dialogue
	if d.Language == "" {
		d.Language = "en"
	}
	if d.ValidatorTimeout == 0 {
		d.ValidatorTimeout = 3 * time.Second
	}
	if d.FlushTimeout == 0 {
		d.FlushTimeout = 2 * time.Second
	}

	r := &cfg.RAG
	if r.TopK == 0 {
		r.TopK = 5
	}
	if r.FallbackTopK == 0 {
		r.FallbackTopK = 10
	}
	if r.FallbackQuery == "" {
		r.FallbackQuery = "clinic services timings doctors contact"
	}
	if r.Temperature == 0 {
		r.Temperature = 0.3
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = 256
	}
	if r.Timeout == 0 {
		r.Timeout = 15 * time.Second
	}
	if r.MaxSentences == 0 {
		r.MaxSentences = 3
	}

	if cfg.Memory.TTL == 0 {
		cfg.Memory.TTL = 30 * time.Second
	}
	if cfg.Memory.CleanupInterval == 0 {
		cfg.Memory.CleanupInterval = time.Minute
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "intake-agent"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if lf := cfg.Server.LogFile; lf != nil && lf.Path == "" {
		errs = append(errs, errors.New("server.log_file.path is required when log_file is set"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; knowledge answers will fall back to an apology and validation will accept every value")
	}

	// Session store
	ss := cfg.SessionStore
	switch ss.Backend {
	case BackendHTTP:
		if ss.BaseURL == "" {
			errs = append(errs, errors.New("session_store.base_url is required for the http backend (or set AGENT_API_BASE_URL)"))
		}
	case BackendPostgres:
		if ss.PostgresDSN == "" {
			errs = append(errs, errors.New("session_store.postgres_dsn is required for the postgres backend (or set DATABASE_URL)"))
		}
	case BackendMemory:
		slog.Warn("session_store.backend is memory; collected answers are lost on restart")
	default:
		errs = append(errs, fmt.Errorf("session_store.backend %q is invalid; valid values: http, postgres, memory", ss.Backend))
	}
	if ss.Retries < 1 {
		errs = append(errs, fmt.Errorf("session_store.retries must be at least 1, got %d", ss.Retries))
	}
	if ss.Timeout < 0 || ss.RetryBackoff < 0 {
		errs = append(errs, errors.New("session_store timeouts must not be negative"))
	}

	// Knowledge
	kb := cfg.Knowledge
	switch kb.Backend {
	case BackendHTTP:
		if kb.BaseURL == "" {
			errs = append(errs, errors.New("knowledge.base_url is required for the http backend (or set KB_API_BASE_URL)"))
		}
	case BackendPGVector:
		if kb.PostgresDSN == "" {
			errs = append(errs, errors.New("knowledge.postgres_dsn is required for the pgvector backend"))
		}
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("knowledge backend pgvector requires providers.embeddings"))
		}
	case BackendNone:
		slog.Warn("knowledge.backend is none; answers will not be grounded in clinic knowledge")
	default:
		errs = append(errs, fmt.Errorf("knowledge.backend %q is invalid; valid values: http, pgvector, none", kb.Backend))
	}

	// Dialogue
	if !slices.Contains(validLanguages, cfg.Dialogue.Language) {
		errs = append(errs, fmt.Errorf("dialogue.language %q is invalid; valid values: en, ur", cfg.Dialogue.Language))
	}

	// RAG
	r := cfg.RAG
	if r.TopK < 1 || r.FallbackTopK < 1 {
		errs = append(errs, fmt.Errorf("rag.top_k and rag.fallback_top_k must be positive, got %d and %d", r.TopK, r.FallbackTopK))
	}
	if r.MaxSentences < 1 {
		errs = append(errs, fmt.Errorf("rag.max_sentences must be positive, got %d", r.MaxSentences))
	}
	if p := r.BackchannelChance(); p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("rag.backchannel_probability %.2f is out of range [0, 1]", p))
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, fmt.Errorf("rag.temperature %.2f is out of range [0, 2]", r.Temperature))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
