// Package config provides gateway configuration management with hot-reload
// support. It uses fsnotify to watch for file changes and atomic pointer
// swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/infergate/infergate/pkg/provider"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    Server             `yaml:"server"`
	Providers []ProviderSettings `yaml:"providers"`
	Routing   Routing            `yaml:"routing"`
	Stages    []StageSettings    `yaml:"stages"`
	RateLimit RateLimit          `yaml:"rate_limit"`
	Auth      Auth               `yaml:"auth"`
	Logging   Logging            `yaml:"logging"`
	Metrics   Metrics            `yaml:"metrics"`
	Tracing   Tracing            `yaml:"tracing"`
	Audit     Audit              `yaml:"audit"`
	Archive   Archive            `yaml:"archive"`
	Secrets   Secrets            `yaml:"secrets"`
}

// Server contains HTTP server settings.
type Server struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderSettings defines a single inference backend.
type ProviderSettings struct {
	// ID is the routing identity. Defaults to Type when empty.
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	// Kind overrides the backend's serving profile ("interactive" or
	// "batch"). Empty keeps the backend type's default.
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	// APIKey may be a literal value or a secret reference such as
	// env://NAME or vault://secret/data/path#field.
	APIKey  string            `yaml:"api_key"`
	Enabled *bool             `yaml:"enabled"`
	Timeout time.Duration     `yaml:"timeout"`
	Models  []string          `yaml:"models"`
	Headers map[string]string `yaml:"headers"`
}

// ProviderID returns the routing identity for this entry.
func (p ProviderSettings) ProviderID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Type
}

// IsEnabled reports whether the backend participates in routing. Entries
// that omit the field are enabled.
func (p ProviderSettings) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Routing contains decision engine and ledger settings.
type Routing struct {
	// EWMAAlpha is the smoothing factor for the performance averages.
	EWMAAlpha float64 `yaml:"ewma_alpha"`

	// AvailabilityTTL is how long a reachability probe verdict stays fresh.
	AvailabilityTTL time.Duration `yaml:"availability_ttl"`

	FallbackEnabled bool          `yaml:"fallback_enabled"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`

	PreferSpeed    bool `yaml:"prefer_speed"`
	PreferAccuracy bool `yaml:"prefer_accuracy"`

	// Backend preferences by provider id. Empty means no preference.
	ChatPreference      string `yaml:"chat_preference"`
	EmbeddingPreference string `yaml:"embedding_preference"`
	BatchPreference     string `yaml:"batch_preference"`
	ToolPreference      string `yaml:"tool_preference"`

	// Model name patterns that classify models as small or large.
	SmallModelPattern string `yaml:"small_model_pattern"`
	LargeModelPattern string `yaml:"large_model_pattern"`

	Ledger Ledger `yaml:"ledger"`
}

// Ledger selects where performance records live.
type Ledger struct {
	// Backend is "memory" or "redis". Redis shares records across gateway
	// replicas.
	Backend string `yaml:"backend"`
	Redis   Redis  `yaml:"redis"`
}

// Redis contains redis connection settings.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StageSettings overrides one pipeline stage recommendation.
type StageSettings struct {
	Stage      string  `yaml:"stage"`
	Provider   string  `yaml:"provider"`
	Reason     string  `yaml:"reason"`
	Confidence float64 `yaml:"confidence"`
	Fallback   string  `yaml:"fallback"`

	// BatchingEligible marks stages whose inputs may share one provider
	// call; Parallelizable marks stages whose inputs may fan out.
	BatchingEligible bool `yaml:"batching_eligible"`
	Parallelizable   bool `yaml:"parallelizable"`
}

// RateLimit defines rate limiting parameters for the HTTP surface.
type RateLimit struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// Auth contains admin endpoint authentication settings.
type Auth struct {
	Enabled bool `yaml:"enabled"`
	// JWTSecret may be a literal value or a secret reference.
	JWTSecret string `yaml:"jwt_secret"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Metrics contains Prometheus metrics settings.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Tracing contains OpenTelemetry tracing settings.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g. "localhost:4317")
	ServiceName string  `yaml:"service_name"` // service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // no TLS on the OTLP connection
}

// Audit contains routing decision audit trail settings.
type Audit struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "memory" or "postgres".
	Backend string `yaml:"backend"`
	// MemoryCapacity bounds the in-memory ring. Oldest records are evicted.
	MemoryCapacity int `yaml:"memory_capacity"`
	// Retention is how long records are kept before purging. Zero keeps
	// them forever.
	Retention time.Duration `yaml:"retention"`
	Postgres  Postgres      `yaml:"postgres"`
}

// Postgres contains postgres connection settings.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Archive contains S3 decision archive settings.
type Archive struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint      string        `yaml:"endpoint"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// Secrets contains secret resolution settings.
type Secrets struct {
	VaultAddr  string        `yaml:"vault_addr"`
	VaultToken string        `yaml:"vault_token"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Routing: Routing{
			EWMAAlpha:       0.1,
			AvailabilityTTL: 30 * time.Second,
			FallbackEnabled: true,
			FallbackTimeout: 30 * time.Second,
			PreferAccuracy:  true,
			Ledger: Ledger{
				Backend: "memory",
				Redis: Redis{
					Addr:      "localhost:6379",
					KeyPrefix: "infergate",
				},
			},
		},
		RateLimit: RateLimit{
			Enabled:           false,
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: Tracing{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "infergate",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Audit: Audit{
			Enabled:        true,
			Backend:        "memory",
			MemoryCapacity: 1024,
			Postgres: Postgres{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Archive: Archive{
			Enabled:       false,
			Prefix:        "decisions",
			Region:        "us-east-1",
			FlushInterval: 30 * time.Second,
			BatchSize:     128,
		},
		Secrets: Secrets{
			CacheTTL: 5 * time.Minute,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	cfg, _, err := loadFile(path)
	return cfg, err
}

func loadFile(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validate config: %w", err)
	}

	return cfg, checksum(data), nil
}

// Validate checks the configuration for errors, including cross-section
// references such as stage plans naming unknown providers.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider[%d]: type is required", i)
		}
		if p.Kind != "" && p.Kind != "interactive" && p.Kind != "batch" {
			return fmt.Errorf("provider[%d] %q: kind must be \"interactive\" or \"batch\", got %q", i, p.ProviderID(), p.Kind)
		}
		if p.BaseURL != "" {
			if err := provider.ValidateBaseURL(p.BaseURL); err != nil {
				return fmt.Errorf("provider[%d] %q: %w", i, p.ProviderID(), err)
			}
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.ProviderID())
		}
		if ids[p.ProviderID()] {
			return fmt.Errorf("provider[%d]: id %q is used twice", i, p.ProviderID())
		}
		ids[p.ProviderID()] = true
	}

	if c.Routing.EWMAAlpha <= 0 || c.Routing.EWMAAlpha > 1 {
		return fmt.Errorf("routing.ewma_alpha must be in (0, 1], got %g", c.Routing.EWMAAlpha)
	}
	if c.Routing.AvailabilityTTL < 0 {
		return fmt.Errorf("routing.availability_ttl cannot be negative")
	}
	if c.Routing.FallbackTimeout < 0 {
		return fmt.Errorf("routing.fallback_timeout cannot be negative")
	}
	switch c.Routing.Ledger.Backend {
	case "", "memory":
	case "redis":
		if c.Routing.Ledger.Redis.Addr == "" {
			return fmt.Errorf("routing.ledger.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("routing.ledger.backend must be \"memory\" or \"redis\", got %q", c.Routing.Ledger.Backend)
	}

	for i, s := range c.Stages {
		if s.Stage == "" {
			return fmt.Errorf("stages[%d]: stage is required", i)
		}
		if s.Provider == "" {
			return fmt.Errorf("stages[%d] %q: provider is required", i, s.Stage)
		}
		if !ids[s.Provider] {
			return fmt.Errorf("stages[%d] %q: provider %q is not configured", i, s.Stage, s.Provider)
		}
		if s.Fallback != "" && !ids[s.Fallback] {
			return fmt.Errorf("stages[%d] %q: fallback %q is not configured", i, s.Stage, s.Fallback)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("stages[%d] %q: confidence must be in [0, 1], got %g", i, s.Stage, s.Confidence)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}
	if c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("rate_limit.burst_size cannot be negative")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1], got %g", c.Tracing.SampleRate)
	}

	if c.Audit.Enabled {
		switch c.Audit.Backend {
		case "", "memory":
			if c.Audit.MemoryCapacity < 0 {
				return fmt.Errorf("audit.memory_capacity cannot be negative")
			}
		case "postgres":
			pg := c.Audit.Postgres
			if pg.Host == "" {
				return fmt.Errorf("audit.postgres.host is required for the postgres backend")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				return fmt.Errorf("invalid audit.postgres.port: %d", pg.Port)
			}
			if pg.User == "" {
				return fmt.Errorf("audit.postgres.user is required for the postgres backend")
			}
			if pg.Database == "" {
				return fmt.Errorf("audit.postgres.database is required for the postgres backend")
			}
		default:
			return fmt.Errorf("audit.backend must be \"memory\" or \"postgres\", got %q", c.Audit.Backend)
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archiving is enabled")
		}
		if c.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be positive")
		}
		if c.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be positive")
		}
	}

	return nil
}
