// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for the VoxFix server.
package config

import "time"

// LogLevel controls log verbosity.
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

// History and account storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Correction backend names understood by the application.
const (
	// CorrectionLLM prompts the provider configured in the llm section.
	CorrectionLLM = "llm"

	// CorrectionGrammarBot calls the GrammarBot check API.
	CorrectionGrammarBot = "grammarbot"

	// CorrectionRemote posts to a self-hosted correction endpoint.
	CorrectionRemote = "remote"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Correction CorrectionConfig `yaml:"correction"`
	LLM        ProviderEntry    `yaml:"llm"`
	STT        ProviderEntry    `yaml:"stt"`
	TTS        ProviderEntry    `yaml:"tts"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Capture    CaptureConfig    `yaml:"capture"`
	History    HistoryConfig    `yaml:"history"`
	Accounts   AccountsConfig   `yaml:"accounts"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SessionIdleTimeout closes sessions nobody touched for this long.
	// Default: 30m.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// TLSConfig holds paths to the certificate and private key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry names a backend and carries its credentials and tuning.
// Options holds backend-specific settings that have no dedicated field.
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" if absent or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// CorrectionConfig lists the correction backends in priority order. Later
// backends are only used while earlier ones are failing.
type CorrectionConfig struct {
	Backends []ProviderEntry `yaml:"backends"`
	Breaker  BreakerConfig   `yaml:"breaker"`

	// Timeout bounds a single correction request. Default: 20s.
	Timeout time.Duration `yaml:"timeout"`
}

// BreakerConfig tunes the per-backend circuit breakers. Zero values take the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PlaybackConfig holds the fixed synthesis parameters.
type PlaybackConfig struct {
	Rate   float64 `yaml:"rate"`
	Pitch  float64 `yaml:"pitch"`
	Volume float64 `yaml:"volume"`
	Voice  string  `yaml:"voice"`
}

// CaptureConfig tunes voice capture.
type CaptureConfig struct {
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HistoryConfig selects the chat history store.
type HistoryConfig struct {
	// Backend is one of memory, postgres, sqlite or redis. Default: memory.
	Backend string `yaml:"backend"`

	// DSN is the postgres connection string, the sqlite file path or the
	// redis URL, depending on Backend.
	DSN string `yaml:"dsn"`

	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`

	// SaveTimeout bounds a background save after a correction. Default: 10s.
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// AccountsConfig selects the user account store.
type AccountsConfig struct {
	// Backend is one of memory, postgres or sqlite. Default: memory.
	Backend string `yaml:"backend"`

	// DSN falls back to history.dsn when both sections use the same backend.
	DSN string `yaml:"dsn"`

	// BcryptCost overrides the bcrypt work factor.
	BcryptCost int `yaml:"bcrypt_cost"`
}

// Default returns the configuration used when no file is given: an
// in-memory server on :8080 correcting through Gemini.
func Default() *Config {
	cfg := &Config{
		LLM: ProviderEntry{Name: "gemini"},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.SessionIdleTimeout == 0 {
		cfg.Server.SessionIdleTimeout = 30 * time.Minute
	}
	if len(cfg.Correction.Backends) == 0 {
		cfg.Correction.Backends = []ProviderEntry{{Name: CorrectionLLM}}
	}
	if cfg.Correction.Timeout == 0 {
		cfg.Correction.Timeout = 20 * time.Second
	}
	if cfg.Playback.Rate == 0 {
		cfg.Playback.Rate = 1
	}
	if cfg.Playback.Pitch == 0 {
		cfg.Playback.Pitch = 1
	}
	if cfg.Playback.Volume == 0 {
		cfg.Playback.Volume = 1
	}
	if cfg.Capture.Language == "" {
		cfg.Capture.Language = "en-US"
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = BackendMemory
	}
	if cfg.History.SaveTimeout == 0 {
		cfg.History.SaveTimeout = 10 * time.Second
	}
	if cfg.Accounts.Backend == "" {
		cfg.Accounts.Backend = BackendMemory
	}
	if cfg.Accounts.DSN == "" && cfg.Accounts.Backend == cfg.History.Backend {
		cfg.Accounts.DSN = cfg.History.DSN
	}
}
