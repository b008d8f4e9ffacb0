package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Unknown llm, stt and tts names only produce a warning since a third-party
// factory may be registered for them. Unknown correction names are errors.
var ValidProviderNames = map[string][]string{
	"llm":        {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper"},
	"tts":        {"elevenlabs", "openai"},
	"correction": {CorrectionLLM, CorrectionGrammarBot, CorrectionRemote},
}

var (
	historyBackends  = []string{BackendMemory, BackendPostgres, BackendSQLite, BackendRedis}
	accountsBackends = []string{BackendMemory, BackendPostgres, BackendSQLite}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} references are expanded from the environment before
// decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("tts", cfg.TTS.Name)

	seen := make(map[string]int, len(cfg.Correction.Backends))
	for i, b := range cfg.Correction.Backends {
		prefix := fmt.Sprintf("correction.backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[b.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of correction.backends[%d]", prefix, b.Name, prev))
		}
		seen[b.Name] = i
		switch b.Name {
		case CorrectionLLM:
			if cfg.LLM.Name == "" {
				errs = append(errs, fmt.Errorf("%s: backend %q requires the llm section", prefix, b.Name))
			}
		case CorrectionGrammarBot:
			if b.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s.api_key is required for grammarbot", prefix))
			}
		case CorrectionRemote:
			if b.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for remote", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: %v", prefix, b.Name, ValidProviderNames["correction"]))
		}
	}
	if cfg.Correction.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("correction.breaker.max_failures must not be negative"))
	}
	if cfg.Correction.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("correction.breaker.reset_timeout must not be negative"))
	}

	p := cfg.Playback
	if p.Rate != 0 && (p.Rate < 0.1 || p.Rate > 10) {
		errs = append(errs, fmt.Errorf("playback.rate %.2f is out of range [0.1, 10]", p.Rate))
	}
	if p.Pitch < 0 || p.Pitch > 2 {
		errs = append(errs, fmt.Errorf("playback.pitch %.2f is out of range [0, 2]", p.Pitch))
	}
	if p.Volume < 0 || p.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", p.Volume))
	}
	if cfg.Capture.Timeout < 0 {
		errs = append(errs, errors.New("capture.timeout must not be negative"))
	}

	h := cfg.History
	if h.Backend != "" && !slices.Contains(historyBackends, h.Backend) {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: %v", h.Backend, historyBackends))
	}
	if h.Backend != "" && h.Backend != BackendMemory && h.DSN == "" {
		errs = append(errs, fmt.Errorf("history.dsn is required for backend %q", h.Backend))
	}
	if h.SaveTimeout < 0 {
		errs = append(errs, errors.New("history.save_timeout must not be negative"))
	}

	a := cfg.Accounts
	if a.Backend != "" && !slices.Contains(accountsBackends, a.Backend) {
		errs = append(errs, fmt.Errorf("accounts.backend %q is invalid; valid values: %v", a.Backend, accountsBackends))
	}
	if a.Backend != "" && a.Backend != BackendMemory && a.DSN == "" {
		errs = append(errs, fmt.Errorf("accounts.dsn is required for backend %q", a.Backend))
	}
	if a.BcryptCost != 0 && (a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost) {
		errs = append(errs, fmt.Errorf("accounts.bcrypt_cost %d is out of range [%d, %d]", a.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if known := ValidProviderNames[kind]; !slices.Contains(known, name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
