package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/correction/grammarbot"
	"github.com/MrWong99/voxfix/internal/correction/llmcorrect"
	"github.com/MrWong99/voxfix/internal/correction/remote"
	"github.com/MrWong99/voxfix/internal/history"
	historypg "github.com/MrWong99/voxfix/internal/history/postgres"
	historyredis "github.com/MrWong99/voxfix/internal/history/redis"
	historysqlite "github.com/MrWong99/voxfix/internal/history/sqlite"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/resilience"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
	"github.com/MrWong99/voxfix/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxfix/pkg/provider/llm/openai"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
	"github.com/MrWong99/voxfix/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxfix/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxfix/pkg/provider/tts"
	"github.com/MrWong99/voxfix/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voxfix/pkg/provider/tts/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every backend that ships with VoxFix into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every hosted any-llm backend takes an optional APIKey and BaseURL.
	for _, providerName := range []string{
		"gemini", "anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama runs locally; BaseURL is the address and there is no key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, oatts.WithDefaultVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	// ── Correction ────────────────────────────────────────────────────────────
	// The "llm" backend needs the llm provider and is built in buildProviders.

	reg.RegisterCorrection(config.CorrectionGrammarBot, func(entry config.ProviderEntry) (correction.Client, error) {
		var opts []grammarbot.Option
		if entry.BaseURL != "" {
			opts = append(opts, grammarbot.WithEndpoint(entry.BaseURL))
		}
		if host := entry.Option("host"); host != "" {
			opts = append(opts, grammarbot.WithHost(host))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, grammarbot.WithLanguage(lang))
		}
		return grammarbot.New(entry.APIKey, opts...)
	})

	reg.RegisterCorrection(config.CorrectionRemote, func(entry config.ProviderEntry) (correction.Client, error) {
		var opts []remote.Option
		if shape := entry.Option("shape"); shape != "" {
			opts = append(opts, remote.WithShape(remote.Shape(shape)))
		}
		if entry.APIKey != "" {
			opts = append(opts, remote.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	// ── History ───────────────────────────────────────────────────────────────

	reg.RegisterHistory(config.BackendPostgres, func(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
		store, closeFn, err := historypg.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { closeFn(); return nil }, nil
	})

	reg.RegisterHistory(config.BackendSQLite, func(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
		store, err := historysqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	})

	reg.RegisterHistory(config.BackendRedis, func(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
		var opts []historyredis.Option
		if cfg.Prefix != "" {
			opts = append(opts, historyredis.WithPrefix(cfg.Prefix))
		}
		store, err := historyredis.Open(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	})
}

// buildProviders instantiates the providers named in cfg and assembles the
// guarded correction chain in configured priority order.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			return nil, createErr(reg, "llm", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.LLM.Model)
	}

	if name := cfg.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.STT)
		if err != nil {
			return nil, createErr(reg, "stt", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			return nil, createErr(reg, "tts", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	backends := make([]correction.Backend, 0, len(cfg.Correction.Backends))
	for _, entry := range cfg.Correction.Backends {
		client, err := createCorrection(entry, reg, ps.LLM)
		if err != nil {
			return nil, createErr(reg, "correction", entry.Name, err)
		}
		backends = append(backends, correction.Backend{Name: entry.Name, Client: client})
		slog.Info("provider created", "kind", "correction", "name", entry.Name)
	}

	guarded, err := correction.NewGuarded(backends,
		correction.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Correction.Breaker.MaxFailures,
			ResetTimeout: cfg.Correction.Breaker.ResetTimeout,
		}),
		correction.WithTimeout(cfg.Correction.Timeout),
		correction.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	ps.Correction = guarded
	return ps, nil
}

// createErr names the registered alternatives when name is unknown.
func createErr(reg *config.Registry, kind, name string, err error) error {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return fmt.Errorf("create %s %q: %w (available: %s)", kind, name, err, strings.Join(reg.Names(kind), ", "))
	}
	return fmt.Errorf("create %s %q: %w", kind, name, err)
}

func createCorrection(entry config.ProviderEntry, reg *config.Registry, provider llm.Provider) (correction.Client, error) {
	if entry.Name != config.CorrectionLLM {
		return reg.CreateCorrection(entry)
	}
	if provider == nil {
		return nil, errors.New("the llm correction backend needs an llm provider")
	}
	var opts []llmcorrect.Option
	if prompt := entry.Option("system_prompt"); prompt != "" {
		opts = append(opts, llmcorrect.WithSystemPrompt(prompt))
	}
	return llmcorrect.New(provider, opts...), nil
}
