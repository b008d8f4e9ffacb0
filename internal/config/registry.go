package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config names a backend that
// nothing registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// HistoryFactory opens a history store. The returned close function releases
// the store's connections and may be nil.
type HistoryFactory func(ctx context.Context, cfg HistoryConfig) (history.Store, func() error, error)

// factories is one kind's name → constructor table.
type factories[F any] struct {
	kind string
	m    map[string]F
}

func newFactories[F any](kind string) factories[F] {
	return factories[F]{kind: kind, m: make(map[string]F)}
}

func (f factories[F]) lookup(name string) (F, error) {
	fn, ok := f.m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

func (f factories[F]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry resolves the backend names used in a [Config] to constructors.
// Registrations under an existing name replace it. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[func(ProviderEntry) (llm.Provider, error)]
	stt        factories[func(ProviderEntry) (stt.Provider, error)]
	tts        factories[func(ProviderEntry) (tts.Provider, error)]
	correction factories[func(ProviderEntry) (correction.Client, error)]
	history    factories[HistoryFactory]
}

// NewRegistry returns a Registry with nothing registered.
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[func(ProviderEntry) (llm.Provider, error)]("llm"),
		stt:        newFactories[func(ProviderEntry) (stt.Provider, error)]("stt"),
		tts:        newFactories[func(ProviderEntry) (tts.Provider, error)]("tts"),
		correction: newFactories[func(ProviderEntry) (correction.Client, error)]("correction"),
		history:    newFactories[HistoryFactory]("history"),
	}
}

func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.m[name] = fn
	r.mu.Unlock()
}

func (r *Registry) RegisterSTT(name string, fn func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	r.stt.m[name] = fn
	r.mu.Unlock()
}

func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	r.tts.m[name] = fn
	r.mu.Unlock()
}

// RegisterCorrection registers a correction backend. The name is what
// correction.backends[].name refers to.
func (r *Registry) RegisterCorrection(name string, fn func(ProviderEntry) (correction.Client, error)) {
	r.mu.Lock()
	r.correction.m[name] = fn
	r.mu.Unlock()
}

// RegisterHistory registers a store under a history.backend value.
func (r *Registry) RegisterHistory(backend string, fn HistoryFactory) {
	r.mu.Lock()
	r.history.m[backend] = fn
	r.mu.Unlock()
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	fn, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	fn, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	fn, err := r.tts.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateCorrection builds one correction backend.
func (r *Registry) CreateCorrection(entry ProviderEntry) (correction.Client, error) {
	r.mu.RLock()
	fn, err := r.correction.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// OpenHistory opens the store registered under cfg.Backend.
func (r *Registry) OpenHistory(ctx context.Context, cfg HistoryConfig) (history.Store, func() error, error) {
	r.mu.RLock()
	fn, err := r.history.lookup(cfg.Backend)
	r.mu.RUnlock()
	if err != nil {
		return nil, nil, err
	}
	return fn(ctx, cfg)
}

// Names lists the registered names of one kind ("llm", "stt", "tts",
// "correction" or "history"), sorted. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.llm.kind:
		return r.llm.names()
	case r.stt.kind:
		return r.stt.names()
	case r.tts.kind:
		return r.tts.names()
	case r.correction.kind:
		return r.correction.names()
	case r.history.kind:
		return r.history.names()
	}
	return nil
}
