package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured layout providers by name.
// It supports config-driven instantiation and hot reload.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	configs   map[string]ProviderConfig
	logger    *slog.Logger
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
	Logger    *slog.Logger
}

// ProviderConfig matches config.ProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type      string // "gemini", "openai", "mock"
	Model     string
	APIKey    string
	BaseURL   string
	RateLimit int // requests per minute
	Timeout   time.Duration
	Pricing   Pricing
	Enabled   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		configs:   make(map[string]ProviderConfig),
		logger:    slog.Default(),
	}
}

// NewRegistryFromConfig creates a registry with every enabled, usable provider.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	if cfg.Logger != nil {
		r.logger = cfg.Logger
	}
	r.Reload(cfg)
	return r
}

// Register adds a provider under name, replacing any existing one.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	delete(r.configs, name)
	r.logger.Info("registered provider", "name", name)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload applies a new configuration. Providers whose settings changed are
// recreated; providers no longer configured are removed. Providers added
// with Register are left alone.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, pc := range cfg.Providers {
		if !pc.Enabled || (pc.APIKey == "" && pc.Type != MockProviderName) {
			continue
		}
		want[name] = true

		existing, ok := r.configs[name]
		if ok && existing == pc {
			continue
		}
		p, err := createProvider(name, pc, r.logger)
		if err != nil {
			r.logger.Warn("failed to create provider", "name", name, "type", pc.Type, "error", err)
			continue
		}
		r.providers[name] = p
		r.configs[name] = pc
		if ok {
			r.logger.Info("updated provider", "name", name, "type", pc.Type)
		} else {
			r.logger.Info("registered provider", "name", name, "type", pc.Type)
		}
	}

	for name := range r.configs {
		if !want[name] {
			delete(r.providers, name)
			delete(r.configs, name)
			r.logger.Info("unregistered provider", "name", name)
		}
	}
}

func createProvider(name string, cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Type {
	case GeminiProviderName:
		return NewGeminiProvider(context.Background(), GeminiConfig{
			Name:      name,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			RateLimit: cfg.RateLimit,
			Timeout:   cfg.Timeout,
			Pricing:   cfg.Pricing,
			Logger:    logger,
		})
	case OpenAIProviderName:
		return NewOpenAIProvider(OpenAIConfig{
			Name:      name,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			RateLimit: cfg.RateLimit,
			Timeout:   cfg.Timeout,
			Pricing:   cfg.Pricing,
			Logger:    logger,
		})
	case MockProviderName:
		return NewMockProvider(name), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
