package analysis

import (
	"fmt"
	"log/slog"

	"github.com/jackzampolin/bindery/internal/providers"
)

// FactoryConfig names the providers and policy for batches built from a
// registry.
type FactoryConfig struct {
	Primary        string
	Fallback       string // empty disables fallback
	Policy         Policy
	Concurrency    int
	AbortThreshold float64
	Recorder       providers.UsageRecorder
	Logger         *slog.Logger
}

// Factory builds a Batch from the current registry contents, so providers
// reloaded from config are picked up by the next batch.
type Factory struct {
	registry *providers.Registry
	cfg      FactoryConfig
}

// NewFactory creates a batch factory.
func NewFactory(registry *providers.Registry, cfg FactoryConfig) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{registry: registry, cfg: cfg}
}

// NewBatch returns a batch wired to the configured primary and fallback.
// A missing fallback disables fallback with a warning; a missing primary
// is an error.
func (f *Factory) NewBatch() (*Batch, error) {
	if f.cfg.Primary == "" {
		return nil, ErrNoProvider
	}
	primary, err := f.registry.Get(f.cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProvider, err)
	}

	policy := f.cfg.Policy
	var fallback providers.Provider
	if policy.FallbackEnabled && f.cfg.Fallback != "" {
		fallback, err = f.registry.Get(f.cfg.Fallback)
		if err != nil {
			f.cfg.Logger.Warn("fallback provider unavailable, continuing without fallback",
				"fallback", f.cfg.Fallback, "error", err)
			fallback = nil
		}
	}
	if fallback == nil {
		policy.FallbackEnabled = false
	}

	ctrl, err := NewController(ControllerConfig{
		Primary:  providers.WithUsageRecorder(primary, f.cfg.Recorder),
		Fallback: providers.WithUsageRecorder(fallback, f.cfg.Recorder),
		Policy:   policy,
		Logger:   f.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewBatch(BatchConfig{
		Analyzer:       ctrl,
		Concurrency:    f.cfg.Concurrency,
		AbortThreshold: f.cfg.AbortThreshold,
		Logger:         f.cfg.Logger,
	}), nil
}
