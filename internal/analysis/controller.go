// Package analysis drives page-level layout analysis: bounded retries with
// backoff on the primary provider, a single fallback attempt, and the
// concurrent batch that fans pages out and merges their results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/bindery/internal/layout"
	"github.com/jackzampolin/bindery/internal/providers"
)

// ErrNoProvider is returned when the controller has no primary provider.
var ErrNoProvider = errors.New("no primary provider configured")

// Policy controls retries and fallback for a single page.
type Policy struct {
	// MaxRetries is the total number of primary attempts.
	MaxRetries int
	// Backoff[k] is the wait before attempt k+2. The last entry repeats.
	Backoff         []time.Duration
	FallbackEnabled bool
}

// DefaultPolicy returns 3 primary attempts with 1m/5m/15m backoff and fallback on.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		Backoff:         []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		FallbackEnabled: true,
	}
}

// PageError is a page-level analysis failure.
type PageError struct {
	Page     int
	Provider string
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Outcome is the result of analyzing one page. Cost covers every call made
// for the page, including failed ones.
type Outcome struct {
	Page     int
	Analysis *layout.PageAnalysis
	Cost     layout.CostEstimate
	Attempts int
	Err      error
}

// Failed reports whether the page could not be analyzed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// PageAnalyzer analyzes a single page. *Controller implements it.
type PageAnalyzer interface {
	AnalyzePage(ctx context.Context, page layout.PageInput) Outcome
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Primary  providers.Provider
	Fallback providers.Provider
	Policy   Policy
	// Timer replaces real sleeps between attempts (tests).
	Timer  retry.Timer
	Logger *slog.Logger
}

// Controller wraps a primary and fallback provider with retry policy.
type Controller struct {
	primary  providers.Provider
	fallback providers.Provider
	policy   Policy
	timer    retry.Timer
	logger   *slog.Logger
}

// NewController creates a retry/fallback controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Primary == nil {
		return nil, ErrNoProvider
	}
	if cfg.Policy.MaxRetries <= 0 {
		cfg.Policy.MaxRetries = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		policy:   cfg.Policy,
		timer:    cfg.Timer,
		logger:   cfg.Logger,
	}, nil
}

// Policy returns the controller's retry policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// backoff implements retry.DelayTypeFunc. n is 1 before the second attempt.
func (c *Controller) backoff(n uint, _ error, _ *retry.Config) time.Duration {
	if len(c.policy.Backoff) == 0 {
		return 0
	}
	i := int(n) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(c.policy.Backoff) {
		i = len(c.policy.Backoff) - 1
	}
	return c.policy.Backoff[i]
}

// AnalyzePage runs the primary with retries, then the fallback once.
// Permanent primary errors fail the page immediately.
func (c *Controller) AnalyzePage(ctx context.Context, page layout.PageInput) Outcome {
	out := Outcome{Page: page.PageNumber}
	logger := c.logger.With("page", page.PageNumber)

	call := func(p providers.Provider) (*layout.PageAnalysis, error) {
		res, err := p.Analyze(ctx, page)
		if err != nil {
			out.Cost.Add(providers.UsageOf(err))
			return nil, err
		}
		out.Cost.Add(res.Usage)
		return res, nil
	}

	opts := []retry.Option{
		retry.Attempts(uint(c.policy.MaxRetries)),
		retry.DelayType(c.backoff),
		retry.RetryIf(providers.IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("primary attempt failed",
				"provider", c.primary.Name(),
				"attempt", n+1,
				"max_attempts", c.policy.MaxRetries,
				"error", err)
		}),
	}
	if c.timer != nil {
		opts = append(opts, retry.WithTimer(c.timer))
	}

	res, err := retry.DoWithData(func() (*layout.PageAnalysis, error) {
		out.Attempts++
		return call(c.primary)
	}, opts...)
	if err == nil {
		res.Provider = layout.RolePrimary
		out.Analysis = res
		return out
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.Err = &PageError{Page: page.PageNumber, Provider: c.primary.Name(), Err: ctxErr}
		return out
	}
	if !providers.IsTransient(err) {
		logger.Error("permanent provider error, skipping retries and fallback",
			"provider", c.primary.Name(), "error", err)
		out.Err = &PageError{Page: page.PageNumber, Provider: c.primary.Name(), Err: err}
		return out
	}
	if !c.policy.FallbackEnabled || c.fallback == nil {
		out.Err = &PageError{
			Page:     page.PageNumber,
			Provider: c.primary.Name(),
			Err:      fmt.Errorf("primary retries exhausted after %d attempts: %w", out.Attempts, err),
		}
		return out
	}

	logger.Warn("primary retries exhausted, trying fallback",
		"primary", c.primary.Name(), "fallback", c.fallback.Name(), "attempts", out.Attempts)

	res, err = call(c.fallback)
	if err != nil {
		logger.Error("fallback failed", "provider", c.fallback.Name(), "error", err)
		out.Err = &PageError{Page: page.PageNumber, Provider: c.fallback.Name(), Err: fmt.Errorf("fallback failed: %w", err)}
		return out
	}
	res.Provider = layout.RoleFallback
	out.Analysis = res
	return out
}

var _ PageAnalyzer = (*Controller)(nil)
