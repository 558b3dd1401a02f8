package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/bindery/internal/providers"
)

// DefaultMaxMetrics bounds the in-memory ledger.
const DefaultMaxMetrics = 10000

// Recorder keeps an in-memory ledger of provider calls. It implements
// providers.UsageRecorder.
type Recorder struct {
	mu      sync.RWMutex
	metrics []Metric
	max     int
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder that keeps at most max metrics, dropping
// the oldest first. max <= 0 uses DefaultMaxMetrics.
func NewRecorder(max int, logger *slog.Logger) *Recorder {
	if max <= 0 {
		max = DefaultMaxMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{max: max, logger: logger, now: time.Now}
}

// RecordOpts attributes calls made under a context.
type RecordOpts struct {
	JobID string
	Stage string
}

type optsKey struct{}

// WithRecordOpts attaches attribution to ctx.
func WithRecordOpts(ctx context.Context, opts RecordOpts) context.Context {
	return context.WithValue(ctx, optsKey{}, opts)
}

func optsFromContext(ctx context.Context) RecordOpts {
	opts, _ := ctx.Value(optsKey{}).(RecordOpts)
	return opts
}

// Record appends m and returns its ID.
func (r *Recorder) Record(m Metric) string {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if m.TotalTokens == 0 {
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	if over := len(r.metrics) - r.max; over > 0 {
		r.metrics = append(r.metrics[:0:0], r.metrics[over:]...)
	}
	return m.ID
}

// RecordUsage records a provider call using attribution from ctx.
func (r *Recorder) RecordUsage(ctx context.Context, ev providers.UsageEvent) {
	opts := optsFromContext(ctx)
	r.Record(Metric{
		JobID:            opts.JobID,
		Stage:            opts.Stage,
		Page:             ev.Page,
		Provider:         ev.Provider,
		Model:            ev.Model,
		CostUSD:          ev.Usage.CostUSD,
		PromptTokens:     ev.Usage.PromptTokens,
		CompletionTokens: ev.Usage.CompletionTokens,
		ExecutionSeconds: ev.Duration.Seconds(),
		Success:          ev.Success,
		ErrorType:        ev.ErrorKind,
	})
	r.logger.Debug("provider call recorded",
		"job_id", opts.JobID,
		"provider", ev.Provider,
		"page", ev.Page,
		"prompt_tokens", ev.Usage.PromptTokens,
		"completion_tokens", ev.Usage.CompletionTokens,
		"success", ev.Success)
}

var _ providers.UsageRecorder = (*Recorder)(nil)
