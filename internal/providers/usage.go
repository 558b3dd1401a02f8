package providers

import (
	"context"
	"errors"
	"time"

	"github.com/jackzampolin/bindery/internal/layout"
)

// UsageEvent is one provider call as seen by a UsageRecorder.
type UsageEvent struct {
	Provider  string
	Model     string
	Page      int
	Usage     layout.Usage
	Success   bool
	ErrorKind string // "", "transient" or "permanent"
	Duration  time.Duration
}

// UsageRecorder receives usage for every provider call, including failed ones.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent)
}

// WithUsageRecorder wraps p so that each Analyze call is reported to rec.
// A nil recorder returns p unchanged.
func WithUsageRecorder(p Provider, rec UsageRecorder) Provider {
	if p == nil || rec == nil {
		return p
	}
	return &recordingProvider{Provider: p, rec: rec}
}

type recordingProvider struct {
	Provider
	rec UsageRecorder
}

func (r *recordingProvider) Analyze(ctx context.Context, page layout.PageInput) (*layout.PageAnalysis, error) {
	start := time.Now()
	res, err := r.Provider.Analyze(ctx, page)

	ev := UsageEvent{
		Provider: r.Provider.Name(),
		Page:     page.PageNumber,
		Duration: time.Since(start),
	}
	if m, ok := r.Provider.(interface{ Model() string }); ok {
		ev.Model = m.Model()
	}
	if err != nil {
		ev.Usage = UsageOf(err)
		ev.ErrorKind = Permanent.String()
		var pe *ProviderError
		if errors.As(err, &pe) {
			ev.ErrorKind = pe.Kind.String()
		}
	} else if res != nil {
		ev.Usage = res.Usage
		ev.Success = true
	}
	r.rec.RecordUsage(ctx, ev)
	return res, err
}
