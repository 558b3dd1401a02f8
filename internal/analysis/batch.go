package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/bindery/internal/layout"
)

const (
	DefaultConcurrency    = 4
	DefaultAbortThreshold = 0.20
)

// Progress is emitted once per resolved page. Completed strictly increases
// within a run; events for different pages arrive in completion order.
type Progress struct {
	Completed int
	Failed    int
	Total     int
	Page      int
	Provider  layout.ProviderRole
	Cost      layout.CostEstimate // running total
	Err       error
}

// BatchError reports that too many pages failed for the batch to continue.
type BatchError struct {
	Failed      int
	Total       int
	FailedPages []int
	Proportion  float64
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch aborted: %d of %d pages failed (%.0f%%): pages %v",
		e.Failed, e.Total, e.Proportion*100, e.FailedPages)
}

// BatchConfig configures a Batch.
type BatchConfig struct {
	Analyzer    PageAnalyzer
	Concurrency int
	// AbortThreshold is the failed-page proportion that, when exceeded,
	// aborts the batch.
	AbortThreshold float64
	Logger         *slog.Logger
}

// Batch analyzes pages concurrently with partial-failure tolerance.
type Batch struct {
	analyzer    PageAnalyzer
	concurrency int
	threshold   float64
	logger      *slog.Logger
}

// NewBatch creates a batch analyzer.
func NewBatch(cfg BatchConfig) *Batch {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.AbortThreshold <= 0 {
		cfg.AbortThreshold = DefaultAbortThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Batch{
		analyzer:    cfg.Analyzer,
		concurrency: cfg.Concurrency,
		threshold:   cfg.AbortThreshold,
		logger:      cfg.Logger,
	}
}

// Run analyzes pages with at most Concurrency in flight. If progress is
// non-nil one event is sent per resolved page; the caller must drain it
// until Run returns. Run never closes progress.
//
// The returned LayoutAnalysis has pages in ascending page order. On abort it
// is still returned, holding whatever resolved, alongside a *BatchError.
func (b *Batch) Run(ctx context.Context, pages []layout.PageInput, progress chan<- Progress) (*layout.LayoutAnalysis, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan Outcome)
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(b.concurrency)

	go func() {
		defer close(outcomes)
		for _, page := range pages {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				outcomes <- b.analyzer.AnalyzePage(gctx, page)
				return nil
			})
		}
		g.Wait()
	}()

	m := newMerger(b.logger)
	for _, page := range pages {
		m.expect(page.PageNumber)
	}
	total := m.total()

	var batchErr *BatchError
	completed := 0
	for out := range outcomes {
		if batchErr != nil {
			// Abort already decided; drain so workers can exit.
			m.cost.Merge(out.Cost)
			continue
		}

		completed++
		m.add(out)

		if progress != nil {
			ev := Progress{
				Completed: completed,
				Failed:    m.failed(),
				Total:     total,
				Page:      out.Page,
				Cost:      m.cost,
				Err:       out.Err,
			}
			if out.Analysis != nil {
				ev.Provider = out.Analysis.Provider
			}
			select {
			case progress <- ev:
			case <-ctx.Done():
			}
		}

		if ctx.Err() == nil && m.exceeds(b.threshold) {
			batchErr = m.batchError()
			b.logger.Error("aborting batch",
				"failed", batchErr.Failed,
				"total", batchErr.Total,
				"proportion", batchErr.Proportion,
				"failed_pages", batchErr.FailedPages)
			cancel()
		}
	}

	la := m.result()
	if batchErr != nil {
		return la, batchErr
	}
	if err := ctx.Err(); err != nil {
		return la, err
	}
	return la, nil
}

// merger is the single accumulation point for batch results. It is only
// touched by the collecting goroutine.
type merger struct {
	pages  map[int]*layout.PageAnalysis
	cost   layout.CostEstimate
	logger *slog.Logger
}

func newMerger(logger *slog.Logger) *merger {
	return &merger{pages: make(map[int]*layout.PageAnalysis), logger: logger}
}

func (m *merger) expect(page int) {
	if _, ok := m.pages[page]; !ok {
		m.pages[page] = nil
	}
}

func (m *merger) total() int {
	return len(m.pages)
}

// add records an outcome. The last successful result for a page wins; a
// failure never replaces an earlier success.
func (m *merger) add(out Outcome) {
	m.cost.Merge(out.Cost)

	prev := m.pages[out.Page]
	if out.Failed() {
		if prev != nil && !prev.Failed() {
			m.logger.Warn("ignoring failed re-analysis, keeping earlier result",
				"page", out.Page, "kept_provider", prev.Provider, "error", out.Err)
			return
		}
		m.pages[out.Page] = &layout.PageAnalysis{PageNumber: out.Page, Error: out.Err.Error()}
		return
	}

	if prev != nil && !prev.Failed() {
		m.logger.Warn("overwriting earlier page result",
			"page", out.Page,
			"previous_provider", prev.Provider,
			"new_provider", out.Analysis.Provider,
			"previous_tables", len(prev.Tables),
			"previous_text_blocks", len(prev.TextBlocks))
	}
	m.pages[out.Page] = out.Analysis
}

func (m *merger) failedPages() []int {
	var failed []int
	for n, p := range m.pages {
		if p != nil && p.Failed() {
			failed = append(failed, n)
		}
	}
	sort.Ints(failed)
	return failed
}

func (m *merger) failed() int {
	return len(m.failedPages())
}

func (m *merger) exceeds(threshold float64) bool {
	total := m.total()
	if total == 0 {
		return false
	}
	return float64(m.failed())/float64(total) > threshold
}

func (m *merger) batchError() *BatchError {
	failed := m.failedPages()
	return &BatchError{
		Failed:      len(failed),
		Total:       m.total(),
		FailedPages: failed,
		Proportion:  float64(len(failed)) / float64(m.total()),
	}
}

func (m *merger) result() *layout.LayoutAnalysis {
	la := &layout.LayoutAnalysis{Pages: make([]layout.PageAnalysis, 0, len(m.pages)), Cost: m.cost}
	var roles []layout.ProviderRole
	for _, p := range m.pages {
		if p == nil {
			continue
		}
		la.Pages = append(la.Pages, *p)
		if !p.Failed() {
			roles = append(roles, p.Provider)
		}
	}
	la.SortPages()
	la.ProviderUsed = layout.SummarizeProviders(roles)
	return la
}
