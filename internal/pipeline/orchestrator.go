package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/bindery/internal/analysis"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/layout"
	"github.com/jackzampolin/bindery/internal/metrics"
	"github.com/jackzampolin/bindery/internal/quality"
)

// Stage descriptions persisted on entry.
const (
	descQueued      = "Waiting for a worker"
	descAnalyzing   = "Analyzing page layout"
	descExtracting  = "Extracting tables, images and equations"
	descStructuring = "Building chapter structure"
	descGenerating  = "Generating EPUB"
	descCompleted   = "Conversion complete"
	descCancelled   = "Cancelled by user"
)

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store       jobs.Store
	Source      PageSource
	NewAnalyzer AnalyzerFactory
	Assembler   Assembler
	Score       ScoreFunc // default quality.GenerateQualityReport
	Quality     quality.Config
	Cache       Invalidator
	Logger      *slog.Logger
	Now         func() time.Time
}

// Orchestrator drives one job through every stage.
type Orchestrator struct {
	store       jobs.Store
	source      PageSource
	newAnalyzer AnalyzerFactory
	assembler   Assembler
	score       ScoreFunc
	quality     quality.Config
	cache       Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("page source is required")
	}
	if cfg.NewAnalyzer == nil {
		return nil, errors.New("analyzer factory is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if cfg.Score == nil {
		cfg.Score = quality.GenerateQualityReport
	}
	if cfg.Quality == (quality.Config{}) {
		cfg.Quality = quality.DefaultConfig()
	}
	if cfg.Cache == nil {
		cfg.Cache = nopInvalidator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		store:       cfg.Store,
		source:      cfg.Source,
		newAnalyzer: cfg.NewAnalyzer,
		assembler:   cfg.Assembler,
		score:       cfg.Score,
		quality:     cfg.Quality,
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// Run executes a queued job to a terminal status. Stage failures are
// recorded on the job and not returned; the returned error covers only
// problems reading or writing the job itself and shutdown of ctx.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	r := &run{
		o:        o,
		id:       jobID,
		ctx:      ctx,
		storeCtx: context.WithoutCancel(ctx),
		logger:   o.logger.With("job_id", jobID),
	}

	job, err := o.store.Get(r.storeCtx, jobID)
	if err != nil {
		return err
	}
	r.job = job
	if job.Status.Terminal() {
		r.logger.Debug("job already finished, skipping", "status", job.Status)
		return nil
	}
	if job.Status == jobs.StatusUploaded {
		if err := r.enter(jobs.StatusQueued, descQueued, nil); err != nil {
			return err
		}
	}
	if r.job.Status != jobs.StatusQueued {
		return fmt.Errorf("%w: cannot start job in %s", jobs.ErrInvalidTransition, r.job.Status)
	}

	start := time.Now()
	r.logger.Info("conversion started", "input", job.InputRef)
	for _, step := range []func() error{r.analyze, r.extract, r.structure, r.generate, r.complete} {
		if err := step(); err != nil {
			return r.finish(err)
		}
	}
	r.logger.Info("conversion completed", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// run is the state of one orchestrator pass over a job.
type run struct {
	o        *Orchestrator
	id       string
	ctx      context.Context
	storeCtx context.Context
	logger   *slog.Logger

	job   *jobs.ConversionJob
	title string
	la    *layout.LayoutAnalysis
	doc   *layout.DocumentStructure
}

// update persists fn and invalidates the cached view.
func (r *run) update(fn func(*jobs.ConversionJob) error) error {
	j, err := r.o.store.Update(r.storeCtx, r.id, fn)
	if err != nil {
		return err
	}
	r.job = j
	r.o.cache.Invalidate(r.storeCtx, r.id)
	return nil
}

func (r *run) enter(status jobs.Status, desc string, meta map[string]any) error {
	err := r.update(func(j *jobs.ConversionJob) error {
		if err := j.Transition(status, desc, r.o.now()); err != nil {
			return err
		}
		j.MergeMetadata(meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enter %s: %w", status, err)
	}
	r.logger.Debug("stage entered", "stage", status, "progress", r.job.ProgressPercentage)
	return nil
}

// checkpoint stops the run if a cancel was requested or ctx is done.
func (r *run) checkpoint() error {
	j, err := r.o.store.Get(r.storeCtx, r.id)
	if err != nil {
		return err
	}
	if j.CancelRequested {
		return errCancelled
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job became %s", jobs.ErrTerminal, j.Status)
	}
	return r.ctx.Err()
}

func (r *run) cancelRequested() bool {
	j, err := r.o.store.Get(r.storeCtx, r.id)
	return err == nil && j.CancelRequested
}

// finish records the terminal status for a run that stopped early.
func (r *run) finish(cause error) error {
	if r.ctx.Err() != nil && r.cancelRequested() {
		cause = errCancelled
	}
	switch {
	case errors.Is(cause, errCancelled):
		err := r.update(func(j *jobs.ConversionJob) error {
			return j.Transition(jobs.StatusCancelled, descCancelled, r.o.now())
		})
		if err != nil && !errors.Is(err, jobs.ErrTerminal) {
			return fmt.Errorf("failed to mark job cancelled: %w", err)
		}
		r.logger.Info("conversion cancelled", "stage", r.job.CurrentStage)
		return nil

	case errors.Is(cause, jobs.ErrTerminal), errors.Is(cause, jobs.ErrNotFound):
		r.logger.Info("conversion stopped", "reason", cause)
		return nil

	case r.ctx.Err() != nil:
		// Shutdown: startup recovery fails the job on the next start.
		r.logger.Warn("conversion interrupted", "stage", r.job.CurrentStage, "error", cause)
		return r.ctx.Err()
	}

	r.logger.Error("conversion failed", "stage", r.job.CurrentStage, "error", cause)
	err := r.update(func(j *jobs.ConversionJob) error {
		if err := j.Transition(jobs.StatusFailed, "Failed during "+j.CurrentStage, r.o.now()); err != nil {
			return err
		}
		j.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, jobs.ErrTerminal) && !errors.Is(err, jobs.ErrNotFound) {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (r *run) analyze() error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	if err := r.enter(jobs.StatusAnalyzing, descAnalyzing, nil); err != nil {
		return err
	}

	src, err := r.o.source.Load(r.ctx, r.job)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	r.title = src.Title
	if r.title == "" {
		r.title = r.job.Title
	}
	total := len(src.Pages)
	if err := r.update(func(j *jobs.ConversionJob) error {
		j.MergeMetadata(map[string]any{"pages_total": total, "pages_analyzed": 0, "pages_failed": 0})
		return nil
	}); err != nil {
		return err
	}

	batch, err := r.o.newAnalyzer()
	if err != nil {
		return fmt.Errorf("failed to prepare analyzer: %w", err)
	}

	ctx := metrics.WithRecordOpts(r.ctx, metrics.RecordOpts{JobID: r.id, Stage: string(jobs.StatusAnalyzing)})
	progress := make(chan analysis.Progress, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range progress {
			r.recordProgress(ev)
		}
	}()
	la, err := batch.Run(ctx, src.Pages, progress)
	close(progress)
	<-drained

	if cerr := r.checkpoint(); errors.Is(cerr, errCancelled) {
		return cerr
	}

	var be *analysis.BatchError
	if errors.As(err, &be) {
		meta := map[string]any{
			"pages_failed":      be.Failed,
			"failed_pages":      be.FailedPages,
			"failed_proportion": be.Proportion,
		}
		if la != nil {
			meta["cost"] = la.Cost
		}
		if uerr := r.update(func(j *jobs.ConversionJob) error {
			j.MergeMetadata(meta)
			return nil
		}); uerr != nil {
			r.logger.Warn("failed to record batch failure", "error", uerr)
		}
		return fmt.Errorf("layout analysis failed: %w", err)
	}
	if err != nil {
		return fmt.Errorf("layout analysis failed: %w", err)
	}

	r.la = la
	failed := len(la.FailedPages())
	return r.update(func(j *jobs.ConversionJob) error {
		j.MergeMetadata(map[string]any{
			"pages_analyzed": total - failed,
			"pages_failed":   failed,
			"provider_used":  string(la.ProviderUsed),
			"cost":           la.Cost,
		})
		if failed > 0 {
			j.MergeMetadata(map[string]any{"failed_pages": la.FailedPages()})
		}
		j.SetProgress(jobs.AnalyzingEnd)
		return nil
	})
}

// recordProgress maps batch progress onto 25..50.
func (r *run) recordProgress(ev analysis.Progress) {
	if ev.Total <= 0 {
		return
	}
	pct := jobs.AnalyzingStart + (jobs.AnalyzingEnd-jobs.AnalyzingStart)*ev.Completed/ev.Total
	err := r.update(func(j *jobs.ConversionJob) error {
		j.SetProgress(pct)
		j.MergeMetadata(map[string]any{
			"pages_analyzed": ev.Completed - ev.Failed,
			"pages_failed":   ev.Failed,
			"cost":           ev.Cost,
		})
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to record analysis progress", "page", ev.Page, "error", err)
	}
}

func (r *run) extract() error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	c := r.la.Counts()
	return r.enter(jobs.StatusExtracting, descExtracting, map[string]any{
		"tables":      c.Tables,
		"images":      c.Images,
		"equations":   c.Equations,
		"text_blocks": c.TextBlocks,
	})
}

func (r *run) structure() error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	r.doc = layout.BuildStructure(r.title, r.la)
	return r.enter(jobs.StatusStructuring, descStructuring, map[string]any{
		"chapters": len(r.doc.Chapters),
	})
}

func (r *run) generate() error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	if err := r.enter(jobs.StatusGenerating, descGenerating, nil); err != nil {
		return err
	}
	ref, size, err := r.o.assembler.Assemble(r.ctx, r.job, r.doc)
	if err != nil {
		return fmt.Errorf("failed to generate output: %w", err)
	}
	return r.update(func(j *jobs.ConversionJob) error {
		j.OutputRef = ref
		j.SetProgress(jobs.GeneratingDone)
		j.MergeMetadata(map[string]any{"output_bytes": size})
		return nil
	})
}

func (r *run) complete() error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	report := r.scoreQuality()
	report.GeneratedAt = r.o.now()
	return r.update(func(j *jobs.ConversionJob) error {
		j.QualityReport = report
		return j.Transition(jobs.StatusCompleted, descCompleted, r.o.now())
	})
}

// scoreQuality never fails: errors and panics produce a degraded report.
func (r *run) scoreQuality() (report *quality.Report) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("quality scoring panicked", "panic", p)
			report = quality.DegradedReport(fmt.Sprint(p))
		}
	}()

	cfg := r.o.quality
	cfg.DeclaredType = r.job.DocumentType
	rep, err := r.o.score(r.la, r.doc, cfg)
	if err != nil {
		r.logger.Warn("quality scoring failed, storing degraded report", "error", err)
		return quality.DegradedReport(err.Error())
	}
	if rep == nil {
		return quality.DegradedReport("scorer returned no report")
	}
	return rep
}
