package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jackzampolin/bindery/internal/cache"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/quality"
)

// ErrInvalidRequest wraps submit validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// SubmitRequest describes a new conversion.
type SubmitRequest struct {
	UserID       string `json:"user_id" validate:"required,max=128"`
	InputRef     string `json:"input_ref" validate:"required"`
	Title        string `json:"title,omitempty" validate:"max=512"`
	DocumentType string `json:"document_type,omitempty" validate:"omitempty,oneof=auto complex text-based"`
}

// Enqueuer accepts job IDs for execution. *Runner implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
	Interrupt(jobID string)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store  jobs.Store
	Runner Enqueuer
	// KV backs the progress cache; nil disables caching.
	KV       cache.KV
	CacheTTL time.Duration
	// InputRoot, when set, is the only directory submitted inputs may live in.
	InputRoot string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service is the conversion API used by the HTTP server and CLI.
type Service struct {
	store     jobs.Store
	runner    Enqueuer
	inputRoot string
	progress  *cache.ProgressCache[ProgressView]
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Service{
		store:     cfg.Store,
		runner:    cfg.Runner,
		inputRoot: cfg.InputRoot,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	s.progress = cache.NewProgressCache(cache.ProgressCacheConfig{
		KV:     cfg.KV,
		TTL:    cfg.CacheTTL,
		Logger: cfg.Logger,
	}, s.loadProgress)
	return s
}

// Cache returns the progress cache so the orchestrator can invalidate it.
func (s *Service) Cache() Invalidator {
	return s.progress
}

// SetRunner attaches the runner after construction.
func (s *Service) SetRunner(r Enqueuer) {
	s.runner = r
}

// confine checks that ref names a file inside root, following symlinks on
// both sides, and returns ref as a clean absolute path.
func confine(root, ref string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absRef, err := filepath.Abs(ref)
	if err != nil {
		return "", err
	}
	checkRoot, checkRef := absRoot, absRef
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		checkRoot = resolved
	}
	if resolved, err := filepath.EvalSymlinks(absRef); err == nil {
		checkRef = resolved
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(absRef)); err == nil {
		checkRef = filepath.Join(dir, filepath.Base(absRef))
	}
	rel, err := filepath.Rel(checkRoot, checkRef)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("input_ref must be inside %s", root)
	}
	return absRef, nil
}

// Submit creates a job in uploaded, moves it to queued and enqueues it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*jobs.ConversionJob, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if s.inputRoot != "" {
		ref, err := confine(s.inputRoot, req.InputRef)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.InputRef = ref
	}
	docType := strings.TrimSpace(req.DocumentType)
	if docType == "" {
		docType = quality.Auto
	}

	now := s.now()
	job := &jobs.ConversionJob{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		InputRef:           req.InputRef,
		Title:              req.Title,
		DocumentType:       docType,
		Status:             jobs.StatusUploaded,
		ProgressPercentage: jobs.StatusUploaded.ProgressMarker(),
		CurrentStage:       string(jobs.StatusUploaded),
		StageDescription:   "Document uploaded",
		StageMetadata:      map[string]any{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	queued, err := s.store.Update(ctx, job.ID, func(j *jobs.ConversionJob) error {
		return j.Transition(jobs.StatusQueued, descQueued, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}
	s.progress.Invalidate(ctx, job.ID)

	if s.runner != nil {
		if err := s.runner.Enqueue(ctx, job.ID); err != nil {
			_, ferr := s.store.Update(context.WithoutCancel(ctx), job.ID, func(j *jobs.ConversionJob) error {
				if terr := j.Transition(jobs.StatusFailed, "Could not be queued", s.now()); terr != nil {
					return terr
				}
				j.ErrorMessage = err.Error()
				return nil
			})
			if ferr != nil {
				s.logger.Warn("failed to mark unqueued job failed", "job_id", job.ID, "error", ferr)
			}
			s.progress.Invalidate(ctx, job.ID)
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}
	s.logger.Info("conversion submitted", "job_id", job.ID, "user_id", req.UserID, "document_type", docType)
	return queued, nil
}

// Get returns the job record.
func (s *Service) Get(ctx context.Context, id string) (*jobs.ConversionJob, error) {
	return s.store.Get(ctx, id)
}

// Progress returns the cached progress view.
func (s *Service) Progress(ctx context.Context, id string) (*ProgressView, error) {
	return s.progress.Get(ctx, id)
}

func (s *Service) loadProgress(ctx context.Context, id string) (*ProgressView, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewProgressView(j, s.now()), nil
}

// Report returns the quality report, or ErrReportNotReady.
func (s *Service) Report(ctx context.Context, id string) (*quality.Report, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.QualityReport == nil {
		return nil, fmt.Errorf("%w: job is %s", ErrReportNotReady, j.Status)
	}
	return j.QualityReport, nil
}

// Output returns the path of the finished EPUB.
func (s *Service) Output(ctx context.Context, id string) (string, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if j.Status != jobs.StatusCompleted || !outputExists(j.OutputRef) {
		return "", fmt.Errorf("%w: job is %s", ErrOutputNotReady, j.Status)
	}
	return j.OutputRef, nil
}

// Cancel stops a job. Jobs still waiting are cancelled at once; running
// jobs are flagged and stop at the next stage boundary.
func (s *Service) Cancel(ctx context.Context, id string) error {
	var running bool
	_, err := s.store.Update(ctx, id, func(j *jobs.ConversionJob) error {
		switch {
		case j.Status.Terminal():
			return fmt.Errorf("%w: %s is %s", jobs.ErrTerminal, j.ID, j.Status)
		case j.Status == jobs.StatusUploaded || j.Status == jobs.StatusQueued:
			return j.Transition(jobs.StatusCancelled, descCancelled, s.now())
		default:
			j.CancelRequested = true
			running = true
			return nil
		}
	})
	if err != nil {
		return err
	}
	s.progress.Invalidate(ctx, id)
	if running && s.runner != nil {
		s.runner.Interrupt(id)
	}
	s.logger.Info("conversion cancel requested", "job_id", id, "running", running)
	return nil
}

// Delete soft-deletes a job, cancelling it first if it is not finished.
func (s *Service) Delete(ctx context.Context, id string) error {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.Status.Terminal() {
		if err := s.Cancel(ctx, id); err != nil && !errors.Is(err, jobs.ErrTerminal) {
			return err
		}
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.progress.Invalidate(ctx, id)
	return nil
}

// List returns jobs matching filter.
func (s *Service) List(ctx context.Context, filter jobs.ListFilter) ([]*jobs.ConversionJob, error) {
	return s.store.List(ctx, filter)
}
