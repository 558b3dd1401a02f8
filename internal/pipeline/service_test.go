package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/bindery/internal/cache"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/quality"
)

type fakeEnqueuer struct {
	mu          sync.Mutex
	enqueued    []string
	interrupted []string
	err         error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeEnqueuer) Interrupt(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, jobID)
}

func newTestService(t *testing.T) (*Service, jobs.Store, *fakeEnqueuer) {
	t.Helper()
	store := jobs.NewMemoryStore()
	q := &fakeEnqueuer{}
	svc := NewService(ServiceConfig{Store: store, Runner: q, KV: cache.NewMemoryKV(), Now: fixedNow})
	return svc, store, q
}

func validRequest() SubmitRequest {
	return SubmitRequest{UserID: "user-1", InputRef: "/uploads/a.pdf", Title: "A Book"}
}

func TestService_SubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SubmitRequest)
	}{
		{"missing user", func(r *SubmitRequest) { r.UserID = "" }},
		{"missing input", func(r *SubmitRequest) { r.InputRef = "" }},
		{"long user", func(r *SubmitRequest) { r.UserID = strings.Repeat("u", 129) }},
		{"long title", func(r *SubmitRequest) { r.Title = strings.Repeat("t", 513) }},
		{"bad document type", func(r *SubmitRequest) { r.DocumentType = "scanned" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, q := newTestService(t)
			req := validRequest()
			tt.modify(&req)
			if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Submit() error = %v, want ErrInvalidRequest", err)
			}
			list, err := store.List(context.Background(), jobs.ListFilter{})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != 0 || len(q.enqueued) != 0 {
				t.Errorf("invalid request created %d jobs, enqueued %d", len(list), len(q.enqueued))
			}
		})
	}
}

func TestService_Submit(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()

	j, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if j.ID == "" {
		t.Fatal("Submit() returned empty ID")
	}
	if j.Status != jobs.StatusQueued || j.ProgressPercentage != 15 {
		t.Errorf("job = %s/%d, want queued/15", j.Status, j.ProgressPercentage)
	}
	if j.DocumentType != quality.Auto {
		t.Errorf("DocumentType = %q, want auto", j.DocumentType)
	}
	if !j.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", j.CreatedAt, testNow)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != j.ID {
		t.Errorf("enqueued = %v, want [%s]", q.enqueued, j.ID)
	}

	got, err := svc.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "A Book" || got.UserID != "user-1" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestService_SubmitEnqueueFailure(t *testing.T) {
	svc, store, q := newTestService(t)
	q.err = ErrQueueFull
	ctx := context.Background()

	if _, err := svc.Submit(ctx, validRequest()); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
	list, err := store.List(ctx, jobs.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(list))
	}
	if list[0].Status != jobs.StatusFailed || list[0].ErrorMessage != ErrQueueFull.Error() {
		t.Errorf("job = %s %q, want failed with queue error", list[0].Status, list[0].ErrorMessage)
	}
}

func TestService_ProgressIsCached(t *testing.T) {
	store := jobs.NewMemoryStore()
	kv := cache.NewMemoryKV()
	svc := NewService(ServiceConfig{Store: store, KV: kv, Now: fixedNow})
	ctx := context.Background()

	j, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	v, err := svc.Progress(ctx, j.ID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if v.ProgressPercentage != 15 || v.Status != jobs.StatusQueued {
		t.Fatalf("Progress() = %s/%d, want queued/15", v.Status, v.ProgressPercentage)
	}
	if _, ok, _ := kv.Get(ctx, cache.Key(j.ID)); !ok {
		t.Fatalf("no cache entry under %s", cache.Key(j.ID))
	}

	// A write that bypasses the service is not visible until invalidation.
	if _, err := store.Update(ctx, j.ID, func(j *jobs.ConversionJob) error {
		j.SetProgress(40)
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if v, _ := svc.Progress(ctx, j.ID); v.ProgressPercentage != 15 {
		t.Errorf("cached ProgressPercentage = %d, want 15", v.ProgressPercentage)
	}

	svc.Cache().Invalidate(ctx, j.ID)
	if v, _ := svc.Progress(ctx, j.ID); v.ProgressPercentage != 40 {
		t.Errorf("ProgressPercentage after invalidate = %d, want 40", v.ProgressPercentage)
	}
}

// interleavedKV runs beforeSet once, just before the first Set.
type interleavedKV struct {
	cache.KV
	once      sync.Once
	beforeSet func()
}

func (k *interleavedKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k.once.Do(k.beforeSet)
	return k.KV.Set(ctx, key, value, ttl)
}

func TestService_ProgressAfterConcurrentInvalidate(t *testing.T) {
	store := jobs.NewMemoryStore()
	kv := &interleavedKV{KV: cache.NewMemoryKV()}
	svc := NewService(ServiceConfig{Store: store, KV: kv, Now: fixedNow})
	ctx := context.Background()

	j, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// The job is cancelled between the first read's store load and its cache write.
	kv.beforeSet = func() {
		if _, err := store.Update(ctx, j.ID, func(j *jobs.ConversionJob) error {
			return j.Transition(jobs.StatusCancelled, "cancelled", fixedNow())
		}); err != nil {
			t.Errorf("Update() error = %v", err)
		}
		svc.Cache().Invalidate(ctx, j.ID)
	}

	if v, err := svc.Progress(ctx, j.ID); err != nil || v.Status != jobs.StatusQueued {
		t.Fatalf("Progress() = %+v, %v, want the queued snapshot", v, err)
	}
	v, err := svc.Progress(ctx, j.ID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if v.Status != jobs.StatusCancelled {
		t.Errorf("Status after invalidate = %s, want cancelled", v.Status)
	}
}

func TestService_SubmitInputRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.pdf"), filepath.Join(root, "link.pdf")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"inside", filepath.Join(root, "a.pdf"), false},
		{"nested", filepath.Join(root, "user-1", "a.pdf"), false},
		{"outside", filepath.Join(outside, "secret.pdf"), true},
		{"dot dot", filepath.Join(root, "..", "a.pdf"), true},
		{"root itself", root, true},
		{"symlink out", filepath.Join(root, "link.pdf"), true},
		{"relative", "a.pdf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobs.NewMemoryStore()
			svc := NewService(ServiceConfig{Store: store, InputRoot: root, Now: fixedNow})
			req := validRequest()
			req.InputRef = tt.ref
			j, err := svc.Submit(context.Background(), req)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("Submit(%s) error = %v, want ErrInvalidRequest", tt.ref, err)
				}
				if list, _ := store.List(context.Background(), jobs.ListFilter{}); len(list) != 0 {
					t.Errorf("rejected input created %d jobs", len(list))
				}
				return
			}
			if err != nil {
				t.Fatalf("Submit(%s) error = %v", tt.ref, err)
			}
			if j.InputRef != filepath.Clean(tt.ref) {
				t.Errorf("InputRef = %s, want %s", j.InputRef, filepath.Clean(tt.ref))
			}
		})
	}
}

func TestService_CancelQueued(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()
	j, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := svc.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, _ := svc.Get(ctx, j.ID)
	if got.Status != jobs.StatusCancelled || got.CompletedAt == nil {
		t.Errorf("job = %s completed_at=%v, want cancelled with completed_at", got.Status, got.CompletedAt)
	}
	if len(q.interrupted) != 0 {
		t.Errorf("interrupted = %v, want none for a queued job", q.interrupted)
	}
	if v, _ := svc.Progress(ctx, j.ID); v.Status != jobs.StatusCancelled {
		t.Errorf("Progress().Status = %s, want cancelled", v.Status)
	}

	if err := svc.Cancel(ctx, j.ID); !errors.Is(err, jobs.ErrTerminal) {
		t.Errorf("second Cancel() error = %v, want ErrTerminal", err)
	}
}

func TestService_CancelRunning(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()
	j, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := store.Update(ctx, j.ID, func(j *jobs.ConversionJob) error {
		return j.Transition(jobs.StatusAnalyzing, descAnalyzing, testNow)
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := svc.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, _ := svc.Get(ctx, j.ID)
	if got.Status != jobs.StatusAnalyzing || !got.CancelRequested {
		t.Errorf("job = %s cancel_requested=%v, want analyzing with flag", got.Status, got.CancelRequested)
	}
	if len(q.interrupted) != 1 || q.interrupted[0] != j.ID {
		t.Errorf("interrupted = %v, want [%s]", q.interrupted, j.ID)
	}
}

func TestService_Delete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	keep, _ := svc.Submit(ctx, validRequest())
	gone, _ := svc.Submit(ctx, validRequest())

	if _, err := svc.Progress(ctx, gone.ID); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if err := svc.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := svc.Get(ctx, gone.ID); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Progress(ctx, gone.ID); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Progress() after delete error = %v, want ErrNotFound", err)
	}
	list, err := svc.List(ctx, jobs.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != keep.ID {
		t.Errorf("List() = %d jobs, want only %s", len(list), keep.ID)
	}
	if err := svc.Delete(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNewProgressView(t *testing.T) {
	started := testNow.Add(-60 * time.Second)
	conf := 97.5

	tests := []struct {
		name    string
		job     jobs.ConversionJob
		wantETA *int
	}{
		{
			name: "queued",
			job:  jobs.ConversionJob{Status: jobs.StatusQueued, ProgressPercentage: 15},
		},
		{
			name: "analysis just started",
			job:  jobs.ConversionJob{Status: jobs.StatusAnalyzing, ProgressPercentage: 25, StartedAt: &started},
		},
		{
			name:    "halfway",
			job:     jobs.ConversionJob{Status: jobs.StatusExtracting, ProgressPercentage: 50, StartedAt: &started},
			wantETA: intPtr(120),
		},
		{
			name: "completed",
			job:  jobs.ConversionJob{Status: jobs.StatusCompleted, ProgressPercentage: 100, StartedAt: &started},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewProgressView(&tt.job, testNow)
			switch {
			case tt.wantETA == nil && v.EstimatedTimeRemainingSeconds != nil:
				t.Errorf("ETA = %d, want nil", *v.EstimatedTimeRemainingSeconds)
			case tt.wantETA != nil && v.EstimatedTimeRemainingSeconds == nil:
				t.Errorf("ETA = nil, want %d", *tt.wantETA)
			case tt.wantETA != nil && *v.EstimatedTimeRemainingSeconds != *tt.wantETA:
				t.Errorf("ETA = %d, want %d", *v.EstimatedTimeRemainingSeconds, *tt.wantETA)
			}
		})
	}

	t.Run("metadata", func(t *testing.T) {
		j := &jobs.ConversionJob{
			ID:     "job-1",
			Status: jobs.StatusStructuring,
			StageMetadata: map[string]any{
				"tables":    float64(3),
				"images":    2,
				"equations": int64(1),
				"chapters":  float64(4),
				"cost":      map[string]any{"requests": float64(12), "estimated_usd": 0.123456},
			},
			QualityReport: &quality.Report{OverallConfidence: &conf},
		}
		v := NewProgressView(j, testNow)
		want := ElementsDetected{Tables: 3, Images: 2, Equations: 1, Chapters: 4}
		if v.ElementsDetected != want {
			t.Errorf("ElementsDetected = %+v, want %+v", v.ElementsDetected, want)
		}
		if v.EstimatedCost == nil || v.EstimatedCost.Requests != 12 || v.EstimatedCost.EstimatedUSD != 0.1235 {
			t.Errorf("EstimatedCost = %+v, want 12 requests at 0.1235", v.EstimatedCost)
		}
		if v.QualityConfidence == nil || *v.QualityConfidence != conf {
			t.Errorf("QualityConfidence = %v, want %v", v.QualityConfidence, conf)
		}
		if !v.Timestamp.Equal(testNow) {
			t.Errorf("Timestamp = %v, want %v", v.Timestamp, testNow)
		}
	})
}

func intPtr(n int) *int { return &n }
