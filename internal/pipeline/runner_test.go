package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/providers"
)

type runFunc func(ctx context.Context, jobID string) error

func (f runFunc) Run(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func seedJob(t *testing.T, store jobs.Store, id string, status jobs.Status, created time.Time) {
	t.Helper()
	j := &jobs.ConversionJob{
		ID:                 id,
		UserID:             "user-1",
		InputRef:           "/uploads/" + id + ".pdf",
		Status:             status,
		ProgressPercentage: status.ProgressMarker(),
		CurrentStage:       string(status),
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
}

func TestRunner_ProcessesQueue(t *testing.T) {
	ran := make(chan string, 4)
	r := NewRunner(RunnerConfig{
		Orchestrator: runFunc(func(ctx context.Context, id string) error {
			ran <- id
			return nil
		}),
		Store:   jobs.NewMemoryStore(),
		Workers: 2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		cancel()
		r.Wait()
	}()

	if err := r.Start(ctx); err == nil {
		t.Error("second Start() error = nil")
	}

	for _, id := range []string{"a", "b"} {
		if err := r.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	got := map[string]bool{}
	for range 2 {
		select {
		case id := <-ran:
			got[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs to run")
		}
	}
	if !got["a"] || !got["b"] {
		t.Errorf("ran = %v, want a and b", got)
	}
}

func TestRunner_EnqueueFull(t *testing.T) {
	r := NewRunner(RunnerConfig{Store: jobs.NewMemoryStore(), QueueSize: 1})
	ctx := context.Background()
	if err := r.Enqueue(ctx, "a"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := r.Enqueue(ctx, "b"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() on full queue error = %v, want ErrQueueFull", err)
	}
	if queued, running := r.Stats(); queued != 1 || running != 0 {
		t.Errorf("Stats() = %d, %d, want 1, 0", queued, running)
	}
}

func TestRunner_Recover(t *testing.T) {
	store := jobs.NewMemoryStore()
	seedJob(t, store, "stale", jobs.StatusStructuring, testNow)
	seedJob(t, store, "newer", jobs.StatusQueued, testNow.Add(time.Minute))
	seedJob(t, store, "older", jobs.StatusUploaded, testNow)
	seedJob(t, store, "done", jobs.StatusCompleted, testNow)

	r := NewRunner(RunnerConfig{Store: store, QueueSize: 10})
	ctx := context.Background()

	failed, requeued, err := r.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if failed != 1 || requeued != 2 {
		t.Errorf("Recover() = %d failed, %d requeued, want 1 and 2", failed, requeued)
	}

	stale, err := store.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stale.Status != jobs.StatusFailed || stale.ErrorMessage != interruptedMessage {
		t.Errorf("stale = %s %q, want failed %q", stale.Status, stale.ErrorMessage, interruptedMessage)
	}
	if stale.StageDescription != "Failed during structuring" {
		t.Errorf("StageDescription = %q", stale.StageDescription)
	}

	for _, want := range []string{"older", "newer"} {
		if got := <-r.queue; got != want {
			t.Errorf("queue order: got %s, want %s", got, want)
		}
	}
	if done, _ := store.Get(ctx, "done"); done.Status != jobs.StatusCompleted {
		t.Errorf("completed job changed to %s", done.Status)
	}
}

func TestRunner_FailsJobOnRunError(t *testing.T) {
	store := jobs.NewMemoryStore()
	seedJob(t, store, "job-1", jobs.StatusQueued, testNow)

	r := NewRunner(RunnerConfig{
		Orchestrator: runFunc(func(ctx context.Context, id string) error {
			return errors.New("store unavailable")
		}),
		Store:   store,
		Workers: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	// Recovery picks up the queued job.
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "job to fail", func() bool {
		j, err := store.Get(ctx, "job-1")
		return err == nil && j.Status == jobs.StatusFailed
	})
	j, _ := store.Get(ctx, "job-1")
	if j.ErrorMessage != "store unavailable" {
		t.Errorf("ErrorMessage = %q", j.ErrorMessage)
	}
}

func TestRunner_Interrupt(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan error, 1)
	r := NewRunner(RunnerConfig{
		Orchestrator: runFunc(func(ctx context.Context, id string) error {
			close(started)
			<-ctx.Done()
			stopped <- ctx.Err()
			return nil
		}),
		Store:   jobs.NewMemoryStore(),
		Workers: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started
	if _, running := r.Stats(); running != 1 {
		t.Errorf("running = %d, want 1", running)
	}

	r.Interrupt("other")
	r.Interrupt("job-1")
	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("job context error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not interrupted")
	}
	if ctx.Err() != nil {
		t.Error("interrupt cancelled the runner context")
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	mock := providers.NewMockProvider("")
	mock.ResultFunc = bookPage
	h := newHarness(t, OrchestratorConfig{
		Source:      staticSource{title: "Runner Book", pages: 6},
		NewAnalyzer: mockAnalyzer(mock),
	})
	r := NewRunner(RunnerConfig{Orchestrator: h.orch, Store: h.store, Workers: 2})
	h.svc.SetRunner(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var ids []string
	for range 3 {
		ids = append(ids, h.submit(t, "").ID)
	}
	for _, id := range ids {
		waitFor(t, "job "+id+" to complete", func() bool {
			j, err := h.store.Get(ctx, id)
			return err == nil && j.Status == jobs.StatusCompleted
		})
	}
	if got := mock.RequestCount(); got != 18 {
		t.Errorf("provider requests = %d, want 18", got)
	}
}
