package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUploaded, StatusQueued, true},
		{StatusQueued, StatusAnalyzing, true},
		{StatusAnalyzing, StatusExtracting, true},
		{StatusExtracting, StatusStructuring, true},
		{StatusStructuring, StatusGenerating, true},
		{StatusGenerating, StatusCompleted, true},
		{StatusQueued, StatusExtracting, false},
		{StatusStructuring, StatusAnalyzing, false},
		{StatusAnalyzing, StatusFailed, true},
		{StatusUploaded, StatusCancelled, true},
		{StatusGenerating, StatusCancelled, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition_FullPath(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &ConversionJob{ID: "job-1", Status: StatusUploaded, ProgressPercentage: 10}

	path := []struct {
		status   Status
		progress int
	}{
		{StatusQueued, 15},
		{StatusAnalyzing, 25},
		{StatusExtracting, 50},
		{StatusStructuring, 75},
		{StatusGenerating, 90},
		{StatusCompleted, 100},
	}

	for _, step := range path {
		if err := j.Transition(step.status, "desc "+string(step.status), now); err != nil {
			t.Fatalf("Transition(%s) error = %v", step.status, err)
		}
		if j.ProgressPercentage != step.progress {
			t.Errorf("progress after %s = %d, want %d", step.status, j.ProgressPercentage, step.progress)
		}
		if j.CurrentStage != string(step.status) {
			t.Errorf("CurrentStage = %q, want %q", j.CurrentStage, step.status)
		}
	}

	if j.StartedAt == nil || !j.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", j.StartedAt, now)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}
}

func TestTransition_TerminalRejected(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		t.Run(string(st), func(t *testing.T) {
			j := &ConversionJob{ID: "job-1", Status: st}
			err := j.Transition(StatusFailed, "again", time.Now())
			if !errors.Is(err, ErrTerminal) {
				t.Errorf("Transition() error = %v, want ErrTerminal", err)
			}
			if j.Status != st {
				t.Errorf("status changed to %s", j.Status)
			}
		})
	}
}

func TestTransition_InvalidRejected(t *testing.T) {
	j := &ConversionJob{ID: "job-1", Status: StatusExtracting, ProgressPercentage: 50}
	err := j.Transition(StatusAnalyzing, "back", time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
	}
	if j.Status != StatusExtracting || j.ProgressPercentage != 50 {
		t.Errorf("job mutated: status=%s progress=%d", j.Status, j.ProgressPercentage)
	}
}

func TestTransition_FailureKeepsProgress(t *testing.T) {
	j := &ConversionJob{ID: "job-1", Status: StatusStructuring, ProgressPercentage: 75}
	if err := j.Transition(StatusFailed, "boom", time.Now()); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if j.ProgressPercentage != 75 {
		t.Errorf("progress = %d, want 75", j.ProgressPercentage)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set on failure")
	}
}

func TestSetProgress_Monotonic(t *testing.T) {
	j := &ConversionJob{}
	for _, p := range []int{25, 30, 28, 50, 40, 120} {
		before := j.ProgressPercentage
		j.SetProgress(p)
		if j.ProgressPercentage < before {
			t.Fatalf("progress decreased from %d to %d", before, j.ProgressPercentage)
		}
	}
	if j.ProgressPercentage != 100 {
		t.Errorf("progress = %d, want capped 100", j.ProgressPercentage)
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusAnalyzing.Running() || StatusQueued.Running() {
		t.Error("Running() mismatch")
	}
	if !StatusCancelled.Terminal() || StatusGenerating.Terminal() {
		t.Error("Terminal() mismatch")
	}
	if Status("bogus").Valid() {
		t.Error("bogus status reported valid")
	}
	if !StatusFailed.Valid() {
		t.Error("failed reported invalid")
	}
}

func TestCloneIsolatesMetadata(t *testing.T) {
	j := &ConversionJob{StageMetadata: map[string]any{"pages_total": 10}}
	c := j.Clone()
	c.MergeMetadata(map[string]any{"pages_total": 11, "tables": 2})

	if j.StageMetadata["pages_total"] != 10 {
		t.Errorf("original metadata mutated: %v", j.StageMetadata)
	}
	if _, ok := j.StageMetadata["tables"]; ok {
		t.Error("original gained key from clone")
	}
}
