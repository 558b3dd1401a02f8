// Package jobs holds the conversion job record, its status state machine
// and the durable stores that persist it.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/bindery/internal/quality"
)

// Status is the pipeline stage a job is in.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusQueued      Status = "queued"
	StatusAnalyzing   Status = "analyzing"
	StatusExtracting  Status = "extracting"
	StatusStructuring Status = "structuring"
	StatusGenerating  Status = "generating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var (
	// ErrNotFound is returned for unknown or soft-deleted jobs.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when a transition is attempted on a finished job.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for backward or skipped transitions.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// stageOrder is the forward path through the pipeline.
var stageOrder = map[Status]int{
	StatusUploaded:    0,
	StatusQueued:      1,
	StatusAnalyzing:   2,
	StatusExtracting:  3,
	StatusStructuring: 4,
	StatusGenerating:  5,
	StatusCompleted:   6,
}

// stageProgress is the progress marker set on entering a status.
var stageProgress = map[Status]int{
	StatusUploaded:    10,
	StatusQueued:      15,
	StatusAnalyzing:   25,
	StatusExtracting:  50,
	StatusStructuring: 75,
	StatusGenerating:  90,
	StatusCompleted:   100,
}

// Progress markers within stages.
const (
	AnalyzingStart = 25
	AnalyzingEnd   = 50
	GeneratingDone = 95
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := stageOrder[s]
	return ok || s == StatusFailed || s == StatusCancelled
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Running reports whether the pipeline is actively working on the job.
func (s Status) Running() bool {
	switch s {
	case StatusAnalyzing, StatusExtracting, StatusStructuring, StatusGenerating:
		return true
	}
	return false
}

// ProgressMarker returns the progress for entering s.
func (s Status) ProgressMarker() int {
	return stageProgress[s]
}

// CanTransition reports whether from -> to is allowed. Forward moves go one
// stage at a time; any non-terminal status may move to failed or cancelled.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	f, okFrom := stageOrder[from]
	t, okTo := stageOrder[to]
	return okFrom && okTo && t == f+1
}

// ConversionJob is the durable record of one document conversion.
type ConversionJob struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	InputRef           string          `json:"input_ref"`
	Title              string          `json:"title,omitempty"`
	DocumentType       string          `json:"document_type"`
	Status             Status          `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStage       string          `json:"current_stage"`
	StageDescription   string          `json:"stage_description"`
	StageMetadata      map[string]any  `json:"stage_metadata"`
	QualityReport      *quality.Report `json:"quality_report,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	OutputRef          string          `json:"output_ref,omitempty"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
}

// Transition moves the job to status to, setting the stage, description,
// progress marker and timestamps.
func (j *ConversionJob) Transition(to Status, description string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, j.ID, j.Status)
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	j.Status = to
	j.CurrentStage = string(to)
	j.StageDescription = description
	j.SetProgress(to.ProgressMarker())

	switch {
	case to == StatusAnalyzing:
		j.StartedAt = &now
	case to.Terminal():
		j.CompletedAt = &now
	}
	return nil
}

// SetProgress raises progress to p. Progress never decreases.
func (j *ConversionJob) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.ProgressPercentage {
		j.ProgressPercentage = p
	}
}

// MergeMetadata copies values into StageMetadata.
func (j *ConversionJob) MergeMetadata(values map[string]any) {
	if j.StageMetadata == nil {
		j.StageMetadata = make(map[string]any, len(values))
	}
	for k, v := range values {
		j.StageMetadata[k] = v
	}
}

// Clone returns a deep-enough copy for handing out of a store.
func (j *ConversionJob) Clone() *ConversionJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StageMetadata != nil {
		c.StageMetadata = make(map[string]any, len(j.StageMetadata))
		for k, v := range j.StageMetadata {
			c.StageMetadata[k] = v
		}
	}
	return &c
}
