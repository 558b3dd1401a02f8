package pipeline

import (
	"encoding/json"
	"math"
	"time"

	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/layout"
)

// ElementsDetected summarizes extraction and structuring results.
type ElementsDetected struct {
	Tables    int `json:"tables"`
	Images    int `json:"images"`
	Equations int `json:"equations"`
	Chapters  int `json:"chapters"`
}

// ProgressView is the client-facing progress snapshot of a job.
type ProgressView struct {
	JobID                         string               `json:"job_id"`
	Status                        jobs.Status          `json:"status"`
	ProgressPercentage            int                  `json:"progress_percentage"`
	CurrentStage                  string               `json:"current_stage"`
	StageDescription              string               `json:"stage_description"`
	ElementsDetected              ElementsDetected     `json:"elements_detected"`
	EstimatedTimeRemainingSeconds *int                 `json:"estimated_time_remaining_seconds,omitempty"`
	EstimatedCost                 *layout.CostEstimate `json:"estimated_cost,omitempty"`
	QualityConfidence             *float64             `json:"quality_confidence,omitempty"`
	ErrorMessage                  string               `json:"error_message,omitempty"`
	Timestamp                     time.Time            `json:"timestamp"`
}

// NewProgressView builds the view of j as of now.
func NewProgressView(j *jobs.ConversionJob, now time.Time) *ProgressView {
	v := &ProgressView{
		JobID:              j.ID,
		Status:             j.Status,
		ProgressPercentage: j.ProgressPercentage,
		CurrentStage:       j.CurrentStage,
		StageDescription:   j.StageDescription,
		ErrorMessage:       j.ErrorMessage,
		Timestamp:          now,
		ElementsDetected: ElementsDetected{
			Tables:    metaInt(j.StageMetadata, "tables"),
			Images:    metaInt(j.StageMetadata, "images"),
			Equations: metaInt(j.StageMetadata, "equations"),
			Chapters:  metaInt(j.StageMetadata, "chapters"),
		},
	}

	var cost layout.CostEstimate
	if metaInto(j.StageMetadata, "cost", &cost) && cost.Requests > 0 {
		cost.EstimatedUSD = cost.RoundedUSD()
		v.EstimatedCost = &cost
	}
	if j.QualityReport != nil && j.QualityReport.OverallConfidence != nil {
		c := *j.QualityReport.OverallConfidence
		v.QualityConfidence = &c
	}
	v.EstimatedTimeRemainingSeconds = estimateRemaining(j, now)
	return v
}

// estimateRemaining extrapolates linearly from time spent since analysis
// started. It is nil until there is progress past the analysis start.
func estimateRemaining(j *jobs.ConversionJob, now time.Time) *int {
	if !j.Status.Running() || j.StartedAt == nil {
		return nil
	}
	done := float64(j.ProgressPercentage - jobs.AnalyzingStart)
	if done <= 0 {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	left := float64(100 - j.ProgressPercentage)
	secs := int(math.Ceil(elapsed * left / done))
	return &secs
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// metaInto decodes meta[key] into out, handling both in-memory structs
// and values decoded from JSON.
func metaInto(meta map[string]any, key string, out any) bool {
	raw, ok := meta[key]
	if !ok || raw == nil {
		return false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}
