// Package quality turns per-element confidence from layout analysis into a
// single fidelity verdict with user-facing warnings.
package quality

import "time"

// Document classifications.
const (
	Complex   = "complex"
	TextBased = "text-based"
	Auto      = "auto"
)

// Baseline confidences for elements the analysis stage does not score.
const (
	TextBlockConfidence = 99.0
	ImageConfidence     = 100.0
	EmptyDocumentScore  = 99.0
)

// LowConfidenceItem identifies one table or equation below the warning threshold.
type LowConfidenceItem struct {
	Page       int     `json:"page"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
}

// ElementStats summarizes one element type.
type ElementStats struct {
	Count              int                 `json:"count"`
	AvgConfidence      float64             `json:"avg_confidence"`
	LowConfidenceItems []LowConfidenceItem `json:"low_confidence_items"`
}

// FidelityTarget is the verdict for a document classification.
type FidelityTarget struct {
	Target float64  `json:"target"`
	Actual *float64 `json:"actual"`
	Met    bool     `json:"met"`
}

// Report is the fidelity verdict for a conversion. It is never modified
// after it is stored on a job.
type Report struct {
	OverallConfidence *float64                  `json:"overall_confidence"`
	Elements          map[string]ElementStats   `json:"elements"`
	Warnings          []string                  `json:"warnings"`
	FidelityTargets   map[string]FidelityTarget `json:"fidelity_targets"`
	DocumentType      string                    `json:"document_type,omitempty"`
	DeclaredType      string                    `json:"declared_type,omitempty"`
	Degraded          bool                      `json:"degraded,omitempty"`
	GeneratedAt       time.Time                 `json:"generated_at,omitzero"`
}

// DegradedReport is stored when scoring itself fails.
func DegradedReport(reason string) *Report {
	return &Report{
		OverallConfidence: nil,
		Elements:          map[string]ElementStats{},
		Warnings:          []string{"Quality scoring failed: " + reason},
		FidelityTargets:   map[string]FidelityTarget{},
		Degraded:          true,
	}
}
