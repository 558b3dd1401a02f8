// Package metrics records per-call provider usage and answers cost queries.
package metrics

import "time"

// Metric is one provider call with its attribution. Metrics are append-only.
type Metric struct {
	ID string `json:"id"`

	// Attribution
	JobID string `json:"job_id,omitempty"`
	Stage string `json:"stage,omitempty"`
	Page  int    `json:"page,omitempty"`

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Cost and tokens
	CostUSD          float64 `json:"cost_usd"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`

	ExecutionSeconds float64 `json:"execution_seconds"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
