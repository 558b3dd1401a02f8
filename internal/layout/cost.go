package layout

import "math"

// Usage is the token usage reported by a single provider call.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// CostEstimate accumulates usage across calls. Add and Merge are
// commutative and associative.
type CostEstimate struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Requests         int64   `json:"requests"`
	EstimatedUSD     float64 `json:"estimated_usd"`
}

// Add folds one call's usage into the estimate.
func (c *CostEstimate) Add(u Usage) {
	c.PromptTokens += u.PromptTokens
	c.CompletionTokens += u.CompletionTokens
	c.EstimatedUSD += u.CostUSD
	c.Requests++
}

// Merge folds another estimate into c.
func (c *CostEstimate) Merge(o CostEstimate) {
	c.PromptTokens += o.PromptTokens
	c.CompletionTokens += o.CompletionTokens
	c.Requests += o.Requests
	c.EstimatedUSD += o.EstimatedUSD
}

// RoundedUSD returns the estimate rounded to 1/10000 of a dollar.
func (c CostEstimate) RoundedUSD() float64 {
	return math.Round(c.EstimatedUSD*10000) / 10000
}
