package metrics

import (
	"math"
	"sort"
	"time"
)

// TotalCost returns the total cost for metrics matching the filter.
func (r *Recorder) TotalCost(f Filter) float64 {
	var total float64
	for _, m := range r.List(f, 0) {
		total += m.CostUSD
	}
	return total
}

// Summary provides a summary of metrics for a filter.
type Summary struct {
	Count            int           `json:"count"`
	TotalCostUSD     float64       `json:"total_cost_usd"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	TotalTokens      int64         `json:"total_tokens"`
	TotalTime        time.Duration `json:"total_time"`
	SuccessCount     int           `json:"success_count"`
	ErrorCount       int           `json:"error_count"`
	AvgCostUSD       float64       `json:"avg_cost_usd"`
	LatencyP50       float64       `json:"latency_p50"`
	LatencyP95       float64       `json:"latency_p95"`
}

// GetSummary returns a summary of metrics matching the filter.
func (r *Recorder) GetSummary(f Filter) *Summary {
	metrics := r.List(f, 0)

	s := &Summary{Count: len(metrics)}
	latencies := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		s.TotalCostUSD += m.CostUSD
		s.PromptTokens += m.PromptTokens
		s.CompletionTokens += m.CompletionTokens
		s.TotalTokens += m.TotalTokens
		s.TotalTime += time.Duration(m.ExecutionSeconds * float64(time.Second))
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		latencies = append(latencies, m.ExecutionSeconds)
	}

	if s.Count > 0 {
		s.AvgCostUSD = s.TotalCostUSD / float64(s.Count)
		sort.Float64s(latencies)
		s.LatencyP50 = percentile(latencies, 50)
		s.LatencyP95 = percentile(latencies, 95)
	}
	return s
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
