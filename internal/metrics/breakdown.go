package metrics

// JobCost returns the total cost for a job.
func (r *Recorder) JobCost(jobID string) float64 {
	return r.TotalCost(Filter{JobID: jobID})
}

// CostByProvider returns cost breakdown by provider.
func (r *Recorder) CostByProvider(f Filter) map[string]float64 {
	return r.breakdown(f, func(m *Metric) string { return m.Provider })
}

// CostByModel returns cost breakdown by model.
func (r *Recorder) CostByModel(f Filter) map[string]float64 {
	return r.breakdown(f, func(m *Metric) string { return m.Model })
}

// CostByStage returns cost breakdown by pipeline stage.
func (r *Recorder) CostByStage(f Filter) map[string]float64 {
	return r.breakdown(f, func(m *Metric) string { return m.Stage })
}

func (r *Recorder) breakdown(f Filter, key func(*Metric) string) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		out[key(&m)] += m.CostUSD
	}
	return out
}
