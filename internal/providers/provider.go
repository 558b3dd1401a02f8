package providers

import (
	"context"

	"github.com/jackzampolin/bindery/internal/layout"
)

// Provider is a page-analysis model behind a single network call.
// Implementations never retry; retries and fallback belong to the caller.
// Every call reports usage: on success in PageAnalysis.Usage, on failure in
// the returned *ProviderError.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string

	// Analyze extracts structured layout from a single page.
	Analyze(ctx context.Context, page layout.PageInput) (*layout.PageAnalysis, error)
}

// Pricing is the per-million-token cost of a model.
type Pricing struct {
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

// Usage converts raw token counts into a priced usage record.
func (p Pricing) Usage(promptTokens, completionTokens int64) layout.Usage {
	return layout.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD: float64(promptTokens)*p.InputPerMTok/1e6 +
			float64(completionTokens)*p.OutputPerMTok/1e6,
	}
}
