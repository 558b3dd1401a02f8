package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/metrics"
	"github.com/jackzampolin/bindery/internal/svcctx"
)

// MetricsSummaryResponse is the response for summary queries.
type MetricsSummaryResponse struct {
	Count            int                `json:"count"`
	TotalCostUSD     float64            `json:"total_cost_usd"`
	TotalTokens      int64              `json:"total_tokens"`
	TotalTimeSeconds float64            `json:"total_time_seconds"`
	SuccessCount     int                `json:"success_count"`
	ErrorCount       int                `json:"error_count"`
	AvgCostUSD       float64            `json:"avg_cost_usd"`
	LatencyP50       float64            `json:"latency_p50"`
	LatencyP95       float64            `json:"latency_p95"`
	CostByProvider   map[string]float64 `json:"cost_by_provider"`
}

// MetricsSummaryEndpoint handles GET /api/metrics/summary.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/summary", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return true }

func (e *MetricsSummaryEndpoint) Group() string { return "metrics" }

// handler godoc
//
//	@Summary		Provider usage summary
//	@Description	Request counts, token usage, latency and cost since server start
//	@Tags			metrics
//	@Produce		json
//	@Param			job_id		query		string	false	"Filter by conversion ID"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			model		query		string	false	"Filter by model"
//	@Success		200			{object}	MetricsSummaryResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/metrics/summary [get]
func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	recorder := svcctx.MetricsFrom(r.Context())
	if recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics recorder not initialized")
		return
	}

	f := metrics.Filter{
		JobID:    r.URL.Query().Get("job_id"),
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	}
	summary := recorder.GetSummary(f)

	writeJSON(w, http.StatusOK, MetricsSummaryResponse{
		Count:            summary.Count,
		TotalCostUSD:     summary.TotalCostUSD,
		TotalTokens:      summary.TotalTokens,
		TotalTimeSeconds: summary.TotalTime.Seconds(),
		SuccessCount:     summary.SuccessCount,
		ErrorCount:       summary.ErrorCount,
		AvgCostUSD:       summary.AvgCostUSD,
		LatencyP50:       summary.LatencyP50,
		LatencyP95:       summary.LatencyP95,
		CostByProvider:   recorder.CostByProvider(f),
	})
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var jobID, provider, model string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Get provider usage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())

			path := "/api/metrics/summary"
			params := url.Values{}
			if jobID != "" {
				params.Set("job_id", jobID)
			}
			if provider != "" {
				params.Set("provider", provider)
			}
			if model != "" {
				params.Set("model", model)
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp MetricsSummaryResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				return api.Output(resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Metrics Summary\n")
			fmt.Fprintf(out, "===============\n")
			fmt.Fprintf(out, "  Requests:    %d\n", resp.Count)
			fmt.Fprintf(out, "  Success:     %d\n", resp.SuccessCount)
			fmt.Fprintf(out, "  Errors:      %d\n", resp.ErrorCount)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Total Cost:  $%.4f\n", resp.TotalCostUSD)
			fmt.Fprintf(out, "  Avg Cost:    $%.6f\n", resp.AvgCostUSD)
			for p, c := range resp.CostByProvider {
				fmt.Fprintf(out, "    %-10s $%.4f\n", p+":", c)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Total Tokens: %d\n", resp.TotalTokens)
			fmt.Fprintf(out, "  Total Time:   %s\n", time.Duration(resp.TotalTimeSeconds*float64(time.Second)))
			fmt.Fprintf(out, "  Latency p50:  %.2fs\n", resp.LatencyP50)
			fmt.Fprintf(out, "  Latency p95:  %.2fs\n", resp.LatencyP95)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Filter by conversion ID")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")

	return cmd
}
