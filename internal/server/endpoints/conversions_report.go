package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/quality"
)

// ConversionReportEndpoint handles GET /api/conversions/{id}/report.
type ConversionReportEndpoint struct{}

func (e *ConversionReportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}/report", e.handler
}

func (e *ConversionReportEndpoint) RequiresInit() bool { return true }

func (e *ConversionReportEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Get quality report
//	@Description	Get the quality report of a finished conversion
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	quality.Report
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"report not ready"
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/conversions/{id}/report [get]
func (e *ConversionReportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}
	report, err := svc.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *ConversionReportEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Show the quality report of a conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report quality.Report
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/conversions/"+args[0]+"/report", &report); err != nil {
				return err
			}
			return api.Output(report)
		},
	}
}
