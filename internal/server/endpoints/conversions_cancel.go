package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/pipeline"
)

// CancelConversionEndpoint handles POST /api/conversions/{id}/cancel.
type CancelConversionEndpoint struct{}

func (e *CancelConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/conversions/{id}/cancel", e.handler
}

func (e *CancelConversionEndpoint) RequiresInit() bool { return true }

func (e *CancelConversionEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Cancel a conversion
//	@Description	Waiting conversions are cancelled at once; running ones stop at the next stage boundary
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	pipeline.ProgressView
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"already finished"
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/conversions/{id}/cancel [post]
func (e *CancelConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := svc.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := svc.Progress(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (e *CancelConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view pipeline.ProgressView
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/api/conversions/"+args[0]+"/cancel", nil, &view); err != nil {
				return err
			}
			return api.Output(view)
		},
	}
}
