package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
)

// DeleteConversionEndpoint handles DELETE /api/conversions/{id}.
type DeleteConversionEndpoint struct{}

func (e *DeleteConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/conversions/{id}", e.handler
}

func (e *DeleteConversionEndpoint) RequiresInit() bool { return true }

func (e *DeleteConversionEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Delete a conversion
//	@Description	Soft-delete a conversion, cancelling it first if it is still running
//	@Tags			conversions
//	@Param			id	path	string	true	"Conversion ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/conversions/{id} [delete]
func (e *DeleteConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.NewClient(getServerURL()).Delete(cmd.Context(), "/api/conversions/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
