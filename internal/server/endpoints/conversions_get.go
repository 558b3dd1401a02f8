package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/pipeline"
)

// GetConversionEndpoint handles GET /api/conversions/{id}.
type GetConversionEndpoint struct{}

func (e *GetConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}", e.handler
}

func (e *GetConversionEndpoint) RequiresInit() bool { return true }

func (e *GetConversionEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Get conversion progress
//	@Description	Get the progress snapshot of a conversion. Snapshots are cached for up to the cache TTL.
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	pipeline.ProgressView
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/conversions/{id} [get]
func (e *GetConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}
	view, err := svc.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (e *GetConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show conversion progress",
		Long: `Show the progress of a conversion.

With --watch, print a line each time progress changes until the conversion
finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := "/api/conversions/" + args[0]

			if !watch {
				var view pipeline.ProgressView
				if err := client.Get(ctx, path, &view); err != nil {
					return err
				}
				return api.Output(view)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			last := ""
			for {
				var view pipeline.ProgressView
				if err := client.Get(ctx, path, &view); err != nil {
					return err
				}
				line := fmt.Sprintf("%3d%%  %-12s %s", view.ProgressPercentage, view.Status, view.StageDescription)
				if line != last {
					fmt.Fprintln(cmd.OutOrStdout(), line)
					last = line
				}
				if view.Status.Terminal() {
					if view.ErrorMessage != "" {
						return fmt.Errorf("conversion %s: %s", view.Status, view.ErrorMessage)
					}
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the conversion finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --watch")
	return cmd
}
