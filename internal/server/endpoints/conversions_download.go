package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/epub"
)

// DownloadConversionEndpoint handles GET /api/conversions/{id}/download.
type DownloadConversionEndpoint struct{}

func (e *DownloadConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}/download", e.handler
}

func (e *DownloadConversionEndpoint) RequiresInit() bool { return true }

func (e *DownloadConversionEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Download the EPUB
//	@Description	Download the EPUB of a completed conversion
//	@Tags			conversions
//	@Produce		application/epub+zip
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"output not ready"
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/conversions/{id}/download [get]
func (e *DownloadConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	path, err := svc.Output(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open output")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat output")
		return
	}

	w.Header().Set("Content-Type", epub.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".epub"))
	http.ServeContent(w, r, id+".epub", st.ModTime(), f)
}

func (e *DownloadConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the EPUB of a completed conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = args[0] + ".epub"
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			n, err := api.NewClient(getServerURL()).Download(cmd.Context(), "/api/conversions/"+args[0]+"/download", f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "Output path (default: <id>.epub)")
	return cmd
}
