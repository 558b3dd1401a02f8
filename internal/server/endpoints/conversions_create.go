package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/ingest"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/pipeline"
	"github.com/jackzampolin/bindery/internal/svcctx"
)

// multipartMemory is held in memory before parts spill to disk.
const multipartMemory = 32 << 20

// CreateConversionEndpoint handles POST /api/conversions.
type CreateConversionEndpoint struct{}

var _ api.Endpoint = (*CreateConversionEndpoint)(nil)

func (e *CreateConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/conversions", e.handler
}

func (e *CreateConversionEndpoint) RequiresInit() bool { return true }

func (e *CreateConversionEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		Submit a conversion
//	@Description	Submit a PDF for conversion, either as a multipart upload or as JSON naming a server-side input_ref
//	@Tags			conversions
//	@Accept			json,mpfd
//	@Produce		json
//	@Param			request			body		pipeline.SubmitRequest	false	"JSON submit request"
//	@Param			file			formData	file					false	"PDF to convert"
//	@Param			user_id			formData	string					false	"Submitting user"
//	@Param			title			formData	string					false	"Book title"
//	@Param			document_type	formData	string					false	"auto, complex or text-based"
//	@Success		202				{object}	jobs.ConversionJob
//	@Failure		400				{object}	ErrorResponse
//	@Failure		413				{object}	ErrorResponse
//	@Failure		500				{object}	ErrorResponse
//	@Failure		503				{object}	ErrorResponse
//	@Router			/api/conversions [post]
func (e *CreateConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}

	var req pipeline.SubmitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var status int
		var err error
		req, status, err = readUpload(w, r)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := svc.Submit(r.Context(), req)
	if err != nil {
		if req.InputRef != "" && mediaType == "multipart/form-data" {
			os.Remove(req.InputRef)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// readUpload saves the multipart "file" part into the uploads directory and
// returns the submit request built from the form fields.
func readUpload(w http.ResponseWriter, r *http.Request) (pipeline.SubmitRequest, int, error) {
	var req pipeline.SubmitRequest

	home := svcctx.HomeFrom(r.Context())
	if home == nil {
		return req, http.StatusServiceUnavailable, errors.New("home directory not initialized")
	}
	if s := svcctx.ServicesFrom(r.Context()); s != nil && s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes+multipartMemory)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return req, http.StatusBadRequest, fmt.Errorf("failed to parse form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile("file")
	if err != nil {
		return req, http.StatusBadRequest, errors.New("file is required")
	}
	defer f.Close()

	path, err := ingest.SaveUpload(home.UploadsPath(), f)
	if err != nil {
		if errors.Is(err, ingest.ErrNotPDF) {
			return req, http.StatusBadRequest, err
		}
		return req, http.StatusInternalServerError, err
	}

	req.UserID = r.FormValue("user_id")
	req.Title = r.FormValue("title")
	req.DocumentType = r.FormValue("document_type")
	req.InputRef = path
	return req, 0, nil
}

func (e *CreateConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var userID, title, docType, inputRef string
	cmd := &cobra.Command{
		Use:   "create [file.pdf]",
		Short: "Submit a PDF for conversion",
		Long: `Submit a PDF for conversion.

With a file argument the PDF is uploaded to the server. With --input-ref the
server reads a PDF that already exists in its uploads directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if userID == "" {
				userID = currentUser()
			}

			var job jobs.ConversionJob
			switch {
			case len(args) == 1:
				fields := map[string]string{
					"user_id":       userID,
					"title":         title,
					"document_type": docType,
				}
				if err := client.Upload(ctx, "/api/conversions", args[0], fields, &job); err != nil {
					return err
				}
			case inputRef != "":
				req := pipeline.SubmitRequest{
					UserID:       userID,
					InputRef:     inputRef,
					Title:        title,
					DocumentType: docType,
				}
				if err := client.Post(ctx, "/api/conversions", req, &job); err != nil {
					return err
				}
			default:
				return fmt.Errorf("a file argument or --input-ref is required")
			}
			return api.Output(job)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Submitting user (default: current OS user)")
	cmd.Flags().StringVar(&title, "title", "", "Book title (derived from the PDF if empty)")
	cmd.Flags().StringVar(&docType, "type", "", "Document type: auto, complex or text-based")
	cmd.Flags().StringVar(&inputRef, "input-ref", "", "Path of a PDF in the server's uploads directory")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
