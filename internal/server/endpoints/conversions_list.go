package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/jobs"
)

// ListConversionsResponse is the response for listing conversions.
type ListConversionsResponse struct {
	Conversions []*jobs.ConversionJob `json:"conversions"`
}

// Table renders the conversions as rows for the CLI.
func (l ListConversionsResponse) Table(colorize bool) ([]string, [][]string, []api.Alignment) {
	headers := []string{"ID", "USER", "TITLE", "STATUS", "PROGRESS", "CONFIDENCE", "CREATED"}
	rows := make([][]string, 0, len(l.Conversions))
	for _, j := range l.Conversions {
		confidence := "-"
		if j.QualityReport != nil && j.QualityReport.OverallConfidence != nil {
			confidence = strconv.FormatFloat(*j.QualityReport.OverallConfidence, 'f', 1, 64)
		}
		rows = append(rows, []string{
			j.ID,
			j.UserID,
			j.Title,
			api.ColorStatus(string(j.Status), colorize),
			strconv.Itoa(j.ProgressPercentage) + "%",
			confidence,
			j.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	aligns := []api.Alignment{api.AlignLeft, api.AlignLeft, api.AlignLeft, api.AlignLeft, api.AlignRight, api.AlignRight, api.AlignLeft}
	return headers, rows, aligns
}

// ListConversionsEndpoint handles GET /api/conversions.
type ListConversionsEndpoint struct{}

func (e *ListConversionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions", e.handler
}

func (e *ListConversionsEndpoint) RequiresInit() bool { return true }

func (e *ListConversionsEndpoint) Group() string { return "conversions" }

// handler godoc
//
//	@Summary		List conversions
//	@Description	List conversions, newest first, with optional filtering
//	@Tags			conversions
//	@Produce		json
//	@Param			user_id	query		string	false	"Filter by user"
//	@Param			status	query		string	false	"Comma-separated statuses"
//	@Param			limit	query		int		false	"Maximum results (default 100)"
//	@Success		200		{object}	ListConversionsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/conversions [get]
func (e *ListConversionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := conversions(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := jobs.ListFilter{UserID: q.Get("user_id")}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := jobs.Status(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	list, err := svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.ConversionJob{}
	}
	writeJSON(w, http.StatusOK, ListConversionsResponse{Conversions: list})
}

func (e *ListConversionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var userID string
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversions",
		Long: `List conversions as a table.

Pass --output json or --output yaml for structured output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			path := "/api/conversions"
			params := url.Values{}
			if userID != "" {
				params.Set("user_id", userID)
			}
			if len(statuses) > 0 {
				params.Set("status", strings.Join(statuses, ","))
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp ListConversionsResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}

			format := api.GetOutputFormat()
			if f := cmd.Flags().Lookup("output"); f == nil || !f.Changed {
				format = api.OutputFormatTable
			}
			return api.OutputAs(format, resp)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Filter by user")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results")
	return cmd
}
