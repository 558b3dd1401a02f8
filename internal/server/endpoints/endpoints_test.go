package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swaggo/swag"

	"github.com/jackzampolin/bindery/docs/swagger"
	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/home"
	"github.com/jackzampolin/bindery/internal/ingest"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/metrics"
	"github.com/jackzampolin/bindery/internal/pipeline"
	"github.com/jackzampolin/bindery/internal/providers"
	"github.com/jackzampolin/bindery/internal/quality"
	"github.com/jackzampolin/bindery/internal/svcctx"
)

type fakeRunner struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeRunner) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeRunner) Interrupt(string) {}

type testEnv struct {
	store    *jobs.MemoryStore
	runner   *fakeRunner
	home     *home.Dir
	recorder *metrics.Recorder
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := jobs.NewMemoryStore()
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	svc := pipeline.NewService(pipeline.ServiceConfig{Store: store, Runner: runner, InputRoot: h.UploadsPath(), Logger: logger})

	registry := providers.NewRegistry()
	registry.Register("mock", providers.NewMockProvider("mock"))
	recorder := metrics.NewRecorder(0, logger)

	services := &svcctx.Services{
		Conversions:    svc,
		Registry:       registry,
		Metrics:        recorder,
		Home:           h,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	}

	return &testEnv{
		store:    store,
		runner:   runner,
		home:     h,
		recorder: recorder,
		handler:  newMux(services),
	}
}

func newMux(services *svcctx.Services) http.Handler {
	reg := api.NewRegistry()
	for _, ep := range All() {
		reg.Register(ep)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(b)
	}
	return e.do(t, method, path, r, "application/json")
}

// seed stores a job directly, bypassing Submit.
func (e *testEnv) seed(t *testing.T, id string, status jobs.Status, mutate func(*jobs.ConversionJob)) *jobs.ConversionJob {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &jobs.ConversionJob{
		ID:                 id,
		UserID:             "user-1",
		InputRef:           "/uploads/" + id + ".pdf",
		Title:              "Book " + id,
		DocumentType:       quality.Auto,
		Status:             status,
		ProgressPercentage: status.ProgressMarker(),
		CurrentStage:       string(status),
		StageMetadata:      map[string]any{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(j)
	}
	if err := e.store.Create(context.Background(), j); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return j
}

func (e *testEnv) seedCompleted(t *testing.T, id string) *jobs.ConversionJob {
	t.Helper()
	out := filepath.Join(e.home.OutputsPath(), id+".epub")
	if err := os.WriteFile(out, []byte("PK-epub-"+id), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	confidence := 97.5
	return e.seed(t, id, jobs.StatusCompleted, func(j *jobs.ConversionJob) {
		j.OutputRef = out
		j.QualityReport = &quality.Report{
			OverallConfidence: &confidence,
			Elements:          map[string]quality.ElementStats{},
			Warnings:          []string{},
			FidelityTargets:   map[string]quality.FidelityTarget{},
		}
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Error
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/health", nil, "")
	if rec.Code != http.StatusOK || decode[HealthResponse](t, rec).Status != "ok" {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/ready", nil, "")
	if got := decode[HealthResponse](t, rec); rec.Code != http.StatusOK || got.Store != "ok" {
		t.Errorf("GET /ready = %d %+v", rec.Code, got)
	}

	rec = env.do(t, "GET", "/status", nil, "")
	status := decode[StatusResponse](t, rec)
	if rec.Code != http.StatusOK || len(status.Providers) != 1 || status.Providers[0] != "mock" {
		t.Errorf("GET /status = %d %+v", rec.Code, status)
	}
}

func TestReady_NotInitialized(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d, want 503", rec.Code)
	}
	if got := decode[HealthResponse](t, rec); got.Store != "not_initialized" {
		t.Errorf("Store = %q, want not_initialized", got.Store)
	}

	rec = httptest.NewRecorder()
	newMux(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/api/conversions", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/conversions without services = %d, want 503", rec.Code)
	}
}

func TestCreateConversion_JSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "POST", "/api/conversions", pipeline.SubmitRequest{
		UserID:       "user-1",
		InputRef:     filepath.Join(env.home.UploadsPath(), "a.pdf"),
		DocumentType: quality.Complex,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/conversions = %d %s", rec.Code, rec.Body.String())
	}
	job := decode[jobs.ConversionJob](t, rec)
	if job.Status != jobs.StatusQueued || job.ProgressPercentage != 15 || job.DocumentType != quality.Complex {
		t.Errorf("job = %s %d %s", job.Status, job.ProgressPercentage, job.DocumentType)
	}
	if len(env.runner.enqueued) != 1 || env.runner.enqueued[0] != job.ID {
		t.Errorf("enqueued = %v, want [%s]", env.runner.enqueued, job.ID)
	}
}

func TestCreateConversion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runnerErr  error
		wantStatus int
		wantError  string
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest, "invalid request body"},
		{"missing user", `{"input_ref":"UPLOADS/a.pdf"}`, nil, http.StatusBadRequest, "invalid request"},
		{"bad document type", `{"user_id":"u","input_ref":"UPLOADS/a.pdf","document_type":"scan"}`, nil, http.StatusBadRequest, "invalid request"},
		{"input outside uploads", `{"user_id":"u","input_ref":"/etc/book.pdf"}`, nil, http.StatusBadRequest, "must be inside"},
		{"input escapes uploads", `{"user_id":"u","input_ref":"UPLOADS/../config.yaml"}`, nil, http.StatusBadRequest, "must be inside"},
		{"uploads dir itself", `{"user_id":"u","input_ref":"UPLOADS"}`, nil, http.StatusBadRequest, "must be inside"},
		{"queue full", `{"user_id":"u","input_ref":"UPLOADS/a.pdf"}`, pipeline.ErrQueueFull, http.StatusServiceUnavailable, "job queue is full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.runner.err = tt.runnerErr
			body := strings.ReplaceAll(tt.body, "UPLOADS", filepath.ToSlash(env.home.UploadsPath()))
			rec := env.do(t, "POST", "/api/conversions", strings.NewReader(body), "application/json")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := errorBody(t, rec); !strings.Contains(got, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", got, tt.wantError)
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "book.pdf")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		part.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestCreateConversion_Upload(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"user_id": "user-2", "title": "Uploaded"}, []byte("%PDF-1.7\nbody"))
	rec := env.do(t, "POST", "/api/conversions", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	job := decode[jobs.ConversionJob](t, rec)
	if job.UserID != "user-2" || job.Title != "Uploaded" || job.DocumentType != quality.Auto {
		t.Errorf("job = %+v", job)
	}
	if filepath.Dir(job.InputRef) != env.home.UploadsPath() {
		t.Errorf("InputRef = %s, want it under %s", job.InputRef, env.home.UploadsPath())
	}
	data, err := os.ReadFile(job.InputRef)
	if err != nil || string(data) != "%PDF-1.7\nbody" {
		t.Errorf("saved upload = %q, %v", data, err)
	}
}

func TestCreateConversion_UploadErrors(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		file       []byte
		wantStatus int
		wantError  string
	}{
		{"missing file", map[string]string{"user_id": "u"}, nil, http.StatusBadRequest, "file is required"},
		{"not a pdf", map[string]string{"user_id": "u"}, []byte("hello world"), http.StatusBadRequest, ingest.ErrNotPDF.Error()},
		{"missing user", nil, []byte("%PDF-1.4"), http.StatusBadRequest, "invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := multipartBody(t, tt.fields, tt.file)
			rec := env.do(t, "POST", "/api/conversions", body, ct)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := errorBody(t, rec); !strings.Contains(got, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", got, tt.wantError)
			}
			entries, _ := os.ReadDir(env.home.UploadsPath())
			if len(entries) != 0 {
				t.Errorf("rejected upload left %d files behind", len(entries))
			}
		})
	}
}

func TestListConversions(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "q1", jobs.StatusQueued, nil)
	env.seed(t, "a1", jobs.StatusAnalyzing, func(j *jobs.ConversionJob) { j.UserID = "user-2" })
	env.seedCompleted(t, "c1")

	tests := []struct {
		name    string
		query   string
		wantIDs int
	}{
		{"all", "", 3},
		{"by user", "?user_id=user-2", 1},
		{"by statuses", "?status=queued,completed", 2},
		{"limit", "?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", "/api/conversions"+tt.query, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
			}
			if got := decode[ListConversionsResponse](t, rec); len(got.Conversions) != tt.wantIDs {
				t.Errorf("got %d conversions, want %d", len(got.Conversions), tt.wantIDs)
			}
		})
	}

	for _, q := range []string{"?status=bogus", "?limit=-1", "?limit=x"} {
		if rec := env.do(t, "GET", "/api/conversions"+q, nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", q, rec.Code)
		}
	}
}

func TestListConversions_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/conversions", nil, "")
	if !strings.Contains(rec.Body.String(), `"conversions":[]`) {
		t.Errorf("body = %s, want empty array", rec.Body.String())
	}
}

func TestListConversionsResponse_Table(t *testing.T) {
	confidence := 88.25
	resp := ListConversionsResponse{Conversions: []*jobs.ConversionJob{
		{ID: "a", UserID: "u", Title: "T", Status: jobs.StatusCompleted, ProgressPercentage: 100,
			QualityReport: &quality.Report{OverallConfidence: &confidence}},
		{ID: "b", UserID: "u", Status: jobs.StatusQueued, ProgressPercentage: 15},
	}}
	headers, rows, aligns := resp.Table(false)
	if len(headers) != 7 || len(aligns) != 7 || len(rows) != 2 {
		t.Fatalf("Table() = %d headers, %d rows, %d aligns", len(headers), len(rows), len(aligns))
	}
	if rows[0][3] != "completed" || rows[0][4] != "100%" || rows[0][5] != "88.2" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1][5] != "-" {
		t.Errorf("confidence without report = %q, want -", rows[1][5])
	}
}

func TestGetConversion(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a1", jobs.StatusAnalyzing, func(j *jobs.ConversionJob) {
		j.StageMetadata = map[string]any{"tables": 2, "chapters": 1}
	})

	rec := env.do(t, "GET", "/api/conversions/a1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	view := decode[pipeline.ProgressView](t, rec)
	if view.JobID != "a1" || view.Status != jobs.StatusAnalyzing || view.ElementsDetected.Tables != 2 {
		t.Errorf("view = %+v", view)
	}

	rec = env.do(t, "GET", "/api/conversions/missing", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}
}

func TestConversionReport(t *testing.T) {
	env := newTestEnv(t)
	env.seedCompleted(t, "c1")
	env.seed(t, "q1", jobs.StatusQueued, nil)

	tests := []struct {
		id         string
		wantStatus int
	}{
		{"c1", http.StatusOK},
		{"q1", http.StatusConflict},
		{"missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := env.do(t, "GET", "/api/conversions/"+tt.id+"/report", nil, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				report := decode[quality.Report](t, rec)
				if report.OverallConfidence == nil || *report.OverallConfidence != 97.5 {
					t.Errorf("OverallConfidence = %v, want 97.5", report.OverallConfidence)
				}
			}
		})
	}
}

func TestCancelConversion(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "q1", jobs.StatusQueued, nil)

	rec := env.do(t, "POST", "/api/conversions/q1/cancel", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}
	if view := decode[pipeline.ProgressView](t, rec); view.Status != jobs.StatusCancelled {
		t.Errorf("status = %s, want cancelled", view.Status)
	}

	if rec := env.do(t, "POST", "/api/conversions/q1/cancel", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("second cancel = %d, want 409", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/conversions/missing/cancel", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d, want 404", rec.Code)
	}
}

func TestDeleteConversion(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a1", jobs.StatusAnalyzing, nil)

	rec := env.do(t, "DELETE", "/api/conversions/a1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, "GET", "/api/conversions/a1", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/api/conversions/a1", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestDownloadConversion(t *testing.T) {
	env := newTestEnv(t)
	env.seedCompleted(t, "c1")
	env.seed(t, "q1", jobs.StatusQueued, nil)

	rec := env.do(t, "GET", "/api/conversions/c1/download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/epub+zip" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `c1.epub`) {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Body.String() != "PK-epub-c1" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if rec := env.do(t, "GET", "/api/conversions/q1/download", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("download unfinished = %d, want 409", rec.Code)
	}
}

func TestMetricsSummary(t *testing.T) {
	env := newTestEnv(t)
	env.recorder.Record(metrics.Metric{JobID: "j1", Provider: "gemini", CostUSD: 0.02, TotalTokens: 100, Success: true})
	env.recorder.Record(metrics.Metric{JobID: "j1", Provider: "openai", CostUSD: 0.01, TotalTokens: 50})
	env.recorder.Record(metrics.Metric{JobID: "j2", Provider: "gemini", CostUSD: 0.04, Success: true})

	rec := env.do(t, "GET", "/api/metrics/summary?job_id=j1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	got := decode[MetricsSummaryResponse](t, rec)
	if got.Count != 2 || got.SuccessCount != 1 || got.ErrorCount != 1 || got.TotalTokens != 150 {
		t.Errorf("summary = %+v", got)
	}
	if fmt.Sprintf("%.2f", got.CostByProvider["gemini"]) != "0.02" {
		t.Errorf("CostByProvider = %v", got.CostByProvider)
	}
}

func TestSwagger(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/swagger.json", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var spec struct {
		Info  struct{ Title string } `json:"info"`
		Paths map[string]map[string]json.RawMessage
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatalf("swagger.json is not JSON: %v", err)
	}
	if spec.Info.Title != "Bindery API" {
		t.Errorf("title = %q", spec.Info.Title)
	}

	// Every API route is documented.
	for _, ep := range All() {
		method, path, _ := ep.Route()
		if strings.HasPrefix(path, "/swagger") {
			continue
		}
		ops, ok := spec.Paths[path]
		if !ok {
			t.Errorf("path %s missing from swagger doc", path)
			continue
		}
		if _, ok := ops[strings.ToLower(method)]; !ok {
			t.Errorf("%s %s missing from swagger doc", method, path)
		}
	}

	if _, err := swag.ReadDoc(swagger.SwaggerInfo.InstanceName()); err != nil {
		t.Errorf("ReadDoc() error = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", jobs.ErrNotFound), http.StatusNotFound},
		{pipeline.ErrReportNotReady, http.StatusConflict},
		{pipeline.ErrOutputNotReady, http.StatusConflict},
		{jobs.ErrTerminal, http.StatusConflict},
		{jobs.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("%w: user_id", pipeline.ErrInvalidRequest), http.StatusBadRequest},
		{ingest.ErrNotPDF, http.StatusBadRequest},
		{pipeline.ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
