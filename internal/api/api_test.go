package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"status":"ok"}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"conversion not found"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.Get(ctx, "/ok", &resp); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}

	tests := []struct {
		path    string
		code    int
		message string
	}{
		{"/missing", 404, "conversion not found"},
		{"/other", 500, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := c.Get(ctx, tt.path, nil)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Get() error = %v, want *StatusError", err)
			}
			if se.Code != tt.code || se.Message != tt.message {
				t.Errorf("StatusError = %d %q, want %d %q", se.Code, se.Message, tt.code, tt.message)
			}
		})
	}
}

func TestClient_PostAndDelete(t *testing.T) {
	var gotMethod, gotType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"id":"abc"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.Post(context.Background(), "/api/conversions", map[string]string{"user_id": "u1"}, &resp); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotType != "application/json" || gotBody["user_id"] != "u1" {
		t.Errorf("request = %s %s %v", gotMethod, gotType, gotBody)
	}
	if resp.ID != "abc" {
		t.Errorf("ID = %q, want abc", resp.ID)
	}

	if err := c.Delete(context.Background(), "/api/conversions/abc"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
}

func TestClient_Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "book.pdf" || string(data) != "%PDF-1.4 test" {
			t.Errorf("file = %s %q", hdr.Filename, data)
		}
		if r.FormValue("user_id") != "u1" {
			t.Errorf("user_id = %q", r.FormValue("user_id"))
		}
		if _, ok := r.MultipartForm.Value["title"]; ok {
			t.Error("empty fields should be skipped")
		}
		w.Write([]byte(`{"id":"j1"}`))
	}))
	defer srv.Close()

	var resp struct {
		ID string `json:"id"`
	}
	err := NewClient(srv.URL).Upload(context.Background(), "/api/conversions", path,
		map[string]string{"user_id": "u1", "title": ""}, &resp)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if resp.ID != "j1" {
		t.Errorf("ID = %q, want j1", resp.ID)
	}
}

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"output not ready"}`))
			return
		}
		w.Write([]byte("epub-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "/file", &buf)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != 10 || buf.String() != "epub-bytes" {
		t.Errorf("Download() = %d %q", n, buf.String())
	}

	_, err = c.Download(context.Background(), "/gone", &buf)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Errorf("Download() error = %v, want 409", err)
	}
}

type rows struct{}

func (rows) Table(colorize bool) ([]string, [][]string, []Alignment) {
	return []string{"ID", "STATUS", "PROGRESS"},
		[][]string{{"a", ColorStatus("completed", colorize), "100"}, {"b", ColorStatus("failed", colorize)}},
		[]Alignment{AlignLeft, AlignLeft, AlignRight}
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"status": "ok"}

	tests := []struct {
		format OutputFormat
		data   any
		want   []string
	}{
		{OutputFormatJSON, data, []string{`"status": "ok"`}},
		{OutputFormatYAML, data, []string{"status: ok"}},
		{OutputFormatTable, data, []string{"status: ok"}},
		{OutputFormatTable, rows{}, []string{"ID", "STATUS", "completed", "failed", "100"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := OutputTo(&buf, tt.format, tt.data); err != nil {
				t.Fatalf("OutputTo() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
			if strings.Contains(buf.String(), "\x1b[") {
				t.Error("non-terminal output should not be colorized")
			}
		})
	}

	if err := OutputTo(io.Discard, OutputFormat("xml"), data); err == nil {
		t.Error("OutputTo() with unknown format should fail")
	}
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat("yaml")
	tests := []struct {
		in   string
		want OutputFormat
	}{
		{"json", OutputFormatJSON},
		{"table", OutputFormatTable},
		{"bogus", DefaultOutput},
		{"yaml", OutputFormatYAML},
	}
	for _, tt := range tests {
		SetOutputFormat(tt.in)
		if got := GetOutputFormat(); got != tt.want {
			t.Errorf("SetOutputFormat(%q) -> %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorStatus(t *testing.T) {
	if got := ColorStatus("failed", false); got != "failed" {
		t.Errorf("ColorStatus(no color) = %q", got)
	}
	if got := ColorStatus("failed", true); got != ansiRed+"failed"+ansiReset {
		t.Errorf("ColorStatus(color) = %q", got)
	}
}

type fakeEndpoint struct {
	method, path, group string
	init                bool
}

func (e fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(e.path)) }
}
func (e fakeEndpoint) RequiresInit() bool { return e.init }
func (e fakeEndpoint) Group() string      { return e.group }
func (e fakeEndpoint) Command(func() string) *cobra.Command {
	return &cobra.Command{Use: strings.TrimPrefix(e.path, "/")}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeEndpoint{method: "GET", path: "/health"})
	r.Register(fakeEndpoint{method: "GET", path: "/list", group: "conversions", init: true})
	r.Register(fakeEndpoint{method: "POST", path: "/create", group: "conversions", init: true})

	mux := http.NewServeMux()
	r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/list", http.StatusServiceUnavailable},
		{"POST", "/create", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}

	root := r.BuildCommands(func() string { return "" })
	if _, _, err := root.Find([]string{"health"}); err != nil {
		t.Errorf("health command missing: %v", err)
	}
	cmd, _, err := root.Find([]string{"conversions", "create"})
	if err != nil || cmd.Use != "create" {
		t.Errorf("conversions create command missing: %v", err)
	}
	if len(r.Endpoints()) != 3 {
		t.Errorf("Endpoints() = %d, want 3", len(r.Endpoints()))
	}
}
