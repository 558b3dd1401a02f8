package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/bindery/internal/layout"
)

func geminiResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     1200,
			"candidatesTokenCount": 300,
		},
	}
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		RateLimit: 6000,
		Pricing:   Pricing{InputPerMTok: 0.3, OutputPerMTok: 2.5},
	})
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}
	return p
}

func TestGeminiProvider_Analyze(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, ":generateContent") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(geminiResponse(validPageJSON))
		})

		res, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 3, Image: []byte{0x89, 'P', 'N', 'G'}})
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if res.PageNumber != 3 || len(res.Tables) != 1 {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.Usage.PromptTokens != 1200 || res.Usage.CompletionTokens != 300 {
			t.Errorf("Usage = %+v", res.Usage)
		}
		if res.Usage.CostUSD <= 0 {
			t.Errorf("CostUSD = %v, want > 0", res.Usage.CostUSD)
		}
	})

	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, Transient},
		{"server error", http.StatusServiceUnavailable, Transient},
		{"bad credential", http.StatusUnauthorized, Permanent},
		{"unknown model", http.StatusNotFound, Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": tt.status, "message": "boom", "status": "ERR"},
				})
			})

			_, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 1})
			var pe *ProviderError
			if !errorsAs(err, &pe) {
				t.Fatalf("error = %v, want *ProviderError", err)
			}
			if pe.Kind != tt.wantKind || pe.StatusCode != tt.status {
				t.Errorf("got kind=%v status=%d, want kind=%v status=%d", pe.Kind, pe.StatusCode, tt.wantKind, tt.status)
			}
		})
	}

	t.Run("malformed output is transient and reports usage", func(t *testing.T) {
		p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(geminiResponse(`{"tables": "nope"}`))
		})

		_, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 1})
		if !IsTransient(err) {
			t.Fatalf("error = %v, want transient", err)
		}
		if UsageOf(err).PromptTokens != 1200 {
			t.Errorf("UsageOf() = %+v, want prompt tokens reported", UsageOf(err))
		}
	})
}
