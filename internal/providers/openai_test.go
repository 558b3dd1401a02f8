package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackzampolin/bindery/internal/layout"
)

func errorsAs(err error, target **ProviderError) bool {
	return errors.As(err, target)
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 800, "completion_tokens": 150, "total_tokens": 950},
	}
}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:    "sk-test",
		BaseURL:   server.URL,
		RateLimit: 6000,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return p
}

func TestOpenAIProvider_Analyze(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if rf, ok := body["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
				t.Errorf("response_format = %v", body["response_format"])
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatCompletion(validPageJSON))
		})

		res, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 9, Image: []byte("png")})
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if res.PageNumber != 9 || len(res.TextBlocks) != 2 {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.Usage.PromptTokens != 800 || res.Usage.CompletionTokens != 150 {
			t.Errorf("Usage = %+v", res.Usage)
		}
	})

	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"invalid credential", http.StatusUnauthorized, Permanent},
		{"rate limited", http.StatusTooManyRequests, Transient},
		{"upstream error", http.StatusBadGateway, Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "boom", "type": "error"},
				})
			})

			_, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 1})
			var pe *ProviderError
			if !errorsAs(err, &pe) {
				t.Fatalf("error = %v, want *ProviderError", err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", pe.Kind, tt.wantKind)
			}
			if calls != 1 {
				t.Errorf("server saw %d calls, want 1 (SDK retries must be off)", calls)
			}
		})
	}

	t.Run("no choices", func(t *testing.T) {
		p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			resp := chatCompletion("")
			resp["choices"] = []any{}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		})
		_, err := p.Analyze(context.Background(), layout.PageInput{PageNumber: 1})
		if !IsTransient(err) {
			t.Fatalf("error = %v, want transient", err)
		}
	})
}
