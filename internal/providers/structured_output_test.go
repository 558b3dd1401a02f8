package providers

import (
	"strings"
	"testing"
)

const validPageJSON = `{
  "tables": [{"rows": 2, "cols": 2, "markdown": "|a|b|\n|-|-|\n|1|2|", "confidence": 87.5}],
  "images": [{"description": "diagram"}],
  "equations": [{"latex": "E=mc^2", "confidence": 140}],
  "text_blocks": [{"role": "heading", "level": 1, "text": "Intro"}, {"role": "paragraph", "text": "Hello"}]
}`

func TestDecodePageAnalysis(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		res, err := decodePageAnalysis(validPageJSON, 7, nil)
		if err != nil {
			t.Fatalf("decodePageAnalysis() error = %v", err)
		}
		if res.PageNumber != 7 {
			t.Errorf("PageNumber = %d, want 7", res.PageNumber)
		}
		if len(res.Tables) != 1 || res.Tables[0].Confidence != 87.5 {
			t.Errorf("Tables = %+v", res.Tables)
		}
		if res.Equations[0].Confidence != 100 {
			t.Errorf("equation confidence = %v, want clamped to 100", res.Equations[0].Confidence)
		}
		if len(res.TextBlocks) != 2 || res.TextBlocks[0].Level != 1 {
			t.Errorf("TextBlocks = %+v", res.TextBlocks)
		}
	})

	t.Run("code fenced", func(t *testing.T) {
		content := "```json\n" + validPageJSON + "\n```"
		if _, err := decodePageAnalysis(content, 1, nil); err != nil {
			t.Fatalf("decodePageAnalysis() error = %v", err)
		}
	})

	t.Run("surrounding prose", func(t *testing.T) {
		content := "Here is the analysis:\n" + validPageJSON + "\nDone."
		if _, err := decodePageAnalysis(content, 1, nil); err != nil {
			t.Fatalf("decodePageAnalysis() error = %v", err)
		}
	})

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "", "empty structured output"},
		{"not json", "no tables here", "failed to parse"},
		{"missing keys", `{"tables": []}`, "does not match schema"},
		{"bad role", `{"tables":[],"images":[],"equations":[],"text_blocks":[{"role":"sidebar","text":"x"}]}`, "does not match schema"},
		{"string confidence", `{"tables":[{"markdown":"x","confidence":"high"}],"images":[],"equations":[],"text_blocks":[]}`, "does not match schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodePageAnalysis(tt.content, 1, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	if got := stripCodeFences("```\n{}\n```"); got != "{}" {
		t.Errorf("stripCodeFences() = %q", got)
	}
	if got := stripCodeFences("{}"); got != "" {
		t.Errorf("stripCodeFences(no fence) = %q, want empty", got)
	}
}
