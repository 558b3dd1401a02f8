package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/bindery/internal/layout"
)

// pageAnalysisSchema is the JSON schema every model response must satisfy.
// Confidence bounds are enforced after decoding so out-of-range values can
// be clamped instead of discarding the whole page.
const pageAnalysisSchema = `{
  "type": "object",
  "required": ["tables", "images", "equations", "text_blocks"],
  "properties": {
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["markdown", "confidence"],
        "properties": {
          "rows": {"type": "integer", "minimum": 0},
          "cols": {"type": "integer", "minimum": 0},
          "markdown": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    },
    "images": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "bbox": {"type": "array", "items": {"type": "number"}}
        }
      }
    },
    "equations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["latex", "confidence"],
        "properties": {
          "latex": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    },
    "text_blocks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "text"],
        "properties": {
          "role": {"type": "string", "enum": ["heading", "paragraph", "caption", "footnote", "list"]},
          "level": {"type": "integer", "minimum": 0, "maximum": 6},
          "text": {"type": "string"}
        }
      }
    }
  }
}`

const analysisInstructions = `You are a document layout analyzer. Analyze the page and return ONLY a JSON
object with these keys:

- "tables": [{"rows", "cols", "markdown", "confidence"}] where markdown is a GitHub table
- "images": [{"description", "bbox": [x0, y0, x1, y1]}]
- "equations": [{"latex", "confidence"}]
- "text_blocks": [{"role", "level", "text"}] in reading order; role is one of
  heading, paragraph, caption, footnote, list; level is 1 for chapter titles,
  2-6 for sub-headings and 0 otherwise

Confidence is your certainty from 0 to 100 that the element was transcribed
exactly. Use empty arrays for element types not present on the page.`

// schemaDocument returns the schema as a generic JSON document, for SDKs
// that accept a response schema object.
func schemaDocument() map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(pageAnalysisSchema), &doc); err != nil {
		panic(fmt.Sprintf("page analysis schema: %v", err))
	}
	return doc
}

// pagePrompt builds the user prompt for one page.
func pagePrompt(page layout.PageInput) string {
	var b strings.Builder
	b.WriteString(analysisInstructions)
	fmt.Fprintf(&b, "\n\nPage number: %d\n", page.PageNumber)
	if text := strings.TrimSpace(page.Text); text != "" {
		if len(text) > 20000 {
			text = text[:20000]
		}
		b.WriteString("\nExtracted text layer (may be incomplete or out of order):\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func imageMIME(page layout.PageInput) string {
	if page.ImageMIME != "" {
		return page.ImageMIME
	}
	return "image/png"
}
