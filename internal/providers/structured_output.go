package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/bindery/internal/layout"
)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// pageSchema compiles the page analysis schema once.
func pageSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("page_analysis.json", bytes.NewReader([]byte(pageAnalysisSchema))); err != nil {
			schemaErr = fmt.Errorf("failed to load page analysis schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("page_analysis.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile page analysis schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// decodePageAnalysis turns raw model output into a validated PageAnalysis.
// Anything that is not valid JSON or does not match the schema is rejected
// here so loosely-typed data never leaves the adapter.
func decodePageAnalysis(content string, pageNum int, logger *slog.Logger) (*layout.PageAnalysis, error) {
	parsed, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}
	if err := validateStructuredJSON(parsed); err != nil {
		return nil, err
	}

	var result layout.PageAnalysis
	if err := json.Unmarshal(parsed, &result); err != nil {
		return nil, fmt.Errorf("failed to decode page analysis: %w", err)
	}
	result.PageNumber = pageNum
	result.Provider = ""
	result.Error = ""

	for i := range result.Tables {
		result.Tables[i].Confidence = clampConfidence(logger, pageNum, layout.ElementTable, result.Tables[i].Confidence)
	}
	for i := range result.Equations {
		result.Equations[i].Confidence = clampConfidence(logger, pageNum, layout.ElementEquation, result.Equations[i].Confidence)
	}
	return &result, nil
}

func clampConfidence(logger *slog.Logger, page int, element string, v float64) float64 {
	clamped := v
	switch {
	case v < 0:
		clamped = 0
	case v > 100:
		clamped = 100
	}
	if clamped != v && logger != nil {
		logger.Warn("clamped out-of-range confidence",
			"page", page, "element", element, "reported", v, "clamped", clamped)
	}
	return clamped
}

// parseStructuredJSON parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONObject(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractJSONObject returns the outermost {...} span of content.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func validateStructuredJSON(parsed json.RawMessage) error {
	schema, err := pageSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}
