package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/jackzampolin/bindery/internal/layout"
)

// Severity prefixes for warnings.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Config holds scoring thresholds and targets.
type Config struct {
	WarningThreshold  float64 `mapstructure:"warning_threshold" yaml:"warning_threshold" validate:"gte=0,lte=100"`
	CriticalThreshold float64 `mapstructure:"critical_threshold" yaml:"critical_threshold" validate:"gte=0,lte=100,ltefield=WarningThreshold"`
	ComplexTarget     float64 `mapstructure:"complex_target" yaml:"complex_target" validate:"gte=0,lte=100"`
	TextBasedTarget   float64 `mapstructure:"text_based_target" yaml:"text_based_target" validate:"gte=0,lte=100"`
	// DeclaredType is the submitter's hint. It is recorded on the report and
	// never changes the classification.
	DeclaredType string `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns warning 80, critical 60, targets 95 and 99.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  80,
		CriticalThreshold: 60,
		ComplexTarget:     95,
		TextBasedTarget:   99,
	}
}

// GenerateQualityReport scores a conversion. It is a pure function of its
// inputs; GeneratedAt is left for the caller to stamp.
func GenerateQualityReport(la *layout.LayoutAnalysis, doc *layout.DocumentStructure, cfg Config) (*Report, error) {
	pages := sortedPages(la)

	var (
		all       []float64
		tables    []scored
		equations []scored
		images    int
		complex   bool
	)
	for _, p := range pages {
		if p.Failed() {
			continue
		}
		if p.HasComplexElements() {
			complex = true
		}
		for i, t := range p.Tables {
			if err := checkConfidence(t.Confidence, layout.ElementTable, p.PageNumber); err != nil {
				return nil, err
			}
			tables = append(tables, scored{page: p.PageNumber, index: i, conf: t.Confidence})
			all = append(all, t.Confidence)
		}
		for i, e := range p.Equations {
			if err := checkConfidence(e.Confidence, layout.ElementEquation, p.PageNumber); err != nil {
				return nil, err
			}
			equations = append(equations, scored{page: p.PageNumber, index: i, conf: e.Confidence})
			all = append(all, e.Confidence)
		}
		images += len(p.Images)
	}

	textBlocks := textBlockCount(la, doc)
	for i := 0; i < textBlocks; i++ {
		all = append(all, TextBlockConfidence)
	}
	for i := 0; i < images; i++ {
		all = append(all, ImageConfidence)
	}

	overall := EmptyDocumentScore
	if len(all) > 0 {
		overall = round2(sum(all) / float64(len(all)))
	}

	report := &Report{
		OverallConfidence: &overall,
		Elements: map[string]ElementStats{
			layout.ElementTextBlock: fixedStats(textBlocks, TextBlockConfidence),
			layout.ElementImage:     fixedStats(images, ImageConfidence),
			layout.ElementTable:     scoredStats(tables, cfg),
			layout.ElementEquation:  scoredStats(equations, cfg),
		},
		Warnings:        []string{},
		FidelityTargets: map[string]FidelityTarget{},
	}

	// Warnings are ordered by page, then element type, then index.
	type pending struct {
		page    int
		order   int
		index   int
		message string
	}
	var warnings []pending
	for _, s := range tables {
		if msg, ok := warningFor(layout.ElementTable, s, cfg); ok {
			warnings = append(warnings, pending{s.page, 0, s.index, msg})
		}
	}
	for _, s := range equations {
		if msg, ok := warningFor(layout.ElementEquation, s, cfg); ok {
			warnings = append(warnings, pending{s.page, 1, s.index, msg})
		}
	}
	sort.SliceStable(warnings, func(i, j int) bool {
		a, b := warnings[i], warnings[j]
		if a.page != b.page {
			return a.page < b.page
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.index < b.index
	})
	for _, w := range warnings {
		report.Warnings = append(report.Warnings, w.message)
	}

	class := TextBased
	if complex {
		class = Complex
	}
	target := cfg.TextBasedTarget
	if class == Complex {
		target = cfg.ComplexTarget
	}
	actual := overall
	report.DocumentType = class
	switch cfg.DeclaredType {
	case Complex, TextBased:
		report.DeclaredType = cfg.DeclaredType
	}
	report.FidelityTargets[class] = FidelityTarget{
		Target: target,
		Actual: &actual,
		Met:    overall >= target,
	}

	return report, nil
}

// Classify reports whether the analysis contains tables or equations.
func Classify(la *layout.LayoutAnalysis) string {
	for _, p := range sortedPages(la) {
		if !p.Failed() && p.HasComplexElements() {
			return Complex
		}
	}
	return TextBased
}

type scored struct {
	page  int
	index int
	conf  float64
}

func checkConfidence(v float64, element string, page int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return fmt.Errorf("invalid %s confidence %v on page %d", element, v, page)
	}
	return nil
}

// sortedPages returns a page-ordered copy; the input is never mutated.
func sortedPages(la *layout.LayoutAnalysis) []layout.PageAnalysis {
	if la == nil {
		return nil
	}
	pages := append([]layout.PageAnalysis(nil), la.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages
}

// textBlockCount prefers the document structure and falls back to the layout.
func textBlockCount(la *layout.LayoutAnalysis, doc *layout.DocumentStructure) int {
	if doc != nil && len(doc.Chapters) > 0 {
		return doc.TextBlockCount()
	}
	return la.Counts().TextBlocks
}

func warningFor(element string, s scored, cfg Config) (string, bool) {
	if s.conf >= cfg.WarningThreshold {
		return "", false
	}
	severity := SeverityWarning
	if s.conf < cfg.CriticalThreshold {
		severity = SeverityCritical
	}
	return fmt.Sprintf("%s: Low confidence %s on page %d (%.1f%%)", severity, element, s.page, s.conf), true
}

func fixedStats(count int, conf float64) ElementStats {
	stats := ElementStats{Count: count, LowConfidenceItems: []LowConfidenceItem{}}
	if count > 0 {
		stats.AvgConfidence = conf
	}
	return stats
}

func scoredStats(items []scored, cfg Config) ElementStats {
	stats := ElementStats{Count: len(items), LowConfidenceItems: []LowConfidenceItem{}}
	if len(items) == 0 {
		return stats
	}
	values := make([]float64, len(items))
	for i, s := range items {
		values[i] = s.conf
		if s.conf < cfg.WarningThreshold {
			severity := SeverityWarning
			if s.conf < cfg.CriticalThreshold {
				severity = SeverityCritical
			}
			stats.LowConfidenceItems = append(stats.LowConfidenceItems, LowConfidenceItem{
				Page: s.page, Index: s.index, Confidence: s.conf, Severity: severity,
			})
		}
	}
	stats.AvgConfidence = round2(sum(values) / float64(len(values)))
	return stats
}

// sum adds values in ascending order so the result does not depend on
// input order.
func sum(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var total float64
	for _, v := range sorted {
		total += v
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
