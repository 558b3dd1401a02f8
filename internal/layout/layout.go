// Package layout holds the data model shared by the analysis, scoring and
// assembly stages: per-page layout results and the document structure
// derived from them.
package layout

import "sort"

// ProviderRole identifies which provider produced a result.
type ProviderRole string

const (
	RolePrimary  ProviderRole = "primary"
	RoleFallback ProviderRole = "fallback"
	// RoleMixed is only used at the document level.
	RoleMixed ProviderRole = "mixed"
)

// Element types reported by the layout model.
const (
	ElementTable     = "table"
	ElementImage     = "image"
	ElementEquation  = "equation"
	ElementTextBlock = "text_block"
)

// Text block roles.
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockCaption   = "caption"
	BlockFootnote  = "footnote"
	BlockList      = "list"
)

// PageInput is what the ingestion service yields for a single page.
type PageInput struct {
	PageNumber int    `json:"page_number"`
	Image      []byte `json:"-"`
	ImageMIME  string `json:"image_mime,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Table is a detected table with its AI confidence (0-100).
type Table struct {
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	Markdown   string  `json:"markdown"`
	Confidence float64 `json:"confidence"`
}

// Image is a detected figure. Images are copied through verbatim.
type Image struct {
	Description string    `json:"description"`
	BBox        []float64 `json:"bbox,omitempty"`
}

// Equation is a detected formula with its AI confidence (0-100).
type Equation struct {
	LaTeX      string  `json:"latex"`
	Confidence float64 `json:"confidence"`
}

// TextBlock is a run of text with a structural role.
type TextBlock struct {
	Role  string `json:"role"`
	Level int    `json:"level,omitempty"` // heading level, 1 = chapter
	Text  string `json:"text"`
}

// PageAnalysis is the structured layout of one page.
type PageAnalysis struct {
	PageNumber int          `json:"page_number"`
	Tables     []Table      `json:"tables"`
	Images     []Image      `json:"images"`
	Equations  []Equation   `json:"equations"`
	TextBlocks []TextBlock  `json:"text_blocks"`
	Provider   ProviderRole `json:"provider,omitempty"`
	Usage      Usage        `json:"usage"`

	// Error is set when the page could not be analyzed.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the page carries an error marker.
func (p *PageAnalysis) Failed() bool {
	return p.Error != ""
}

// HasComplexElements reports whether the page has a table or an equation.
func (p *PageAnalysis) HasComplexElements() bool {
	return len(p.Tables) > 0 || len(p.Equations) > 0
}

// LayoutAnalysis is the document-level result of the analysis stage.
type LayoutAnalysis struct {
	Pages        []PageAnalysis `json:"pages"`
	ProviderUsed ProviderRole   `json:"provider_used,omitempty"`
	Cost         CostEstimate   `json:"cost"`
}

// ElementCounts tallies elements across successfully analyzed pages.
type ElementCounts struct {
	Tables     int `json:"tables"`
	Images     int `json:"images"`
	Equations  int `json:"equations"`
	TextBlocks int `json:"text_blocks"`
}

// Counts returns element totals over pages without an error marker.
func (l *LayoutAnalysis) Counts() ElementCounts {
	var c ElementCounts
	if l == nil {
		return c
	}
	for i := range l.Pages {
		p := &l.Pages[i]
		if p.Failed() {
			continue
		}
		c.Tables += len(p.Tables)
		c.Images += len(p.Images)
		c.Equations += len(p.Equations)
		c.TextBlocks += len(p.TextBlocks)
	}
	return c
}

// FailedPages returns the page numbers carrying an error marker, ascending.
func (l *LayoutAnalysis) FailedPages() []int {
	var out []int
	for _, p := range l.Pages {
		if p.Failed() {
			out = append(out, p.PageNumber)
		}
	}
	sort.Ints(out)
	return out
}

// SortPages orders pages by page number.
func (l *LayoutAnalysis) SortPages() {
	sort.SliceStable(l.Pages, func(i, j int) bool {
		return l.Pages[i].PageNumber < l.Pages[j].PageNumber
	})
}

// SummarizeProviders returns primary, fallback or mixed for the given
// per-page roles. Empty roles are ignored; no roles yields "".
func SummarizeProviders(roles []ProviderRole) ProviderRole {
	var seen ProviderRole
	for _, r := range roles {
		if r == "" {
			continue
		}
		if seen == "" {
			seen = r
			continue
		}
		if r != seen {
			return RoleMixed
		}
	}
	return seen
}
