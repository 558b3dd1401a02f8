package layout

import "strings"

// Chapter is a contiguous run of pages under one level-1 heading.
type Chapter struct {
	Title      string      `json:"title"`
	StartPage  int         `json:"start_page"`
	EndPage    int         `json:"end_page"`
	TextBlocks []TextBlock `json:"text_blocks"`
	Tables     []Table     `json:"tables,omitempty"`
	Equations  []Equation  `json:"equations,omitempty"`
	Images     []Image     `json:"images,omitempty"`
}

// DocumentStructure is the chapter outline derived from a layout analysis.
type DocumentStructure struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// TextBlockCount returns the number of text blocks across all chapters.
func (d *DocumentStructure) TextBlockCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, ch := range d.Chapters {
		n += len(ch.TextBlocks)
	}
	return n
}

// BuildStructure groups analyzed pages into chapters. Each level-1 heading
// opens a new chapter; content before the first heading goes into an
// untitled opening chapter. Failed pages are skipped.
func BuildStructure(title string, la *LayoutAnalysis) *DocumentStructure {
	doc := &DocumentStructure{Title: title}
	if la == nil {
		return doc
	}

	var cur *Chapter
	open := func(t string, page int) {
		doc.Chapters = append(doc.Chapters, Chapter{Title: t, StartPage: page, EndPage: page})
		cur = &doc.Chapters[len(doc.Chapters)-1]
	}

	for _, p := range la.Pages {
		if p.Failed() {
			continue
		}
		for _, tb := range p.TextBlocks {
			if tb.Role == BlockHeading && tb.Level == 1 {
				open(strings.TrimSpace(tb.Text), p.PageNumber)
			}
			if cur == nil {
				open("", p.PageNumber)
			}
			cur.TextBlocks = append(cur.TextBlocks, tb)
			cur.EndPage = p.PageNumber
		}
		if cur == nil && (len(p.Tables) > 0 || len(p.Images) > 0 || len(p.Equations) > 0) {
			open("", p.PageNumber)
		}
		if cur != nil {
			cur.Tables = append(cur.Tables, p.Tables...)
			cur.Equations = append(cur.Equations, p.Equations...)
			cur.Images = append(cur.Images, p.Images...)
			cur.EndPage = p.PageNumber
		}
	}

	for i := range doc.Chapters {
		if doc.Chapters[i].Title == "" {
			if i == 0 && doc.Title != "" {
				doc.Chapters[i].Title = doc.Title
			} else {
				doc.Chapters[i].Title = "Untitled"
			}
		}
	}
	return doc
}
