package ingest

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"rsc.io/pdf"
)

// extractText returns the text of each page. The reader panics on some
// malformed files, so panics are turned into errors.
func extractText(path string) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("pdf text reader: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for text: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF for text: %w", err)
	}

	n := r.NumPage()
	texts = make([]string, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		texts[i-1] = joinGlyphs(p.Content().Text)
	}
	return texts, nil
}

// joinGlyphs orders glyphs top to bottom, left to right, breaking lines
// where the baseline moves and inserting spaces at horizontal gaps.
func joinGlyphs(glyphs []pdf.Text) string {
	if len(glyphs) == 0 {
		return ""
	}
	sorted := make([]pdf.Text, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > 1 {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var sb strings.Builder
	prev := sorted[0]
	sb.WriteString(prev.S)
	for _, g := range sorted[1:] {
		switch {
		case math.Abs(g.Y-prev.Y) > 1:
			sb.WriteByte('\n')
		case g.X-(prev.X+prev.W) > prev.FontSize*0.2 && !strings.HasSuffix(prev.S, " ") && g.S != " ":
			sb.WriteByte(' ')
		}
		sb.WriteString(g.S)
		prev = g
	}
	return strings.TrimSpace(sb.String())
}
