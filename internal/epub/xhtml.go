package epub

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackzampolin/bindery/internal/layout"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	separatorRe = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

// generateChapterXHTML renders a chapter's blocks, then its tables,
// equations and figures.
func (b *Builder) generateChapterXHTML(ch Chapter) string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(ch.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", escapeXML(ch.Title))

	for i, tb := range ch.Blocks {
		// The opening heading is already the chapter title.
		if i == 0 && tb.Role == layout.BlockHeading && tb.Level <= 1 &&
			strings.TrimSpace(tb.Text) == ch.Title {
			continue
		}
		sb.WriteString(renderBlock(tb))
	}
	for _, t := range ch.Tables {
		sb.WriteString(renderTable(t.Markdown))
	}
	for _, eq := range ch.Equations {
		fmt.Fprintf(&sb, "<div class=\"equation\"><code>%s</code></div>\n", escapeXML(eq.LaTeX))
	}
	for _, img := range ch.Images {
		fmt.Fprintf(&sb, "<figure><figcaption>%s</figcaption></figure>\n", escapeXML(img.Description))
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func renderBlock(tb layout.TextBlock) string {
	text := strings.TrimSpace(tb.Text)
	if text == "" {
		return ""
	}
	switch tb.Role {
	case layout.BlockHeading:
		level := tb.Level + 1
		if level < 2 {
			level = 2
		}
		if level > 6 {
			level = 6
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, escapeXML(text), level)
	case layout.BlockList:
		var sb strings.Builder
		sb.WriteString("<ul>\n")
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-*• ")
			if line == "" {
				continue
			}
			fmt.Fprintf(&sb, "  <li>%s</li>\n", processInlineFormatting(line))
		}
		sb.WriteString("</ul>\n")
		return sb.String()
	case layout.BlockCaption:
		return fmt.Sprintf("<p class=\"caption\">%s</p>\n", processInlineFormatting(text))
	case layout.BlockFootnote:
		return fmt.Sprintf("<p class=\"footnote\">%s</p>\n", processInlineFormatting(text))
	default:
		var sb strings.Builder
		for _, para := range strings.Split(text, "\n\n") {
			para = strings.Join(strings.Fields(para), " ")
			if para != "" {
				fmt.Fprintf(&sb, "<p>%s</p>\n", processInlineFormatting(para))
			}
		}
		return sb.String()
	}
}

// renderTable converts a markdown pipe table into an XHTML table. Anything
// that does not parse as a pipe table is kept as preformatted text.
func renderTable(md string) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	lines := strings.Split(md, "\n")
	var rows [][]string
	header := false
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, "|") {
			return fmt.Sprintf("<pre>%s</pre>\n", escapeXML(md))
		}
		if separatorRe.MatchString(line) {
			if i == 1 {
				header = true
			}
			continue
		}
		rows = append(rows, splitRow(line))
	}
	if len(rows) == 0 {
		return fmt.Sprintf("<pre>%s</pre>\n", escapeXML(md))
	}

	var sb strings.Builder
	sb.WriteString("<table>\n")
	for i, row := range rows {
		cell := "td"
		if header && i == 0 {
			cell = "th"
		}
		sb.WriteString("  <tr>")
		for _, c := range row {
			fmt.Fprintf(&sb, "<%s>%s</%s>", cell, processInlineFormatting(c), cell)
		}
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</table>\n")
	return sb.String()
}

func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// processInlineFormatting handles bold and italic markdown.
func processInlineFormatting(text string) string {
	text = escapeXML(text)
	text = boldRe.ReplaceAllStringFunc(text, func(match string) string {
		return "<strong>" + strings.Trim(match, "*_") + "</strong>"
	})
	text = italicRe.ReplaceAllStringFunc(text, func(match string) string {
		return "<em>" + strings.Trim(match, "*_") + "</em>"
	})
	return text
}
