// Package ingest turns an uploaded PDF into per-page inputs for layout
// analysis: a rendered page image plus whatever text the PDF carries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/bindery/internal/layout"
)

// ErrNoPages is returned for documents with zero pages.
var ErrNoPages = errors.New("document has no pages")

var numericSuffixRe = regexp.MustCompile(`-\d+$`)

// Document is an opened, validated PDF.
type Document struct {
	Path      string
	Title     string
	PageCount int
}

// Open validates the PDF at path and counts its pages.
func Open(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if n == 0 {
		return nil, ErrNoPages
	}
	return &Document{Path: path, Title: deriveTitle(path), PageCount: n}, nil
}

// Options controls page extraction.
type Options struct {
	// Renderer produces page images. nil yields text-only pages.
	Renderer Renderer
	// Concurrency bounds parallel renders. Default runtime.NumCPU().
	Concurrency int
	Logger      *slog.Logger
}

// Pages extracts every page in order. Text extraction is best effort;
// a render failure fails the whole document.
func (d *Document) Pages(ctx context.Context, opts Options) ([]layout.PageInput, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	texts, err := extractText(d.Path)
	if err != nil {
		log.Warn("text extraction failed, continuing with images only", "path", d.Path, "error", err)
		texts = nil
	}

	pages := make([]layout.PageInput, d.PageCount)
	for i := range pages {
		pages[i].PageNumber = i + 1
		if i < len(texts) {
			pages[i].Text = texts[i]
		}
	}

	if opts.Renderer == nil {
		return pages, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range pages {
		g.Go(func() error {
			img, err := opts.Renderer.Render(gctx, d.Path, pages[i].PageNumber)
			if err != nil {
				return fmt.Errorf("failed to render page %d: %w", pages[i].PageNumber, err)
			}
			pages[i].Image = img
			pages[i].ImageMIME = "image/png"
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("pages extracted", "path", d.Path, "pages", len(pages))
	return pages, nil
}

// deriveTitle extracts a title from a PDF filename.
// e.g., "crusade-europe.pdf" -> "crusade-europe"
// e.g., "my-book-1.pdf" -> "my-book"
func deriveTitle(pdfPath string) string {
	base := filepath.Base(pdfPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return numericSuffixRe.ReplaceAllString(name, "")
}
