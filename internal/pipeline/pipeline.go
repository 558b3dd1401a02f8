// Package pipeline runs conversion jobs through the stage state machine:
// layout analysis, element extraction, structuring, EPUB generation and
// quality scoring. It also owns the job runner and the service surface used
// by the HTTP API and CLI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackzampolin/bindery/internal/analysis"
	"github.com/jackzampolin/bindery/internal/epub"
	"github.com/jackzampolin/bindery/internal/ingest"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/layout"
	"github.com/jackzampolin/bindery/internal/quality"
)

var (
	// ErrReportNotReady is returned by Report until scoring has run.
	ErrReportNotReady = errors.New("quality report not ready")
	// ErrOutputNotReady is returned by Output until the EPUB exists.
	ErrOutputNotReady = errors.New("output not ready")
	// errCancelled marks a run stopped by a cancel request.
	errCancelled = errors.New("cancelled by user")
)

// Source is the loaded input of a job.
type Source struct {
	Title string
	Pages []layout.PageInput
}

// PageSource loads a job's input document.
type PageSource interface {
	Load(ctx context.Context, job *jobs.ConversionJob) (*Source, error)
}

// BatchAnalyzer analyzes all pages of a document. *analysis.Batch implements it.
type BatchAnalyzer interface {
	Run(ctx context.Context, pages []layout.PageInput, progress chan<- analysis.Progress) (*layout.LayoutAnalysis, error)
}

// AnalyzerFactory returns the analyzer for one run.
type AnalyzerFactory func() (BatchAnalyzer, error)

// FactoryFrom adapts an analysis.Factory.
func FactoryFrom(f *analysis.Factory) AnalyzerFactory {
	return func() (BatchAnalyzer, error) {
		b, err := f.NewBatch()
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Assembler writes the output document and returns its reference and size.
type Assembler interface {
	Assemble(ctx context.Context, job *jobs.ConversionJob, doc *layout.DocumentStructure) (ref string, size int64, err error)
}

// ScoreFunc scores a finished conversion.
type ScoreFunc func(*layout.LayoutAnalysis, *layout.DocumentStructure, quality.Config) (*quality.Report, error)

// Invalidator drops cached views of a job.
type Invalidator interface {
	Invalidate(ctx context.Context, jobID string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string) {}

// PDFSource loads pages from the PDF at the job's input ref.
type PDFSource struct {
	Options ingest.Options
}

func (s PDFSource) Load(ctx context.Context, job *jobs.ConversionJob) (*Source, error) {
	doc, err := ingest.Open(job.InputRef)
	if err != nil {
		return nil, err
	}
	pages, err := doc.Pages(ctx, s.Options)
	if err != nil {
		return nil, err
	}
	title := job.Title
	if title == "" {
		title = doc.Title
	}
	return &Source{Title: title, Pages: pages}, nil
}

// EPUBAssembler writes <OutputDir>/<job id>.epub.
type EPUBAssembler struct {
	OutputDir string
	Author    string
	Language  string
}

func (a EPUBAssembler) Assemble(ctx context.Context, job *jobs.ConversionJob, doc *layout.DocumentStructure) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	path := filepath.Join(a.OutputDir, job.ID+".epub")
	b := epub.FromStructure(epub.Book{
		ID:        job.ID,
		Title:     job.Title,
		Author:    a.Author,
		Language:  a.Language,
		CreatedAt: job.CreatedAt,
	}, doc)
	size, err := b.Build(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build epub: %w", err)
	}
	return path, size, nil
}

// outputExists reports whether ref points at a readable file.
func outputExists(ref string) bool {
	if ref == "" {
		return false
	}
	st, err := os.Stat(ref)
	return err == nil && !st.IsDir()
}
