// Package epub writes EPUB 3 files from a document structure.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/bindery/internal/layout"
)

// MediaType is the EPUB MIME type.
const MediaType = "application/epub+zip"

// Book contains the metadata needed for epub generation.
type Book struct {
	ID        string // stable identifier, usually the job ID
	Title     string
	Author    string
	Language  string // ISO 639-1 code (e.g., "en")
	CreatedAt time.Time
}

// Chapter is one spine item.
type Chapter struct {
	ID        string // e.g. "ch_001"
	Title     string
	StartPage int
	EndPage   int
	Blocks    []layout.TextBlock
	Tables    []layout.Table
	Equations []layout.Equation
	Images    []layout.Image
}

// Builder creates ePub 3.0 files.
type Builder struct {
	book     Book
	chapters []Chapter
}

// NewBuilder creates a new epub builder.
func NewBuilder(book Book, chapters []Chapter) *Builder {
	return &Builder{book: book, chapters: chapters}
}

// FromStructure creates a builder with one chapter per structure chapter.
// An empty structure yields a single placeholder chapter so the package is
// always valid.
func FromStructure(book Book, doc *layout.DocumentStructure) *Builder {
	if book.Title == "" && doc != nil {
		book.Title = doc.Title
	}
	if book.Title == "" {
		book.Title = "Untitled"
	}

	var chapters []Chapter
	if doc != nil {
		for i, ch := range doc.Chapters {
			chapters = append(chapters, Chapter{
				ID:        fmt.Sprintf("ch_%03d", i+1),
				Title:     ch.Title,
				StartPage: ch.StartPage,
				EndPage:   ch.EndPage,
				Blocks:    ch.TextBlocks,
				Tables:    ch.Tables,
				Equations: ch.Equations,
				Images:    ch.Images,
			})
		}
	}
	if len(chapters) == 0 {
		chapters = []Chapter{{ID: "ch_001", Title: book.Title}}
	}
	return NewBuilder(book, chapters)
}

// Chapters returns the chapters in spine order.
func (b *Builder) Chapters() []Chapter {
	return b.chapters
}

// Build generates the epub and writes it to outputPath, returning its size.
func (b *Builder) Build(outputPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	buf, err := b.BuildToBuffer()
	if err != nil {
		return 0, err
	}
	tmp := outputPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("failed to write epub: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to move epub into place: %w", err)
	}
	return int64(buf.Len()), nil
}

// BuildToBuffer generates the epub and returns it as a byte buffer.
func (b *Builder) BuildToBuffer() (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := b.Write(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write streams the epub as a zip archive to w.
func (b *Builder) Write(w io.Writer) error {
	zw := zip.NewWriter(w)

	// mimetype must be first and stored uncompressed
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	if _, err := mw.Write([]byte(MediaType)); err != nil {
		return err
	}

	files := []struct {
		name    string
		content string
	}{
		{"META-INF/container.xml", containerXML},
		{"OEBPS/content.opf", b.generatePackage()},
		{"OEBPS/nav.xhtml", b.generateNavigation()},
		{"OEBPS/toc.ncx", b.generateNCX()},
		{"OEBPS/styles/style.css", defaultStylesheet},
	}
	for _, ch := range b.chapters {
		files = append(files, struct {
			name    string
			content string
		}{fmt.Sprintf("OEBPS/chapters/%s.xhtml", ch.ID), b.generateChapterXHTML(ch)})
	}

	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", f.name, err)
		}
		if _, err := io.WriteString(fw, f.content); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return zw.Close()
}

// identifier returns a stable URN for the book. The same book ID always
// yields the same identifier.
func (b *Builder) identifier() string {
	if id, err := uuid.Parse(b.book.ID); err == nil {
		return "urn:uuid:" + id.String()
	}
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("bindery:"+b.book.ID+":"+b.book.Title)).String()
}

func (b *Builder) modified() time.Time {
	if b.book.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return b.book.CreatedAt.UTC()
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const defaultStylesheet = `body {
  font-family: Georgia, "Times New Roman", serif;
  font-size: 1em;
  line-height: 1.6;
  margin: 1em;
}

h1, h2, h3, h4, h5, h6 {
  font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
  margin-top: 1.5em;
  margin-bottom: 0.5em;
}

h1 {
  font-size: 1.8em;
  border-bottom: 1px solid #ccc;
}

p {
  margin: 0.5em 0;
}

table {
  border-collapse: collapse;
  margin: 1em 0;
}

th, td {
  border: 1px solid #999;
  padding: 0.25em 0.5em;
}

.equation {
  font-family: "Courier New", monospace;
  text-align: center;
  margin: 1em 0;
}

figure {
  margin: 1em 0;
  font-style: italic;
}

.footnote {
  font-size: 0.85em;
}
`
