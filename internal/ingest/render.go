package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Renderer rasterizes one PDF page (1-indexed) to PNG bytes.
type Renderer interface {
	Render(ctx context.Context, pdfPath string, page int) ([]byte, error)
}

// PdftoppmRenderer renders pages with pdftoppm (poppler-utils).
type PdftoppmRenderer struct {
	DPI    int    // default 150
	Binary string // default "pdftoppm"
}

// Available reports whether the pdftoppm binary can be found.
func (r PdftoppmRenderer) Available() bool {
	_, err := exec.LookPath(r.binary())
	return err == nil
}

func (r PdftoppmRenderer) binary() string {
	if r.Binary == "" {
		return "pdftoppm"
	}
	return r.Binary
}

func (r PdftoppmRenderer) Render(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 150
	}

	tmpDir, err := os.MkdirTemp("", "bindery-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// -singlefile writes <prefix>.png without a page suffix
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, r.binary(),
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
