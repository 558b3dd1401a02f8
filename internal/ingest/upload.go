package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MaxUploadBytes bounds a single uploaded document.
const MaxUploadBytes = 200 << 20

// ErrNotPDF is returned when an upload does not start with the PDF magic.
var ErrNotPDF = errors.New("upload is not a PDF")

var pdfMagic = []byte("%PDF-")

// SaveUpload streams r into dir under a fresh name and returns the path.
// The content must be a PDF no larger than MaxUploadBytes.
func SaveUpload(dir string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return "", ErrNotPDF
	}

	path := filepath.Join(dir, uuid.NewString()+".pdf")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	limited := io.LimitReader(io.MultiReader(bytes.NewReader(head), r), MaxUploadBytes+1)
	n, err := io.Copy(f, limited)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxUploadBytes {
		err = fmt.Errorf("upload exceeds %d bytes", MaxUploadBytes)
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}
