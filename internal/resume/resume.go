// Package resume loads and checks the candidate's resume before it enters
// the application context.
package resume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"

	"github.com/spigell/apprentice/internal/apperr"
)

const pdfMIMEType = "application/pdf"

// Document is an opaque resume blob. It is never mutated once loaded.
type Document struct {
	Name     string
	MIMEType string
	Pages    int
	data     []byte
}

// Load reads a resume from disk and validates it as a non-empty PDF.
func Load(path string) (*Document, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperr.Validation("resume is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Validation("resume file %q does not exist", path)
		}
		return nil, fmt.Errorf("reading resume %q: %w", path, err)
	}

	return New(filepath.Base(path), data)
}

// New validates raw resume bytes.
func New(name string, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("resume %q is empty", name)
	}

	mime := mimetype.Detect(data)
	if !mime.Is(pdfMIMEType) {
		return nil, apperr.Validation("resume must be a PDF file, got %s", mime.String())
	}

	pages, err := countPages(data)
	if err != nil {
		return nil, apperr.Validation("resume %q is not a readable PDF: %s", name, err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return &Document{
		Name:     name,
		MIMEType: pdfMIMEType,
		Pages:    pages,
		data:     buf,
	}, nil
}

// Bytes returns a copy of the document content.
func (d *Document) Bytes() []byte {
	buf := make([]byte, len(d.data))
	copy(buf, d.data)
	return buf
}

func (d *Document) Size() int {
	return len(d.data)
}

// Text extracts the plain text of every page, used when the evaluator is
// configured to receive resume content instead of the file.
func (d *Document) Text() (string, error) {
	doc, err := fitz.NewFromMemory(d.data)
	if err != nil {
		return "", fmt.Errorf("opening resume: %w", err)
	}
	defer doc.Close()

	var builder strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", i+1, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}

	return builder.String(), nil
}

func countPages(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, err
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return 0, errors.New("document has no pages")
	}
	return pages, nil
}
