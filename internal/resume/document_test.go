package resume_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spigell/apprentice/internal/resume"
	"github.com/spigell/apprentice/internal/resume/resumetest"
)

func TestLoadValidPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jane.pdf")
	data := resumetest.PDF("Jane Doe Go Developer")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := resume.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Name != "jane.pdf" {
		t.Fatalf("unexpected name: %q", doc.Name)
	}
	if doc.MIMEType != "application/pdf" {
		t.Fatalf("unexpected mime type: %q", doc.MIMEType)
	}
	if doc.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", doc.Pages)
	}
	if !bytes.Equal(doc.Bytes(), data) {
		t.Fatalf("expected content to be preserved")
	}

	text, err := doc.Text()
	if err != nil {
		t.Fatalf("extracting text: %v", err)
	}
	if !strings.Contains(text, "Jane Doe") {
		t.Fatalf("expected extracted text to contain the name, got %q", text)
	}
}

func TestBytesReturnsCopy(t *testing.T) {
	doc := resumetest.Document(t, "jane")

	b := doc.Bytes()
	b[0] = 'X'

	if doc.Bytes()[0] != '%' {
		t.Fatalf("expected document to stay immutable")
	}
}
