package pdftext

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageMarker formats the sentinel inserted before each extracted page. The
// chunker's page-aware strategy keys off this exact shape.
func PageMarker(n int) string {
	return fmt.Sprintf("--- Page %d ---", n)
}

// Extractor turns an uploaded document into plain text. PDFs gain page
// sentinels; plain-text files pass through with a page count of zero.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text and page count.
func (e *Extractor) Extract(path string) (string, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return e.extractPDF(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read text file: %w", err)
	}
	return string(raw), 0, nil
}

func (e *Extractor) extractPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	if numPages == 0 {
		return "", 0, fmt.Errorf("pdf has no pages")
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			text = ""
		}
		builder.WriteString(PageMarker(pageNum))
		builder.WriteString("\n")
		builder.WriteString(strings.TrimSpace(text))
		builder.WriteString("\n\n")
	}

	return builder.String(), numPages, nil
}
