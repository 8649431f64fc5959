// Package textextract turns raw document bytes into ordered pages of
// plain text. PDFs keep their real page numbers; flat formats come back
// as a single page 1.
package textextract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document parses but yields no extractable
// text, such as a scanned or fully image-based PDF.
var ErrNoText = errors.New("no extractable text")

// Page is one unit of extracted text. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

type Result struct {
	Pages []Page
	Type  string
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md"}
}

// Supported reports whether Extract handles the extension or MIME type.
func Supported(fileType string) bool {
	switch normalize(fileType) {
	case "pdf", "docx", "txt", "md":
		return true
	}
	return false
}

func Extract(data io.ReaderAt, size int64, fileType string) (*Result, error) {
	switch normalize(fileType) {
	case "pdf":
		return extractPDF(data, size)
	case "docx":
		return extractDOCX(data, size)
	case "txt", "md":
		return extractTXT(data, size)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// ExtractBytes is Extract for callers holding the whole document in memory.
func ExtractBytes(data []byte, fileType string) (*Result, error) {
	return Extract(bytes.NewReader(data), int64(len(data)), fileType)
}

func normalize(fileType string) string {
	switch strings.ToLower(fileType) {
	case ".pdf", "pdf", "application/pdf":
		return "pdf"
	case ".docx", "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case ".txt", "txt", "text/plain":
		return "txt"
	case ".md", "md", "text/markdown":
		return "md"
	}
	return ""
}

func extractPDF(data io.ReaderAt, size int64) (*Result, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	res := &Result{Type: "pdf"}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Some pages decode even when others do not.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		res.Pages = append(res.Pages, Page{Number: i, Text: text})
	}

	if len(res.Pages) == 0 {
		return nil, ErrNoText
	}
	return res, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*Result, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	var text string
	for _, f := range reader.File {
		if filepath.Base(f.Name) != "document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		text = stripXMLTags(string(content))
		break
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	return &Result{
		Type:  "docx",
		Pages: []Page{{Number: 1, Text: text}},
	}, nil
}

func extractTXT(data io.ReaderAt, size int64) (*Result, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read text: %w", err)
	}

	text := string(bytes.TrimSpace(buf))
	if text == "" {
		return nil, ErrNoText
	}
	return &Result{
		Type:  "txt",
		Pages: []Page{{Number: 1, Text: text}},
	}, nil
}

// stripXMLTags drops markup and collapses the remaining text onto single
// spaces. Good enough for document.xml, which carries no meaningful
// whitespace of its own.
func stripXMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
