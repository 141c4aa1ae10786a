package textextract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Kind identifies a supported source format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindText Kind = "plain-text"
	KindWord Kind = "word-document"
)

var (
	ErrUnsupportedKind = errors.New("unsupported document kind")
	ErrInvalidEncoding = errors.New("text is not valid UTF-8")
	ErrNoDocumentBody  = errors.New("word document has no body")
	// ErrMalformed wraps parser panics on structurally broken input.
	ErrMalformed = errors.New("malformed document")
	ErrTooLarge  = errors.New("document exceeds the size limit for its kind")
)

// Per-kind input limits. Parsers cannot be interrupted, so these bound the
// work an abandoned extraction can still do after its caller gives up.
const (
	MaxPDFBytes  int64 = 64 << 20
	MaxWordBytes int64 = 32 << 20
	MaxTextBytes int64 = 16 << 20
)

// maxDocumentXML bounds the inflated body of a Word file.
var maxDocumentXML = 8 * MaxWordBytes

func init() {
	// pdfcpu otherwise writes a config directory under the user's home.
	pdfapi.DisableConfigDir()
}

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

// KindFromFilename maps a file extension to a Kind.
func KindFromFilename(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, true
	case ".txt":
		return KindText, true
	case ".doc", ".docx":
		return KindWord, true
	default:
		return "", false
	}
}

func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".doc", ".docx"}
}

// MaxSize returns the largest input accepted for kind, or 0 for an unknown
// kind.
func MaxSize(kind Kind) int64 {
	switch kind {
	case KindPDF:
		return MaxPDFBytes
	case KindWord:
		return MaxWordBytes
	case KindText:
		return MaxTextBytes
	}
	return 0
}

// Extract parses data according to kind. A parser panic is returned as
// ErrMalformed.
func Extract(data io.ReaderAt, size int64, kind Kind) (text *ExtractedText, err error) {
	if limit := MaxSize(kind); limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: %s of %d bytes, limit %d", ErrTooLarge, kind, size, limit)
	}

	// ledongthuc/pdf reports most object-graph errors by panicking.
	defer func() {
		if r := recover(); r != nil {
			text, err = nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, r)
		}
	}()

	switch kind {
	case KindPDF:
		return extractPDF(data, size)
	case KindWord:
		return extractDOCX(data, size)
	case KindText:
		return extractTXT(data, size)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	// pdfcpu reads the page tree independently; prefer its count when the
	// document parses cleanly.
	if n, err := pdfapi.PageCount(io.NewSectionReader(data, 0, size), nil); err == nil && n > 0 {
		numPages = n
	}

	return &ExtractedText{
		Content: strings.TrimSpace(buf.String()),
		Pages:   numPages,
		Metadata: map[string]string{
			"type": string(KindPDF),
		},
	}, nil
}

// extractDOCX checks the package for a bounded document body, then lets
// docconv render the body, headers and footers as text.
func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	var body *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" || filepath.Base(f.Name) == "document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, ErrNoDocumentBody
	}
	if body.UncompressedSize64 > uint64(maxDocumentXML) {
		return nil, fmt.Errorf("%w: document.xml inflates to %d bytes", ErrTooLarge, body.UncompressedSize64)
	}

	text, meta, err := docconv.ConvertDocx(io.NewSectionReader(data, 0, size))
	if err != nil {
		return nil, fmt.Errorf("read DOCX: %w", err)
	}

	metadata := map[string]string{"type": string(KindWord)}
	for k, v := range meta {
		if _, taken := metadata[k]; !taken && v != "" {
			metadata[k] = v
		}
	}
	return &ExtractedText{
		Content:  strings.TrimSpace(text),
		Pages:    1,
		Metadata: metadata,
	}, nil
}

func extractTXT(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf := make([]byte, size)
	_, err := data.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read TXT: %w", err)
	}

	buf = bytes.TrimPrefix(buf, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(buf) {
		return nil, ErrInvalidEncoding
	}

	return &ExtractedText{
		Content: string(bytes.TrimSpace(buf)),
		Pages:   1,
		Metadata: map[string]string{
			"type": string(KindText),
		},
	}, nil
}
