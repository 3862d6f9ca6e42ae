// Package extract turns uploaded document bytes into a single text stream.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/korean"

	"docrag/internal/domain"
)

var textExtensions = map[string]struct{}{
	".txt":      {},
	".text":     {},
	".md":       {},
	".markdown": {},
	".log":      {},
	".csv":      {},
}

// DetectFormat maps a filename to its document format by extension.
func DetectFormat(filename string) (domain.Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return domain.FormatPDF, nil
	}
	if _, ok := textExtensions[ext]; ok {
		return domain.FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
}

// Extractor reads PDF and plain text documents.
type Extractor struct {
	log *zap.Logger
}

// New creates an extractor. A nil logger disables logging.
func New(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{log: log}
}

// ExtractFile detects the format of filename and extracts its text.
func (e *Extractor) ExtractFile(data []byte, filename string) (string, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return "", err
	}
	return e.Extract(data, format)
}

// Extract returns the text of data interpreted as format.
func (e *Extractor) Extract(data []byte, format domain.Format) (string, error) {
	switch format {
	case domain.FormatPDF:
		return e.extractPDF(data)
	case domain.FormatText:
		return decodeText(data)
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
}

// extractPDF concatenates page text in page order. Pages that fail or carry no
// text contribute an empty string.
func (e *Extractor) extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		text, err := pageText(r, i)
		if err != nil {
			e.log.Debug("pdf page yielded no text", zap.Int("page", i), zap.Error(err))
			text = ""
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageText extracts one page, converting parser panics on malformed content into errors.
func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", n, rec)
		}
	}()
	p := r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText decodes UTF-8, retrying as EUC-KR (CP949) for legacy files.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUndecodableText, err)
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", fmt.Errorf("%w: not utf-8 or euc-kr", domain.ErrUndecodableText)
	}
	return string(decoded), nil
}
