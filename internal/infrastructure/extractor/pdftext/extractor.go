package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const maxPDFBytes = 20 << 20

// Extractor pulls the text layer out of invoice documents. Plain UTF-8
// payloads (exported NF-e text, CSV) pass through unchanged.
type Extractor struct {
	maxBytes int
}

func NewExtractor() *Extractor {
	return &Extractor{maxBytes: maxPDFBytes}
}

func (e *Extractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty document"))
	}
	if len(data) > e.maxBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("document exceeds %d bytes", e.maxBytes))
	}

	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		if !utf8.Valid(data) {
			return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("unsupported binary format"))
		}
		return strings.TrimSpace(string(data)), nil
	}

	text, err := readPDF(data)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Scanned PDFs have no text layer.
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.New("pdf has no text layer"))
	}
	return text, nil
}

// readPDF recovers from parser panics on malformed files.
func readPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return buf.String(), nil
}
