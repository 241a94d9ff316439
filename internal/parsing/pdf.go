package parsing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

// ErrNoText is returned when a PDF parses but yields no text, which is what
// scanned documents without a text layer look like.
var ErrNoText = errors.New("no extractable text")

// Extractor turns raw PDF bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractTextFromPDF takes a byte slice of a PDF file and returns the extracted plain text.
func ExtractTextFromPDF(pdfData []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()

	pdfReader, err := pdf.NewReader(bytes.NewReader(pdfData), int64(len(pdfData)))
	if err != nil {
		return "", fmt.Errorf("error creating PDF reader: %w", err)
	}

	b, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("could not read content of pdf: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(b); err != nil {
		return "", fmt.Errorf("could not read content of pdf: %w", err)
	}
	return buf.String(), nil
}

// IsPDF checks the payload signature rather than the Content-Type, since
// file stores often serve PDFs as application/octet-stream.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic)
}

// IsPDFName checks if the provided filename has a .pdf extension (case-insensitive).
func IsPDFName(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

type PDFExtractor struct{}

func (PDFExtractor) Extract(_ context.Context, data []byte) (string, error) {
	text, err := ExtractTextFromPDF(data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// DocconvExtractor shells out through docconv (pdftotext) and copes with
// files the pure Go reader cannot decode.
type DocconvExtractor struct{}

func (DocconvExtractor) Extract(_ context.Context, data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return "", fmt.Errorf("docconv: %w", err)
	}
	if strings.TrimSpace(res.Body) == "" {
		return "", ErrNoText
	}
	return res.Body, nil
}

// ChainExtractor tries each extractor in order and returns the first text.
type ChainExtractor []Extractor

func (c ChainExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	var errs []error
	for _, ex := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := ex.Extract(ctx, data)
		if err == nil {
			return text, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("no extractors configured")
	}
	return "", errors.Join(errs...)
}

// DefaultExtractor is the pure Go reader with docconv as a fallback.
func DefaultExtractor() Extractor {
	return ChainExtractor{PDFExtractor{}, DocconvExtractor{}}
}
