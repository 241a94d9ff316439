package parsing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

var (
	ErrNotPDF   = errors.New("payload is not a PDF")
	ErrTooLarge = errors.New("payload exceeds size limit")
)

// Loader fetches a PDF by URL and returns its text as ordered chunks.
type Loader struct {
	HTTPClient *http.Client
	Extractor  Extractor
	Splitter   *Splitter
	MaxBytes   int64
	log        *logger.Logger
}

func NewLoader(log *logger.Logger, timeout time.Duration, maxBytes int64, extractor Extractor, splitter *Splitter) *Loader {
	if extractor == nil {
		extractor = DefaultExtractor()
	}
	if splitter == nil {
		splitter = NewSplitter()
	}
	return &Loader{
		HTTPClient: &http.Client{Timeout: timeout},
		Extractor:  extractor,
		Splitter:   splitter,
		MaxBytes:   maxBytes,
		log:        log.With("component", "Loader"),
	}
}

// AllowLocalFiles lets Load read file:// URLs below root. Only the CLI
// enables it.
func (l *Loader) AllowLocalFiles(root string) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.RegisterProtocol("file", http.NewFileTransport(http.Dir(root)))
	l.HTTPClient.Transport = t
}

func (l *Loader) Load(ctx context.Context, sourceURL string) ([]string, error) {
	data, err := l.fetch(ctx, sourceURL)
	if err != nil {
		return nil, &models.FetchError{URL: sourceURL, Err: err}
	}
	return l.LoadBytes(ctx, data)
}

// LoadBytes extracts and splits an already downloaded PDF.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) ([]string, error) {
	if !IsPDF(data) {
		return nil, &models.FetchError{Err: ErrNotPDF}
	}

	text, err := l.Extractor.Extract(ctx, data)
	if err != nil {
		return nil, &models.ParseError{Err: err}
	}

	chunks := l.Splitter.Split(text)
	if len(chunks) == 0 {
		return nil, &models.ParseError{Err: ErrNoText}
	}
	l.log.Debug("document split", "bytes", len(data), "chunks", len(chunks))
	return chunks, nil
}

func (l *Loader) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source returned status: %s", resp.Status)
	}

	body := io.Reader(resp.Body)
	if l.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, l.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if l.MaxBytes > 0 && int64(len(data)) > l.MaxBytes {
		return nil, ErrTooLarge
	}
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	return data, nil
}
