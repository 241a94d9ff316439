package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrQuotaExceeded   = errors.New("upload quota exceeded")
	ErrContentBlocked  = errors.New("content blocked by provider")
	ErrMalformedMarkup = errors.New("malformed markup")
)

// FetchError means the source could not be downloaded or was not a PDF.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the payload was fetched but no text could be extracted.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse document: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding: %v", e.Err) }

func (e *EmbeddingError) Unwrap() error { return e.Err }

type VectorStoreError struct {
	Op  string
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// ModelAttempt records one failed call to a candidate model.
type ModelAttempt struct {
	Model string
	Err   error
}

// GenerationError is returned once every candidate model has failed.
type GenerationError struct {
	Attempts []ModelAttempt
}

func (e *GenerationError) Error() string {
	if len(e.Attempts) == 0 {
		return "generation failed: no models configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Model, a.Err))
	}
	return "generation failed: " + strings.Join(parts, "; ")
}

func (e *GenerationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// StreamTransportError is a failure after a stream was established.
type StreamTransportError struct {
	Model string
	Err   error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream from %s interrupted: %v", e.Model, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// ContentError is a refusal or policy block from the provider. It is not
// eligible for model fallback.
type ContentError struct {
	Model  string
	Reason string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("model %s blocked the response: %s", e.Model, e.Reason)
}

func (e *ContentError) Unwrap() error { return ErrContentBlocked }
