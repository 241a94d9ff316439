package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const DoneSentinel = "[DONE]"

// Frame is the payload of one data event on the ai-stream endpoint.
type Frame struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Writer emits frames and flushes after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

func (s *Writer) Text(text string) error {
	return s.JSON("", Frame{Text: text})
}

func (s *Writer) Error(msg string) error {
	return s.JSON("", Frame{Error: msg})
}

func (s *Writer) Done() error {
	return s.raw("", DoneSentinel)
}

// JSON writes v as a data event, optionally named.
func (s *Writer) JSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.raw(event, string(data))
}

func (s *Writer) raw(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// DecodeFrame parses one data payload. done is true for the terminal sentinel.
func DecodeFrame(data string) (frame Frame, done bool, err error) {
	if data == DoneSentinel {
		return Frame{}, true, nil
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return Frame{}, false, fmt.Errorf("decode frame: %w", err)
	}
	return frame, false, nil
}
