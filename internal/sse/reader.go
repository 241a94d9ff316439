package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data string
}

// Reader pulls events from an SSE byte stream one at a time.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event with data. It returns io.EOF once the stream
// ends cleanly and io.ErrUnexpectedEOF if it ends mid-event.
func (r *Reader) Next() (Event, error) {
	var (
		eventName string
		dataLines []string
	)
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				line = strings.TrimRight(line, "\r\n")
				if line != "" {
					if data, ok := fieldValue(line, "data"); ok {
						dataLines = append(dataLines, data)
					}
				}
				if len(dataLines) > 0 {
					return Event{Name: eventName, Data: strings.Join(dataLines, "\n")}, nil
				}
				if eventName != "" {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line ends event.
		if line == "" {
			if len(dataLines) == 0 {
				eventName = ""
				continue
			}
			return Event{Name: eventName, Data: strings.Join(dataLines, "\n")}, nil
		}

		// Comment.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if v, ok := fieldValue(line, "event"); ok {
			eventName = v
			continue
		}
		if v, ok := fieldValue(line, "data"); ok {
			dataLines = append(dataLines, v)
		}
	}
}

func fieldValue(line, field string) (string, bool) {
	if !strings.HasPrefix(line, field+":") {
		return "", false
	}
	v := strings.TrimPrefix(line, field+":")
	return strings.TrimPrefix(v, " "), true
}
