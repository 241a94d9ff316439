package parsing

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// separators are tried in order when looking for a place to cut.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// Splitter cuts text into chunks of at most ChunkSize runes where
// consecutive chunks share roughly Overlap runes.
type Splitter struct {
	chunkSize int
	overlap   int
}

type SplitterOption func(*Splitter)

func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) SplitterOption {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// Split returns the chunks in reading order. Whitespace-only chunks are dropped.
func (s *Splitter) Split(text string) []string {
	runes := []rune(normalizeWhitespace(text))
	n := len(runes)
	var chunks []string

	start := 0
	for start < n {
		end := start + s.chunkSize
		if end >= n {
			chunks = appendChunk(chunks, string(runes[start:n]))
			break
		}

		cut := s.findCut(runes, start, end)
		chunks = appendChunk(chunks, string(runes[start:cut]))

		next := s.overlapStart(runes, start, cut)
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findCut looks for the strongest separator in the second half of the
// window and cuts just after it. Without one it hard-cuts at end.
func (s *Splitter) findCut(runes []rune, start, end int) int {
	minCut := start + s.chunkSize/2
	window := string(runes[minCut:end])
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		return minCut + len([]rune(window[:idx])) + len([]rune(sep))
	}
	return end
}

// overlapStart steps back overlap runes from cut and then forward to the
// next word start so the following chunk does not begin mid-word.
func (s *Splitter) overlapStart(runes []rune, start, cut int) int {
	if s.overlap == 0 {
		return cut
	}
	next := cut - s.overlap
	if next <= start {
		return cut
	}
	for i := next; i < cut; i++ {
		if i == 0 || unicode.IsSpace(runes[i-1]) {
			if !unicode.IsSpace(runes[i]) {
				return i
			}
		}
	}
	return next
}

func appendChunk(chunks []string, chunk string) []string {
	if strings.TrimSpace(chunk) == "" {
		return chunks
	}
	return append(chunks, chunk)
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
