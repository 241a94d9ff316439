package parsing

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortSentences(t *testing.T) {
	s := NewSplitter(WithChunkSize(15), WithOverlap(5))

	chunks := s.Split("A cat sat. A dog ran.")

	assert.Equal(t, []string{"A cat sat. ", "sat. A dog ran."}, chunks)
}

func TestSplitRespectsMaxLength(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	s := NewSplitter(WithChunkSize(100), WithOverlap(20))

	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100, "chunk %d", i)
	}
}

func TestSplitOverlapCarriesBoundary(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 20)
	s := NewSplitter(WithChunkSize(60), WithOverlap(15))

	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		head := strings.Fields(chunks[i])[0]
		assert.Contains(t, prev, head, "chunk %d should start with text from chunk %d", i, i-1)
	}
}

func TestSplitPrefersParagraphs(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	s := NewSplitter(WithChunkSize(50), WithOverlap(0))

	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 30)+"\n\n", chunks[0])
	assert.Equal(t, strings.Repeat("b", 30), chunks[1])
}

func TestSplitHardCutsWithoutSeparators(t *testing.T) {
	s := NewSplitter(WithChunkSize(10), WithOverlap(0))

	chunks := s.Split(strings.Repeat("x", 25))

	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestSplitMultibyte(t *testing.T) {
	text := strings.Repeat("कागज़ ", 30)
	s := NewSplitter(WithChunkSize(20), WithOverlap(4))

	for _, c := range s.Split(text) {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, NewSplitter().Split("  \n\n "))
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(40), WithOverlap(40))
	assert.Equal(t, 10, s.overlap)
}
