package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

type recordingSaver struct {
	notes []models.Note
	err   error
}

func (s *recordingSaver) SaveNote(_ context.Context, note models.Note) error {
	s.notes = append(s.notes, note)
	return s.err
}

type countingSurface struct {
	*HTMLDocument
	inserts int
}

func (s *countingSurface) InsertAt(pos int, markup string) error {
	s.inserts++
	return s.HTMLDocument.InsertAt(pos, markup)
}

type sliceSource struct {
	fragments []string
	err       error
}

func (s *sliceSource) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func newDoc(t *testing.T, markup string) *HTMLDocument {
	t.Helper()
	doc, err := NewHTMLDocument(markup)
	require.NoError(t, err)
	return doc
}

func TestCheckWellFormed(t *testing.T) {
	good := []string{
		"",
		"plain text",
		"<p>Hello</p>",
		"<p>a<br>b</p>",
		`<h2>Answer</h2><p>x &lt; y</p><ul><li>one</li></ul>`,
		`<p id="ai-response-block"><em>Thinking...</em></p>`,
	}
	for _, markup := range good {
		assert.NoError(t, CheckWellFormed(markup), markup)
	}

	bad := []string{
		"<p>He",
		"<p>He</p",
		"</p>",
		"<p><b>x</p></b>",
		`<p class="a`,
		"<p>a < b</p>",
	}
	for _, markup := range bad {
		assert.ErrorIs(t, CheckWellFormed(markup), models.ErrMalformedMarkup, markup)
	}
}

func TestHTMLDocumentRejectsMalformedMutation(t *testing.T) {
	doc := newDoc(t, "<p>a</p>")

	err := doc.InsertAt(len(doc.Content()), "<p>b")
	assert.ErrorIs(t, err, models.ErrMalformedMarkup)
	assert.Equal(t, "<p>a</p>", doc.Content())

	err = doc.DeleteRange(0, 3)
	assert.ErrorIs(t, err, models.ErrMalformedMarkup)
	assert.Equal(t, "<p>a</p>", doc.Content())

	require.NoError(t, doc.InsertAt(8, "<p>b</p>"))
	assert.Equal(t, "<p>a</p><p>b</p>", doc.Content())

	assert.Error(t, doc.DeleteRange(4, 100))
}

func TestRepair(t *testing.T) {
	out, err := Repair("<ul><li>one")
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>one</li></ul>", out)
	assert.NoError(t, CheckWellFormed(out))
}

func TestBoundary(t *testing.T) {
	tests := []struct {
		markup string
		pos    int
		want   int
	}{
		{"<p>é</p>", 4, 3},
		{"<p>é</p>", 5, 5},
		{"<p>a &amp; b</p>", 7, 5},
		{"<p>a &amp; b</p>", 10, 10},
		{"<p>&#233;t</p>", 6, 3},
		{"<p>Tom & Jerry</p>", 9, 9},
		{"<p>a</p><p>b</p>", 10, 8},
		{"<p>a</p>", 1, 0},
		{"<p>a</p>", -2, 0},
		{"<p>a</p>", 99, 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s@%d", tt.markup, tt.pos), func(t *testing.T) {
			assert.Equal(t, tt.want, Boundary(tt.markup, tt.pos))
		})
	}
}

func TestHTMLDocumentRejectsCutsInsideCharacters(t *testing.T) {
	doc := newDoc(t, "<p>é and &amp;</p>")

	assert.ErrorIs(t, doc.InsertAt(4, "<b>x</b>"), models.ErrMalformedMarkup)
	assert.ErrorIs(t, doc.InsertAt(12, "<b>x</b>"), models.ErrMalformedMarkup)
	assert.ErrorIs(t, doc.InsertAt(1, "<b>x</b>"), models.ErrMalformedMarkup)
	assert.ErrorIs(t, doc.DeleteRange(3, 4), models.ErrMalformedMarkup)
	assert.ErrorIs(t, doc.DeleteRange(11, 16), models.ErrMalformedMarkup)
	assert.Equal(t, "<p>é and &amp;</p>", doc.Content())

	// "&" followed by "amp;" would fuse into a reference.
	tail := newDoc(t, "<p>a & b</p>")
	assert.ErrorIs(t, tail.InsertAt(6, "amp;"), models.ErrMalformedMarkup)

	require.NoError(t, doc.DeleteRange(3, 5))
	assert.Equal(t, "<p> and &amp;</p>", doc.Content())
}

func TestApplierSnapsAnchorToCharacterBoundary(t *testing.T) {
	tests := []struct {
		content string
		anchor  int
		want    string
	}{
		{"<p>é</p>", 4, "<p><p>Hi</p>é</p>"},
		{"<p>a &amp; b</p>", 7, "<p>a <p>Hi</p>&amp; b</p>"},
		{"<p>a</p><p>z</p>", 10, "<p>a</p><p>Hi</p><p>z</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			doc := newDoc(t, tt.content)
			saver := &recordingSaver{}
			a := NewStreamApplier(logger.Nop(), doc, saver, Options{Anchor: tt.anchor})

			_, err := a.Apply("<p>Hi</p>")
			require.NoError(t, err)
			markup, err := a.Finalize(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, markup)
			assert.True(t, utf8.ValidString(markup))
			require.Len(t, saver.notes, 1)
			assert.Equal(t, tt.want, saver.notes[0].Markup)
		})
	}
}

func TestApplierConvergesOnSplitTag(t *testing.T) {
	doc := newDoc(t, "")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{DocumentID: "doc-1", Author: "ana@example.com", Anchor: -1})

	applied, err := a.Apply("<p>He")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, Placeholder, doc.Content())
	assert.Equal(t, StateStreaming, a.State())
	assert.True(t, a.Session().PlaceholderActive)
	assert.Empty(t, saver.notes)

	applied, err = a.Apply("llo</p>")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "<p>Hello</p>", doc.Content())
	assert.False(t, a.Session().PlaceholderActive)

	markup, err := a.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", markup)
	assert.Equal(t, StateFinalized, a.State())
	require.Len(t, saver.notes, 1)
	assert.Equal(t, "doc-1", saver.notes[0].DocumentID)
	assert.Equal(t, "<p>Hello</p>", saver.notes[0].Markup)
	assert.Equal(t, "ana@example.com", saver.notes[0].Author)

	_, err = a.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Len(t, saver.notes, 1)
}

func TestApplierAppendsAfterExistingContent(t *testing.T) {
	doc := newDoc(t, "<h1>Notes</h1>")
	a := NewStreamApplier(logger.Nop(), doc, &recordingSaver{}, Options{Anchor: -1})

	require.NoError(t, a.Begin())
	assert.Equal(t, "<h1>Notes</h1>"+Placeholder, doc.Content())
	assert.Equal(t, StatePlaceholderInserted, a.State())

	_, err := a.Apply("<p>Hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Notes</h1><p>Hi</p>", doc.Content())
}

func TestApplierKeepsContentAfterAnchor(t *testing.T) {
	doc := newDoc(t, "<p>a</p><p>z</p>")
	a := NewStreamApplier(logger.Nop(), doc, &recordingSaver{}, Options{Anchor: 8})

	_, err := a.Apply("<p>H")
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p>"+Placeholder+"<p>z</p>", doc.Content())

	_, err = a.Apply("i</p>")
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p><p>Hi</p><p>z</p>", doc.Content())
}

func TestApplierStripsFences(t *testing.T) {
	doc := newDoc(t, "")
	a := NewStreamApplier(logger.Nop(), doc, &recordingSaver{}, Options{})

	_, err := a.Apply("```html\n<h2>A</h2>")
	require.NoError(t, err)
	_, err = a.Apply("\n```")
	require.NoError(t, err)

	markup, err := a.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "\n<h2>A</h2>\n", markup)
}

func TestApplierRepairsMalformedFinalAnswer(t *testing.T) {
	doc := newDoc(t, "<p>intro</p>")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{Anchor: -1})

	_, err := a.Apply("<ul><li>one")
	require.NoError(t, err)

	markup, err := a.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>intro</p><ul><li>one</li></ul>", markup)
	require.Len(t, saver.notes, 1)
}

func TestApplierSuspendsRendersAfterRepeatedFailures(t *testing.T) {
	surface := &countingSurface{HTMLDocument: newDoc(t, "")}
	a := NewStreamApplier(logger.Nop(), surface, &recordingSaver{}, Options{MaxSkippedRenders: 2})

	require.NoError(t, a.Begin())
	base := surface.inserts

	for _, frag := range []string{"<div>", "a", "b", "c"} {
		applied, err := a.Apply(frag)
		require.NoError(t, err)
		assert.False(t, applied)
	}
	// "<div>" is attempted, "a" is attempted and trips the limit, "b" and "c" are not.
	assert.Equal(t, base+2, surface.inserts)

	applied, err := a.Apply("</div>")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "<div>abc</div>", surface.Content())
}

func TestApplierCancelNeverPersists(t *testing.T) {
	doc := newDoc(t, "")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{})

	_, err := a.Apply("<p>partial</p>")
	require.NoError(t, err)
	a.Cancel()

	_, err = a.Apply("<p>more</p>")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = a.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, "<p>partial</p>", doc.Content())
	assert.Empty(t, saver.notes)
}

func TestRunTransportErrorLeavesPartialContent(t *testing.T) {
	doc := newDoc(t, "")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{})
	boom := errors.New("connection reset")

	_, err := a.Run(context.Background(), &sliceSource{fragments: []string{"<p>Hel", "lo</p>", "<p>wor"}, err: boom}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateError, a.State())
	assert.Equal(t, "<p>Hello</p>", doc.Content())
	assert.Empty(t, saver.notes)
}

func TestRunRendersAndFinalizes(t *testing.T) {
	doc := newDoc(t, "")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{DocumentID: "d"})

	var snapshots []string
	markup, err := a.Run(context.Background(), &sliceSource{fragments: []string{"<p>He", "llo</p>"}}, func(m string) {
		snapshots = append(snapshots, m)
	})

	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", markup)
	assert.Equal(t, []string{Placeholder, "<p>Hello</p>", "<p>Hello</p>"}, snapshots)
	assert.Len(t, saver.notes, 1)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	doc := newDoc(t, "")
	saver := &recordingSaver{}
	a := NewStreamApplier(logger.Nop(), doc, saver, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx, &sliceSource{fragments: []string{"<p>x</p>"}}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, Placeholder, doc.Content())
	assert.Empty(t, saver.notes)
}
