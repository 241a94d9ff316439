package editor

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// Surface is the rich-text document the applier mutates. Positions are byte
// offsets into Content.
type Surface interface {
	Content() string
	InsertAt(pos int, markup string) error
	DeleteRange(from, to int) error
	SetContent(markup string) error
}

// HTMLDocument is a Surface holding HTML that is kept well-formed: a
// mutation that would leave unbalanced or truncated markup, or that cuts
// through a tag, a character reference or a UTF-8 sequence, is rejected with
// models.ErrMalformedMarkup and the content is left unchanged.
type HTMLDocument struct {
	mu      sync.RWMutex
	content string
}

func NewHTMLDocument(markup string) (*HTMLDocument, error) {
	d := &HTMLDocument{}
	if err := d.SetContent(markup); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *HTMLDocument) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

func (d *HTMLDocument) InsertAt(pos int, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos < 0 || pos > len(d.content) {
		return fmt.Errorf("insert at %d: position out of range [0, %d]", pos, len(d.content))
	}
	if !IsBoundary(d.content, pos) {
		return fmt.Errorf("%w: insert at %d splits a tag, reference or character", models.ErrMalformedMarkup, pos)
	}
	next := d.content[:pos] + markup + d.content[pos:]
	if !IsBoundary(next, pos) || !IsBoundary(next, pos+len(markup)) {
		return fmt.Errorf("%w: inserted markup merges with its surroundings", models.ErrMalformedMarkup)
	}
	if err := CheckWellFormed(next); err != nil {
		return err
	}
	d.content = next
	return nil
}

func (d *HTMLDocument) DeleteRange(from, to int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 || to > len(d.content) || from > to {
		return fmt.Errorf("delete [%d, %d): range out of bounds [0, %d]", from, to, len(d.content))
	}
	if !IsBoundary(d.content, from) || !IsBoundary(d.content, to) {
		return fmt.Errorf("%w: delete [%d, %d) splits a tag, reference or character", models.ErrMalformedMarkup, from, to)
	}
	next := d.content[:from] + d.content[to:]
	if !IsBoundary(next, from) {
		return fmt.Errorf("%w: delete [%d, %d) joins a reference", models.ErrMalformedMarkup, from, to)
	}
	if err := CheckWellFormed(next); err != nil {
		return err
	}
	d.content = next
	return nil
}

func (d *HTMLDocument) SetContent(markup string) error {
	if err := CheckWellFormed(markup); err != nil {
		return err
	}
	d.mu.Lock()
	d.content = markup
	d.mu.Unlock()
	return nil
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// CheckWellFormed reports models.ErrMalformedMarkup when markup has a
// truncated tag, an unmatched end tag, or an element left open.
func CheckWellFormed(markup string) error {
	if strings.LastIndexByte(markup, '<') > strings.LastIndexByte(markup, '>') {
		return fmt.Errorf("%w: unterminated tag", models.ErrMalformedMarkup)
	}

	var open []string
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %v", models.ErrMalformedMarkup, err)
			}
			if len(open) > 0 {
				return fmt.Errorf("%w: unclosed <%s>", models.ErrMalformedMarkup, open[len(open)-1])
			}
			return nil
		case html.TextToken:
			if strings.ContainsRune(string(z.Raw()), '<') {
				return fmt.Errorf("%w: stray '<' in text", models.ErrMalformedMarkup)
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if !voidElements[string(name)] {
				open = append(open, string(name))
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if voidElements[string(name)] {
				continue
			}
			if len(open) == 0 || open[len(open)-1] != string(name) {
				return fmt.Errorf("%w: unexpected </%s>", models.ErrMalformedMarkup, name)
			}
			open = open[:len(open)-1]
		}
	}
}

// Boundary returns the closest position at or before pos where markup can
// be cut: between two tokens, or inside a text token at the start of a whole
// character that is not part of a character reference.
func Boundary(markup string, pos int) int {
	if pos <= 0 {
		return 0
	}
	if pos >= len(markup) {
		return len(markup)
	}
	z := html.NewTokenizer(strings.NewReader(markup))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return offset
		}
		start, end := offset, offset+len(z.Raw())
		if pos == start {
			return pos
		}
		if pos < end {
			if tt != html.TextToken {
				return start
			}
			text := markup[start:end]
			i := pos - start
			for i > 0 && (!utf8.RuneStart(text[i]) || inReference(text, i)) {
				i--
			}
			return start + i
		}
		offset = end
	}
}

func IsBoundary(markup string, pos int) bool {
	return pos >= 0 && pos <= len(markup) && Boundary(markup, pos) == pos
}

// inReference reports whether cutting text before byte i would split a
// character reference such as "&amp;" or "&#233;".
func inReference(text string, i int) bool {
	if text[i] != ';' && !isNameByte(text[i]) {
		return false
	}
	amp := strings.LastIndexByte(text[:i], '&')
	if amp < 0 {
		return false
	}
	for j := amp + 1; j < i; j++ {
		if !isNameByte(text[j]) {
			return false
		}
	}
	return amp+1 < i || text[i] != ';'
}

func isNameByte(b byte) bool {
	return b == '#' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// Repair parses markup as body content and renders it back, which closes
// open elements and drops stray end tags.
func Repair(markup string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return "", fmt.Errorf("parse fragment: %w", err)
	}
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", fmt.Errorf("render fragment: %w", err)
		}
	}
	return b.String(), nil
}
