package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// Placeholder marks where the answer will appear until the first fragment
// renders.
const Placeholder = `<p id="ai-response-block"><em>Thinking...</em></p>`

const defaultMaxSkippedRenders = 8

var ErrSessionClosed = errors.New("stream session closed")

type State int

const (
	StateIdle State = iota
	StatePlaceholderInserted
	StateStreaming
	StateFinalized
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaceholderInserted:
		return "placeholder_inserted"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) terminal() bool {
	return s == StateFinalized || s == StateError || s == StateCancelled
}

type NoteSaver interface {
	SaveNote(ctx context.Context, note models.Note) error
}

// FragmentSource is satisfied by llm.Stream.
type FragmentSource interface {
	Recv() (string, error)
}

type Options struct {
	DocumentID string
	Author     string
	// Anchor is the byte offset the answer is inserted at. Negative or out
	// of range means the end of the document.
	Anchor int
	// MaxSkippedRenders is the number of consecutive malformed renders after
	// which intermediate renders are only attempted when the text ends on a
	// tag boundary.
	MaxSkippedRenders int
}

// Session is the request-scoped streaming state.
type Session struct {
	AccumulatedText   string
	Anchor            int
	PlaceholderActive bool
	State             State
}

// StreamApplier grows a generated answer inside a Surface one fragment at a
// time. Every intermediate render either applies completely or leaves the
// surface at its last good state. Only Finalize persists.
type StreamApplier struct {
	surface Surface
	saver   NoteSaver
	opts    Options
	log     *logger.Logger

	mu        sync.Mutex
	session   Session
	tail      int
	skipped   int
	suspended bool
}

func NewStreamApplier(log *logger.Logger, surface Surface, saver NoteSaver, opts Options) *StreamApplier {
	if opts.MaxSkippedRenders <= 0 {
		opts.MaxSkippedRenders = defaultMaxSkippedRenders
	}
	return &StreamApplier{
		surface: surface,
		saver:   saver,
		opts:    opts,
		log:     log.With("component", "StreamApplier", "document_id", opts.DocumentID),
		session: Session{Anchor: -1},
	}
}

func (a *StreamApplier) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *StreamApplier) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.State
}

// Begin inserts the placeholder. Apply calls it on the first fragment if the
// caller has not.
func (a *StreamApplier) Begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.begin()
}

func (a *StreamApplier) begin() error {
	if a.session.State != StateIdle {
		return nil
	}
	content := a.surface.Content()
	anchor := a.opts.Anchor
	if anchor < 0 || anchor > len(content) {
		anchor = len(content)
	}
	if snapped := Boundary(content, anchor); snapped != anchor {
		a.log.Debug("anchor moved to markup boundary", "requested", anchor, "anchor", snapped)
		anchor = snapped
	}
	if err := a.surface.InsertAt(anchor, Placeholder); err != nil {
		return fmt.Errorf("insert placeholder: %w", err)
	}
	a.session.Anchor = anchor
	a.session.PlaceholderActive = true
	a.session.State = StatePlaceholderInserted
	a.tail = len(content) - anchor
	return nil
}

// Apply adds fragment to the answer and tries one render of the whole
// accumulated text. It reports whether the surface changed. Malformed
// intermediate markup is not an error.
func (a *StreamApplier) Apply(fragment string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.State.terminal() {
		return false, ErrSessionClosed
	}
	if err := a.begin(); err != nil {
		return false, err
	}
	a.session.State = StateStreaming
	a.session.AccumulatedText += fragment

	text := StripFences(a.session.AccumulatedText)
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	if a.suspended && !strings.HasSuffix(strings.TrimSpace(text), ">") {
		return false, nil
	}

	if a.replace(text) {
		a.skipped = 0
		a.suspended = false
		return true, nil
	}
	a.skipped++
	if !a.suspended && a.skipped >= a.opts.MaxSkippedRenders {
		a.suspended = true
		a.log.Debug("suspending intermediate renders", "skipped", a.skipped)
	}
	return false, nil
}

// replace swaps the answer region for text, restoring the previous content
// if either step fails.
func (a *StreamApplier) replace(text string) bool {
	prev := a.surface.Content()
	end := len(prev) - a.tail
	if err := a.surface.DeleteRange(a.session.Anchor, end); err != nil {
		a.log.Debug("render skipped", "error", err)
		return false
	}
	if err := a.surface.InsertAt(a.session.Anchor, text); err != nil {
		if rerr := a.surface.SetContent(prev); rerr != nil {
			a.log.Warn("failed to restore document after skipped render", "error", rerr)
		}
		a.log.Debug("render skipped", "error", err)
		return false
	}
	a.session.PlaceholderActive = false
	return true
}

// Finalize renders the complete answer, repairing it if it is still
// malformed, and saves the resulting document once. It returns the saved
// markup.
func (a *StreamApplier) Finalize(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.State.terminal() {
		return "", ErrSessionClosed
	}

	if a.session.State != StateIdle {
		text := StripFences(a.session.AccumulatedText)
		if !a.replace(text) {
			repaired, err := Repair(text)
			if err != nil || !a.replace(repaired) {
				a.session.State = StateError
				return "", fmt.Errorf("apply final answer: %w", models.ErrMalformedMarkup)
			}
			a.log.Info("final answer repaired", "original_len", len(text), "repaired_len", len(repaired))
		}
	}

	a.session.State = StateFinalized
	markup := a.surface.Content()
	note := models.Note{
		DocumentID: a.opts.DocumentID,
		Markup:     markup,
		Author:     a.opts.Author,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := a.saver.SaveNote(ctx, note); err != nil {
		a.session.State = StateError
		return markup, fmt.Errorf("save note: %w", err)
	}
	return markup, nil
}

// Fail ends the session after a transport or provider error. Whatever was
// rendered stays on the surface.
func (a *StreamApplier) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.State.terminal() {
		return
	}
	a.session.State = StateError
	a.log.Warn("stream failed", "error", err, "accumulated_len", len(a.session.AccumulatedText))
}

// Cancel stops further renders without persisting anything.
func (a *StreamApplier) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.State.terminal() {
		return
	}
	a.session.State = StateCancelled
}

// Run drives the applier from src until the stream ends, fails or ctx is
// cancelled. onRender, if set, receives the surface content after every
// successful render.
func (a *StreamApplier) Run(ctx context.Context, src FragmentSource, onRender func(markup string)) (string, error) {
	if err := a.Begin(); err != nil {
		a.Fail(err)
		return "", err
	}
	if onRender != nil {
		onRender(a.surface.Content())
	}

	for {
		if err := ctx.Err(); err != nil {
			a.Cancel()
			return "", err
		}
		fragment, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				a.Cancel()
				return "", ctxErr
			}
			a.Fail(err)
			return "", err
		}
		applied, err := a.Apply(fragment)
		if err != nil {
			return "", err
		}
		if applied && onRender != nil {
			onRender(a.surface.Content())
		}
	}

	markup, err := a.Finalize(ctx)
	if err != nil {
		return markup, err
	}
	if onRender != nil {
		onRender(markup)
	}
	return markup, nil
}

// StripFences removes the markdown code fences models wrap HTML answers in.
func StripFences(text string) string {
	text = strings.ReplaceAll(text, "```html", "")
	return strings.ReplaceAll(text, "```", "")
}
