package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

type GeneratorConfig struct {
	// Models is the ordered candidate list, primary first.
	Models        []string
	SystemPrompt  string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// Generator runs prompts against the candidate models in order, moving to
// the next candidate only on provider failures.
type Generator struct {
	client Client
	cfg    GeneratorConfig
	log    *logger.Logger
	tracer trace.Tracer
}

type Completion struct {
	Text  string
	Model string
}

func NewGenerator(log *logger.Logger, client Client, cfg GeneratorConfig) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}
	return &Generator{
		client: client,
		cfg:    cfg,
		log:    log.With("component", "Generator"),
		tracer: otel.Tracer("github.com/Ankitmohanty2/Kagaz/internal/llm"),
	}
}

func (g *Generator) Models() []string {
	return append([]string(nil), g.cfg.Models...)
}

func (g *Generator) messages(prompt string) []Message {
	msgs := make([]Message, 0, 2)
	if g.cfg.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: g.cfg.SystemPrompt})
	}
	return append(msgs, Message{Role: "user", Content: prompt})
}

func (g *Generator) Generate(ctx context.Context, prompt string) (*Completion, error) {
	ctx, span := g.tracer.Start(ctx, "llm.Generate")
	defer span.End()

	msgs := g.messages(prompt)
	var attempts []models.ModelAttempt
	for _, model := range g.cfg.Models {
		actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		text, err := g.client.Complete(actx, model, msgs)
		cancel()
		if err == nil {
			span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.attempts", len(attempts)+1))
			return &Completion{Text: text, Model: model}, nil
		}
		if stop := g.terminal(ctx, err); stop != nil {
			span.RecordError(stop)
			return nil, stop
		}
		attempts = append(attempts, models.ModelAttempt{Model: model, Err: err})
		g.log.Warn("model failed, trying next candidate", "model", model, "error", err)
	}

	genErr := &models.GenerationError{Attempts: attempts}
	span.RecordError(genErr)
	return nil, genErr
}

// GenerateStream opens a stream with the first candidate that accepts the
// request. Once a stream is open the model is fixed; later failures surface
// from Recv as StreamTransportError.
func (g *Generator) GenerateStream(ctx context.Context, prompt string) (*Stream, error) {
	ctx, span := g.tracer.Start(ctx, "llm.GenerateStream")
	defer span.End()

	msgs := g.messages(prompt)
	var attempts []models.ModelAttempt
	for _, model := range g.cfg.Models {
		sctx, cancel := context.WithTimeout(ctx, g.cfg.StreamTimeout)
		fs, err := g.client.Stream(sctx, model, msgs)
		if err == nil {
			span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.attempts", len(attempts)+1))
			g.log.Debug("stream opened", "model", model)
			return &Stream{inner: fs, cancel: cancel, model: model}, nil
		}
		cancel()
		if stop := g.terminal(ctx, err); stop != nil {
			span.RecordError(stop)
			return nil, stop
		}
		attempts = append(attempts, models.ModelAttempt{Model: model, Err: err})
		g.log.Warn("model failed to open stream, trying next candidate", "model", model, "error", err)
	}

	genErr := &models.GenerationError{Attempts: attempts}
	span.RecordError(genErr)
	return nil, genErr
}

// terminal returns a non-nil error when err must not trigger a fallback:
// content blocks, and cancellation by the caller. A per-attempt timeout is
// an ordinary provider failure.
func (g *Generator) terminal(ctx context.Context, err error) error {
	var contentErr *models.ContentError
	if errors.As(err, &contentErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("generation abandoned: %w", ctxErr)
	}
	return nil
}

// Stream is a single-use fragment sequence bound to one model.
type Stream struct {
	inner  FragmentStream
	cancel context.CancelFunc
	model  string

	mu     sync.Mutex
	closed bool
	ended  bool
}

func (s *Stream) Model() string { return s.model }

// Recv returns the next fragment, io.EOF at the end, or an error. Errors
// other than content blocks are wrapped in StreamTransportError.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStreamClosed
	}
	if s.ended {
		s.mu.Unlock()
		return "", io.EOF
	}
	s.mu.Unlock()

	text, err := s.inner.Recv()
	if err == nil {
		return text, nil
	}
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	var contentErr *models.ContentError
	if errors.As(err, &contentErr) {
		return "", err
	}
	return "", &models.StreamTransportError{Model: s.model, Err: err}
}

// Close releases the provider connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.inner.Close()
	s.cancel()
	return err
}
