package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/editor"
	"github.com/Ankitmohanty2/Kagaz/internal/llm"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/rag"
)

// FallbackMessage is what the chat panel shows when answering failed.
const FallbackMessage = "Sorry, I encountered an error while processing your request."

const defaultTopK = 5

var ErrEmptyQuery = errors.New("query is empty")

type Retriever interface {
	Retrieve(ctx context.Context, documentID, query string, k int) (*rag.Retrieval, error)
}

type Orchestrator struct {
	retriever Retriever
	generator *llm.Generator
	sessions  db.SessionRepo
	notes     editor.NoteSaver
	topK      int
	log       *logger.Logger
}

func NewOrchestrator(log *logger.Logger, retriever Retriever, generator *llm.Generator, sessions db.SessionRepo, notes editor.NoteSaver, topK int) *Orchestrator {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		notes:     notes,
		topK:      topK,
		log:       log.With("component", "ChatOrchestrator"),
	}
}

// Ask answers query from the document's context. The returned text is always
// safe to show: on failure it is FallbackMessage and err carries the cause.
func (o *Orchestrator) Ask(ctx context.Context, documentID, query string) (string, error) {
	completion, err := o.answer(ctx, documentID, query, nil)
	if err != nil {
		o.log.Error("ask failed", "document_id", documentID, "kind", ErrorKind(err), "error", err)
		return FallbackMessage, err
	}
	return completion.Text, nil
}

func (o *Orchestrator) answer(ctx context.Context, documentID, query string, history []string) (*llm.Completion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	retrieval, err := o.retriever.Retrieve(ctx, documentID, query, o.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	prompt, err := ChatPrompt(query, retrieval.Context, history)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	return o.generator.Generate(ctx, prompt)
}

type ChatRequest struct {
	DocumentID string
	SessionID  string
	Query      string
}

type ChatReply struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Model     string `json:"model,omitempty"`
}

// Chat is Ask with a stored transcript. Earlier turns of the session are
// included in the prompt.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	session, err := o.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}

	history := append([]string(nil), session.Messages...)
	session.Messages = append(session.Messages, "User: "+req.Query)

	reply := &ChatReply{SessionID: session.ID}
	completion, askErr := o.answer(ctx, req.DocumentID, req.Query, history)
	if askErr != nil {
		o.log.Error("chat failed", "document_id", req.DocumentID, "session_id", session.ID, "kind", ErrorKind(askErr), "error", askErr)
		reply.Response = FallbackMessage
	} else {
		reply.Response = completion.Text
		reply.Model = completion.Model
		session.Model = completion.Model
	}
	session.Messages = append(session.Messages, "AI: "+reply.Response)

	if err := o.sessions.SaveSession(ctx, *session); err != nil {
		return reply, errors.Join(askErr, fmt.Errorf("save session: %w", err))
	}
	return reply, askErr
}

func (o *Orchestrator) loadSession(ctx context.Context, req ChatRequest) (*models.ChatSession, error) {
	if req.SessionID == "" {
		return &models.ChatSession{ID: uuid.NewString(), DocumentID: req.DocumentID}, nil
	}
	session, err := o.sessions.GetSession(ctx, req.SessionID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.ChatSession{ID: req.SessionID, DocumentID: req.DocumentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.DocumentID != req.DocumentID {
		return nil, fmt.Errorf("session %s belongs to another document: %w", req.SessionID, models.ErrNotFound)
	}
	return session, nil
}

type EditorRequest struct {
	DocumentID string
	// Query is the user's selection. When empty, ParagraphContext is used.
	Query            string
	ParagraphContext string
	Author           string
	// Anchor is the byte offset for the answer; negative appends.
	Anchor  int
	Surface editor.Surface
	// OnRender receives the document markup after each applied render.
	OnRender func(markup string)
}

type EditorAnswer struct {
	Markup string
	Model  string
}

// AskIntoDocument streams an HTML answer into req.Surface and saves the
// resulting note once the stream completes.
func (o *Orchestrator) AskIntoDocument(ctx context.Context, req EditorRequest) (*EditorAnswer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = strings.TrimSpace(req.ParagraphContext)
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}

	retrieval, err := o.retriever.Retrieve(ctx, req.DocumentID, query, o.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	prompt, err := EditorPrompt(query, retrieval.Context)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	stream, err := o.generator.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	applier := editor.NewStreamApplier(o.log, req.Surface, o.notes, editor.Options{
		DocumentID: req.DocumentID,
		Author:     req.Author,
		Anchor:     req.Anchor,
	})
	markup, err := applier.Run(ctx, stream, req.OnRender)
	if err != nil {
		o.log.Warn("streamed answer ended early", "document_id", req.DocumentID, "state", applier.State().String(), "kind", ErrorKind(err), "error", err)
		return nil, err
	}
	return &EditorAnswer{Markup: markup, Model: stream.Model()}, nil
}

// ErrorKind names the failure class of err for logs and metrics.
func ErrorKind(err error) string {
	var (
		fetchErr     *models.FetchError
		parseErr     *models.ParseError
		embErr       *models.EmbeddingError
		vsErr        *models.VectorStoreError
		genErr       *models.GenerationError
		transportErr *models.StreamTransportError
		contentErr   *models.ContentError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &embErr):
		return "embedding"
	case errors.As(err, &vsErr):
		return "vector_store"
	case errors.As(err, &genErr):
		return "generation"
	case errors.As(err, &transportErr):
		return "stream_transport"
	case errors.As(err, &contentErr):
		return "content_blocked"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}
