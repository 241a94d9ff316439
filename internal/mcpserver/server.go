package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

type Asker interface {
	Ask(ctx context.Context, documentID, query string) (string, error)
}

var errUnauthorized = errors.New("missing or invalid access token")

type TokenChecker interface {
	CheckToken(ctx context.Context, token string) (*models.Principal, error)
}

type Options struct {
	Docs      db.DocumentRepo
	Retriever chat.Retriever
	// Asker enables the ask_document tool.
	Asker Asker
	// Trusted skips the per-caller token and ownership checks. Only the stdio
	// transport, which runs as the local user, sets it.
	Trusted bool
}

type tools struct {
	docs      db.DocumentRepo
	retriever chat.Retriever
	asker     Asker
	trusted   bool
	log       *logger.Logger
}

// New exposes document search, and question answering when opts.Asker is
// set, as MCP tools. Unless opts.Trusted is set, every call needs a
// principal in its context (see SSEContext) that owns the document.
func New(log *logger.Logger, version string, opts Options) *server.MCPServer {
	t := &tools{
		docs:      opts.Docs,
		retriever: opts.Retriever,
		asker:     opts.Asker,
		trusted:   opts.Trusted,
		log:       log.With("component", "MCPServer"),
	}

	srv := server.NewMCPServer("Kagaz", version, server.WithToolCapabilities(false))
	srv.AddTool(mcp.NewTool("search_document",
		mcp.WithDescription("Search one uploaded PDF and return its most relevant passages"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by the upload API")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
	), t.search)

	if opts.Asker != nil {
		srv.AddTool(mcp.NewTool("ask_document",
			mcp.WithDescription("Answer a question using the content of one uploaded PDF"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by the upload API")),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
		), t.ask)
	}
	return srv
}

// SSEContext resolves the bearer token of each SSE request to a principal.
// A request without a valid token keeps a context with no principal, and
// tool calls made with it are refused.
func SSEContext(log *logger.Logger, checker TokenChecker) server.SSEContextFunc {
	log = log.With("component", "MCPAuth")
	return func(ctx context.Context, r *http.Request) context.Context {
		header := r.Header.Get("Authorization")
		if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
			return ctx
		}
		p, err := checker.CheckToken(ctx, strings.TrimSpace(header[7:]))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				log.Error("token check failed", "error", err)
			}
			return ctx
		}
		return auth.WithPrincipal(ctx, *p)
	}
}

// authorize fails unless the caller owns documentID. A document owned by
// someone else is reported as not found.
func (t *tools) authorize(ctx context.Context, documentID string) error {
	if t.trusted {
		return nil
	}
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || t.docs == nil {
		return errUnauthorized
	}
	doc, err := t.docs.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		t.log.Error("document lookup failed", "document_id", documentID, "error", err)
		return errors.New("document lookup failed")
	}
	if doc.OwnerID != p.UserID {
		return fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	return nil
}

type passage struct {
	Sequence int     `json:"sequence"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
}

func (t *tools) search(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.authorize(ctx, documentID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	res, err := t.retriever.Retrieve(ctx, documentID, q, limit)
	if err != nil {
		t.log.Warn("search tool failed", "document_id", documentID, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	for _, r := range res.Results {
		raw, err := json.Marshal(passage{Sequence: r.Chunk.Sequence, Score: r.Score, Text: r.Chunk.Text})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fmt.Fprintf(&b, "%s\n", raw)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *tools) ask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.authorize(ctx, documentID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := t.asker.Ask(ctx, documentID, question)
	if err != nil {
		return mcp.NewToolResultError(answer), nil
	}
	return mcp.NewToolResultText(answer), nil
}
