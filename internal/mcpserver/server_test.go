package mcpserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/rag"
)

type stubRetriever struct {
	gotLimit int
	err      error
}

func (s *stubRetriever) Retrieve(_ context.Context, documentID, query string, k int) (*rag.Retrieval, error) {
	s.gotLimit = k
	if s.err != nil {
		return nil, s.err
	}
	return &rag.Retrieval{Results: []models.QueryResult{
		{Chunk: models.Chunk{DocumentID: documentID, Sequence: 2, Text: "cats sleep"}, Score: 0.5},
	}}, nil
}

type stubAsker struct{ err error }

func (s stubAsker) Ask(context.Context, string, string) (string, error) {
	if s.err != nil {
		return "Sorry", s.err
	}
	return "They sleep.", nil
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSearchTool(t *testing.T) {
	r := &stubRetriever{}
	tl := &tools{retriever: r, trusted: true, log: logger.Nop()}

	res, err := tl.search(context.Background(), call(map[string]any{"document_id": "d1", "query": "cats", "limit": float64(3)}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 3, r.gotLimit)
	assert.Equal(t, `{"sequence":2,"score":0.5,"text":"cats sleep"}`+"\n", text(t, res))
}

func TestSearchToolErrors(t *testing.T) {
	tl := &tools{retriever: &stubRetriever{err: errors.New("store down")}, trusted: true, log: logger.Nop()}

	res, err := tl.search(context.Background(), call(map[string]any{"query": "cats"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tl.search(context.Background(), call(map[string]any{"document_id": "d1", "query": "cats"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "store down", text(t, res))
}

func TestAskTool(t *testing.T) {
	tl := &tools{asker: stubAsker{}, trusted: true, log: logger.Nop()}
	res, err := tl.ask(context.Background(), call(map[string]any{"document_id": "d1", "question": "why?"}))
	require.NoError(t, err)
	assert.Equal(t, "They sleep.", text(t, res))

	tl.asker = stubAsker{err: errors.New("boom")}
	res, err = tl.ask(context.Background(), call(map[string]any{"document_id": "d1", "question": "why?"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNewRegistersTools(t *testing.T) {
	srv := New(logger.Nop(), "test", Options{Docs: db.NewMemoryDB(), Retriever: &stubRetriever{}, Asker: stubAsker{}})
	assert.NotNil(t, srv)
}

func ownedStore(t *testing.T) *db.MemoryDB {
	t.Helper()
	store := db.NewMemoryDB()
	require.NoError(t, store.CreateDocument(context.Background(), models.Document{ID: "d1", OwnerID: 1, Status: models.StatusReady}))
	return store
}

func TestToolsOnlyServeTheOwner(t *testing.T) {
	args := map[string]any{"document_id": "d1", "query": "salary", "question": "salary?"}
	tests := []struct {
		name    string
		ctx     context.Context
		wantErr string
	}{
		{"no principal", context.Background(), errUnauthorized.Error()},
		{"other user", auth.WithPrincipal(context.Background(), models.Principal{UserID: 2}), "not found"},
		{"owner", auth.WithPrincipal(context.Background(), models.Principal{UserID: 1}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRetriever{}
			tl := &tools{docs: ownedStore(t), retriever: r, asker: stubAsker{}, log: logger.Nop()}

			search, err := tl.search(tt.ctx, call(args))
			require.NoError(t, err)
			ask, err := tl.ask(tt.ctx, call(args))
			require.NoError(t, err)

			if tt.wantErr == "" {
				assert.False(t, search.IsError)
				assert.False(t, ask.IsError)
				assert.Equal(t, defaultLimit, r.gotLimit)
				return
			}
			assert.True(t, search.IsError)
			assert.Contains(t, text(t, search), tt.wantErr)
			assert.True(t, ask.IsError)
			assert.Contains(t, text(t, ask), tt.wantErr)
			assert.Zero(t, r.gotLimit)
		})
	}
}

type stubChecker struct{ err error }

func (s stubChecker) CheckToken(_ context.Context, token string) (*models.Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	if token != "tok-1" {
		return nil, auth.ErrInvalidToken
	}
	return &models.Principal{UserID: 1, PlanTier: models.PlanFree}, nil
}

func TestSSEContextResolvesBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		checker stubChecker
		want    bool
	}{
		{"valid", "Bearer tok-1", stubChecker{}, true},
		{"lowercase scheme", "bearer tok-1", stubChecker{}, true},
		{"unknown token", "Bearer nope", stubChecker{}, false},
		{"missing", "", stubChecker{}, false},
		{"checker down", "Bearer tok-1", stubChecker{err: errors.New("db down")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/message", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			ctx := SSEContext(logger.Nop(), tt.checker)(context.Background(), req)

			p, ok := auth.PrincipalFromContext(ctx)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, int64(1), p.UserID)
			}
		})
	}
}
