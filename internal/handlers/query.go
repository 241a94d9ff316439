package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/query"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
)

const maxSearchLimit = 50

type QueryHandler struct {
	Retriever    chat.Retriever
	Orchestrator *chat.Orchestrator
	Docs         db.DocumentRepo
	Limit        int
	log          *logger.Logger
}

func NewQueryHandler(log *logger.Logger, retriever chat.Retriever, orchestrator *chat.Orchestrator, docs db.DocumentRepo, limit int) *QueryHandler {
	return &QueryHandler{
		Retriever:    retriever,
		Orchestrator: orchestrator,
		Docs:         docs,
		Limit:        limit,
		log:          log.With("handler", "QueryHandler"),
	}
}

// SimpleQuery returns the raw chunks closest to ?query=.
func (h *QueryHandler) SimpleQuery(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}

	queryString := c.Query("query")
	if queryString == "" {
		response.RespondError(c, http.StatusBadRequest, "empty_query", chat.ErrEmptyQuery)
		return
	}
	limit := h.Limit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxSearchLimit)
		}
	}

	retrieval, err := h.Retriever.Retrieve(c.Request.Context(), doc.ID, queryString, limit)
	if err != nil {
		h.log.Error("search failed", "document_id", doc.ID, "kind", chat.ErrorKind(err), "error", err)
		respondErr(c, err)
		return
	}

	res := api.SimpleQueryResponse{Responses: []api.SimpleQueryResponseContent{}}
	for _, r := range retrieval.Results {
		res.Responses = append(res.Responses, api.SimpleQueryResponseContent{
			Sequence: r.Chunk.Sequence,
			Text:     r.Chunk.Text,
			Score:    r.Score,
		})
	}
	response.RespondOK(c, res)
}

// QueryWithLLM answers in direct-answer mode. Failures still produce a 200
// with the apologetic message; the cause is only logged.
func (h *QueryHandler) QueryWithLLM(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	var req api.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	text, err := h.Orchestrator.Ask(c.Request.Context(), doc.ID, req.Query)
	if err != nil {
		c.Header("X-Kagaz-Error", chat.ErrorKind(err))
	}
	response.RespondOK(c, api.QueryResponse{Response: text})
}
