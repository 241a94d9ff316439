package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/query"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

type ChatHandler struct {
	Orchestrator *chat.Orchestrator
	Sessions     db.SessionRepo
	Docs         db.DocumentRepo
}

func (h *ChatHandler) Chat(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	var req api.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	reply, err := h.Orchestrator.Chat(c.Request.Context(), chat.ChatRequest{
		DocumentID: doc.ID,
		SessionID:  req.SessionID,
		Query:      req.Query,
	})
	if reply == nil {
		respondErr(c, err)
		return
	}
	if err != nil {
		c.Header("X-Kagaz-Error", chat.ErrorKind(err))
	}
	response.RespondOK(c, reply)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	session, err := h.Sessions.GetSession(c.Request.Context(), c.Param("sid"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if session.DocumentID != doc.ID {
		respondErr(c, fmt.Errorf("session %s: %w", session.ID, models.ErrNotFound))
		return
	}
	response.RespondOK(c, session)
}
