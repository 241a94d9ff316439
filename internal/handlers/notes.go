package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/documents"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/editor"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/sse"
)

type NoteHandler struct {
	Notes        db.NoteRepo
	Docs         db.DocumentRepo
	Orchestrator *chat.Orchestrator
	log          *logger.Logger
}

func NewNoteHandler(log *logger.Logger, notes db.NoteRepo, docs db.DocumentRepo, orchestrator *chat.Orchestrator) *NoteHandler {
	return &NoteHandler{Notes: notes, Docs: docs, Orchestrator: orchestrator, log: log.With("handler", "NoteHandler")}
}

type snapshot struct {
	Markup string `json:"markup"`
}

func author(c *gin.Context) string {
	return fmt.Sprintf("user:%d", principal(c).UserID)
}

func (h *NoteHandler) GetNote(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	note, err := h.currentNote(c, doc.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, note)
}

func (h *NoteHandler) PutNote(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	var req api.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := editor.CheckWellFormed(req.Markup); err != nil {
		respondErr(c, err)
		return
	}
	note := models.Note{DocumentID: doc.ID, Markup: req.Markup, Author: author(c), UpdatedAt: time.Now().UTC()}
	if err := h.Notes.SaveNote(c.Request.Context(), note); err != nil {
		h.log.Error("save note failed", "document_id", doc.ID, "error", err)
		respondErr(c, err)
		return
	}
	response.RespondOK(c, note)
}

// AskIntoNote streams an answer into the note and emits the note markup
// after every applied render as "snapshot" events, then [DONE].
func (h *NoteHandler) AskIntoNote(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	var req api.AskIntoNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	note, err := h.currentNote(c, doc.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	surface, err := editor.NewHTMLDocument(note.Markup)
	if err != nil {
		respondErr(c, err)
		return
	}

	anchor := -1
	if req.Anchor != nil {
		anchor = *req.Anchor
	}

	var (
		w    *sse.Writer
		wErr error
	)
	onRender := func(markup string) {
		if w == nil && wErr == nil {
			w, wErr = sse.NewWriter(c.Writer)
		}
		if w != nil {
			_ = w.JSON("snapshot", snapshot{Markup: markup})
		}
	}

	_, err = h.Orchestrator.AskIntoDocument(c.Request.Context(), chat.EditorRequest{
		DocumentID:       doc.ID,
		Query:            req.Query,
		ParagraphContext: req.Paragraph,
		Author:           author(c),
		Anchor:           anchor,
		Surface:          surface,
		OnRender:         onRender,
	})
	if w == nil {
		if err == nil {
			err = wErr
		}
		respondErr(c, err)
		return
	}
	if err != nil {
		status, _ := classify(err)
		_ = w.Error(publicError(status, err).Error())
		return
	}
	_ = w.Done()
}

// currentNote returns the stored note, or an empty one for a document that
// has none yet.
func (h *NoteHandler) currentNote(c *gin.Context, documentID string) (*models.Note, error) {
	note, err := h.Notes.GetNote(c.Request.Context(), documentID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.Note{DocumentID: documentID}, nil
	}
	return note, err
}
