package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/documents"
	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/lock"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/rag"
)

type Indexer interface {
	Register(ctx context.Context, ownerID int64, title, sourceURL string) (*models.Document, error)
	IndexDocument(ctx context.Context, documentID string) error
}

const defaultIndexTimeout = 5 * time.Minute

type DocumentHandler struct {
	Indexer Indexer
	Docs    db.DocumentRepo
	Quota   *auth.Quota
	// Uploads serialises quota check and registration per owner.
	Uploads lock.Locker
	// IndexTimeout bounds an indexing run, which outlives the request.
	IndexTimeout time.Duration
	log          *logger.Logger
}

func NewDocumentHandler(log *logger.Logger, indexer Indexer, docs db.DocumentRepo, quota *auth.Quota, uploads lock.Locker) *DocumentHandler {
	if uploads == nil {
		uploads = lock.NewLocalLocker()
	}
	return &DocumentHandler{
		Indexer:      indexer,
		Docs:         docs,
		Quota:        quota,
		Uploads:      uploads,
		IndexTimeout: defaultIndexTimeout,
		log:          log.With("handler", "DocumentHandler"),
	}
}

// AddDocument registers an uploaded PDF and indexes it before answering.
func (h *DocumentHandler) AddDocument(c *gin.Context) {
	var req api.AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	doc, err := h.register(c.Request.Context(), principal(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	h.index(c, doc.ID, http.StatusCreated)
}

func (h *DocumentHandler) register(ctx context.Context, p models.Principal, req api.AddDocumentRequest) (*models.Document, error) {
	unlock, err := h.Uploads.Lock(ctx, fmt.Sprintf("upload:owner:%d", p.UserID))
	if err != nil {
		return nil, fmt.Errorf("lock uploads for owner %d: %w", p.UserID, err)
	}
	defer unlock()

	if err := h.Quota.CheckUpload(ctx, p); err != nil {
		return nil, err
	}
	doc, err := h.Indexer.Register(ctx, p.UserID, req.Title, req.SourceURL)
	if err != nil {
		h.log.Error("register document failed", "error", err)
		return nil, err
	}
	return doc, nil
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	response.RespondOK(c, doc)
}

// IndexDocument re-runs indexing for an existing document id.
func (h *DocumentHandler) IndexDocument(c *gin.Context) {
	doc, ok := ownedDocument(c, h.Docs)
	if !ok {
		return
	}
	h.index(c, doc.ID, http.StatusOK)
}

// index is not tied to the request context; IndexTimeout bounds it instead.
func (h *DocumentHandler) index(c *gin.Context, id string, status int) {
	timeout := h.IndexTimeout
	if timeout <= 0 {
		timeout = defaultIndexTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
	defer cancel()
	if err := h.Indexer.IndexDocument(ctx, id); err != nil {
		if !errors.Is(err, rag.ErrDocumentFailed) {
			h.log.Warn("indexing failed", "document_id", id, "error", err)
		}
		respondErr(c, err)
		return
	}
	doc, err := h.Docs.GetDocument(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(status, doc)
}
