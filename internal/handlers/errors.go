package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/rag"
)

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	var (
		fetchErr   *models.FetchError
		parseErr   *models.ParseError
		contentErr *models.ContentError
		embErr     *models.EmbeddingError
		genErr     *models.GenerationError
		streamErr  *models.StreamTransportError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "quota_exceeded"
	case errors.Is(err, rag.ErrDocumentFailed):
		return http.StatusConflict, "document_failed"
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, models.ErrMalformedMarkup):
		return http.StatusUnprocessableEntity, "malformed_markup"
	case errors.As(err, &fetchErr):
		return http.StatusUnprocessableEntity, "fetch_failed"
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "parse_failed"
	case errors.As(err, &contentErr):
		return http.StatusUnprocessableEntity, "content_blocked"
	case errors.As(err, &embErr), errors.As(err, &genErr), errors.As(err, &streamErr):
		return http.StatusBadGateway, "upstream_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// publicError hides internal detail for server-side failures.
func publicError(status int, err error) error {
	switch {
	case status == http.StatusBadGateway:
		return errors.New("the AI provider failed, please try again")
	case status >= http.StatusInternalServerError:
		return errors.New("internal error")
	}
	return err
}

func respondErr(c *gin.Context, err error) {
	status, code := classify(err)
	response.RespondError(c, status, code, publicError(status, err))
}

func principal(c *gin.Context) models.Principal {
	p, _ := auth.PrincipalFromContext(c.Request.Context())
	return p
}

// ownedDocument loads the :id document and writes a 404 unless it belongs
// to the caller.
func ownedDocument(c *gin.Context, docs db.DocumentRepo) (*models.Document, bool) {
	id := c.Param("id")
	doc, err := docs.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	if doc.OwnerID != principal(c).UserID {
		respondErr(c, fmt.Errorf("document %s: %w", id, models.ErrNotFound))
		return nil, false
	}
	return doc, true
}

func HealthCheck(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "ok"})
}
