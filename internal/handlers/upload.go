package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/documents"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/parsing"
)

const previewChunks = 3

type BytesLoader interface {
	LoadBytes(ctx context.Context, data []byte) ([]string, error)
}

// UploadHandler lets a client check how a PDF will be chunked before
// uploading it to the file store.
type UploadHandler struct {
	Loader        BytesLoader
	MaxUploadSize int64
	log           *logger.Logger
}

func NewUploadHandler(log *logger.Logger, loader BytesLoader, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{Loader: loader, MaxUploadSize: maxUploadSize, log: log.With("handler", "UploadHandler")}
}

func (u *UploadHandler) Preview(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, u.MaxUploadSize)

	file, header, err := c.Request.FormFile("file")
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "too_large", parsing.ErrTooLarge)
		return
	}
	if err != nil {
		u.log.Debug("invalid upload", "error", err)
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer file.Close()

	if !parsing.IsPDFName(header.Filename) {
		response.RespondError(c, http.StatusBadRequest, "not_pdf", parsing.ErrNotPDF)
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}

	chunks, err := u.Loader.LoadBytes(c.Request.Context(), buf.Bytes())
	if err != nil {
		respondErr(c, err)
		return
	}
	preview := chunks
	if len(preview) > previewChunks {
		preview = preview[:previewChunks]
	}
	response.RespondOK(c, api.PreviewResponse{Chunks: len(chunks), Preview: preview})
}
