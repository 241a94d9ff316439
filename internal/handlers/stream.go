package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	api "github.com/Ankitmohanty2/Kagaz/internal/api/query"
	"github.com/Ankitmohanty2/Kagaz/internal/chat"
	"github.com/Ankitmohanty2/Kagaz/internal/handlers/response"
	"github.com/Ankitmohanty2/Kagaz/internal/llm"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/sse"
)

// StreamHandler relays a generation as SSE: {"text"} frames, then [DONE],
// or a single {"error"} frame if the stream breaks.
type StreamHandler struct {
	Generator *llm.Generator
	log       *logger.Logger
}

func NewStreamHandler(log *logger.Logger, generator *llm.Generator) *StreamHandler {
	return &StreamHandler{Generator: generator, log: log.With("handler", "StreamHandler")}
}

func (h *StreamHandler) AIStream(c *gin.Context) {
	var req api.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	stream, err := h.Generator.GenerateStream(c.Request.Context(), req.Prompt)
	if err != nil {
		h.log.Error("stream setup failed", "kind", chat.ErrorKind(err), "error", err)
		respondErr(c, err)
		return
	}
	defer stream.Close()

	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		respondErr(c, err)
		return
	}

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			_ = w.Done()
			return
		}
		if err != nil {
			if c.Request.Context().Err() != nil {
				return
			}
			h.log.Warn("stream broke", "model", stream.Model(), "kind", chat.ErrorKind(err), "error", err)
			status, _ := classify(err)
			_ = w.Error(publicError(status, err).Error())
			return
		}
		if err := w.Text(text); err != nil {
			return
		}
	}
}
