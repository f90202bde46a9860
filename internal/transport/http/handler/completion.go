package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tyana/internal/ai"
	"tyana/internal/app"
	"tyana/internal/transport/http/middleware"
	"tyana/internal/transport/http/response"
)

type CompletionService interface {
	Stream(ctx context.Context, input app.CompletionInput, onDelta func(string) error) error
}

type CompletionHandler struct {
	completions CompletionService
	logger      *slog.Logger
}

type CompletionRequest struct {
	Messages []ai.ChatMessage `json:"messages" binding:"required,min=1"`
}

type chunkDelta struct {
	Content string `json:"content"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

type completionChunk struct {
	Choices []chunkChoice `json:"choices"`
}

func NewCompletionHandler(completions CompletionService, logger *slog.Logger) *CompletionHandler {
	return &CompletionHandler{
		completions: completions,
		logger:      logger.With(slog.String("module", "completion_handler")),
	}
}

// Create streams the reply as OpenAI-style chunks. Errors raised before the first chunk
// are answered with a JSON envelope and the matching status; once streaming has begun a
// failure just ends the stream without the [DONE] marker.
func (h *CompletionHandler) Create(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	userID := middleware.UserID(c)
	err := h.completions.Stream(c.Request.Context(), app.CompletionInput{
		UserID:   userID,
		Messages: req.Messages,
	}, func(delta string) error {
		begin()
		payload, err := json.Marshal(completionChunk{Choices: []chunkChoice{{Delta: chunkDelta{Content: delta}}}})
		if err != nil {
			return fmt.Errorf("marshal chunk failed: %w", err)
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("write chunk failed: %w", err)
		}
		flusher.Flush()
		return nil
	})

	if err != nil {
		if started {
			h.logger.Warn("completion stream ended early", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			return
		}
		writeCompletionError(c, err)
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("completion rejected", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
		return
	}

	begin()
	if _, err := c.Writer.Write([]byte("data: [DONE]\n\n")); err == nil {
		flusher.Flush()
	}
}

func writeCompletionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrRateLimited):
		response.Error(c, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests")
	case errors.Is(err, app.ErrPaymentRequired):
		response.Error(c, http.StatusPaymentRequired, response.CodePaymentRequired, "payment required")
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
	case errors.Is(err, app.ErrInvalidRole):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRole, err.Error())
	case errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeMessageEmpty, err.Error())
	case errors.Is(err, app.ErrUpstream):
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, "completion provider failed")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "completion failed")
	}
}
