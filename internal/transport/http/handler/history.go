package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tyana/internal/app"
	"tyana/internal/model"
	"tyana/internal/transport/http/middleware"
	"tyana/internal/transport/http/response"
)

type HistoryService interface {
	List(ctx context.Context, userID uint, limit int) ([]model.ChatMessage, error)
	Append(ctx context.Context, userID uint, role, content string) (*model.ChatMessage, error)
	Clear(ctx context.Context, userID uint) error
}

type HistoryHandler struct {
	history      HistoryService
	defaultLimit int
}

type AppendMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// MessageView is the wire form of a stored message.
type MessageView struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHistoryHandler serves history; defaultLimit applies when the request has no ?limit.
func NewHistoryHandler(history HistoryService, defaultLimit int) *HistoryHandler {
	return &HistoryHandler{history: history, defaultLimit: defaultLimit}
}

func (h *HistoryHandler) List(c *gin.Context) {
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	messages, err := h.history.List(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		writeHistoryError(c, err, "list history failed")
		return
	}

	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView(m))
	}
	response.OK(c, gin.H{"messages": views})
}

func (h *HistoryHandler) Append(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	message, err := h.history.Append(c.Request.Context(), middleware.UserID(c), req.Role, req.Content)
	if err != nil {
		writeHistoryError(c, err, "append history failed")
		return
	}
	response.OK(c, messageView(*message))
}

func (h *HistoryHandler) Clear(c *gin.Context) {
	if err := h.history.Clear(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeHistoryError(c, err, "clear history failed")
		return
	}
	response.OK(c, nil)
}

func writeHistoryError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
	case errors.Is(err, app.ErrInvalidRole):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidRole, err.Error())
	case errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeMessageEmpty, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func messageView(m model.ChatMessage) MessageView {
	return MessageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
