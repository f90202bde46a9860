package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tyana/internal/session"
)

// HistoryClient is a session.HistoryStore backed by the chat history endpoints. The
// server scopes every call to the token's user, so userID only guards against use
// without a signed-in user.
type HistoryClient struct {
	api *Client
}

func NewHistoryClient(api *Client) *HistoryClient {
	return &HistoryClient{api: api}
}

type messageView struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *HistoryClient) List(ctx context.Context, userID string, limit int) ([]session.StoredMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("list history: no user")
	}
	var res struct {
		Messages []messageView `json:"messages"`
	}
	path := "/api/v1/chat/history?limit=" + strconv.Itoa(limit)
	if err := h.api.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}

	out := make([]session.StoredMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		role, ok := session.ParseRole(m.Role)
		if !ok {
			continue
		}
		out = append(out, session.StoredMessage{
			ID:        strconv.FormatUint(uint64(m.ID), 10),
			Role:      role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (h *HistoryClient) Insert(ctx context.Context, userID string, role session.Role, content string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("insert history: no user")
	}
	var res messageView
	err := h.api.do(ctx, http.MethodPost, "/api/v1/chat/history", map[string]string{
		"role":    string(role),
		"content": content,
	}, &res)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(res.ID), 10), nil
}

func (h *HistoryClient) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("delete history: no user")
	}
	return h.api.do(ctx, http.MethodDelete, "/api/v1/chat/history", nil, nil)
}
