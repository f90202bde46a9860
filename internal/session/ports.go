package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"tyana/internal/locale"
)

// StoredMessage is a persisted transcript row.
type StoredMessage struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// HistoryStore persists transcripts keyed by user. List returns rows oldest first.
type HistoryStore interface {
	List(ctx context.Context, userID string, limit int) ([]StoredMessage, error)
	Insert(ctx context.Context, userID string, role Role, content string) (string, error)
	DeleteAll(ctx context.Context, userID string) error
}

// WireMessage is the role/content pair sent to the chat completion endpoint.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transport opens a streamed chat completion. A non-success HTTP status is reported as
// *StatusError before any body is returned.
type Transport interface {
	Stream(ctx context.Context, messages []WireMessage) (io.ReadCloser, error)
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint status %d: %s", e.StatusCode, e.Body)
}

// Notifier shows transient notices to the user.
type Notifier interface {
	Notify(notice locale.Notice, text string)
}

type NotifierFunc func(notice locale.Notice, text string)

func (f NotifierFunc) Notify(notice locale.Notice, text string) {
	f(notice, text)
}
