package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tyana/internal/model"
	"tyana/internal/session"
)

const MaxHistoryLimit = 100

var (
	ErrMessageEmpty = errors.New("message content is empty")
	ErrInvalidRole  = errors.New("role must be user or assistant")
)

type ChatMessageRepository interface {
	Create(ctx context.Context, message *model.ChatMessage) error
	ListByUserID(ctx context.Context, userID uint, limit int) ([]model.ChatMessage, error)
	DeleteByUserID(ctx context.Context, userID uint) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, userID uint) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, userID uint, messages []model.ChatMessage) error
	Invalidate(ctx context.Context, userID uint) error
	IsDirty(ctx context.Context, userID uint) (bool, error)
}

// HistoryService serves a user's transcript. Reads go through the cache unless a recent
// write left the dirty marker behind.
type HistoryService struct {
	repo   ChatMessageRepository
	cache  HistoryCache
	logger *slog.Logger
}

func NewHistoryService(repo ChatMessageRepository, cache HistoryCache, logger *slog.Logger) *HistoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("module", "history")),
	}
}

// List returns up to limit messages oldest first. limit is clamped to 1..100; zero means 100.
func (s *HistoryService) List(ctx context.Context, userID uint, limit int) ([]model.ChatMessage, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	limit = clampLimit(limit)

	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, userID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, userID); cacheErr == nil && hit {
				return firstN(cached, limit), nil
			}
		}
	}

	messages, err := s.repo.ListByUserID(ctx, userID, MaxHistoryLimit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, userID); dirtyErr == nil && !dirty {
			if err := s.cache.SetHistory(ctx, userID, messages); err != nil {
				s.logger.Warn("cache history failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			}
		}
	}
	return firstN(messages, limit), nil
}

// Append stores one message and returns it with the assigned id.
func (s *HistoryService) Append(ctx context.Context, userID uint, role, content string) (*model.ChatMessage, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	parsed, ok := session.ParseRole(role)
	if !ok {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrMessageEmpty
	}

	s.invalidate(ctx, userID)
	message := &model.ChatMessage{
		UserID:  userID,
		Role:    string(parsed),
		Content: content,
	}
	if err := s.repo.Create(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Clear deletes the whole transcript of userID.
func (s *HistoryService) Clear(ctx context.Context, userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	s.invalidate(ctx, userID)
	return s.repo.DeleteByUserID(ctx, userID)
}

func (s *HistoryService) invalidate(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate history cache failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func firstN(messages []model.ChatMessage, n int) []model.ChatMessage {
	if n >= len(messages) {
		return messages
	}
	return messages[:n]
}
