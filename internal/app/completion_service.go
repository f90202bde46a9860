package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tyana/internal/ai"
	"tyana/internal/model"
	"tyana/internal/session"
)

var (
	ErrRateLimited     = errors.New("too many requests")
	ErrPaymentRequired = errors.New("free message quota exhausted")
	ErrUpstream        = errors.New("upstream completion failed")
)

type RateLimiter interface {
	Allow(ctx context.Context, userID uint) (bool, error)
}

type UsageCounter interface {
	CountSince(ctx context.Context, userID uint, since time.Time) (int64, error)
}

type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID uint) (*model.Subscription, error)
}

type UsagePublisher interface {
	PublishUsage(ctx context.Context, usage model.Usage) error
}

type CompletionConfig struct {
	SystemPrompt        string
	MaxContext          int
	FreeMonthlyMessages int
}

// CompletionService answers a conversation by streaming the upstream reply.
type CompletionService struct {
	gateway       ai.Gateway
	limiter       RateLimiter
	usage         UsageCounter
	subscriptions SubscriptionReader
	publisher     UsagePublisher
	cfg           CompletionConfig
	logger        *slog.Logger
	now           func() time.Time
}

func NewCompletionService(
	gateway ai.Gateway,
	limiter RateLimiter,
	usage UsageCounter,
	subscriptions SubscriptionReader,
	publisher UsagePublisher,
	cfg CompletionConfig,
	logger *slog.Logger,
) *CompletionService {
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionService{
		gateway:       gateway,
		limiter:       limiter,
		usage:         usage,
		subscriptions: subscriptions,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger.With(slog.String("module", "completion")),
		now:           time.Now,
	}
}

type CompletionInput struct {
	UserID   uint
	Messages []ai.ChatMessage
}

// Stream checks the caller's limits, then calls onDelta with each reply fragment in order.
// An onDelta error stops the exchange and is returned as is.
func (s *CompletionService) Stream(ctx context.Context, input CompletionInput, onDelta func(string) error) error {
	prompt, err := s.buildPrompt(input)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, input.UserID); err != nil {
		return err
	}

	var (
		fragments  int
		characters int
		streamErr  error
	)
	for delta, err := range s.gateway.StreamChat(ctx, prompt) {
		if err != nil {
			streamErr = mapUpstreamError(err)
			break
		}
		fragments++
		characters += len([]rune(delta))
		if err := onDelta(delta); err != nil {
			streamErr = err
			break
		}
	}

	var statusErr *ai.StatusError
	if streamErr != nil && fragments == 0 && errors.As(streamErr, &statusErr) {
		s.logger.Warn("upstream rejected completion", slog.Int("status", statusErr.StatusCode), slog.String("body", statusErr.Body))
		return streamErr
	}

	status := model.UsageStatusCompleted
	switch {
	case streamErr != nil:
		status = model.UsageStatusInterrupted
	case fragments == 0:
		status = model.UsageStatusEmpty
	}
	s.recordUsage(ctx, model.Usage{
		EventID:    uuid.NewString(),
		UserID:     input.UserID,
		Model:      s.gateway.Model(),
		Fragments:  fragments,
		Characters: characters,
		Status:     status,
		CreatedAt:  s.now(),
	})
	return streamErr
}

func (s *CompletionService) buildPrompt(input CompletionInput) ([]ai.ChatMessage, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	history := make([]ai.ChatMessage, 0, len(input.Messages))
	hasUser := false
	for _, m := range input.Messages {
		role, ok := session.ParseRole(m.Role)
		if !ok {
			return nil, ErrInvalidRole
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		hasUser = hasUser || role == session.RoleUser
		history = append(history, ai.ChatMessage{Role: string(role), Content: m.Content})
	}
	if !hasUser {
		return nil, ErrMessageEmpty
	}
	if len(history) > s.cfg.MaxContext {
		history = history[len(history)-s.cfg.MaxContext:]
	}

	prompt := make([]ai.ChatMessage, 0, len(history)+1)
	if s.cfg.SystemPrompt != "" {
		prompt = append(prompt, ai.ChatMessage{Role: "system", Content: s.cfg.SystemPrompt})
	}
	return append(prompt, history...), nil
}

// authorize applies the per-minute rate limit, then the monthly free quota for users
// without an active subscription. Store failures let the request through.
func (s *CompletionService) authorize(ctx context.Context, userID uint) error {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			s.logger.Error("rate limit check failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		} else if !allowed {
			return ErrRateLimited
		}
	}

	if s.cfg.FreeMonthlyMessages <= 0 || s.usage == nil {
		return nil
	}
	if s.subscriptions != nil {
		sub, err := s.subscriptions.GetByUserID(ctx, userID)
		if err != nil {
			s.logger.Error("load subscription failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			return nil
		}
		if sub.Active(s.now()) {
			return nil
		}
	}

	used, err := s.usage.CountSince(ctx, userID, monthStart(s.now()))
	if err != nil {
		s.logger.Error("count usage failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		return nil
	}
	if used >= int64(s.cfg.FreeMonthlyMessages) {
		return ErrPaymentRequired
	}
	return nil
}

func (s *CompletionService) recordUsage(ctx context.Context, usage model.Usage) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.publisher.PublishUsage(pubCtx, usage); err != nil {
		s.logger.Warn("publish usage failed", slog.String("event_id", usage.EventID), slog.Any("error", err))
	}
}

func mapUpstreamError(err error) error {
	var statusErr *ai.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %w", ErrPaymentRequired, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
