package app

import (
	"context"
	"iter"
	"time"

	"github.com/stretchr/testify/mock"

	"tyana/internal/ai"
	"tyana/internal/model"
)

type mockUserRepo struct{ mock.Mock }

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	if args.Error(0) == nil {
		user.ID = 1
	}
	return args.Error(0)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uint) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) UpdateLanguage(ctx context.Context, id uint, language string) error {
	return m.Called(ctx, id, language).Error(0)
}

type mockMessageRepo struct{ mock.Mock }

func (m *mockMessageRepo) Create(ctx context.Context, message *model.ChatMessage) error {
	args := m.Called(ctx, message)
	if args.Error(0) == nil {
		message.ID = 77
	}
	return args.Error(0)
}

func (m *mockMessageRepo) ListByUserID(ctx context.Context, userID uint, limit int) ([]model.ChatMessage, error) {
	args := m.Called(ctx, userID, limit)
	msgs, _ := args.Get(0).([]model.ChatMessage)
	return msgs, args.Error(1)
}

func (m *mockMessageRepo) DeleteByUserID(ctx context.Context, userID uint) error {
	return m.Called(ctx, userID).Error(0)
}

type mockHistoryCache struct{ mock.Mock }

func (m *mockHistoryCache) GetHistory(ctx context.Context, userID uint) ([]model.ChatMessage, bool, error) {
	args := m.Called(ctx, userID)
	msgs, _ := args.Get(0).([]model.ChatMessage)
	return msgs, args.Bool(1), args.Error(2)
}

func (m *mockHistoryCache) SetHistory(ctx context.Context, userID uint, messages []model.ChatMessage) error {
	return m.Called(ctx, userID, messages).Error(0)
}

func (m *mockHistoryCache) Invalidate(ctx context.Context, userID uint) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockHistoryCache) IsDirty(ctx context.Context, userID uint) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(ctx context.Context, userID uint) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockUsageCounter struct{ mock.Mock }

func (m *mockUsageCounter) CountSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	args := m.Called(ctx, userID, since)
	return args.Get(0).(int64), args.Error(1)
}

type mockSubscriptions struct{ mock.Mock }

func (m *mockSubscriptions) GetByUserID(ctx context.Context, userID uint) (*model.Subscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*model.Subscription)
	return sub, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishUsage(ctx context.Context, usage model.Usage) error {
	return m.Called(ctx, usage).Error(0)
}

// scriptedGateway replays deltas and then err, recording the prompt it was given.
type scriptedGateway struct {
	deltas []string
	err    error
	prompt []ai.ChatMessage
}

func (g *scriptedGateway) Model() string { return "test-model" }

func (g *scriptedGateway) StreamChat(_ context.Context, messages []ai.ChatMessage) iter.Seq2[string, error] {
	g.prompt = messages
	return func(yield func(string, error) bool) {
		for _, d := range g.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}
