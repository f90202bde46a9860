package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tyana/internal/model"
)

type mockUsageStore struct {
	mock.Mock
}

func (m *mockUsageStore) Create(ctx context.Context, usage *model.Usage) error {
	args := m.Called(ctx, usage)
	return args.Error(0)
}

func TestHandlePersistsUsage(t *testing.T) {
	store := new(mockUsageStore)
	w := NewUsageWorker(nil, store, "chat.usage", nil)

	body, err := json.Marshal(model.Usage{
		ID:         42,
		EventID:    "7f7c9a36-1111-4e5e-9d9b-2a4f0f3e8b11",
		UserID:     3,
		Model:      "gpt-4o-mini",
		Fragments:  5,
		Characters: 17,
		Status:     model.UsageStatusCompleted,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)

	store.On("Create", mock.Anything, mock.MatchedBy(func(u *model.Usage) bool {
		return u.ID == 0 && u.UserID == 3 && u.Characters == 17
	})).Return(nil).Once()

	require.NoError(t, w.handle(context.Background(), body))
	store.AssertExpectations(t)
}

func TestHandleRejectsBadPayloads(t *testing.T) {
	store := new(mockUsageStore)
	w := NewUsageWorker(nil, store, "chat.usage", nil)

	assert.ErrorContains(t, w.handle(context.Background(), []byte("{")), "decode usage failed")
	assert.ErrorContains(t, w.handle(context.Background(), []byte(`{"user_id":1}`)), "missing identity")
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandlePropagatesStoreError(t *testing.T) {
	store := new(mockUsageStore)
	w := NewUsageWorker(nil, store, "chat.usage", nil)
	boom := errors.New("db down")
	store.On("Create", mock.Anything, mock.Anything).Return(boom)

	err := w.handle(context.Background(), []byte(`{"event_id":"e1","user_id":1}`))
	assert.ErrorIs(t, err, boom)
}

type recordingAcknowledger struct {
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *recordingAcknowledger) Ack(tag uint64, _ bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestProcessSettlesDeliveries(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		storeErr    error
		wantAck     bool
		wantRequeue bool
	}{
		{name: "stored", body: `{"event_id":"e1","user_id":1}`, wantAck: true},
		{name: "undecodable", body: `{`, wantRequeue: false},
		{name: "missing identity", body: `{"user_id":1}`, wantRequeue: false},
		{name: "store unavailable", body: `{"event_id":"e1","user_id":1}`, storeErr: errors.New("db down"), wantRequeue: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockUsageStore)
			store.On("Create", mock.Anything, mock.Anything).Return(tt.storeErr).Maybe()
			ack := &recordingAcknowledger{}
			w := NewUsageWorker(nil, store, "chat.usage", nil)

			w.process(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(tt.body)})

			if tt.wantAck {
				assert.Equal(t, []uint64{7}, ack.acked)
				assert.Empty(t, ack.nacked)
				return
			}
			assert.Empty(t, ack.acked)
			assert.Equal(t, []uint64{7}, ack.nacked)
			assert.Equal(t, []bool{tt.wantRequeue}, ack.requeue)
		})
	}
}
