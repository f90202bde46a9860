package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"tyana/internal/model"
)

var errMalformedUsage = errors.New("malformed usage event")

// UsageStore persists usage rows consumed from the queue.
type UsageStore interface {
	Create(ctx context.Context, usage *model.Usage) error
}

// UsageWorker drains the usage queue into the usage table.
type UsageWorker struct {
	conn      *amqp.Connection
	store     UsageStore
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUsageWorker(conn *amqp.Connection, store UsageStore, queueName string, logger *slog.Logger) *UsageWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		logger:    logger.With(slog.String("module", "usage_worker")),
	}
}

func (w *UsageWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.process(workerCtx, d)
			}
		}
	}()

	return nil
}

// process settles one delivery. Events that cannot be decoded are dropped; store failures
// are requeued, which is safe because inserts ignore a repeated event id.
func (w *UsageWorker) process(ctx context.Context, d amqp.Delivery) {
	err := w.handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformedUsage):
		w.logger.Error("usage event dropped", slog.String("message_id", d.MessageId), slog.Any("error", err))
		_ = d.Nack(false, false)
	default:
		w.logger.Warn("usage event requeued", slog.String("message_id", d.MessageId), slog.Any("error", err))
		_ = d.Nack(false, true)
	}
}

func (w *UsageWorker) handle(ctx context.Context, body []byte) error {
	var usage model.Usage
	if err := json.Unmarshal(body, &usage); err != nil {
		return fmt.Errorf("%w: decode usage failed: %w", errMalformedUsage, err)
	}
	if usage.EventID == "" || usage.UserID == 0 {
		return fmt.Errorf("%w: usage event missing identity", errMalformedUsage)
	}
	usage.ID = 0
	return w.store.Create(ctx, &usage)
}

func (w *UsageWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
