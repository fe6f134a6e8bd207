package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/repository"
)

// errPoison marks a message that can never be stored.
var errPoison = errors.New("security event cannot be stored")

// Consumer drains security.events back into the event store once it is
// writable again.
type Consumer struct {
	url   string
	store repository.EventStore
	log   *zap.Logger
}

func NewConsumer(url string, store repository.EventStore, log *zap.Logger) *Consumer {
	return &Consumer{url: url, store: store, log: log}
}

// Run connects, consumes and reconnects with backoff until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("security-event consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("security-event consumer: consume loop ended; reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("security-event consumer: set QoS failed", zap.Error(err))
	}
	if err := declare(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(SecurityEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch err := c.handle(ctx, d.Body); {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, errPoison):
				c.log.Error("security-event consumer: dropping message", zap.ByteString("body", d.Body), zap.Error(err))
				_ = d.Nack(false, false)
			default:
				// store still down: put it back and slow down
				c.log.Warn("security-event consumer: store write failed; requeueing", zap.Error(err))
				_ = d.Nack(false, true)
				if !sleep(ctx, 2*time.Second) {
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var msg SecurityEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if msg.Action == "" {
		return fmt.Errorf("%w: empty action", errPoison)
	}
	ev, err := msg.event()
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if err := c.store.Insert(ctx, &ev); err != nil {
		// the subject was deleted while the event was queued, or a field
		// overflows its column; requeueing would block the queue head
		if repository.IsPermanentWriteError(err) {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
