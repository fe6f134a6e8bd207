package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// ErrNotConfirmed is returned when the broker does not acknowledge a publish.
var ErrNotConfirmed = errors.New("rabbitmq: publish not confirmed")

// Publisher writes security events to the durable security.events queue.  It
// dials per call: the fallback path only runs when the database is failing,
// so there is no long-lived channel to keep healthy.
type Publisher struct {
	url string
}

func NewPublisher(url string) *Publisher { return &Publisher{url: url} }

// Publish stores ev in the queue and waits for the broker's confirm, so a nil
// return means the event is on disk.
func (p *Publisher) Publish(ctx context.Context, ev model.SecurityEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	body, err := json.Marshal(messageFromEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",                  // default exchange
		SecurityEventsQueue, // routing key = queue name
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // store on disk
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

// declare makes sure the queue exists (idempotent).  Durable so messages
// survive broker restarts.
func declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		SecurityEventsQueue, // name
		true,                // durable
		false,               // autoDelete
		false,               // exclusive
		false,               // noWait
		nil,                 // args
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}
