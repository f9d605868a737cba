package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is declared as a durable topic exchange on connect.
const DefaultExchange = "delivery_topic"

var ErrNacked = errors.New("publish NACK from broker")

// AMQPPublisher publishes events with publisher confirms. Each publish waits
// on its own deferred confirmation, so a caller that gives up early never
// leaves an ack for the next one.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// confirmation is the part of *amqp.DeferredConfirmation a publish waits on.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := publishing(ev)
	if err != nil {
		return err
	}

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, ev.Type, false, false, msg)
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", ev.Type, err)
	}
	return awaitConfirm(ctx, conf)
}

func awaitConfirm(ctx context.Context, conf confirmation) error {
	ack, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !ack {
		return ErrNacked
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *AMQPPublisher) Ping() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// publishing fills in a message id and timestamp when the caller left them
// empty and encodes the event as a persistent JSON message.
func publishing(ev Event) (amqp.Publishing, error) {
	if ev.Type == "" || ev.OrderID == "" {
		return amqp.Publishing{}, errors.New("event type and order id are required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     ev.ID,
		CorrelationId: string(ev.OrderID),
		Timestamp:     ev.OccurredAt,
		Headers:       amqp.Table{"x-source": "fleetloc-api"},
		Body:          body,
	}, nil
}
