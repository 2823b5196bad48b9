package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"backend-runtrack/internal/tracking"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 3 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces run starts and finishes on a topic exchange so other
// services (leaderboards, notifications) can react without polling.
type Publisher struct {
	ch       channel
	conn     *amqp.Connection
	exchange string
}

func Connect(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	slog.Info("amqp publisher ready", "exchange", exchange)
	p := newPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// RoutingKey is run.started or run.finished.<status>.
func RoutingKey(ev tracking.Event) string {
	switch ev.Type {
	case tracking.EventRunStarted:
		return "run.started"
	case tracking.EventRunFinished:
		if ev.Outcome != nil {
			return "run.finished." + string(ev.Outcome.Status)
		}
		return "run.finished"
	}
	return ""
}

func (p *Publisher) Observe(ev tracking.Event) {
	key := RoutingKey(ev)
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, key, ev); err != nil {
		slog.Warn("run event publish failed", "routing_key", key, "session_id", ev.SessionID, "error", err)
	}
}

func (p *Publisher) Publish(ctx context.Context, key string, ev tracking.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.SessionID,
			Timestamp:    ev.At,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
