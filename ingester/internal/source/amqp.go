package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fleetscore/fleetscore/ingester/internal/config"
)

const amqpHeartbeat = 30 * time.Second

type amqpSource struct {
	src  config.Source
	conn *amqp.Connection
	ch   *amqp.Channel
	msgs <-chan amqp.Delivery
}

type amqpDelivery struct {
	d amqp.Delivery
}

func openAMQP(_ context.Context, src config.Source) (*amqpSource, error) {
	url, err := amqpURL(src)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial %q: %w", src.ID, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel %q: %w", src.ID, err)
	}
	if err := ch.Qos(src.Prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp qos %q: %w", src.ID, err)
	}
	if _, err := ch.QueueDeclare(src.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare %q: %w", src.Queue, err)
	}
	msgs, err := ch.Consume(src.Queue, "fleetscore-"+src.ID, false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp consume %q: %w", src.Queue, err)
	}

	slog.Info("source: amqp consumer ready",
		"source", src.ID, "queue", src.Queue, "prefetch", src.Prefetch)
	return &amqpSource{src: src, conn: conn, ch: ch, msgs: msgs}, nil
}

// amqpURL injects configured credentials into the first broker URL.
func amqpURL(src config.Source) (string, error) {
	uri, err := amqp.ParseURI(src.Brokers[0])
	if err != nil {
		return "", fmt.Errorf("amqp url %q: %w", src.ID, err)
	}
	if src.Auth.Username != "" {
		uri.Username = src.Auth.Username
		uri.Password = src.Auth.Password()
	}
	return uri.String(), nil
}

func (s *amqpSource) Next(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.msgs:
		if !ok {
			return nil, fmt.Errorf("amqp %q: %w", s.src.ID, ErrClosed)
		}
		return &amqpDelivery{d: d}, nil
	}
}

func (s *amqpSource) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

func (d *amqpDelivery) Body() []byte { return d.d.Body }

func (d *amqpDelivery) Ack(context.Context) error { return d.d.Ack(false) }

func (d *amqpDelivery) Reject(context.Context) error { return d.d.Nack(false, false) }

func (d *amqpDelivery) Requeue(context.Context) error { return d.d.Nack(false, true) }
