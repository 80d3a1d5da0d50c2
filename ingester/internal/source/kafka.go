package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/fleetscore/fleetscore/ingester/internal/config"
)

type kafkaSource struct {
	src    config.Source
	reader *kafka.Reader
	redo   redelivery
}

type kafkaDelivery struct {
	s   *kafkaSource
	msg kafka.Message
}

func openKafka(_ context.Context, src config.Source) (*kafkaSource, error) {
	dialer := &kafka.Dialer{Timeout: dialTimeout, DualStack: true}
	if src.Auth.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{
			Username: src.Auth.Username,
			Password: src.Auth.Password(),
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  src.Brokers,
		GroupID:  src.GroupID,
		Topic:    src.Topic,
		Dialer:   dialer,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	slog.Info("source: kafka reader ready",
		"source", src.ID, "topic", src.Topic, "group", src.GroupID)
	return &kafkaSource{src: src, reader: reader}, nil
}

func (s *kafkaSource) Next(ctx context.Context) (Delivery, error) {
	if d, ok := s.redo.take(); ok {
		return d, nil
	}
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka fetch %q: %w", s.src.ID, err)
	}
	return &kafkaDelivery{s: s, msg: msg}, nil
}

func (s *kafkaSource) Close() error {
	return s.reader.Close()
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.s.reader.CommitMessages(ctx, d.msg)
}

// Reject commits the offset so the message is skipped for good.
func (d *kafkaDelivery) Reject(ctx context.Context) error {
	return d.s.reader.CommitMessages(ctx, d.msg)
}

func (d *kafkaDelivery) Requeue(context.Context) error {
	d.s.redo.put(d)
	return nil
}
