package source

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetscore/fleetscore/ingester/internal/config"
)

const (
	mqttBuffer          = 64
	mqttDisconnectQuiet = 250 // ms
)

type mqttSource struct {
	src    config.Source
	client mqtt.Client
	msgs   chan mqtt.Message
	lost   chan error
	done   chan struct{}
	redo   redelivery
}

type mqttDelivery struct {
	s   *mqttSource
	msg mqtt.Message
}

func openMQTT(ctx context.Context, src config.Source) (*mqttSource, error) {
	s := &mqttSource{
		src:  src,
		msgs: make(chan mqtt.Message, mqttBuffer),
		lost: make(chan error, 1),
		done: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	for _, b := range src.Brokers {
		opts.AddBroker(b)
	}
	opts.SetClientID(src.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(false).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetConnectTimeout(dialTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case s.lost <- err:
			default:
			}
		})
	if src.Auth.Username != "" {
		opts.SetUsername(src.Auth.Username)
		opts.SetPassword(src.Auth.Password())
	}

	s.client = mqtt.NewClient(opts)
	if err := wait(ctx, s.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %q: %w", src.ID, err)
	}

	handler := func(_ mqtt.Client, m mqtt.Message) {
		select {
		case s.msgs <- m:
		case <-s.done:
		}
	}
	if err := wait(ctx, s.client.Subscribe(src.Topic, byte(src.QoS), handler)); err != nil {
		s.client.Disconnect(mqttDisconnectQuiet)
		return nil, fmt.Errorf("mqtt subscribe %q: %w", src.Topic, err)
	}

	slog.Info("source: mqtt subscription ready",
		"source", src.ID, "topic", src.Topic, "qos", src.QoS)
	return s, nil
}

// wait blocks until tok completes or ctx is cancelled.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
		return tok.Error()
	}
}

func (s *mqttSource) Next(ctx context.Context) (Delivery, error) {
	if d, ok := s.redo.take(); ok {
		return d, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.lost:
		return nil, fmt.Errorf("mqtt %q: %w: %v", s.src.ID, ErrClosed, err)
	case m := <-s.msgs:
		return &mqttDelivery{s: s, msg: m}, nil
	}
}

func (s *mqttSource) Close() error {
	close(s.done)
	s.client.Disconnect(mqttDisconnectQuiet)
	return nil
}

func (d *mqttDelivery) Body() []byte { return d.msg.Payload() }

func (d *mqttDelivery) Ack(context.Context) error {
	d.msg.Ack()
	return nil
}

// Reject acknowledges the packet so the broker does not resend it.
func (d *mqttDelivery) Reject(context.Context) error {
	d.msg.Ack()
	return nil
}

func (d *mqttDelivery) Requeue(context.Context) error {
	d.s.redo.put(d)
	return nil
}
