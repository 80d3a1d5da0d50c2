package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetscore/fleetscore/ingester/internal/config"
)

const dialTimeout = 10 * time.Second

// ErrClosed is returned by Next after the broker connection went away.
var ErrClosed = errors.New("source: connection closed")

// Delivery is one broker message awaiting settlement.
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
	Reject(ctx context.Context) error
	Requeue(ctx context.Context) error
}

// Source yields deliveries from one broker subscription.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Open dials the broker for src and returns a ready Source.
func Open(ctx context.Context, src config.Source) (Source, error) {
	switch src.Type {
	case config.TypeKafka:
		return openKafka(ctx, src)
	case config.TypeAMQP:
		return openAMQP(ctx, src)
	case config.TypeMQTT:
		return openMQTT(ctx, src)
	default:
		return nil, fmt.Errorf("source: unsupported type %q", src.Type)
	}
}

// redelivery holds one requeued delivery for brokers without a native nack.
// It is only touched from the goroutine that drives Next.
type redelivery struct {
	pending Delivery
}

func (r *redelivery) take() (Delivery, bool) {
	if r.pending == nil {
		return nil, false
	}
	d := r.pending
	r.pending = nil
	return d, true
}

func (r *redelivery) put(d Delivery) {
	r.pending = d
}
