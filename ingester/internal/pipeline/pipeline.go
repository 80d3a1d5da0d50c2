package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetscore/fleetscore/ingester/internal/config"
	"github.com/fleetscore/fleetscore/ingester/internal/source"
	"github.com/fleetscore/fleetscore/ingester/internal/telemetry"
	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
)

const writeTimeout = 10 * time.Second

// ErrStoreWrite marks a delivery that was requeued because the store failed.
var ErrStoreWrite = errors.New("pipeline: store write failed")

// openFunc dials one source. Injectable for tests.
type openFunc func(ctx context.Context, src config.Source) (source.Source, error)

// Pipeline consumes every configured source and writes telemetry to the store.
type Pipeline struct {
	cfg     config.IngesterConfig
	store   tsdb.Writer
	metrics *metrics.Ingester
	openFn  openFunc
}

// New creates a Pipeline writing to store. m may be nil.
func New(cfg config.IngesterConfig, store tsdb.Writer, m *metrics.Ingester) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		metrics: m,
		openFn:  source.Open,
	}
}

// Handle decodes, stores and settles one delivery. The returned error is nil
// after Ack, wraps telemetry.ErrMalformed after Reject, and wraps
// ErrStoreWrite after Requeue.
func (p *Pipeline) Handle(ctx context.Context, srcID string, d source.Delivery) error {
	msg, err := telemetry.Decode(d.Body())
	if err != nil {
		slog.Warn("pipeline: discarding malformed message", "source", srcID, "err", err)
		p.settle(ctx, srcID, metrics.OutcomeReject, d.Reject)
		return err
	}

	if err := p.write(ctx, msg); err != nil {
		slog.Error("pipeline: store write failed, requeueing",
			"source", srcID, "bot", msg.BotID, "err", err)
		p.settle(ctx, srcID, metrics.OutcomeRequeue, d.Requeue)
		return err
	}

	slog.Debug("pipeline: stored telemetry", "source", srcID, "bot", msg.BotID)
	p.settle(ctx, srcID, metrics.OutcomeAck, d.Ack)
	return nil
}

// write stores the battery point, then the pose point. Missing blocks are
// written as zero-valued fields.
func (p *Pipeline) write(ctx context.Context, msg types.TelemetryMessage) error {
	at := msg.Time()

	var batt types.Battery
	if msg.Battery != nil {
		batt = *msg.Battery
	}
	var pose types.Pose
	if msg.Pose != nil {
		pose = *msg.Pose
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := p.store.WriteBattery(wctx, msg.BotID, at, batt); err != nil {
		p.countStoreError(tsdb.MeasurementBattery)
		return fmt.Errorf("%w: %s: %v", ErrStoreWrite, tsdb.MeasurementBattery, err)
	}
	if err := p.store.WritePose(wctx, msg.BotID, at, pose); err != nil {
		p.countStoreError(tsdb.MeasurementPose)
		return fmt.Errorf("%w: %s: %v", ErrStoreWrite, tsdb.MeasurementPose, err)
	}
	return nil
}

func (p *Pipeline) settle(ctx context.Context, srcID, outcome string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		slog.Warn("pipeline: settle failed", "source", srcID, "outcome", outcome, "err", err)
	}
	if p.metrics != nil {
		p.metrics.Messages.WithLabelValues(srcID, outcome).Inc()
	}
}

func (p *Pipeline) countStoreError(measurement string) {
	if p.metrics != nil {
		p.metrics.StoreErrors.WithLabelValues(measurement).Inc()
	}
}

// Run consumes all configured sources until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range p.cfg.Sources {
		wg.Add(1)
		go func(src config.Source) {
			defer wg.Done()
			p.runSource(ctx, src)
		}(src)
	}
	wg.Wait()
	slog.Info("pipeline: all sources stopped")
}

// runSource keeps one source connected, reopening it with backoff on failure.
func (p *Pipeline) runSource(ctx context.Context, src config.Source) {
	bo := newBackoff(p.cfg.BackoffMax)

	for {
		if ctx.Err() != nil {
			return
		}

		s, err := p.openFn(ctx, src)
		if err != nil {
			wait := bo.next()
			slog.Error("pipeline: open failed, will retry",
				"source", src.ID, "type", src.Type, "err", err, "retry_in", wait)
			p.countReconnect(src.ID)
			if !sleep(ctx.Done(), wait) {
				return
			}
			continue
		}

		slog.Info("pipeline: source connected", "source", src.ID, "type", src.Type)
		bo.reset()

		err = p.consume(ctx, src, s)
		if cerr := s.Close(); cerr != nil {
			slog.Debug("pipeline: close source", "source", src.ID, "err", cerr)
		}

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("pipeline: source lost, will reconnect",
			"source", src.ID, "err", err, "retry_in", wait)
		p.countReconnect(src.ID)
		if !sleep(ctx.Done(), wait) {
			return
		}
	}
}

// consume handles deliveries until Next fails or ctx is cancelled.
func (p *Pipeline) consume(ctx context.Context, src config.Source, s source.Source) error {
	storeBackoff := newBackoff(p.cfg.BackoffMax)
	for {
		d, err := s.Next(ctx)
		if err != nil {
			return err
		}

		err = p.Handle(ctx, src.ID, d)
		switch {
		case errors.Is(err, ErrStoreWrite):
			if !sleep(ctx.Done(), storeBackoff.next()) {
				return ctx.Err()
			}
		case err == nil:
			storeBackoff.reset()
		}
	}
}

func (p *Pipeline) countReconnect(srcID string) {
	if p.metrics != nil {
		p.metrics.Reconnects.WithLabelValues(srcID).Inc()
	}
}
