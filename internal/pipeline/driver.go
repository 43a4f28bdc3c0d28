// Package pipeline drives the fetch, encode, publish loop.
//
// One batch is in flight at a time: a page is fetched, encoded and
// published, and only when the broker has acknowledged it does the cursor
// move. Publish order is therefore fetch order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/ritstream/internal/metrics"
	"github.com/basekick-labs/ritstream/internal/mqtt"
	"github.com/basekick-labs/ritstream/internal/source"
	"github.com/basekick-labs/ritstream/pkg/models"
)

// Defaults for Config.
const (
	DefaultPageSize         = 2500
	DefaultSettleDelay      = time.Second
	DefaultProgressInterval = 200000
)

// Source yields ordered pages; an empty page means exhaustion.
type Source interface {
	FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Row, error)
}

// Encoder turns an envelope into document bytes.
type Encoder interface {
	Encode(env *models.Envelope) ([]byte, error)
}

// Sink delivers a payload with the given QoS and returns once it is confirmed.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
}

// Observer receives per-batch measurements and fatal errors.
type Observer interface {
	ObserveBatch(rows, payloadSize int, elapsed, serialization time.Duration)
	ObserveFailure(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(int, int, time.Duration, time.Duration) {}
func (nopObserver) ObserveFailure(string) {}

// Config holds driver settings.
type Config struct {
	Topic    string
	QoS      byte
	PageSize int64
	// SettleDelay lets the transport flush acknowledgements before Done.
	SettleDelay time.Duration
	// ProgressInterval is the row count between progress lines; 0 disables them.
	ProgressInterval int64
}

// Driver runs a single pass over the source. It is not reusable.
type Driver struct {
	cfg      Config
	source   Source
	encoder  Encoder
	sink     Sink
	observer Observer
	logger   zerolog.Logger

	state   atomic.Int32
	fetches int
	acc     metrics.Accumulator
}

// New creates a driver. A nil observer disables observation.
func New(cfg Config, src Source, enc Encoder, sink Sink, observer Observer, logger zerolog.Logger) (*Driver, error) {
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidConfig, cfg.PageSize)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	if cfg.ProgressInterval < 0 {
		return nil, fmt.Errorf("%w: progress interval cannot be negative", ErrInvalidConfig)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Driver{
		cfg:      cfg,
		source:   src,
		encoder:  enc,
		sink:     sink,
		observer: observer,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// State returns the current state. Safe to call from any goroutine.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Fetches is the number of FetchPage calls made so far, including the empty terminal one.
func (d *Driver) Fetches() int {
	return d.fetches
}

// Accumulator returns a copy of the metrics gathered so far.
// Only read it after Run has returned.
func (d *Driver) Accumulator() metrics.Accumulator {
	acc := d.acc
	acc.PayloadSizes = append([]int(nil), d.acc.PayloadSizes...)
	return acc
}

func (d *Driver) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	d.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("State transition")
}

// Run walks the source from offset 0 until it returns an empty page.
// On success it returns the run summary, already logged. On any failure it
// stops immediately, moves to Failed and returns the error without a summary.
func (d *Driver) Run(ctx context.Context) (*metrics.Summary, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	d.logger.Debug().Str("from", StateIdle.String()).Str("to", StateRunning.String()).Msg("State transition")

	start := time.Now()
	d.logger.Info().Time("start_time", start).Msg("Start time")
	d.logger.Info().Int64("batch_size", d.cfg.PageSize).Msg("Batch size")

	cursor := models.Cursor{PageSize: d.cfg.PageSize}
	for {
		if err := ctx.Err(); err != nil {
			return nil, d.fail(fmt.Errorf("run interrupted at offset %d: %w", cursor.Offset, err))
		}

		rows, err := d.source.FetchPage(ctx, cursor)
		d.fetches++
		if err != nil {
			if !errors.Is(err, source.ErrFetch) && ctx.Err() == nil {
				err = &source.FetchError{Offset: cursor.Offset, Limit: cursor.PageSize, Err: err}
			}
			return nil, d.fail(err)
		}

		if len(rows) == 0 {
			break
		}

		if err := d.publishBatch(ctx, cursor, rows); err != nil {
			return nil, d.fail(err)
		}

		prev := cursor.Offset
		cursor.Advance(len(rows))
		d.reportProgress(prev, cursor.Offset)
	}

	d.setState(StateDraining)
	end := time.Now()

	if err := d.settle(ctx); err != nil {
		return nil, d.fail(fmt.Errorf("interrupted while draining: %w", err))
	}

	summary := metrics.Summarize(&d.acc, start, end)
	summary.Log(d.logger)
	d.setState(StateDone)
	return summary, nil
}

// publishBatch encodes and publishes one page, then records it.
// The elapsed time covers both steps, serialization covers encoding.
func (d *Driver) publishBatch(ctx context.Context, cursor models.Cursor, rows []models.Row) error {
	env := models.NewEnvelope(rows)

	callStart := time.Now()
	payload, err := d.encoder.Encode(env)
	serialization := time.Since(callStart)
	if err != nil {
		return fmt.Errorf("failed to encode batch at offset %d: %w", cursor.Offset, err)
	}

	if err := d.sink.Publish(ctx, d.cfg.Topic, payload, d.cfg.QoS); err != nil {
		if !errors.Is(err, mqtt.ErrPublish) && ctx.Err() == nil {
			err = &mqtt.PublishError{Topic: d.cfg.Topic, Size: len(payload), Err: err}
		}
		return fmt.Errorf("batch at offset %d: %w", cursor.Offset, err)
	}
	elapsed := time.Since(callStart)

	d.acc.Record(len(rows), elapsed, serialization, len(payload))
	d.observer.ObserveBatch(len(rows), len(payload), elapsed, serialization)

	d.logger.Debug().
		Int64("offset", cursor.Offset).
		Int("rows", len(rows)).
		Int("bytes", len(payload)).
		Dur("elapsed", elapsed).
		Dur("serialization", serialization).
		Msg("Batch published")
	return nil
}

// reportProgress logs once for every progress interval boundary crossed.
func (d *Driver) reportProgress(prev, offset int64) {
	n := d.cfg.ProgressInterval
	if n <= 0 || offset/n == prev/n {
		return
	}
	d.logger.Info().Int64("offset", offset).Msg("Progress")
}

func (d *Driver) settle(ctx context.Context) error {
	if d.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) fail(err error) error {
	d.setState(StateFailed)
	kind := Kind(err)
	d.observer.ObserveFailure(kind)
	d.logger.Debug().Str("kind", kind).Err(err).Msg("Pipeline failed")
	return err
}
