// Package driver produces the numbered input messages of a run and paces
// them against the transactor's acknowledgements.
//
// In serial mode every message waits for one acknowledgement before the next
// is produced. In parallel mode only the first message waits, to establish
// the start of the measurement, and the rest are produced back to back.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Key is the key of every input message.
var Key = []byte("xy")

// ErrUndelivered is returned when a produced message could not be delivered
// within the flush timeout, which usually means the broker is unreachable.
var ErrUndelivered = errors.New("input message undelivered")

// Producer is the subset of *kgo.Client the driver produces with.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	BufferedProduceRecords() int64
}

// Acker waits for acknowledgements; see observer.Observer.
type Acker interface {
	Await(ctx context.Context, n int) (time.Time, error)
}

// Config configures a Driver.
type Config struct {
	Topic        string
	Partition    int32
	NumMessages  int
	Serial       bool
	FlushTimeout time.Duration

	// OnRoundTrip, if non-nil, is called with every produce to ack time
	// measured in serial mode.
	OnRoundTrip func(time.Duration)
}

// Result describes a finished run of the driver.
type Result struct {
	Produced int
	Acked    int

	// Start is when the first acknowledgement arrived; End is when the
	// last one did.
	Start time.Time
	End   time.Time

	// RoundTrips holds one produce to ack time per message in serial
	// mode, and is empty in parallel mode.
	RoundTrips []time.Duration
}

// Elapsed returns the processing time from the first to the last
// acknowledgement.
func (r *Result) Elapsed() time.Duration {
	if r.Start.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Driver produces input messages.
type Driver struct {
	cl     Producer
	acks   Acker
	cfg    Config
	logger *zap.Logger
}

// New returns a Driver producing through cl and waiting on acks.
func New(cl Producer, acks Acker, cfg Config, zl *zap.Logger) *Driver {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Driver{cl: cl, acks: acks, cfg: cfg, logger: zl}
}

// Run produces messages 0..NumMessages-1 and waits for one acknowledgement
// per message. The returned Result is valid up to the point of any error.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	res := new(Result)
	n := d.cfg.NumMessages

	for i := range n {
		sent := time.Now()
		if err := d.produce(ctx, i); err != nil {
			return res, fmt.Errorf("message %d: %w", i, err)
		}
		res.Produced++

		if !d.cfg.Serial && i > 0 {
			continue
		}
		at, err := d.acks.Await(ctx, 1)
		if err != nil {
			return res, fmt.Errorf("awaiting ack for message %d: %w", i, err)
		}
		res.Acked++
		res.End = at
		if i == 0 {
			res.Start = at
			d.logger.Info("first ack observed, measurement started")
		}
		if d.cfg.Serial {
			rt := at.Sub(sent)
			res.RoundTrips = append(res.RoundTrips, rt)
			if d.cfg.OnRoundTrip != nil {
				d.cfg.OnRoundTrip(rt)
			}
		}
	}

	if !d.cfg.Serial && n > 1 {
		d.logger.Debug("all messages produced, draining acks", zap.Int("remaining", n-1))
		if _, err := d.acks.Await(ctx, n-1); err != nil {
			return res, fmt.Errorf("awaiting remaining %d acks: %w", n-1, err)
		}
		res.Acked += n - 1
		res.End = time.Now()
	}
	return res, nil
}

// produce sends one message and flushes it, failing if the message is still
// buffered once the flush timeout elapses.
func (d *Driver) produce(ctx context.Context, i int) error {
	r := &kgo.Record{
		Topic:     d.cfg.Topic,
		Partition: d.cfg.Partition,
		Key:       Key,
		Value:     strconv.AppendInt(nil, int64(i), 10),
	}
	var e kgo.FirstErrPromise
	d.cl.Produce(ctx, r, e.Promise())

	flushCtx, cancel := context.WithTimeout(ctx, d.cfg.FlushTimeout)
	ferr := d.cl.Flush(flushCtx)
	cancel()

	if buffered := d.cl.BufferedProduceRecords(); buffered != 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %d records still buffered after %v", ErrUndelivered, buffered, d.cfg.FlushTimeout)
	}
	if ferr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrUndelivered, ferr)
	}
	if err := e.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUndelivered, err)
	}
	return nil
}
