// Package observer waits for acknowledgements on the transactor's output
// topic.
//
// The observer consumes in a consumer group of its own, starting from the
// beginning of the topic, with read committed isolation so that only records
// from committed transactions count. Record contents are never inspected.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	// ErrAckTimeout is returned from Await when the acknowledgements did
	// not arrive within the ack timeout.
	ErrAckTimeout = errors.New("timed out waiting for output acknowledgements")

	// ErrClosed is returned from Await if the observer was closed.
	ErrClosed = errors.New("observer closed")
)

// FetchError is a fetch error returned by the broker for the output topic.
// Every fetch error is fatal to a run.
type FetchError struct {
	Topic     string
	Partition int32
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error consuming from topic %s partition %d: %v", e.Topic, e.Partition, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures an Observer.
type Config struct {
	Topic string

	// Group defaults to a fresh random group.
	Group string

	// PollTimeout bounds a single poll; an empty poll is retried
	// immediately.
	PollTimeout time.Duration

	// AckTimeout bounds a whole Await call; zero waits until ctx is done.
	AckTimeout time.Duration
}

// Observer counts acknowledgements.
type Observer struct {
	cl     *kgo.Client
	cfg    Config
	logger *zap.Logger

	seen int

	closeOnce sync.Once
}

// NewGroup returns a fresh consumer group name.
func NewGroup() string { return "eosbench-" + uuid.NewString() }

// New returns an observer consuming cfg.Topic. Client options (seeds, auth,
// logging) are passed in base.
func New(cfg Config, zl *zap.Logger, base ...kgo.Opt) (*Observer, error) {
	if cfg.Group == "" {
		cfg.Group = NewGroup()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	opts := append(append([]kgo.Opt(nil), base...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
	)
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create output consumer: %w", err)
	}
	zl.Debug("output observer created", zap.String("topic", cfg.Topic), zap.String("group", cfg.Group))
	return &Observer{cl: cl, cfg: cfg, logger: zl}, nil
}

// Group returns the observer's consumer group.
func (o *Observer) Group() string { return o.cfg.Group }

// Seen returns how many acknowledgements have been observed in total.
func (o *Observer) Seen() int { return o.seen }

// Await blocks until n more acknowledgements have been observed and returns
// the time the first of them arrived. Polls that time out empty are retried
// without backoff until the ack timeout elapses or ctx is done.
func (o *Observer) Await(ctx context.Context, n int) (time.Time, error) {
	var first time.Time
	if n <= 0 {
		return first, nil
	}

	waitCtx := ctx
	if o.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.AckTimeout)
		defer cancel()
	}

	for got := 0; got < n; {
		pollCtx, cancel := context.WithTimeout(waitCtx, o.cfg.PollTimeout)
		fetches := o.cl.PollRecords(pollCtx, n-got)
		cancel()

		if fetches.IsClientClosed() {
			return first, ErrClosed
		}
		var ferr error
		fetches.EachError(func(t string, p int32, err error) {
			if ferr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			ferr = &FetchError{Topic: t, Partition: p, Err: err}
		})
		if ferr != nil {
			return first, ferr
		}

		if recs := fetches.NumRecords(); recs > 0 {
			if got == 0 {
				first = time.Now()
			}
			got += recs
			o.seen += recs
			continue
		}

		switch {
		case ctx.Err() != nil:
			return first, ctx.Err()
		case waitCtx.Err() != nil:
			return first, fmt.Errorf("%w: saw %d of %d within %v", ErrAckTimeout, got, n, o.cfg.AckTimeout)
		}
		o.logger.Debug("poll timed out, retrying", zap.Int("got", got), zap.Int("want", n))
	}
	return first, nil
}

// Close leaves the group and closes the client. It is safe to call more than
// once.
func (o *Observer) Close() {
	o.closeOnce.Do(o.cl.Close)
}
