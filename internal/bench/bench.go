// Package bench runs one end to end latency measurement: it launches the
// transactor, drives input through it, waits for its output, and analyzes
// the markers it logged.
package bench

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/twmb/eosbench/internal/config"
	"github.com/twmb/eosbench/internal/driver"
	"github.com/twmb/eosbench/internal/kafka"
	"github.com/twmb/eosbench/internal/markers"
	"github.com/twmb/eosbench/internal/metrics"
	"github.com/twmb/eosbench/internal/observer"
	"github.com/twmb/eosbench/internal/transactor"
)

// Result is everything a run measured. Fields are filled in as the run
// progresses, so a failed run returns whatever was gathered before the
// failure.
type Result struct {
	Serial      bool
	NumMessages int

	Driver *driver.Result

	// Output is the transactor's combined output, and Analysis its
	// parsed markers.
	Output   string
	Analysis *markers.Analysis
}

// Runner runs benchmarks.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// command overrides the resolved transactor command.
	command []string
	// extraOpts are appended to every client's options.
	extraOpts []kgo.Opt
}

// Opt configures a Runner.
type Opt func(*Runner)

// WithMetrics installs m into every client and records round trips to it.
func WithMetrics(m *metrics.Metrics) Opt { return func(r *Runner) { r.metrics = m } }

// WithCommand launches argv as the transactor instead of resolving the
// configured command.
func WithCommand(argv ...string) Opt { return func(r *Runner) { r.command = argv } }

// WithClientOpts appends opts to every client the run creates.
func WithClientOpts(opts ...kgo.Opt) Opt {
	return func(r *Runner) { r.extraOpts = append(r.extraOpts, opts...) }
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg *config.Config, zl *zap.Logger, opts ...Opt) *Runner {
	r := &Runner{cfg: cfg, logger: zl}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) clientOpts(name string) ([]kgo.Opt, error) {
	var hooks []kgo.Hook
	if r.metrics != nil {
		hooks = r.metrics.Hooks(name)
	}
	opts, err := kafka.ClientOpts(r.cfg, r.logger, name, hooks...)
	if err != nil {
		return nil, err
	}
	return append(opts, r.extraOpts...), nil
}

// Run performs one benchmark. The transactor is always stopped before Run
// returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	res := &Result{Serial: cfg.Serial, NumMessages: cfg.NumMessages}

	command := r.command
	if len(command) == 0 {
		var err error
		if command, err = transactor.Resolve(cfg.Transactor.Command); err != nil {
			return res, err
		}
	}

	base, err := r.clientOpts("producer")
	if err != nil {
		return res, err
	}
	popts, err := kafka.ProducerOpts(cfg)
	if err != nil {
		return res, err
	}
	producer, err := kgo.NewClient(append(base, popts...)...)
	if err != nil {
		return res, fmt.Errorf("unable to create input producer: %w", err)
	}
	defer producer.Close()

	if err := r.preflight(ctx, kadm.NewClient(producer)); err != nil {
		return res, err
	}

	oopts, err := r.clientOpts("observer")
	if err != nil {
		return res, err
	}
	obs, err := observer.New(observer.Config{
		Topic:       cfg.OutputTopic,
		PollTimeout: cfg.Timeouts.Poll,
		AckTimeout:  cfg.Timeouts.Ack,
	}, r.logger.Named("observer"), oopts...)
	if err != nil {
		return res, err
	}
	defer obs.Close()

	proc, err := transactor.Start(ctx, command, transactor.Args{
		Brokers:     cfg.Brokers,
		Group:       cfg.GroupID,
		InputTopic:  cfg.InputTopic,
		Partition:   cfg.Partition,
		OutputTopic: cfg.OutputTopic,
	},
		transactor.Grace(cfg.Transactor.Grace),
		transactor.StopTimeout(cfg.Transactor.StopAfter),
		transactor.Logger(r.logger.Named("transactor")),
	)
	if err != nil {
		var ee *transactor.EarlyExitError
		if errors.As(err, &ee) {
			res.Output = ee.Output
		}
		return res, err
	}
	defer proc.Close()

	dcfg := driver.Config{
		Topic:        cfg.InputTopic,
		Partition:    int32(cfg.Partition),
		NumMessages:  cfg.NumMessages,
		Serial:       cfg.Serial,
		FlushTimeout: cfg.Timeouts.Flush,
	}
	if r.metrics != nil {
		dcfg.OnRoundTrip = r.metrics.ObserveRoundTrip
	}
	dres, runErr := driver.New(producer, obs, dcfg, r.logger.Named("driver")).Run(ctx)
	res.Driver = dres
	if runErr == nil {
		r.logger.Info("processing finished",
			zap.Int("messages", dres.Produced),
			zap.Duration("took", dres.Elapsed()),
		)
	}

	if err := proc.Stop(); err != nil {
		r.logger.Warn("unable to stop transactor cleanly", zap.Error(err))
	}
	out, err := proc.Output()
	if err != nil {
		return res, errors.Join(runErr, err)
	}
	res.Output = out
	if runErr != nil {
		return res, runErr
	}

	if res.Analysis, err = markers.Analyze(out); err != nil {
		return res, fmt.Errorf("unable to analyze transactor output: %w", err)
	}
	return res, nil
}

// preflight creates topics if asked to and verifies the input partition
// exists, so that a bad -p fails fast rather than at the first flush.
func (r *Runner) preflight(ctx context.Context, adm *kadm.Client) error {
	cfg := r.cfg
	if cfg.Topics.Create {
		partitions := max(cfg.Topics.Partitions, int32(cfg.Partition)+1)
		if err := kafka.EnsureTopics(ctx, adm, r.logger, partitions, cfg.Topics.ReplicationFactor, cfg.InputTopic, cfg.OutputTopic); err != nil {
			return err
		}
	}
	err := kafka.CheckPartition(ctx, adm, cfg.InputTopic, int32(cfg.Partition))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kerr.UnknownTopicOrPartition):
		// The broker may create it on first produce.
		r.logger.Warn("input topic does not exist yet", zap.String("topic", cfg.InputTopic))
		return nil
	default:
		return fmt.Errorf("preflight: %w", err)
	}
}
