// Command eosbench measures the end to end latency of an exactly once
// transactor: it produces numbered messages to an input topic, waits for the
// transactor's output, and summarizes the timing markers the transactor
// logged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/twmb/eosbench/internal/bench"
	"github.com/twmb/eosbench/internal/config"
	"github.com/twmb/eosbench/internal/logging"
	"github.com/twmb/eosbench/internal/metrics"
)

func main() {
	os.Exit(run(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one benchmark and returns the process exit code: 0 on success
// or -h, 2 on usage errors, 1 on anything fatal.
func run(name string, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(name, args, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case err != nil:
		fmt.Fprintln(stderr, err)
		return 2
	}

	zl, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "unable to create logger: %v\n", err)
		return 1
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		if err := m.Serve(ctx, cfg.MetricsAddr, zl.Named("metrics")); err != nil {
			fmt.Fprintf(stderr, "unable to serve metrics on %s: %v\n", cfg.MetricsAddr, err)
			return 1
		}
	}

	zl.Info("starting run",
		zap.String("mode", cfg.Mode()),
		zap.Int("messages", cfg.NumMessages),
		zap.String("input", cfg.InputTopic),
		zap.Int("partition", cfg.Partition),
		zap.String("output", cfg.OutputTopic),
		zap.String("group", cfg.GroupID),
	)
	bench.Banner(stdout, cfg.Serial)

	res, err := bench.NewRunner(cfg, zl, bench.WithMetrics(m)).Run(ctx)
	if err != nil {
		if res != nil && res.Output != "" {
			fmt.Fprintf(stderr, "transactor output:\n%s\n", res.Output)
		}
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	res.Report(stdout, bench.ReportOpts{FullOutput: !cfg.NoOutput})
	return 0
}
