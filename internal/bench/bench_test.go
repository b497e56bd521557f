package bench

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/twmb/eosbench/internal/config"
	"github.com/twmb/eosbench/internal/metrics"
	"github.com/twmb/eosbench/internal/observer"
	"github.com/twmb/eosbench/internal/transactor"
)

const helperEnv = "EOSBENCH_BENCH_HELPER"

// TestMain lets the test binary act as a transactor when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

// runHelper is a minimal transactor: it echoes every input record from its
// partition to the output topic, bracketing each echo with markers. It is
// not transactional; the observer cannot tell the difference.
func runHelper(mode string, args []string) int {
	fs := flag.NewFlagSet("helper", flag.ContinueOnError)
	var (
		brokers   = fs.String("b", "", "")
		group     = fs.String("g", "", "")
		input     = fs.String("t", "", "")
		partition = fs.Int("p", 0, "")
		output    = fs.String("o", "", "")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "unable to reach", *brokers)
		return 1
	case "mute":
		fmt.Println("started, never answering")
		<-ctx.Done()
		return 0
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(*brokers, ",")...),
		kgo.ConsumerGroup(*group),
		kgo.ConsumeTopics(*input),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DefaultProduceTopic(*output),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to create client:", err)
		return 1
	}
	defer cl.Close()

	for {
		fetches := cl.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return 0
		}
		fetches.EachRecord(func(r *kgo.Record) {
			if r.Partition != int32(*partition) {
				return
			}
			fmt.Println(":DEMO:START echo")
			fmt.Println("echoing", string(r.Value))
			start := time.Now()
			if err := cl.ProduceSync(ctx, kgo.SliceRecord(r.Value)).FirstErr(); err != nil {
				fmt.Fprintln(os.Stderr, "echo failed:", err)
			}
			fmt.Printf(":DEMO:END echo %f\n", time.Since(start).Seconds())
		})
	}
}

func newCluster(t *testing.T) *kfake.Cluster {
	t.Helper()
	c, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(2, "in"), kfake.SeedTopics(1, "out"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func testConfig(c *kfake.Cluster, n int, serial bool) *config.Config {
	cfg := &config.Config{
		Serial:      serial,
		NumMessages: n,
		Brokers:     strings.Join(c.ListenAddrs(), ","),
		InputTopic:  "in",
		OutputTopic: "out",
		Partition:   1,
		GroupID:     "eos_example_" + observer.NewGroup(),
		LogLevel:    "info",
	}
	cfg.Transactor.Grace = 300 * time.Millisecond
	cfg.Transactor.StopAfter = 5 * time.Second
	cfg.Timeouts.Flush = 5 * time.Second
	cfg.Timeouts.Poll = 100 * time.Millisecond
	cfg.Timeouts.Ack = 30 * time.Second
	cfg.Kafka.ClientID = "eosbench-test"
	cfg.Kafka.Compression = "none"
	cfg.Topics.Partitions = 1
	cfg.Topics.ReplicationFactor = 1
	return cfg
}

func helper(t *testing.T, mode string) Opt {
	t.Helper()
	t.Setenv(helperEnv, mode)
	return WithCommand(os.Args[0])
}

func TestRunEndToEnd(t *testing.T) {
	for _, serial := range []bool{true, false} {
		name := "parallel"
		if serial {
			name = "serial"
		}
		t.Run(name, func(t *testing.T) {
			c := newCluster(t)
			cfg := testConfig(c, 6, serial)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("invalid test config: %v", err)
			}
			m := metrics.New()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			res, err := NewRunner(cfg, zap.NewNop(), helper(t, "echo"), WithMetrics(m)).Run(ctx)
			if err != nil {
				t.Fatalf("unexpected err: %v\ntransactor output:\n%s", err, res.Output)
			}

			if res.Driver.Produced != 6 || res.Driver.Acked != 6 {
				t.Errorf("got produced %d acked %d, exp 6 and 6", res.Driver.Produced, res.Driver.Acked)
			}
			if serial != (len(res.Driver.RoundTrips) == 6) {
				t.Errorf("got %d round trips in %s mode", len(res.Driver.RoundTrips), name)
			}
			if n := len(res.Analysis.Records); n != 6 {
				t.Errorf("got %d marker records != exp 6\n%s", n, res.Output)
			}
			if _, err := res.Analysis.Mean(); err != nil {
				t.Errorf("unexpected mean err: %v", err)
			}

			var sb strings.Builder
			res.Report(&sb, ReportOpts{FullOutput: true})
			for _, exp := range []string{"Processing took", "Marker durations average:", "Relevant log snippet", "Full output of the transactor:", "echoing 5"} {
				if !strings.Contains(sb.String(), exp) {
					t.Errorf("report missing %q:\n%s", exp, sb.String())
				}
			}
		})
	}
}

func TestRunCreatesTopics(t *testing.T) {
	c, err := kfake.NewCluster(kfake.NumBrokers(1))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	cfg := testConfig(c, 2, true)
	cfg.Topics.Create = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := NewRunner(cfg, zap.NewNop(), helper(t, "echo")).Run(ctx)
	if err != nil {
		t.Fatalf("unexpected err: %v\ntransactor output:\n%s", err, res.Output)
	}
	if res.Driver.Acked != 2 {
		t.Errorf("got %d acks != exp 2", res.Driver.Acked)
	}
}

func TestRunZeroMessages(t *testing.T) {
	c := newCluster(t)
	res, err := NewRunner(testConfig(c, 0, false), zap.NewNop(), helper(t, "echo")).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Driver.Produced != 0 || len(res.Analysis.Samples()) != 0 {
		t.Errorf("expected an empty run, got %+v", res.Driver)
	}

	var sb strings.Builder
	res.Report(&sb, ReportOpts{})
	if !strings.Contains(sb.String(), "n/a") {
		t.Errorf("report should mark the average unavailable:\n%s", sb.String())
	}
}

func TestRunTransactorCrashes(t *testing.T) {
	c := newCluster(t)
	cfg := testConfig(c, 3, true)
	cfg.Transactor.Grace = 5 * time.Second

	res, err := NewRunner(cfg, zap.NewNop(), helper(t, "crash")).Run(context.Background())
	if !errors.Is(err, transactor.ErrExitedEarly) {
		t.Fatalf("got err %v, exp ErrExitedEarly", err)
	}
	if res.Driver != nil {
		t.Error("nothing should have been produced")
	}
	if !strings.Contains(res.Output, "unable to reach") {
		t.Errorf("crash output not captured: %q", res.Output)
	}
}

func TestRunAckTimeoutStillTearsDown(t *testing.T) {
	c := newCluster(t)
	cfg := testConfig(c, 3, true)
	cfg.Timeouts.Ack = 500 * time.Millisecond

	res, err := NewRunner(cfg, zap.NewNop(), helper(t, "mute")).Run(context.Background())
	if !errors.Is(err, observer.ErrAckTimeout) {
		t.Fatalf("got err %v, exp ErrAckTimeout", err)
	}
	if res.Driver == nil || res.Driver.Produced != 1 || res.Driver.Acked != 0 {
		t.Errorf("unexpected partial result %+v", res.Driver)
	}
	if !strings.Contains(res.Output, "never answering") {
		t.Errorf("transactor output not captured after failure: %q", res.Output)
	}
}

func TestRunMissingPartition(t *testing.T) {
	c := newCluster(t)
	cfg := testConfig(c, 1, true)
	cfg.Partition = 7

	_, err := NewRunner(cfg, zap.NewNop(), helper(t, "echo")).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "partition 7") {
		t.Fatalf("got err %v, exp missing partition 7", err)
	}
}
