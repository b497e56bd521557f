// Command eos-transactor is a reference transactor for eosbench. It consumes
// an input topic in a group transact session, writes one output record per
// input record from its partition, and commits both the output and the
// consumed offsets in one transaction.
//
// Every transaction end is bracketed by timing markers on stdout:
//
//	:DEMO:START commit
//	:DEMO:END commit <seconds>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/twmb/eosbench/internal/logging"
)

type options struct {
	brokers   string
	group     string
	input     string
	partition int
	output    string
	txnID     string
	logLevel  string
}

func die(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func main() {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.brokers, "b", "localhost:9092", "comma delimited list of seed brokers")
	fs.StringVar(&o.group, "g", "", "consumer group to consume the input topic in")
	fs.StringVar(&o.input, "t", "", "input topic")
	fs.IntVar(&o.partition, "p", 0, "input partition to process; records from other partitions are skipped")
	fs.StringVar(&o.output, "o", "output_topic", "output topic")
	fs.StringVar(&o.txnID, "txn-id", "", "transactional ID (default derived from the group and partition)")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")
	fs.Parse(os.Args[1:])

	if o.group == "" || o.input == "" {
		die("missing either -g (%q) or -t (%q)", o.group, o.input)
	}
	if o.partition < 0 || o.partition > math.MaxInt32 {
		die("invalid -p %d", o.partition)
	}

	zl, err := logging.New(o.logLevel)
	if err != nil {
		die("%v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, zl, os.Stdout); err != nil {
		zl.Sync()
		die("%v", err)
	}
}

func (o options) transactionalID() string {
	if o.txnID != "" {
		return o.txnID
	}
	return o.group + "-" + strconv.Itoa(o.partition)
}

// run processes input until ctx is done.
func run(ctx context.Context, o options, zl *zap.Logger, out io.Writer) error {
	sess, err := kgo.NewGroupTransactSession(
		kgo.SeedBrokers(strings.Split(o.brokers, ",")...),
		kgo.WithLogger(logging.Kgo(zl, "transactor")),
		kgo.TransactionalID(o.transactionalID()),
		kgo.DefaultProduceTopic(o.output),
		kgo.ConsumerGroup(o.group),
		kgo.ConsumeTopics(o.input),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
	)
	if err != nil {
		return fmt.Errorf("unable to create group transact session: %w", err)
	}
	defer sess.Close()

	zl.Info("transactor started",
		zap.String("group", o.group),
		zap.String("input", o.input),
		zap.Int("partition", o.partition),
		zap.String("output", o.output),
	)

	for {
		fetches := sess.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			zl.Info("transactor stopping")
			return nil
		}
		fetches.EachError(func(t string, p int32, err error) {
			// Possibly fatal for the partition, but other partitions
			// may still have records.
			zl.Warn("fetch error", zap.String("topic", t), zap.Int32("partition", p), zap.Error(err))
		})
		if fetches.NumRecords() == 0 {
			continue
		}

		if err := sess.Begin(); err != nil {
			return fmt.Errorf("unable to start transaction: %w", err)
		}

		var (
			e        kgo.FirstErrPromise
			produced int
		)
		fetches.EachRecord(func(r *kgo.Record) {
			if r.Partition != int32(o.partition) {
				return
			}
			produced++
			sess.Produce(ctx, kgo.SliceRecord(append([]byte("eos "), r.Value...)), e.Promise())
		})

		fmt.Fprintln(out, ":DEMO:START commit")
		start := time.Now()
		committed, err := sess.End(ctx, kgo.TransactionEndTry(e.Err() == nil))
		fmt.Fprintf(out, ":DEMO:END commit %f\n", time.Since(start).Seconds())

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("unable to end transaction: %w", err)
		case !committed:
			// A rebalance or a failed produce aborted the
			// transaction; the input is reprocessed.
			zl.Warn("transaction aborted", zap.Int("records", produced), zap.NamedError("produce_err", e.Err()))
		default:
			zl.Debug("transaction committed", zap.Int("records", produced))
		}
	}
}
