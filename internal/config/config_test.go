package config

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("eosbench", []string{"-b", "localhost:9092", "-t", "in"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Serial {
		t.Error("serial should default to false")
	}
	if cfg.NumMessages != 20 {
		t.Errorf("got -n %d != exp 20", cfg.NumMessages)
	}
	if cfg.OutputTopic != "output_topic" {
		t.Errorf("got -o %q != exp output_topic", cfg.OutputTopic)
	}
	if cfg.Partition != 0 {
		t.Errorf("got -p %d != exp 0", cfg.Partition)
	}
	if !strings.HasPrefix(cfg.GroupID, "eos_example_") {
		t.Errorf("got -g %q, exp eos_example_ prefix", cfg.GroupID)
	}
	if cfg.Timeouts.Poll != time.Second || cfg.Timeouts.Flush != 10*time.Second || cfg.Timeouts.Ack != 2*time.Minute {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
	if cfg.Transactor.Grace != time.Second {
		t.Errorf("got grace %v != exp 1s", cfg.Transactor.Grace)
	}
	if cfg.Mode() != "parallel" {
		t.Errorf("got mode %q != exp parallel", cfg.Mode())
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load("eosbench", []string{
		"-s", "-n", "5", "-b", "a:9092, b:9092,", "-t", "in", "-o", "out", "-p", "3", "-g", "grp",
		"-ack-timeout", "0", "-x", "python3 eos-transactions.py",
	}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !cfg.Serial || cfg.Mode() != "serial" {
		t.Error("expected serial mode")
	}
	if cfg.NumMessages != 5 || cfg.OutputTopic != "out" || cfg.Partition != 3 || cfg.GroupID != "grp" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if diff := cmp.Diff([]string{"a:9092", "b:9092"}, cfg.SeedBrokers()); diff != "" {
		t.Errorf("seed brokers mismatch (-want +got):\n%s", diff)
	}
	if cfg.Timeouts.Ack != 0 {
		t.Errorf("got ack timeout %v != exp 0", cfg.Timeouts.Ack)
	}
	if cfg.Transactor.Command != "python3 eos-transactions.py" {
		t.Errorf("got transactor %q", cfg.Transactor.Command)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("EOSBENCH_BROKERS", "env:9092")
	t.Setenv("EOSBENCH_INPUT_TOPIC", "env-in")
	t.Setenv("EOSBENCH_NUM_MESSAGES", "7")
	t.Setenv("EOSBENCH_TIMEOUT_ACK", "30s")
	t.Setenv("EOSBENCH_KAFKA_COMPRESSION", "zstd")

	cfg, err := Load("eosbench", []string{"-n", "9"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Brokers != "env:9092" || cfg.InputTopic != "env-in" {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.NumMessages != 9 {
		t.Errorf("flag should override environment: got -n %d", cfg.NumMessages)
	}
	if cfg.Timeouts.Ack != 30*time.Second {
		t.Errorf("got ack timeout %v != exp 30s", cfg.Timeouts.Ack)
	}
	if cfg.Kafka.Compression != "zstd" {
		t.Errorf("got compression %q != exp zstd", cfg.Kafka.Compression)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
		exp  string
	}{
		{"no brokers", []string{"-t", "in"}, "missing required -b"},
		{"no input", []string{"-b", "x:1"}, "missing required -t"},
		{"same topics", []string{"-b", "x:1", "-t", "same", "-o", "same"}, "must differ"},
		{"negative count", []string{"-b", "x:1", "-t", "in", "-n", "-1"}, "invalid -n"},
		{"negative partition", []string{"-b", "x:1", "-t", "in", "-p", "-2"}, "invalid -p"},
		{"partition past int32", []string{"-b", "x:1", "-t", "in", "-p", "4294967297"}, "invalid -p 4294967297"},
		{"partition just past int32", []string{"-b", "x:1", "-t", "in", "-p", "2147483648"}, "partitions are int32"},
		{"partial sasl", []string{"-b", "x:1", "-t", "in", "-sasl-user", "u"}, "sasl"},
		{"zero poll", []string{"-b", "x:1", "-t", "in", "-poll-timeout", "0s"}, "poll timeout"},
		{"extra args", []string{"-b", "x:1", "-t", "in", "extra"}, "unexpected arguments"},
		{"unknown flag", []string{"-nope"}, "not defined"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load("eosbench", test.args, io.Discard)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.exp) {
				t.Errorf("got err %q, exp it to contain %q", err, test.exp)
			}
		})
	}
}
