// Package config holds the immutable configuration of one benchmark run.
//
// Values are read from the environment first and then overridden by command
// line flags. Environment keys are EOSBENCH_ followed by the field's key, with
// nested groups adding their own segment, e.g. EOSBENCH_TIMEOUT_ACK or
// EOSBENCH_KAFKA_SASL_METHOD.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "EOSBENCH"

// Config is the configuration of one run.
type Config struct {
	Serial      bool   `envconfig:"SERIAL"`
	NumMessages int    `envconfig:"NUM_MESSAGES" default:"20"`
	Brokers     string `envconfig:"BROKERS"`
	InputTopic  string `envconfig:"INPUT_TOPIC"`
	OutputTopic string `envconfig:"OUTPUT_TOPIC" default:"output_topic"`
	Partition   int    `envconfig:"PARTITION" default:"0"`
	GroupID     string `envconfig:"GROUP_ID"`

	Transactor Transactor `envconfig:"TRANSACTOR"`
	Timeouts   Timeouts   `envconfig:"TIMEOUT"`
	Kafka      Kafka      `envconfig:"KAFKA"`
	Topics     Topics     `envconfig:"TOPICS"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	NoOutput    bool   `envconfig:"NO_OUTPUT"`
}

// Transactor configures the launched transactor process.
type Transactor struct {
	// Command is split on whitespace; the first field is the executable.
	// Empty means eos-transactor next to the running binary, then on PATH.
	Command   string        `envconfig:"COMMAND"`
	Grace     time.Duration `envconfig:"GRACE" default:"1s"`
	StopAfter time.Duration `envconfig:"STOP_TIMEOUT" default:"10s"`
}

// Timeouts bound every blocking broker operation.
type Timeouts struct {
	Flush time.Duration `envconfig:"FLUSH" default:"10s"`
	Poll  time.Duration `envconfig:"POLL" default:"1s"`
	// Ack bounds each wait for acknowledgements; zero waits forever.
	Ack time.Duration `envconfig:"ACK" default:"2m"`
}

// Kafka holds client connection settings.
type Kafka struct {
	ClientID    string `envconfig:"CLIENT_ID" default:"eosbench"`
	TLS         bool   `envconfig:"TLS"`
	SASLMethod  string `envconfig:"SASL_METHOD"`
	SASLUser    string `envconfig:"SASL_USER"`
	SASLPass    string `envconfig:"SASL_PASS"`
	Compression string `envconfig:"COMPRESSION" default:"none"`
}

// Topics controls topic preflight.
type Topics struct {
	Create            bool  `envconfig:"CREATE"`
	Partitions        int32 `envconfig:"PARTITIONS" default:"1"`
	ReplicationFactor int16 `envconfig:"REPLICATION" default:"1"`
}

// Mode returns "serial" or "parallel".
func (c *Config) Mode() string {
	if c.Serial {
		return "serial"
	}
	return "parallel"
}

// SeedBrokers splits the comma delimited broker list.
func (c *Config) SeedBrokers() []string {
	var seeds []string
	for _, s := range strings.Split(c.Brokers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds
}

// DefaultGroupID returns a fresh group id for the transactor.
func DefaultGroupID() string {
	return "eos_example_" + uuid.NewString()
}

// FromEnv returns a Config populated from defaults and the environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID()
	}
	return &cfg, nil
}

// Load builds a Config from the environment and then args. Usage output and
// parse errors are written to out.
func Load(name string, args []string, out io.Writer) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %q", fs.Args())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterFlags binds every field to a flag, using the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.Serial, "s", c.Serial, "turn on strictly serial processing: wait for the transactor's reply before producing the next message")
	fs.IntVar(&c.NumMessages, "n", c.NumMessages, "number of messages to produce during the test")
	fs.StringVar(&c.Brokers, "b", c.Brokers, "comma delimited list of bootstrap brokers (host[:port]) (required)")
	fs.StringVar(&c.InputTopic, "t", c.InputTopic, "input topic the transactor consumes from (required)")
	fs.StringVar(&c.OutputTopic, "o", c.OutputTopic, "output topic the transactor produces to")
	fs.IntVar(&c.Partition, "p", c.Partition, "input partition to produce to and consume from")
	fs.StringVar(&c.GroupID, "g", c.GroupID, "consumer group of the transactor")

	fs.StringVar(&c.Transactor.Command, "x", c.Transactor.Command, "transactor command; defaults to eos-transactor next to this binary or on PATH")
	fs.DurationVar(&c.Transactor.Grace, "grace", c.Transactor.Grace, "how long the transactor must stay alive after launch")
	fs.DurationVar(&c.Transactor.StopAfter, "stop-timeout", c.Transactor.StopAfter, "how long to wait for the transactor to exit before killing it")

	fs.DurationVar(&c.Timeouts.Flush, "flush-timeout", c.Timeouts.Flush, "bound on each produce flush")
	fs.DurationVar(&c.Timeouts.Poll, "poll-timeout", c.Timeouts.Poll, "timeout of each output poll")
	fs.DurationVar(&c.Timeouts.Ack, "ack-timeout", c.Timeouts.Ack, "bound on each wait for acknowledgements; 0 waits forever")

	fs.StringVar(&c.Kafka.ClientID, "client-id", c.Kafka.ClientID, "client id of the input producer and output observer")
	fs.BoolVar(&c.Kafka.TLS, "tls", c.Kafka.TLS, "if true, use tls for connecting")
	fs.StringVar(&c.Kafka.SASLMethod, "sasl-method", c.Kafka.SASLMethod, "if non-empty, sasl method to use (plain, scram-sha-256, scram-sha-512)")
	fs.StringVar(&c.Kafka.SASLUser, "sasl-user", c.Kafka.SASLUser, "username to use for sasl")
	fs.StringVar(&c.Kafka.SASLPass, "sasl-pass", c.Kafka.SASLPass, "password to use for sasl")
	fs.StringVar(&c.Kafka.Compression, "compression", c.Kafka.Compression, "input batch compression (none, gzip, snappy, lz4, zstd)")

	fs.BoolVar(&c.Topics.Create, "create-topics", c.Topics.Create, "create the input and output topics if they do not exist")

	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "if non-empty, address to serve prometheus metrics on")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.NoOutput, "no-output", c.NoOutput, "do not print the full transactor output at the end")
}

// Validate checks that the configuration describes a runnable benchmark.
func (c *Config) Validate() error {
	var errs []error
	if len(c.SeedBrokers()) == 0 {
		errs = append(errs, errors.New("missing required -b brokers"))
	}
	if c.InputTopic == "" {
		errs = append(errs, errors.New("missing required -t input topic"))
	}
	if c.OutputTopic == "" {
		errs = append(errs, errors.New("empty -o output topic"))
	}
	if c.InputTopic != "" && c.InputTopic == c.OutputTopic {
		errs = append(errs, fmt.Errorf("input and output topic must differ, both are %q", c.InputTopic))
	}
	if c.NumMessages < 0 {
		errs = append(errs, fmt.Errorf("invalid -n %d: must not be negative", c.NumMessages))
	}
	switch {
	case c.Partition < 0:
		errs = append(errs, fmt.Errorf("invalid -p %d: must not be negative", c.Partition))
	case c.Partition > math.MaxInt32:
		errs = append(errs, fmt.Errorf("invalid -p %d: partitions are int32", c.Partition))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("empty -g group id"))
	}
	if c.Timeouts.Flush <= 0 {
		errs = append(errs, fmt.Errorf("invalid flush timeout %v", c.Timeouts.Flush))
	}
	if c.Timeouts.Poll <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll timeout %v", c.Timeouts.Poll))
	}
	if c.Timeouts.Ack < 0 {
		errs = append(errs, fmt.Errorf("invalid ack timeout %v", c.Timeouts.Ack))
	}
	if c.Transactor.Grace < 0 {
		errs = append(errs, fmt.Errorf("invalid grace %v", c.Transactor.Grace))
	}
	if c.Kafka.SASLMethod != "" || c.Kafka.SASLUser != "" || c.Kafka.SASLPass != "" {
		if c.Kafka.SASLMethod == "" || c.Kafka.SASLUser == "" || c.Kafka.SASLPass == "" {
			errs = append(errs, errors.New("all of -sasl-method, -sasl-user, -sasl-pass must be specified if any are"))
		}
	}
	return errors.Join(errs...)
}
