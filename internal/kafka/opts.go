// Package kafka builds kgo client options from a run configuration and
// prepares topics before a run.
package kafka

import (
	"crypto/tls"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/twmb/eosbench/internal/config"
	"github.com/twmb/eosbench/internal/logging"
)

// ClientOpts returns the options shared by every client of a run: seeds,
// client id, tls, sasl, and logging. Hooks are attached to every client.
func ClientOpts(cfg *config.Config, zl *zap.Logger, name string, hooks ...kgo.Hook) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.SeedBrokers()...),
		kgo.ClientID(cfg.Kafka.ClientID),
		kgo.WithLogger(logging.Kgo(zl, name)),
	}
	if len(hooks) > 0 {
		opts = append(opts, kgo.WithHooks(hooks...))
	}
	if cfg.Kafka.TLS {
		opts = append(opts, kgo.DialTLSConfig(new(tls.Config)))
	}
	if cfg.Kafka.SASLMethod != "" {
		mech, err := saslOpt(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mech)
	}
	return opts, nil
}

func saslOpt(k config.Kafka) (kgo.Opt, error) {
	method := strings.ToLower(k.SASLMethod)
	method = strings.ReplaceAll(method, "-", "")
	method = strings.ReplaceAll(method, "_", "")
	switch method {
	case "plain":
		return kgo.SASL(plain.Auth{
			User: k.SASLUser,
			Pass: k.SASLPass,
		}.AsMechanism()), nil
	case "scramsha256":
		return kgo.SASL(scram.Auth{
			User: k.SASLUser,
			Pass: k.SASLPass,
		}.AsSha256Mechanism()), nil
	case "scramsha512":
		return kgo.SASL(scram.Auth{
			User: k.SASLUser,
			Pass: k.SASLPass,
		}.AsSha512Mechanism()), nil
	default:
		return nil, fmt.Errorf("unrecognized sasl method %q", k.SASLMethod)
	}
}

// Compression parses a codec name.
func Compression(name string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.NoCompression(), fmt.Errorf("unrecognized compression %q", name)
	}
}

// ProducerOpts returns the options of the input producer: records go to the
// partition set on the record, and batches use the configured codec.
func ProducerOpts(cfg *config.Config) ([]kgo.Opt, error) {
	codec, err := Compression(cfg.Kafka.Compression)
	if err != nil {
		return nil, err
	}
	return []kgo.Opt{
		kgo.DefaultProduceTopic(cfg.InputTopic),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.ProducerBatchCompression(codec),
		kgo.ProducerLinger(0),
	}, nil
}
