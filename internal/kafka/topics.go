package kafka

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
)

// EnsureTopics creates any of topics that do not yet exist. Topics that
// already exist are left as they are.
func EnsureTopics(ctx context.Context, adm *kadm.Client, zl *zap.Logger, partitions int32, replicationFactor int16, topics ...string) error {
	details, err := adm.ListTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("unable to list topics: %w", err)
	}

	var missing []string
	for _, topic := range topics {
		d, ok := details[topic]
		switch {
		case !ok, errors.Is(d.Err, kerr.UnknownTopicOrPartition):
			missing = append(missing, topic)
		case d.Err != nil:
			return fmt.Errorf("unable to describe topic %s: %w", topic, d.Err)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	resps, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, missing...)
	if err != nil {
		return fmt.Errorf("unable to create topics %v: %w", missing, err)
	}
	for _, r := range resps {
		switch {
		case r.Err == nil:
			zl.Info("created topic", zap.String("topic", r.Topic), zap.Int32("partitions", partitions))
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
		default:
			return fmt.Errorf("unable to create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// CheckPartition verifies that topic has the given partition.
func CheckPartition(ctx context.Context, adm *kadm.Client, topic string, partition int32) error {
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("unable to list topic %s: %w", topic, err)
	}
	d, ok := details[topic]
	if !ok {
		return fmt.Errorf("topic %s: %w", topic, kerr.UnknownTopicOrPartition)
	}
	if d.Err != nil {
		return fmt.Errorf("topic %s: %w", topic, d.Err)
	}
	if _, ok := d.Partitions[partition]; !ok {
		return fmt.Errorf("topic %s has %d partitions, partition %d does not exist", topic, len(d.Partitions), partition)
	}
	return nil
}
