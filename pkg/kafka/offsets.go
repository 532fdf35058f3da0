// pkg/kafka/offsets.go
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// offsetNone: ответ координатора для группы без коммита.
const offsetNone int64 = -1

// offsetStore читает и пишет закоммиченные смещения одной группы.
type offsetStore interface {
	Fetch(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error)
	Commit(ctx context.Context, topic string, offsets map[int32]int64) error
}

// coordinatorOffsets работает с group coordinator напрямую, без
// вступления в группу: назначение партиций nodestream не использует.
type coordinatorOffsets struct {
	client sarama.Client
	group  string
}

func (o *coordinatorOffsets) coordinator(ctx context.Context) (*sarama.Broker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := o.client.Coordinator(o.group)
	if err != nil {
		return nil, fmt.Errorf("coordinator for %q: %w", o.group, err)
	}
	return b, nil
}

func (o *coordinatorOffsets) Fetch(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error) {
	b, err := o.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	req := &sarama.OffsetFetchRequest{Version: 1, ConsumerGroup: o.group}
	for _, p := range partitions {
		req.AddPartition(topic, p)
	}
	resp, err := b.FetchOffset(req)
	if err != nil {
		_ = o.client.RefreshCoordinator(o.group)
		return nil, fmt.Errorf("offset fetch: %w", err)
	}

	out := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		block := resp.GetBlock(topic, p)
		if block == nil {
			return nil, fmt.Errorf("offset fetch: no block for %s/%d", topic, p)
		}
		if block.Err != sarama.ErrNoError {
			return nil, fmt.Errorf("offset fetch %s/%d: %w", topic, p, block.Err)
		}
		out[p] = block.Offset
	}
	return out, nil
}

func (o *coordinatorOffsets) Commit(ctx context.Context, topic string, offsets map[int32]int64) error {
	b, err := o.coordinator(ctx)
	if err != nil {
		return err
	}
	req := &sarama.OffsetCommitRequest{
		Version:                 2,
		ConsumerGroup:           o.group,
		ConsumerGroupGeneration: sarama.GroupGenerationUndefined,
		RetentionTime:           -1,
	}
	for p, off := range offsets {
		req.AddBlock(topic, p, off, 0, "")
	}
	resp, err := b.CommitOffset(req)
	if err != nil {
		_ = o.client.RefreshCoordinator(o.group)
		return fmt.Errorf("offset commit: %w", err)
	}
	for p := range offsets {
		if kerr, ok := resp.Errors[topic][p]; ok && kerr != sarama.ErrNoError {
			return fmt.Errorf("offset commit %s/%d: %w", topic, p, kerr)
		}
	}
	return nil
}
