// pkg/kafka/bus.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/stream"
)

// pollTick: пауза между проходами по партициям внутри одного Poll.
const pollTick = 10 * time.Millisecond

type partition struct {
	id        int32
	pc        sarama.PartitionConsumer
	cursor    int64 // следующий непрочитанный offset; offsetNone: ничего не отмечено
	committed int64 // последний offset, подтверждённый координатором
}

// bus реализует stream.Bus поверх sarama.Consumer для одной группы и
// одного топика.
type bus struct {
	topic    stream.TopicName
	group    string
	client   sarama.Client // nil, если consumer создан снаружи
	consumer sarama.Consumer
	store    offsetStore
	parts    []*partition // по возрастанию id
	next     int          // с какой партиции начинать следующий drain
	maxWait  time.Duration
	maxBatch int
	log      *logger.Logger
}

// newBus читает закоммиченные смещения и запускает PartitionConsumer
// на каждую партицию топика.
func newBus(
	ctx context.Context,
	consumer sarama.Consumer,
	store offsetStore,
	cfg Config,
	bc stream.BusConfig,
	log *logger.Logger,
) (*bus, error) {
	topic := string(bc.Topic)
	ids, err := consumer.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("partitions of %q: %w", topic, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("topic %q has no partitions", topic)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	committed, err := store.Fetch(ctx, topic, ids)
	if err != nil {
		return nil, err
	}

	b := &bus{
		topic:    bc.Topic,
		group:    bc.GroupID,
		consumer: consumer,
		store:    store,
		maxWait:  cfg.MaxWait,
		maxBatch: cfg.MaxPollRecords,
		log:      log,
	}
	for _, id := range ids {
		off, ok := committed[id]
		if !ok || off < 0 {
			off = offsetNone
		}
		start := off
		if start == offsetNone {
			start = fallbackOffset(bc.Fallback)
		}
		pc, err := consumer.ConsumePartition(topic, id, start)
		if err != nil && off != offsetNone && errors.Is(err, sarama.ErrOffsetOutOfRange) {
			// Смещение уже удалено ретеншном: читаем с fallback, а
			// cursor и committed остаются на сохранённом значении.
			log.Warn("committed offset out of range, using fallback",
				zap.Int32("partition", id),
				zap.Int64("committed", off),
				zap.Stringer("fallback", bc.Fallback),
			)
			start = fallbackOffset(bc.Fallback)
			pc, err = consumer.ConsumePartition(topic, id, start)
		}
		if err != nil {
			b.closePartitions()
			return nil, fmt.Errorf("consume %s/%d from %d: %w", topic, id, start, err)
		}
		b.parts = append(b.parts, &partition{id: id, pc: pc, cursor: off, committed: off})
		log.Debug("partition consumer started",
			zap.Int32("partition", id),
			zap.Int64("committed", off),
			zap.Int64("start", start),
		)
	}
	return b, nil
}

func fallbackOffset(f stream.Fallback) int64 {
	if f == stream.FallbackLatest {
		return sarama.OffsetNewest
	}
	return sarama.OffsetOldest
}

// Poll сначала проверяет ошибки партиций, затем забирает накопленные
// сообщения. Если их нет, ждёт до maxWait.
func (b *bus) Poll(ctx context.Context) ([]stream.MessageSet, error) {
	for _, p := range b.parts {
		select {
		case cerr, ok := <-p.pc.Errors():
			if ok && cerr != nil {
				return nil, fmt.Errorf("kafka bus: %s/%d: %w", b.topic, p.id, cerr.Err)
			}
		default:
		}
	}

	deadline := time.NewTimer(b.maxWait)
	defer deadline.Stop()
	for {
		if sets := b.drain(); len(sets) > 0 {
			return sets, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-time.After(pollTick):
		}
	}
}

// drain начинает каждый раз со следующей партиции, чтобы бюджет
// MaxPollRecords не уходил целиком на одну партицию с большим хвостом.
func (b *bus) drain() []stream.MessageSet {
	if len(b.parts) == 0 {
		return nil
	}
	var sets []stream.MessageSet
	budget := b.maxBatch
	first := b.next
	b.next = (b.next + 1) % len(b.parts)
	for i := range b.parts {
		p := b.parts[(first+i)%len(b.parts)]
		var msgs []stream.RawMessage
	loop:
		for budget > 0 {
			select {
			case m, ok := <-p.pc.Messages():
				if !ok {
					break loop
				}
				msgs = append(msgs, stream.RawMessage{Offset: m.Offset, Key: m.Key, Value: m.Value})
				budget--
			default:
				break loop
			}
		}
		if len(msgs) > 0 {
			sets = append(sets, stream.MessageSet{Topic: b.topic, Partition: p.id, Messages: msgs})
			busMetrics.Fetched.WithLabelValues(serviceLabel).Add(float64(len(msgs)))
		}
	}
	return sets
}

// ConsumeMessageSet сдвигает локальный курсор партиции за последнее
// сообщение пачки. Курсор не движется назад.
func (b *bus) ConsumeMessageSet(set stream.MessageSet) error {
	if set.Topic != b.topic {
		return fmt.Errorf("kafka bus: message set for %q, subscribed to %q", set.Topic, b.topic)
	}
	p := b.partition(set.Partition)
	if p == nil {
		return fmt.Errorf("kafka bus: unknown partition %d", set.Partition)
	}
	if n := len(set.Messages); n > 0 {
		if next := set.Messages[n-1].Offset + 1; next > p.cursor {
			p.cursor = next
		}
	}
	return nil
}

// CommitConsumed коммитит курсоры, ушедшие вперёд от последнего коммита.
// Если таких нет, запрос не отправляется.
func (b *bus) CommitConsumed(ctx context.Context) error {
	pending := make(map[int32]int64)
	for _, p := range b.parts {
		if p.cursor > p.committed {
			pending[p.id] = p.cursor
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Commit", trace.WithAttributes(
		attribute.String("topic", string(b.topic)),
		attribute.String("group", b.group),
		attribute.Int("partitions", len(pending)),
	))
	defer span.End()

	busMetrics.Commits.WithLabelValues(serviceLabel).Inc()
	if err := b.store.Commit(ctx, string(b.topic), pending); err != nil {
		span.RecordError(err)
		busMetrics.CommitErrors.WithLabelValues(serviceLabel).Inc()
		return fmt.Errorf("kafka bus: %w", err)
	}
	for _, p := range b.parts {
		if off, ok := pending[p.id]; ok {
			p.committed = off
		}
	}
	b.log.Debug("offsets committed", zap.Any("offsets", pending))
	return nil
}

// Close останавливает PartitionConsumer'ы, затем consumer и клиент.
func (b *bus) Close() error {
	errs := []error{b.closePartitions()}
	if err := b.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("consumer: %w", err))
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("client: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kafka bus: close: %w", err)
	}
	return nil
}

func (b *bus) closePartitions() error {
	var errs []error
	for _, p := range b.parts {
		if err := p.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("partition %d: %w", p.id, err))
		}
	}
	b.parts = nil
	return errors.Join(errs...)
}

func (b *bus) partition(id int32) *partition {
	for _, p := range b.parts {
		if p.id == id {
			return p
		}
	}
	return nil
}
