// pkg/stream/fake_test.go
package stream_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/YaganovValera/nodestream/pkg/stream"
)

// textTopic декодирует тело как строку; тело "bad" считается битым.
type textTopic struct{ kind string }

func (t textTopic) TopicForEpoch(epoch uint64) stream.TopicName {
	return stream.TopicName(fmt.Sprintf("%s-epoch-%d", t.kind, epoch))
}

func (t textTopic) PayloadFromBytes(b []byte) (string, error) {
	if string(b) == "bad" {
		return "", errors.New("malformed payload")
	}
	return string(b), nil
}

// broker: брокер в памяти с одной партицией на топик.
type broker struct {
	logs      map[stream.TopicName][]stream.RawMessage
	committed map[string]int64 // group → offset
	dials     []stream.BusConfig

	dialErr   error
	pollErr   error
	markErr   error
	commitErr error
	buses     []*fakeBus
}

func newBroker() *broker {
	return &broker{
		logs:      map[stream.TopicName][]stream.RawMessage{},
		committed: map[string]int64{},
	}
}

func (b *broker) publish(topic stream.TopicName, offset int64, value string) {
	b.logs[topic] = append(b.logs[topic], stream.RawMessage{Offset: offset, Value: []byte(value)})
}

func (b *broker) dial(_ context.Context, cfg stream.BusConfig) (stream.Bus, error) {
	b.dials = append(b.dials, cfg)
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	start := int64(-1)
	if off, ok := b.committed[cfg.GroupID]; ok {
		start = off
	}
	bus := &fakeBus{b: b, cfg: cfg, fetch: start, cursor: start}
	b.buses = append(b.buses, bus)
	return bus, nil
}

type fakeBus struct {
	b      *broker
	cfg    stream.BusConfig
	fetch  int64 // следующий к выдаче offset; -1: с начала
	cursor int64
	closed bool
}

func (f *fakeBus) Poll(context.Context) ([]stream.MessageSet, error) {
	if f.closed {
		return nil, errors.New("bus closed")
	}
	if f.b.pollErr != nil {
		return nil, f.b.pollErr
	}
	var msgs []stream.RawMessage
	for _, m := range f.b.logs[f.cfg.Topic] {
		if f.fetch < 0 || m.Offset >= f.fetch {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	f.fetch = msgs[len(msgs)-1].Offset + 1
	return []stream.MessageSet{{Topic: f.cfg.Topic, Partition: 0, Messages: msgs}}, nil
}

func (f *fakeBus) ConsumeMessageSet(set stream.MessageSet) error {
	if f.b.markErr != nil {
		return f.b.markErr
	}
	if n := len(set.Messages); n > 0 {
		if next := set.Messages[n-1].Offset + 1; next > f.cursor {
			f.cursor = next
		}
	}
	return nil
}

func (f *fakeBus) CommitConsumed(context.Context) error {
	if f.b.commitErr != nil {
		return f.b.commitErr
	}
	if f.cursor > f.b.committed[f.cfg.GroupID] {
		f.b.committed[f.cfg.GroupID] = f.cursor
	}
	return nil
}

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}
