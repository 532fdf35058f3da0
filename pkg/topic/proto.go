// pkg/topic/proto.go
package topic

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/YaganovValera/nodestream/pkg/stream"
)

// ErrNoConstructor: у Proto не задан New.
var ErrNoConstructor = errors.New("proto: New is not set")

// Proto: поток protobuf-сообщений. New создаёт пустое сообщение для
// декодирования и обязателен.
type Proto[P proto.Message, M any] struct {
	Kind string
	New  func() P
}

func (t Proto[P, M]) TopicForEpoch(epoch uint64) stream.TopicName {
	return EpochTopicName(t.Kind, epoch)
}

func (t Proto[P, M]) PayloadFromBytes(b []byte) (P, error) {
	var zero P
	if t.New == nil {
		return zero, ErrNoConstructor
	}
	m := t.New()
	if err := proto.Unmarshal(b, m); err != nil {
		return zero, fmt.Errorf("proto: %w", err)
	}
	return m, nil
}
