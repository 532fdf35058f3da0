// pkg/topic/bytes.go
package topic

import "github.com/YaganovValera/nodestream/pkg/stream"

// Bytes отдаёт тело сообщения как есть.
type Bytes[M any] struct {
	Kind string
}

func (t Bytes[M]) TopicForEpoch(epoch uint64) stream.TopicName {
	return EpochTopicName(t.Kind, epoch)
}

func (t Bytes[M]) PayloadFromBytes(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
