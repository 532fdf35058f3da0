// pkg/topic/json.go
package topic

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/YaganovValera/nodestream/pkg/stream"
)

// JSON: поток, сообщения которого закодированы в JSON.
type JSON[P, M any] struct {
	Kind string
}

var _ stream.PerEpochTopic[map[string]any, struct{}] = JSON[map[string]any, struct{}]{}

func (t JSON[P, M]) TopicForEpoch(epoch uint64) stream.TopicName {
	return EpochTopicName(t.Kind, epoch)
}

func (t JSON[P, M]) PayloadFromBytes(b []byte) (P, error) {
	var p P
	if len(b) == 0 {
		return p, errors.New("json: empty payload")
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("json: %w", err)
	}
	return p, nil
}
