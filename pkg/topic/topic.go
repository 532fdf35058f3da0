// pkg/topic/topic.go
//
// Пакет topic содержит готовые реализации stream.PerEpochTopic.
package topic

import (
	"fmt"
	"regexp"

	"github.com/YaganovValera/nodestream/pkg/stream"
)

// maxKindLen оставляет место под суффикс эпохи в пределах 249 символов Kafka.
const maxKindLen = 200

var legalKind = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// EpochTopicName возвращает "<kind>-epoch-<epoch>".
func EpochTopicName(kind string, epoch uint64) stream.TopicName {
	return stream.TopicName(fmt.Sprintf("%s-epoch-%d", kind, epoch))
}

// ValidateKind проверяет, что из kind получится допустимое имя топика.
func ValidateKind(kind string) error {
	switch {
	case kind == "":
		return fmt.Errorf("topic: kind is required")
	case len(kind) > maxKindLen:
		return fmt.Errorf("topic: kind longer than %d characters", maxKindLen)
	case kind == "." || kind == "..":
		return fmt.Errorf("topic: kind %q is reserved", kind)
	case !legalKind.MatchString(kind):
		return fmt.Errorf("topic: kind %q contains characters outside [a-zA-Z0-9._-]", kind)
	default:
		return nil
	}
}
