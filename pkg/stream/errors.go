// pkg/stream/errors.go
package stream

import (
	"errors"
	"fmt"
)

// Виды ошибок потребителя. Проверяются через errors.Is.
var (
	ErrUnableToCreateConsumer        = errors.New("unable to create consumer")
	ErrDuplicateSession              = errors.New("duplicate session")
	ErrUnableToPollMessage           = errors.New("unable to poll message")
	ErrPayloadDeserialize            = errors.New("payload deserialize failed")
	ErrUnableToMarkMessageConsumed   = errors.New("unable to mark message consumed")
	ErrUnableToCommitMessageConsumed = errors.New("unable to commit message consumed")
	ErrRetired                       = errors.New("consumer retired")
)

// ErrInvalidConfig: причина ErrUnableToCreateConsumer, которую не
// исправит повторное подключение.
var ErrInvalidConfig = errors.New("invalid consumer config")

// ConsumerError связывает вид ошибки с топиком и исходной причиной.
type ConsumerError struct {
	Kind  error
	Topic TopicName
	Err   error
}

func (e *ConsumerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream: %s: %v", e.Topic, e.Kind)
	}
	return fmt.Sprintf("stream: %s: %v: %v", e.Topic, e.Kind, e.Err)
}

// Is сопоставляет ошибку с её видом.
func (e *ConsumerError) Is(target error) bool { return target == e.Kind }

func (e *ConsumerError) Unwrap() error { return e.Err }

// DuplicateSessionError возвращается при попытке сброса на текущую сессию.
type DuplicateSessionError struct {
	Old SessionID
	New SessionID
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("stream: %v: old=%s new=%s", ErrDuplicateSession, e.Old, e.New)
}

func (e *DuplicateSessionError) Is(target error) bool { return target == ErrDuplicateSession }

// DecodeError: ошибка декодирования одного сообщения.
type DecodeError struct {
	Partition int32
	Offset    int64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("partition %d offset %d: %v", e.Partition, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func wrap(kind error, topic TopicName, err error) error {
	return &ConsumerError{Kind: kind, Topic: topic, Err: err}
}
