// pkg/stream/topic.go
package stream

// TopicName: имя топика брокера.
type TopicName string

func (t TopicName) String() string { return string(t) }

// PerEpochTopic описывает логический поток, пересоздаваемый на каждую эпоху.
//
// P: тип полезной нагрузки, M: связанный тип метаданных; ядро лишь
// переносит M как параметр типа.
type PerEpochTopic[P, M any] interface {
	// TopicForEpoch обязана возвращать одно и то же имя для одной эпохи
	// и разные имена для разных эпох.
	TopicForEpoch(epoch uint64) TopicName
	// PayloadFromBytes декодирует тело сообщения без побочных эффектов.
	PayloadFromBytes(b []byte) (P, error)
}

// Message: декодированное сообщение вместе с его смещением в партиции.
type Message[P any] struct {
	Payload P
	Offset  uint64
}
