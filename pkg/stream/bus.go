// pkg/stream/bus.go
//
// Контракт клиента шины сообщений. Ядро не зависит от Sarama; реализация
// живёт в pkg/kafka.
package stream

import "context"

// Fallback задаёт стартовую позицию группы без закоммиченного смещения.
type Fallback int

const (
	// FallbackEarliest: читать с самого старого сообщения.
	FallbackEarliest Fallback = iota
	// FallbackLatest: читать только новые сообщения.
	FallbackLatest
)

func (f Fallback) String() string {
	switch f {
	case FallbackEarliest:
		return "earliest"
	case FallbackLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// RawMessage: сообщение в том виде, в каком его вернул брокер.
type RawMessage struct {
	Offset int64
	Key    []byte
	Value  []byte
}

// MessageSet: пачка сообщений одной партиции, полученная за один раунд.
type MessageSet struct {
	Topic     TopicName
	Partition int32
	Messages  []RawMessage
}

// Bus: соединение с брокером, привязанное к одной группе и одному топику.
type Bus interface {
	// Poll возвращает все доступные на данный момент пачки.
	Poll(ctx context.Context) ([]MessageSet, error)
	// ConsumeMessageSet сдвигает локальный курсор за последнюю запись пачки.
	ConsumeMessageSet(set MessageSet) error
	// CommitConsumed сохраняет локальный прогресс в брокере.
	CommitConsumed(ctx context.Context) error
	Close() error
}

// BusConfig: параметры подключения, которые ядро передаёт Dialer'у.
type BusConfig struct {
	Addr     string
	GroupID  string
	Topic    TopicName
	Fallback Fallback
}

// Dialer открывает Bus по BusConfig.
type Dialer func(ctx context.Context, cfg BusConfig) (Bus, error)
