// internal/serviceid/serviceid.go
package serviceid

import (
	"github.com/YaganovValera/nodestream/pkg/backoff"
	"github.com/YaganovValera/nodestream/pkg/kafka"
	"github.com/YaganovValera/nodestream/pkg/redis"
	"github.com/YaganovValera/nodestream/pkg/stream"
)

// ServiceNameKey: ключ лейбла для метрик всех подсистем.
const ServiceNameKey = "service"

// InitServiceName задаёт единое имя сервиса для backoff, stream-ядра,
// Kafka-адаптера и Redis-хранилища.
// Нужно вызывать до первого обращения к брокеру или Redis.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
	stream.SetServiceLabel(name)
	kafka.SetServiceLabel(name)
	redis.SetServiceLabel(name)
}
