// pkg/stream/metrics.go
package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YaganovValera/nodestream/pkg/telemetry"
)

var serviceLabel = "unknown"

// SetServiceLabel задаёт единое имя сервиса для метрик.
// Вызывается единожды из serviceid.InitServiceName().
func SetServiceLabel(name string) { serviceLabel = name }

var streamMetrics = struct {
	Created   *prometheus.CounterVec
	Polls     *prometheus.CounterVec
	Delivered *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Resets    *prometheus.CounterVec
}{
	Created: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "consumer", Name: "created_total",
			Help: "Consumers successfully created",
		},
		[]string{"service"},
	),
	Polls: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "consumer", Name: "polls_total",
			Help: "Poll calls",
		},
		[]string{"service"},
	),
	Delivered: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "consumer", Name: "messages_delivered_total",
			Help: "Messages decoded and returned to the caller",
		},
		[]string{"service"},
	),
	Errors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "consumer", Name: "errors_total",
			Help: "Consumer errors by kind",
		},
		[]string{"service", "kind"},
	),
	Resets: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "consumer", Name: "resets_total",
			Help: "Successful session resets",
		},
		[]string{"service"},
	),
}

var tracer = telemetry.Tracer("nodestream-consumer")

func kindLabel(kind error) string {
	switch kind {
	case ErrUnableToCreateConsumer:
		return "create"
	case ErrDuplicateSession:
		return "duplicate_session"
	case ErrUnableToPollMessage:
		return "poll"
	case ErrPayloadDeserialize:
		return "deserialize"
	case ErrUnableToMarkMessageConsumed:
		return "mark"
	case ErrUnableToCommitMessageConsumed:
		return "commit"
	case ErrRetired:
		return "retired"
	default:
		return "other"
	}
}

func countError(kind error) {
	streamMetrics.Errors.WithLabelValues(serviceLabel, kindLabel(kind)).Inc()
}
