// pkg/kafka/metrics.go
package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YaganovValera/nodestream/pkg/telemetry"
)

var serviceLabel = "unknown"

// SetServiceLabel задаёт единое имя сервиса для метрик.
// Вызывается единожды из serviceid.InitServiceName().
func SetServiceLabel(name string) { serviceLabel = name }

var busMetrics = struct {
	DialAttempts *prometheus.CounterVec
	DialErrors   *prometheus.CounterVec
	Fetched      *prometheus.CounterVec
	Commits      *prometheus.CounterVec
	CommitErrors *prometheus.CounterVec
}{
	DialAttempts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "kafka_bus", Name: "dial_attempts_total",
			Help: "Kafka bus dial attempts",
		},
		[]string{"service"},
	),
	DialErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "kafka_bus", Name: "dial_errors_total",
			Help: "Kafka bus dial errors",
		},
		[]string{"service"},
	),
	Fetched: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "kafka_bus", Name: "messages_fetched_total",
			Help: "Messages handed out by Poll",
		},
		[]string{"service"},
	),
	Commits: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "kafka_bus", Name: "commits_total",
			Help: "Offset commits sent to the group coordinator",
		},
		[]string{"service"},
	),
	CommitErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "kafka_bus", Name: "commit_errors_total",
			Help: "Failed offset commits",
		},
		[]string{"service"},
	),
}

var tracer = telemetry.Tracer("kafka-bus")
