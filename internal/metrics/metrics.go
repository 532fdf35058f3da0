// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once         sync.Once
	PollLatency  prometheus.Histogram
	SinkErrors   prometheus.Counter
	SkippedSets  prometheus.Counter
	PollFailures prometheus.Counter
	CurrentEpoch prometheus.Gauge
)

// Register initializes and registers all metrics exactly once.
// If r == nil, uses prometheus.DefaultRegisterer; duplicate registrations are ignored.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}

		PollLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodestream", Subsystem: "app", Name: "poll_latency_seconds",
			Help:    "Latency of a consumer poll round including commit",
			Buckets: prometheus.DefBuckets,
		})
		SinkErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "app", Name: "sink_errors_total",
			Help: "Errors writing delivered messages to the sink",
		})
		SkippedSets = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "app", Name: "skipped_message_sets_total",
			Help: "Message sets skipped because a payload failed to decode",
		})
		PollFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "app", Name: "poll_failures_total",
			Help: "Poll rounds that failed for reasons other than decoding",
		})
		CurrentEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodestream", Subsystem: "app", Name: "epoch",
			Help: "Epoch of the stream being consumed",
		})

		collectors := []prometheus.Collector{
			PollLatency,
			SinkErrors,
			SkippedSets,
			PollFailures,
			CurrentEpoch,
		}
		for _, c := range collectors {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
