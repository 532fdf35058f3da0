// pkg/kafka/dialer.go
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/stream"
)

// NewDialer возвращает stream.Dialer, открывающий Sarama-соединение
// на каждую сессию. Ошибки конфигурации проявляются при первом вызове.
func NewDialer(cfg Config, log *logger.Logger) stream.Dialer {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("kafka-bus")

	return func(ctx context.Context, bc stream.BusConfig) (stream.Bus, error) {
		busMetrics.DialAttempts.WithLabelValues(serviceLabel).Inc()
		ctx, span := tracer.Start(ctx, "Dial", trace.WithAttributes(
			attribute.String("addr", bc.Addr),
			attribute.String("group", bc.GroupID),
			attribute.String("topic", string(bc.Topic)),
		))
		defer span.End()

		b, err := dial(ctx, cfg, bc, log)
		if err != nil {
			span.RecordError(err)
			busMetrics.DialErrors.WithLabelValues(serviceLabel).Inc()
			log.Warn("dial failed",
				zap.String("addr", bc.Addr),
				zap.String("group", bc.GroupID),
				zap.Error(err),
			)
			return nil, err
		}
		log.Info("bus connected",
			zap.String("addr", bc.Addr),
			zap.String("group", bc.GroupID),
			zap.String("topic", string(bc.Topic)),
			zap.Int("partitions", len(b.parts)),
			zap.Stringer("fallback", bc.Fallback),
		)
		return b, nil
	}
}

func dial(ctx context.Context, cfg Config, bc stream.BusConfig, log *logger.Logger) (*bus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if bc.Addr == "" || bc.GroupID == "" || bc.Topic == "" {
		return nil, fmt.Errorf("kafka: addr, group and topic are required")
	}
	sc, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient([]string{bc.Addr}, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	var consumer sarama.Consumer
	consumer, err = sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka: new consumer: %w", err)
	}
	if cfg.Tracing {
		consumer = otelsarama.WrapConsumer(consumer)
	}

	store := &coordinatorOffsets{client: client, group: bc.GroupID}
	b, err := newBus(ctx, consumer, store, cfg, bc, log.With(zap.String("group", bc.GroupID)))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("kafka: %w", err)
	}
	b.client = client
	return b, nil
}
