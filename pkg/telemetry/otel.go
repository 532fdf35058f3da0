// pkg/telemetry/otel.go
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
)

// Config: параметры экспорта span'ов в OTLP-коллектор.
// Пустой Endpoint отключает экспорт.
type Config struct {
	Endpoint       string // "host:port"
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SamplerRatio   float64       // 0 < r ≤ 1, по умолчанию 1
	Timeout        time.Duration // на подключение и на Shutdown

	// Attributes добавляются к ресурсу, например топик и эпоха потока.
	Attributes map[string]string
}

// Shutdown сбрасывает накопленные span'ы и останавливает экспорт.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.SamplerRatio == 0 {
		c.SamplerRatio = 1
	}
}

func (c Config) validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("telemetry: service name is required")
	case c.ServiceVersion == "":
		return fmt.Errorf("telemetry: service version is required")
	case c.SamplerRatio <= 0 || c.SamplerRatio > 1:
		return fmt.Errorf("telemetry: sampler ratio must be in (0,1], got %v", c.SamplerRatio)
	default:
		return nil
	}
}

// Setup регистрирует глобальный TracerProvider. Без Endpoint ничего не
// регистрирует: Tracer тогда отдаёт no-op span'ы.
func Setup(ctx context.Context, cfg Config, log *logger.Logger) (Shutdown, error) {
	if cfg.Endpoint == "" {
		log.Info("telemetry: tracing disabled")
		return noopShutdown, nil
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(initCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: exporter: %w", err)
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("telemetry: tracing enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sampler_ratio", cfg.SamplerRatio),
		zap.Any("attributes", cfg.Attributes),
	)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("telemetry: shutdown failed", zap.Error(err))
			return err
		}
		return nil
	}, nil
}

// Tracer возвращает именованный трейсер глобального провайдера. Трейсеры,
// полученные до Setup, начинают писать после него.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}
