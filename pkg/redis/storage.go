// pkg/redis/storage.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/backoff"
	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/telemetry"
)

var serviceLabel = "unknown"

// SetServiceLabel задаёт единое имя сервиса для метрик.
func SetServiceLabel(name string) { serviceLabel = name }

var (
	redisMetrics = struct {
		Errors  *prometheus.CounterVec
		Latency *prometheus.HistogramVec
	}{
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "redis", Name: "errors_total",
			Help: "Redis operation errors",
		}, []string{"service", "op"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodestream", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "op"}),
	}
	tracer = telemetry.Tracer("redis-storage")
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = errors.New("redis: key not found")

// redisPolicy не повторяет промах по ключу.
var redisPolicy = backoff.Policy{
	Operation: "redis",
	Permanent: func(err error) bool { return errors.Is(err, ErrNotFound) },
}

// Config хранит параметры подключения к Redis.
// TTL == 0 → значения хранятся без срока.
type Config struct {
	URL     string         `mapstructure:"url"` // e.g. "redis://host:6379/0"
	TTL     time.Duration  `mapstructure:"ttl"`
	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("redis: TTL must be ≥ 0")
	}
	return nil
}

type redisStorage struct {
	client     *redis.Client
	ttl        time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New создаёт Storage и проверяет соединение с ретраями.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Storage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, backoff.Policy{Operation: "redis_connect"}, log, op); err != nil {
		span.RecordError(err)
		span.End()
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &redisStorage{
		client:     client,
		ttl:        cfg.TTL,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

func (r *redisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", key, func(ctx context.Context) error {
		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data = val
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *redisStorage) Set(ctx context.Context, key string, value []byte) error {
	return r.do(ctx, "set", key, func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, r.ttl).Err()
	})
}

func (r *redisStorage) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "del", key, func(ctx context.Context) error {
		return r.client.Del(ctx, key).Err()
	})
}

func (r *redisStorage) Close() error {
	return r.client.Close()
}

// do выполняет op с ретраями, метриками и span'ом.
func (r *redisStorage) do(ctx context.Context, name, key string, op backoff.RetryableFunc) error {
	ctxOp, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	err := backoff.Execute(ctxOp, r.backoffCfg, redisPolicy, r.log, op)
	redisMetrics.Latency.WithLabelValues(serviceLabel, name).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		redisMetrics.Errors.WithLabelValues(serviceLabel, name).Inc()
		r.log.WithContext(ctx).Error("redis operation failed",
			zap.String("op", name), zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	return nil
}
