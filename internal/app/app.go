// internal/app/app.go
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/nodestream/internal/config"
	"github.com/YaganovValera/nodestream/internal/http"
	"github.com/YaganovValera/nodestream/internal/metrics"
	"github.com/YaganovValera/nodestream/internal/registry"
	"github.com/YaganovValera/nodestream/internal/serviceid"
	"github.com/YaganovValera/nodestream/pkg/kafka"
	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/redis"
	"github.com/YaganovValera/nodestream/pkg/stream"
	"github.com/YaganovValera/nodestream/pkg/telemetry"
	"github.com/YaganovValera/nodestream/pkg/topic"
)

// Options: параметры запуска, не входящие в файл конфигурации.
type Options struct {
	// Reset начинает новую линию потребления с начала топика.
	Reset bool
	// Sink получает сообщения в виде JSON-строк (по умолчанию os.Stdout).
	Sink io.Writer
	// Dial и Storage подменяют Kafka и Redis; nil → из конфигурации.
	Dial    stream.Dialer
	Storage redis.Storage
}

// Run wires up and runs the stream consumer service.
func Run(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) error {
	// -------------------------------------------------------------------------
	// 0) Сквозной service-label для всех подсистем
	// -------------------------------------------------------------------------
	serviceid.InitServiceName(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// 1) Prometheus-метрики
	// -------------------------------------------------------------------------
	metrics.Register(nil)
	metrics.CurrentEpoch.Set(float64(cfg.Stream.Epoch))

	// -------------------------------------------------------------------------
	// 2) OpenTelemetry (опционально)
	// -------------------------------------------------------------------------
	shutdownTracer, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
		Attributes: map[string]string{
			"nodestream.topic": cfg.Stream.Topic().String(),
			"nodestream.epoch": strconv.FormatUint(cfg.Stream.Epoch, 10),
			"nodestream.codec": cfg.Stream.Codec,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// -------------------------------------------------------------------------
	// 3) Реестр сессий (опционально)
	// -------------------------------------------------------------------------
	reg, closeStorage, err := openRegistry(ctx, cfg, opts.Storage, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	if opts.Sink == nil {
		opts.Sink = os.Stdout
	}
	if opts.Dial == nil {
		opts.Dial = kafka.NewDialer(cfg.Kafka, log)
	}
	opts.Reset = opts.Reset || cfg.Stream.ResetOnStart

	// -------------------------------------------------------------------------
	// 4) Consumer + run-loop для выбранного кодека
	// -------------------------------------------------------------------------
	switch cfg.Stream.Codec {
	case "bytes":
		return serve[[]byte](ctx, cfg, opts, reg, topic.Bytes[struct{}]{Kind: cfg.Stream.Kind}, log)
	default:
		return serve[json.RawMessage](ctx, cfg, opts, reg, topic.JSON[json.RawMessage, struct{}]{Kind: cfg.Stream.Kind}, log)
	}
}

// LoadSession возвращает сессию, сохранённую для топика из конфигурации.
func LoadSession(ctx context.Context, cfg *config.Config, log *logger.Logger) (stream.SessionID, bool, error) {
	reg, closeStorage, err := openRegistry(ctx, cfg, nil, log)
	if err != nil {
		return stream.SessionID{}, false, err
	}
	defer closeStorage()
	if reg == nil {
		return stream.SessionID{}, false, fmt.Errorf("session registry disabled: redis.url is empty")
	}
	return reg.Load(ctx, cfg.Stream.Topic())
}

func openRegistry(ctx context.Context, cfg *config.Config, store redis.Storage, log *logger.Logger) (*registry.Registry, func(), error) {
	if store == nil {
		if cfg.Redis.URL == "" {
			log.Info("session registry disabled")
			return nil, func() {}, nil
		}
		s, err := redis.New(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, fmt.Errorf("redis init: %w", err)
		}
		store = s
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Error("redis close", zap.Error(err))
		}
	}
	return registry.New(store, log), closeFn, nil
}

func serve[P any](
	ctx context.Context,
	cfg *config.Config,
	opts Options,
	reg *registry.Registry,
	tp stream.PerEpochTopic[P, struct{}],
	log *logger.Logger,
) error {
	name := tp.TopicForEpoch(cfg.Stream.Epoch)

	configured, err := cfg.Stream.SessionID()
	if err != nil {
		return fmt.Errorf("stream.session: %w", err)
	}
	session, source, err := resolveSession(ctx, configured, reg, name)
	if err != nil {
		return err
	}
	log.Info("session resolved",
		zap.String("topic", name.String()),
		zap.String("session", session.String()),
		zap.String("source", string(source)),
	)

	scfg := stream.Config[P, struct{}]{
		Addr:    cfg.Stream.Addr,
		Session: session,
		Epoch:   cfg.Stream.Epoch,
		Topic:   tp,
		Dial:    opts.Dial,
	}
	c, err := openConsumer(ctx, scfg, cfg.Backoff, log)
	if err != nil {
		return err
	}
	if opts.Reset {
		if c, err = resetConsumer(ctx, c, scfg, cfg.Backoff, log); err != nil {
			return err
		}
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("consumer close", zap.Error(err))
		}
	}()

	if reg != nil {
		if err := reg.Save(ctx, name, c.SessionID()); err != nil {
			log.Warn("session not saved", zap.Error(err))
		}
	}

	lp := newLoop(c, opts.Sink, cfg.Stream.PollInterval, log)

	httpSrv, err := http.NewServer(http.Config{
		Addr:            fmt.Sprintf(":%d", cfg.HTTP.Port),
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		MetricsPath:     cfg.HTTP.MetricsPath,
		HealthzPath:     cfg.HTTP.HealthzPath,
		ReadyzPath:      cfg.HTTP.ReadyzPath,
		SessionPath:     cfg.HTTP.SessionPath,
	}, lp.ready, lp.snapshot, log)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	log.Info("nodestream: components initialized, entering run-loop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error { return lp.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithContext(ctx).Error("runtime error", zap.Error(err))
		return err
	}
	log.Info("nodestream shutdown complete")
	return nil
}
