// internal/app/session.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/internal/registry"
	"github.com/YaganovValera/nodestream/pkg/backoff"
	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/stream"
)

// sessionSource: откуда взята сессия (для логов).
type sessionSource string

const (
	sourceConfig   sessionSource = "config"
	sourceRegistry sessionSource = "registry"
	sourceFresh    sessionSource = "fresh"
)

// resolveSession выбирает сессию: явно заданная > сохранённая в реестре > новая.
// reg может быть nil, если реестр не настроен.
func resolveSession(
	ctx context.Context,
	configured stream.SessionID,
	reg *registry.Registry,
	topic stream.TopicName,
) (stream.SessionID, sessionSource, error) {
	if !configured.IsZero() {
		return configured, sourceConfig, nil
	}
	if reg != nil {
		id, ok, err := reg.Load(ctx, topic)
		if err != nil {
			return stream.SessionID{}, "", err
		}
		if ok {
			return id, sourceRegistry, nil
		}
	}
	return stream.NewSessionID(), sourceFresh, nil
}

// openPolicy повторяет сбои подключения, но не ошибки конфигурации.
var openPolicy = backoff.Policy{
	Operation: "open_consumer",
	Permanent: func(err error) bool { return errors.Is(err, stream.ErrInvalidConfig) },
}

// openConsumer создаёт потребителя с ретраями на стороне вызывающего.
func openConsumer[P any](
	ctx context.Context,
	cfg stream.Config[P, struct{}],
	bo backoff.Config,
	log *logger.Logger,
) (*stream.Consumer[P, struct{}], error) {
	var c *stream.Consumer[P, struct{}]
	err := backoff.Execute(ctx, bo, openPolicy, log, func(ctx context.Context) error {
		var err error
		c, err = stream.New(ctx, cfg, log)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open consumer: %w", err)
	}
	return c, nil
}

// resetConsumer переводит потребителя на новую сессию. Если подключение
// новой сессии не удалось, старый потребитель уже выведен из работы, и
// подключение повторяется с ретраями под той же новой сессией.
func resetConsumer[P any](
	ctx context.Context,
	c *stream.Consumer[P, struct{}],
	cfg stream.Config[P, struct{}],
	bo backoff.Config,
	log *logger.Logger,
) (*stream.Consumer[P, struct{}], error) {
	next := stream.NewSessionID()
	nc, err := c.ResetWithSession(ctx, next)
	switch {
	case err == nil:
		return nc, nil
	case errors.Is(err, stream.ErrUnableToCreateConsumer):
		log.Warn("reset dial failed, retrying", zap.String("session", next.String()), zap.Error(err))
		cfg.Session = next
		return openConsumer(ctx, cfg, bo, log)
	default:
		return nil, fmt.Errorf("reset consumer: %w", err)
	}
}
