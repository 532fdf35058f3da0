// pkg/stream/consumer.go
package stream

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
)

// Config описывает потребителя одной эпохи логического потока.
//
// Session: нулевое значение заменяется свежей сессией.
// Dial   : открывает соединение с брокером (см. kafka.NewDialer).
type Config[P, M any] struct {
	Addr    string
	Session SessionID
	Epoch   uint64
	Topic   PerEpochTopic[P, M]
	Dial    Dialer
}

func (c Config[P, M]) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	case c.Topic == nil:
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	case c.Dial == nil:
		return fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	default:
		return nil
	}
}

// Consumer читает топик одной эпохи от имени одной сессии.
//
// Consumer синхронный и не безопасен для конкурентного использования.
// После ResetWithSession или Close экземпляр считается выведенным из
// работы и на любые вызовы отвечает ErrRetired.
type Consumer[P, M any] struct {
	addr    string
	session SessionID
	epoch   uint64
	topic   PerEpochTopic[P, M]
	name    TopicName
	dial    Dialer

	bus     Bus
	retired bool
	base    *logger.Logger
	log     *logger.Logger
}

// New подключается к брокеру под группой Session.GroupID() и подписывается
// на топик эпохи. Группа без коммита начинает с самого старого сообщения.
func New[P, M any](ctx context.Context, cfg Config[P, M], log *logger.Logger) (*Consumer[P, M], error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := cfg.validate(); err != nil {
		countError(ErrUnableToCreateConsumer)
		return nil, wrap(ErrUnableToCreateConsumer, "", err)
	}
	if cfg.Session.IsZero() {
		cfg.Session = NewSessionID()
	}
	name := cfg.Topic.TopicForEpoch(cfg.Epoch)
	group := cfg.Session.GroupID()

	ctx, span := tracer.Start(ctx, "New", trace.WithAttributes(
		attribute.String("topic", name.String()),
		attribute.String("group", group),
		attribute.Int64("epoch", int64(cfg.Epoch)),
	))
	defer span.End()

	bus, err := cfg.Dial(ctx, BusConfig{
		Addr:     cfg.Addr,
		GroupID:  group,
		Topic:    name,
		Fallback: FallbackEarliest,
	})
	if err != nil {
		span.RecordError(err)
		countError(ErrUnableToCreateConsumer)
		return nil, wrap(ErrUnableToCreateConsumer, name, err)
	}

	base := log
	log = log.Named("consumer").With(
		zap.String("session", cfg.Session.String()),
		zap.String("group", group),
		zap.String("topic", name.String()),
		zap.Uint64("epoch", cfg.Epoch),
	)
	streamMetrics.Created.WithLabelValues(serviceLabel).Inc()
	log.Info("consumer created")

	return &Consumer[P, M]{
		addr:    cfg.Addr,
		session: cfg.Session,
		epoch:   cfg.Epoch,
		topic:   cfg.Topic,
		name:    name,
		dial:    cfg.Dial,
		bus:     bus,
		base:    base,
		log:     log,
	}, nil
}

// SessionID возвращает сессию потребителя.
func (c *Consumer[P, M]) SessionID() SessionID { return c.session }

// Epoch возвращает эпоху, заданную при создании.
func (c *Consumer[P, M]) Epoch() uint64 { return c.epoch }

// Topic возвращает имя топика эпохи.
func (c *Consumer[P, M]) Topic() TopicName { return c.name }

// Retired сообщает, выведен ли потребитель из работы.
func (c *Consumer[P, M]) Retired() bool { return c.retired }

// ResetWithSession заменяет потребителя новым с той же эпохой и топиком,
// но под другой сессией; новая группа читает поток с начала.
//
// Нулевая next заменяется свежей сессией. Совпадение next с текущей
// сессией даёт *DuplicateSessionError и не меняет состояние получателя.
// В остальных случаях получатель выводится из работы до подключения
// нового потребителя, даже если подключение не удалось.
func (c *Consumer[P, M]) ResetWithSession(ctx context.Context, next SessionID) (*Consumer[P, M], error) {
	if c.retired {
		countError(ErrRetired)
		return nil, wrap(ErrRetired, c.name, nil)
	}
	if next.IsZero() {
		next = NewSessionID()
	}
	if next == c.session {
		countError(ErrDuplicateSession)
		return nil, &DuplicateSessionError{Old: c.session, New: next}
	}

	ctx, span := tracer.Start(ctx, "Reset", trace.WithAttributes(
		attribute.String("topic", c.name.String()),
		attribute.String("old_session", c.session.String()),
		attribute.String("new_session", next.String()),
	))
	defer span.End()

	c.retire()

	nc, err := New(ctx, Config[P, M]{
		Addr:    c.addr,
		Session: next,
		Epoch:   c.epoch,
		Topic:   c.topic,
		Dial:    c.dial,
	}, c.base)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	streamMetrics.Resets.WithLabelValues(serviceLabel).Inc()
	c.log.Info("consumer reset", zap.String("next_session", next.String()))
	return nc, nil
}

// Poll забирает все доступные пачки, декодирует их и отмечает как
// прочитанные. Коммит в брокер выполняется только если все пачки
// вызова прошли без ошибок.
//
// Пачка с ошибкой декодирования всё равно отмечается прочитанной и
// повторно не доставляется.
func (c *Consumer[P, M]) Poll(ctx context.Context) ([]Message[P], error) {
	if c.retired {
		countError(ErrRetired)
		return nil, wrap(ErrRetired, c.name, nil)
	}
	streamMetrics.Polls.WithLabelValues(serviceLabel).Inc()

	ctx, span := tracer.Start(ctx, "Poll", trace.WithAttributes(
		attribute.String("topic", c.name.String()),
	))
	defer span.End()

	sets, err := c.bus.Poll(ctx)
	if err != nil {
		return nil, c.fail(span, ErrUnableToPollMessage, err)
	}

	out := make([]Message[P], 0)
	for _, set := range sets {
		decoded, decodeErr := c.decode(set)

		if err := c.bus.ConsumeMessageSet(set); err != nil {
			return nil, c.fail(span, ErrUnableToMarkMessageConsumed, err)
		}
		if decodeErr != nil {
			c.log.WithContext(ctx).Warn("message set skipped",
				zap.Int32("partition", set.Partition),
				zap.Int("messages", len(set.Messages)),
				zap.Error(decodeErr),
			)
			return nil, c.fail(span, ErrPayloadDeserialize, decodeErr)
		}
		out = append(out, decoded...)
	}

	if err := c.bus.CommitConsumed(ctx); err != nil {
		return nil, c.fail(span, ErrUnableToCommitMessageConsumed, err)
	}

	span.SetAttributes(attribute.Int("messages", len(out)))
	streamMetrics.Delivered.WithLabelValues(serviceLabel).Add(float64(len(out)))
	if len(out) > 0 {
		c.log.WithContext(ctx).Debug("poll delivered",
			zap.Int("messages", len(out)),
			zap.Uint64("last_offset", out[len(out)-1].Offset),
		)
	}
	return out, nil
}

// Close выводит потребителя из работы и освобождает соединение.
// Повторные вызовы ничего не делают.
func (c *Consumer[P, M]) Close() error {
	if c.retired {
		return nil
	}
	c.retired = true
	if err := c.bus.Close(); err != nil {
		return fmt.Errorf("stream: close bus: %w", err)
	}
	c.log.Info("consumer closed")
	return nil
}

func (c *Consumer[P, M]) retire() {
	c.retired = true
	if err := c.bus.Close(); err != nil {
		c.log.Warn("close bus on reset failed", zap.Error(err))
	}
}

func (c *Consumer[P, M]) decode(set MessageSet) ([]Message[P], error) {
	msgs := make([]Message[P], 0, len(set.Messages))
	var errs []error
	for _, raw := range set.Messages {
		if raw.Offset < 0 {
			errs = append(errs, &DecodeError{
				Partition: set.Partition,
				Offset:    raw.Offset,
				Err:       errors.New("negative offset"),
			})
			continue
		}
		p, err := c.topic.PayloadFromBytes(raw.Value)
		if err != nil {
			errs = append(errs, &DecodeError{Partition: set.Partition, Offset: raw.Offset, Err: err})
			continue
		}
		msgs = append(msgs, Message[P]{Payload: p, Offset: uint64(raw.Offset)})
	}
	return msgs, errors.Join(errs...)
}

func (c *Consumer[P, M]) fail(span trace.Span, kind, err error) error {
	span.RecordError(err)
	countError(kind)
	return wrap(kind, c.name, err)
}
