// pkg/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
)

// Исходы Execute: значения лейбла outcome.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomePermanent = "permanent"
	OutcomeCancelled = "cancelled"
)

var (
	serviceLabel = "unknown"

	retryMetrics = struct {
		Attempts *prometheus.CounterVec
		Outcomes *prometheus.CounterVec
		Delays   *prometheus.HistogramVec
	}{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "retry", Name: "attempts_total",
			Help: "Calls of a retried operation, first attempt included",
		}, []string{"service", "operation"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodestream", Subsystem: "retry", Name: "outcomes_total",
			Help: "Final outcome of retried operations",
		}, []string{"service", "operation", "outcome"}),
		Delays: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodestream", Subsystem: "retry", Name: "delay_seconds",
			Help:    "Pause before the next attempt",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
		}, []string{"service", "operation"}),
	}
)

// SetServiceLabel задаёт имя сервиса для метрик.
func SetServiceLabel(name string) { serviceLabel = name }

// Config: параметры экспоненциальной паузы между попытками.
// Нулевые поля заменяются значениями по умолчанию.
type Config struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"` // 0..1
	Multiplier          float64       `mapstructure:"multiplier"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"` // 0: без ограничения
	PerAttemptTimeout   time.Duration `mapstructure:"per_attempt_timeout"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be ≥ 1")
	}
	return nil
}

func (c Config) exponential(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.RandomizationFactor = c.RandomizationFactor
	bo.Multiplier = c.Multiplier
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = c.MaxElapsedTime
	return backoff.WithContext(bo, ctx)
}

// Policy описывает повторяемую операцию.
//
// Operation попадает в лейбл operation метрик и в логи. Permanent решает,
// какие ошибки повторять бессмысленно; nil означает "повторять всё".
type Policy struct {
	Operation string
	Permanent func(error) bool
}

func (p Policy) name() string {
	if p.Operation == "" {
		return "unnamed"
	}
	return p.Operation
}

// RetryableFunc: одна попытка операции.
type RetryableFunc func(ctx context.Context) error

// Error возвращается Execute, когда операция так и не удалась.
type Error struct {
	Operation string
	Outcome   string // exhausted, permanent или cancelled
	Attempts  int
	Err       error // последняя ошибка попытки
}

func (e *Error) Error() string {
	return fmt.Sprintf("backoff: %s %s after %d attempt(s): %v", e.Operation, e.Outcome, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent помечает ошибку попытки как неповторяемую.
func Permanent(err error) error { return backoff.Permanent(err) }

// Execute вызывает fn, пока она не вернёт nil, пока ошибка не окажется
// постоянной или пока не истечёт MaxElapsedTime либо ctx.
func Execute(ctx context.Context, cfg Config, p Policy, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	op := p.name()
	log = log.With(zap.String("operation", op))

	attempts := 0
	permanent := false
	attempt := func() error {
		attempts++
		retryMetrics.Attempts.WithLabelValues(serviceLabel, op).Inc()
		actx := ctx
		if cfg.PerAttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
		}
		err := fn(actx)
		if err == nil {
			return nil
		}
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
			return err
		}
		if p.Permanent != nil && p.Permanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		retryMetrics.Delays.WithLabelValues(serviceLabel, op).Observe(delay.Seconds())
		log.Warn("retrying",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, cfg.exponential(ctx), notify)
	if err == nil {
		retryMetrics.Outcomes.WithLabelValues(serviceLabel, op, OutcomeSuccess).Inc()
		if attempts > 1 {
			log.Info("succeeded after retries", zap.Int("attempts", attempts))
		}
		return nil
	}

	outcome := OutcomeExhausted
	switch {
	case permanent:
		outcome = OutcomePermanent
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
	}
	retryMetrics.Outcomes.WithLabelValues(serviceLabel, op, outcome).Inc()
	if outcome == OutcomeExhausted {
		log.Error("giving up", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		log.Debug("stopped", zap.String("outcome", outcome), zap.Int("attempts", attempts), zap.Error(err))
	}
	return &Error{Operation: op, Outcome: outcome, Attempts: attempts, Err: err}
}
