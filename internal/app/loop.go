// internal/app/loop.go
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/internal/http"
	"github.com/YaganovValera/nodestream/internal/metrics"
	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/stream"
	"github.com/YaganovValera/nodestream/pkg/telemetry"
)

var tracer = telemetry.Tracer("nodestream-loop")

// record: строка вывода: одно сообщение в JSON.
type record[P any] struct {
	Offset  uint64 `json:"offset"`
	Payload P      `json:"payload"`
}

// loop периодически опрашивает потребителя и пишет сообщения в sink.
// Потребитель используется только из Run; HTTP-обработчики видят
// лишь снимок под мьютексом.
type loop[P any] struct {
	consumer *stream.Consumer[P, struct{}]
	enc      *json.Encoder
	interval time.Duration
	session  string
	log      *logger.Logger

	mu      sync.RWMutex
	info    http.SessionInfo
	stopped bool
}

func newLoop[P any](c *stream.Consumer[P, struct{}], sink io.Writer, interval time.Duration, log *logger.Logger) *loop[P] {
	return &loop[P]{
		consumer: c,
		enc:      json.NewEncoder(sink),
		interval: interval,
		session:  c.SessionID().String(),
		log:      log.Named("loop"),
		info: http.SessionInfo{
			Session: c.SessionID().String(),
			Group:   c.SessionID().GroupID(),
			Topic:   c.Topic().String(),
			Epoch:   c.Epoch(),
		},
	}
}

// Run опрашивает до отмены ctx. Ошибки декодирования и сбои брокера
// логируются, цикл продолжается; ошибка записи в sink и вывод
// потребителя из работы завершают цикл.
func (l *loop[P]) Run(ctx context.Context) error {
	defer l.stop()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		if err := l.pollOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l *loop[P]) pollOnce(ctx context.Context) error {
	ctx = logger.ContextWithSessionID(ctx, l.session)
	ctx, span := tracer.Start(ctx, "PollCycle")
	defer span.End()
	log := l.log.WithContext(ctx)

	start := time.Now()
	msgs, err := l.consumer.Poll(ctx)
	metrics.PollLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, stream.ErrRetired):
		return err
	case errors.Is(err, stream.ErrPayloadDeserialize):
		metrics.SkippedSets.Inc()
		log.Warn("message set skipped", zap.Error(err))
		return nil
	default:
		metrics.PollFailures.Inc()
		log.Error("poll failed", zap.Error(err))
		return nil
	}

	for _, m := range msgs {
		if err := l.enc.Encode(record[P]{Offset: m.Offset, Payload: m.Payload}); err != nil {
			metrics.SinkErrors.Inc()
			span.RecordError(err)
			return fmt.Errorf("write message %d: %w", m.Offset, err)
		}
	}
	return nil
}

func (l *loop[P]) stop() {
	l.mu.Lock()
	l.stopped = true
	l.info.Retired = true
	l.mu.Unlock()
}

func (l *loop[P]) ready() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return errors.New("poll loop stopped")
	}
	return nil
}

func (l *loop[P]) snapshot() (http.SessionInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info, true
}
