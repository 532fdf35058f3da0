// internal/registry/registry.go
//
// Пакет registry запоминает текущую сессию потребления для топика, чтобы
// после рестарта процесс продолжал ту же линию, а не начинал заново.
package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/redis"
	"github.com/YaganovValera/nodestream/pkg/stream"
)

const keyPrefix = "nodestream:session:"

// Registry хранит SessionID по имени топика.
type Registry struct {
	store redis.Storage
	log   *logger.Logger
}

func New(store redis.Storage, log *logger.Logger) *Registry {
	return &Registry{store: store, log: log.Named("registry")}
}

// Key возвращает ключ хранилища для топика.
func Key(topic stream.TopicName) string {
	return keyPrefix + string(topic)
}

// Load возвращает сохранённую сессию. ok == false, если записи нет.
func (r *Registry) Load(ctx context.Context, topic stream.TopicName) (stream.SessionID, bool, error) {
	raw, err := r.store.Get(ctx, Key(topic))
	if errors.Is(err, redis.ErrNotFound) {
		return stream.SessionID{}, false, nil
	}
	if err != nil {
		return stream.SessionID{}, false, fmt.Errorf("registry: load %s: %w", topic, err)
	}
	id, err := stream.ParseSessionID(string(raw))
	if err != nil {
		return stream.SessionID{}, false, fmt.Errorf("registry: load %s: %w", topic, err)
	}
	return id, true, nil
}

// Save записывает сессию для топика, заменяя предыдущую.
func (r *Registry) Save(ctx context.Context, topic stream.TopicName, id stream.SessionID) error {
	if id.IsZero() {
		return fmt.Errorf("registry: refusing to save empty session for %s", topic)
	}
	if err := r.store.Set(ctx, Key(topic), []byte(id.String())); err != nil {
		return fmt.Errorf("registry: save %s: %w", topic, err)
	}
	r.log.WithContext(ctx).Debug("session saved", zap.String("topic", string(topic)), zap.String("session", id.String()))
	return nil
}

// Forget удаляет запись о сессии топика.
func (r *Registry) Forget(ctx context.Context, topic stream.TopicName) error {
	if err := r.store.Delete(ctx, Key(topic)); err != nil {
		return fmt.Errorf("registry: forget %s: %w", topic, err)
	}
	return nil
}
