// pkg/stream/session.go
package stream

import (
	"fmt"

	"github.com/google/uuid"
)

// groupPrefix отделяет группы потребителей nodestream от прочих групп кластера.
const groupPrefix = "nodestream-session-"

// SessionID: непрозрачный идентификатор линии потребления.
// Нулевое значение означает «сессия не задана».
type SessionID struct {
	id uuid.UUID
}

// NewSessionID возвращает свежий случайный идентификатор.
func NewSessionID() SessionID {
	return SessionID{id: uuid.New()}
}

// ParseSessionID разбирает строковое представление, полученное из String().
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("stream: parse session %q: %w", s, err)
	}
	return SessionID{id: id}, nil
}

// IsZero сообщает, что сессия не задана.
func (s SessionID) IsZero() bool { return s.id == uuid.Nil }

func (s SessionID) String() string { return s.id.String() }

// GroupID детерминированно отображает сессию в id consumer group брокера.
// Разные сессии дают разные группы.
func (s SessionID) GroupID() string {
	return groupPrefix + s.id.String()
}
