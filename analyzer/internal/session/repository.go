package session

import (
	"context"
	"errors"
	"time"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
)

// ErrNotFound - сессии нет ни в памяти, ни в кэше, ни в БД
var ErrNotFound = errors.New("session not found")

// Repository определяет интерфейс для хранения сохраненных результатов (Domain Layer)
type Repository interface {
	// SaveResults сохраняет сводку и таблицу строк целиком, заменяя прежние
	SaveResults(ctx context.Context, session *Session, records []annotate.BeatRecord) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetResults(ctx context.Context, sessionID string) ([]annotate.BeatRecord, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CacheStore определяет интерфейс для работы с кэшем (Redis)
type CacheStore interface {
	SetSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Снимок строк результата (перезаписывается целиком)
	SetRecords(ctx context.Context, sessionID string, records []annotate.BeatRecord) error
	GetRecords(ctx context.Context, sessionID string) ([]annotate.BeatRecord, error)

	SetSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error
}

// ProgressSink получает ход автоматического прохода
type ProgressSink interface {
	Publish(sessionID string, p annotate.Progress)
}
