package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
)

// RedisStore реализует CacheStore для Redis (Infrastructure Layer)
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore создает новый экземпляр RedisStore. ttl == 0 - без срока жизни.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Ping проверяет соединение (используется health-пробой)
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ===== Ключи Redis =====

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:metadata", sessionID)
}

func recordsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:records", sessionID)
}

func sessionPattern(sessionID string) string {
	return fmt.Sprintf("session:%s:*", sessionID)
}

// ===== Управление сессиями =====

func (r *RedisStore) SetSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return r.client.Set(ctx, sessionKey(session.ID), data, r.ttl).Err()
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	// Удаляем все ключи, связанные с сессией
	iter := r.client.Scan(ctx, 0, sessionPattern(sessionID), 0).Iterator()
	pipe := r.client.Pipeline()

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) SetSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	iter := r.client.Scan(ctx, 0, sessionPattern(sessionID), 0).Iterator()
	pipe := r.client.Pipeline()

	for iter.Next(ctx) {
		pipe.Expire(ctx, iter.Val(), ttl)
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ===== Строки результата =====

// SetRecords заменяет снимок таблицы: список очищается и заполняется заново
// в одной транзакции MULTI/EXEC.
func (r *RedisStore) SetRecords(ctx context.Context, sessionID string, records []annotate.BeatRecord) error {
	key := recordsKey(sessionID)

	values := make([]interface{}, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		values = append(values, data)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}
	return nil
}

func (r *RedisStore) GetRecords(ctx context.Context, sessionID string) ([]annotate.BeatRecord, error) {
	data, err := r.client.LRange(ctx, recordsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	records := make([]annotate.BeatRecord, 0, len(data))
	for _, item := range data {
		var rec annotate.BeatRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue // Пропускаем поврежденные записи
		}
		records = append(records, rec)
	}

	return records, nil
}
