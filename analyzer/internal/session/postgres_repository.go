package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository реализует Repository для PostgreSQL (Infrastructure Layer)
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository создает новый экземпляр PostgresRepository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// NewPostgresRepositoryFromDSN создает репозиторий из строки подключения
func NewPostgresRepositoryFromDSN(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// EnsureSchema создает таблицы, если их еще нет
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping проверяет соединение (используется health-пробой)
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает соединение с БД
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// ===== Сессии =====

const sessionColumns = `id, file_name, status, state, samples, config, region, progress, created_at, updated_at, saved_at, notes`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s                          Session
		state                      string
		cfgJSON, regionJSON, pJSON []byte
	)

	if err := row.Scan(
		&s.ID,
		&s.FileName,
		&s.Status,
		&state,
		&s.Samples,
		&cfgJSON,
		&regionJSON,
		&pJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.SavedAt,
		&s.Notes,
	); err != nil {
		return nil, err
	}

	if err := s.State.UnmarshalText([]byte(state)); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &s.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := json.Unmarshal(regionJSON, &s.Region); err != nil {
		return nil, fmt.Errorf("failed to unmarshal region: %w", err)
	}
	if err := json.Unmarshal(pJSON, &s.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &s, nil
}

// SaveResults сохраняет сессию и заменяет ее строки в одной транзакции
func (r *PostgresRepository) SaveResults(ctx context.Context, session *Session, records []annotate.BeatRecord) error {
	cfgJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	regionJSON, err := json.Marshal(session.Region)
	if err != nil {
		return fmt.Errorf("failed to marshal region: %w", err)
	}
	pJSON, err := json.Marshal(session.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO analysis_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			samples = EXCLUDED.samples,
			config = EXCLUDED.config,
			region = EXCLUDED.region,
			progress = EXCLUDED.progress,
			updated_at = EXCLUDED.updated_at,
			saved_at = EXCLUDED.saved_at,
			notes = EXCLUDED.notes
	`

	if _, err := tx.ExecContext(ctx, upsert,
		session.ID,
		session.FileName,
		session.Status,
		session.State.String(),
		session.Samples,
		cfgJSON,
		regionJSON,
		pJSON,
		session.CreatedAt,
		session.UpdatedAt,
		session.SavedAt,
		session.Notes,
	); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM beat_records WHERE session_id = $1`, session.ID); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO beat_records (
				session_id, cycle, r_time, rri, hr, dbp_time, dbp, sbp_time, sbp,
				msna_time, msna_height, msna_area, burst, note
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				session.ID,
				rec.Cycle,
				rec.RTime,
				rec.RRI,
				rec.HR,
				rec.DBPTime,
				rec.DBP,
				rec.SBPTime,
				rec.SBP,
				rec.MSNATime,
				rec.MSNAHeight,
				rec.MSNAArea,
				rec.Burst.String(),
				rec.Note,
			); err != nil {
				return fmt.Errorf("failed to insert record %d: %w", rec.Cycle, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM analysis_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetResults(ctx context.Context, sessionID string) ([]annotate.BeatRecord, error) {
	query := `
		SELECT cycle, r_time, rri, hr, dbp_time, dbp, sbp_time, sbp,
			msna_time, msna_height, msna_area, burst, note
		FROM beat_records
		WHERE session_id = $1
		ORDER BY cycle ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	var records []annotate.BeatRecord

	for rows.Next() {
		var (
			rec   annotate.BeatRecord
			burst string
		)

		if err := rows.Scan(
			&rec.Cycle,
			&rec.RTime,
			&rec.RRI,
			&rec.HR,
			&rec.DBPTime,
			&rec.DBP,
			&rec.SBPTime,
			&rec.SBP,
			&rec.MSNATime,
			&rec.MSNAHeight,
			&rec.MSNAArea,
			&burst,
			&rec.Note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if err := rec.Burst.UnmarshalText([]byte(burst)); err != nil {
			return nil, fmt.Errorf("failed to parse burst flag: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM analysis_sessions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			continue // Пропускаем поврежденные записи
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// строки удалились бы и каскадом, но схема может быть старой
	queries := []string{
		"DELETE FROM beat_records WHERE session_id = $1",
		"DELETE FROM analysis_sessions WHERE id = $1",
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete session data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
