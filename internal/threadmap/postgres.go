package threadmap

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// PostgresStore persists thread-key -> session-id mappings in the
// thread_mappings table created by internal/store's migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing *sql.DB (typically shared with
// internal/store.PostgresStore.DB()).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, key string, newSessionID func() string) (string, bool, error) {
	if id, ok, err := s.Get(ctx, key); err != nil {
		return "", false, err
	} else if ok {
		return id, false, nil
	}

	id := uuid.NewString()
	if newSessionID != nil {
		id = newSessionID()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_mappings (thread_key, session_id) VALUES ($1, $2) ON CONFLICT (thread_key) DO NOTHING`,
		key, id,
	)
	if err != nil {
		return "", false, err
	}

	// Another writer may have raced us; re-read to get the winning row.
	final, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, errors.New("threadmap: insert did not produce a row")
	}
	return final, final == id, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM thread_mappings WHERE thread_key = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
