package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/pkg/model"
)

// PostgresConfig holds connection settings for the Postgres-backed Store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane defaults for local development.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentd",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c *PostgresConfig) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// PostgresStore implements Store against a Postgres-compatible database.
//
// Per-session append ordering relies on the Event Queue being the sole
// writer for a given session; PostgresStore does not itself serialize
// concurrent appends to the same session beyond what BIGSERIAL provides.
type PostgresStore struct {
	db *sql.DB

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtSetStatus     *sql.Stmt
	stmtListSessions  *sql.Stmt
	stmtAppend        *sql.Stmt
	stmtListEvents    *sql.Stmt
}

// DB exposes the underlying connection pool, e.g. for migrations.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// NewPostgresStore opens a connection pool and prepares statements.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(config.dsn(), config)
}

// NewPostgresStoreFromDSN opens a connection pool using a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) prepare() error {
	stmts := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.stmtCreateSession, `INSERT INTO sessions (id, initial_message, status, event_count, created_at, activated_at) VALUES ($1, $2, $3, 0, $4, $4)`},
		{&s.stmtGetSession, `SELECT id, initial_message, status, response, usage, event_count, error, created_at, activated_at, completed_at FROM sessions WHERE id = $1`},
		{&s.stmtSetStatus, `UPDATE sessions SET status = $2, response = COALESCE($3, response), usage = COALESCE($4, usage), event_count = COALESCE($5, event_count), error = $6, completed_at = $7, activated_at = COALESCE($8, activated_at) WHERE id = $1`},
		{&s.stmtListSessions, `SELECT id, initial_message, status, event_count, created_at, completed_at FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`},
		{&s.stmtAppend, `INSERT INTO events (session_id, type, data, created_at) VALUES ($1, $2, $3, $4) RETURNING id`},
		{&s.stmtListEvents, `SELECT id, session_id, type, data, created_at FROM events WHERE session_id = $1 AND id > $2 ORDER BY id ASC`},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.text)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*st.dst = prepared
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, typ model.EventType, data model.EventData) (int64, error) {
	if typ.Transient() {
		return 0, apperr.Wrap("store.Append", apperr.ErrInvalidRequest)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, apperr.Wrap("store.Append", err)
	}
	var id int64
	err = s.stmtAppend.QueryRowContext(ctx, sessionID, string(typ), payload, nowFunc()).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap("store.Append", apperr.ErrTransientStore)
	}
	return id, nil
}

// ListEvents implements Store.
func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string, afterID int64) ([]model.Event, error) {
	rows, err := s.stmtListEvents.QueryContext(ctx, sessionID, afterID)
	if err != nil {
		return nil, apperr.Wrap("store.ListEvents", apperr.ErrTransientStore)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var typ string
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &typ, &raw, &ev.CreatedAt); err != nil {
			return nil, apperr.Wrap("store.ListEvents", err)
		}
		ev.Type = model.EventType(typ)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Data); err != nil {
				return nil, apperr.Wrap("store.ListEvents", err)
			}
		}
		out = append(out, ev)
	}
	if out == nil {
		out = []model.Event{}
	}
	return out, rows.Err()
}

// GetSession implements Store.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var sess model.Session
	var status string
	var responseRaw, usageRaw []byte
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.InitialMessage, &status, &responseRaw, &usageRaw, &sess.EventCount, &errMsg, &sess.CreatedAt, &sess.ActivatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap("store.GetSession", err)
	}
	sess.Status = model.SessionStatus(status)
	sess.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	if len(responseRaw) > 0 {
		_ = json.Unmarshal(responseRaw, &sess.Response)
	}
	if len(usageRaw) > 0 {
		var u model.Usage
		if json.Unmarshal(usageRaw, &u) == nil {
			sess.Usage = &u
		}
	}
	return &sess, nil
}

// CreateSession implements Store.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return apperr.Wrap("store.CreateSession", apperr.ErrInvalidRequest)
	}
	_, err := s.stmtCreateSession.ExecContext(ctx, sess.ID, sess.InitialMessage, string(sess.Status), sess.CreatedAt)
	if err != nil {
		return apperr.Wrap("store.CreateSession", apperr.ErrTransientStore)
	}
	return nil
}

// SetStatus implements Store.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status model.SessionStatus, extras StatusExtras) error {
	var responseRaw, usageRaw []byte
	if extras.Response != nil {
		var err error
		responseRaw, err = json.Marshal(extras.Response)
		if err != nil {
			return apperr.Wrap("store.SetStatus", err)
		}
	}
	if extras.Usage != nil {
		var err error
		usageRaw, err = json.Marshal(extras.Usage)
		if err != nil {
			return apperr.Wrap("store.SetStatus", err)
		}
	}

	var completedAt any
	var activatedAt any
	if extras.ClearCompleted {
		completedAt = nil
		activatedAt = nowFunc()
	} else if extras.CompletedNow {
		completedAt = nowFunc()
	}

	var eventCount any
	if extras.EventCount != nil {
		eventCount = *extras.EventCount
	}

	res, err := s.stmtSetStatus.ExecContext(ctx, id, string(status), nullIfEmpty(responseRaw), nullIfEmpty(usageRaw), eventCount, extras.ErrorMessage, completedAt, activatedAt)
	if err != nil {
		return apperr.Wrap("store.SetStatus", apperr.ErrTransientStore)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap("store.SetStatus", apperr.ErrTransientStore)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// ListSessions implements Store.
func (s *PostgresStore) ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtListSessions.QueryContext(ctx, limit, opts.Offset)
	if err != nil {
		return nil, apperr.Wrap("store.ListSessions", apperr.ErrTransientStore)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.InitialMessage, &status, &sess.EventCount, &sess.CreatedAt, &completedAt); err != nil {
			return nil, apperr.Wrap("store.ListSessions", err)
		}
		sess.Status = model.SessionStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			sess.CompletedAt = &t
		}
		out = append(out, sess)
	}
	if out == nil {
		out = []model.Session{}
	}
	return out, rows.Err()
}
