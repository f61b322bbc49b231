// Package genlog records one row per generation request: whether it was a
// cache hit, a fresh generation or a failure, and which provider answered.
package genlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Outcomes.
const (
	OutcomeHit       = "hit"
	OutcomeGenerated = "generated"
	OutcomeFailed    = "failed"
)

// Entry is one generation log row.
type Entry struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Profile      string    `json:"profile"`
	CacheKey     string    `json:"cache_key"`
	Outcome      string    `json:"outcome"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List.
type Query struct {
	Limit   int
	Offset  int
	Profile string
	Outcome string
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// Writer persists generation log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists stored entries.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "lexgen-generations.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite generation log: %w", err)
	}
	db.SetMaxOpenConns(1)
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres generation log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s generation log: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS generation_log (
	seq INTEGER PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	trace_id TEXT,
	profile TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	outcome TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	attempts INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS generation_log (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	trace_id TEXT,
	profile TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	outcome TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	attempts INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize generation log schema: %w", err)
	}
	return nil
}

func (w *SQLWriter) placeholder(n int) string {
	if w.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	ph := make([]string, 10)
	for i := range ph {
		ph[i] = w.placeholder(i + 1)
	}
	query := `INSERT INTO generation_log(id, trace_id, profile, cache_key, outcome, provider, model, attempts, error_message, created_at)
	VALUES(` + strings.Join(ph, ", ") + `)`

	_, err := w.db.ExecContext(ctx, query,
		entry.ID,
		entry.TraceID,
		entry.Profile,
		entry.CacheKey,
		entry.Outcome,
		entry.Provider,
		entry.Model,
		entry.Attempts,
		entry.ErrorMessage,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write generation log: %w", err)
	}
	return nil
}

// List returns entries matching q, newest first. Limit defaults to 50 and is
// capped at 500.
func (w *SQLWriter) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	if q.Profile != "" {
		args = append(args, q.Profile)
		where = append(where, "profile = "+w.placeholder(len(args)))
	}
	if q.Outcome != "" {
		args = append(args, q.Outcome)
		where = append(where, "outcome = "+w.placeholder(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_log"+clause, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count generation log: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	query := `SELECT id, trace_id, profile, cache_key, outcome, provider, model, attempts, error_message, created_at
	FROM generation_log` + clause + ` ORDER BY created_at DESC, seq DESC LIMIT ` +
		w.placeholder(len(args)+1) + ` OFFSET ` + w.placeholder(len(args)+2)
	rows, err := w.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list generation log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := ListResult{Total: total, Data: []Entry{}}
	for rows.Next() {
		var (
			e                                   Entry
			traceID, provider, model, errorText sql.NullString
		)
		if err := rows.Scan(&e.ID, &traceID, &e.Profile, &e.CacheKey, &e.Outcome, &provider, &model, &e.Attempts, &errorText, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan generation log: %w", err)
		}
		e.TraceID = traceID.String
		e.Provider = provider.String
		e.Model = model.String
		e.ErrorMessage = errorText.String
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list generation log: %w", err)
	}
	return result, nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
