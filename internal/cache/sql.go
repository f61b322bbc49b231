package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"    // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/direitopremium/lexgen/providers"
)

// SQLStore persists entries in a generation_cache table on SQLite or
// Postgres. Timestamps are stored as unix milliseconds so staleness queries
// compare integers on both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "lexgen-cache.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache store: %w", err)
	}
	// One writer at a time keeps SQLite from answering SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db, dialect: "sqlite", now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens (and migrates) a Postgres-backed store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres cache store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "postgres", now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s cache store: %w", s.dialect, err)
	}
	ddl := `
CREATE TABLE IF NOT EXISTS generation_cache (
	cache_key TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	produced_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT '{}'
);`
	if s.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS generation_cache (
	cache_key TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL,
	produced_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	source TEXT NOT NULL DEFAULT '{}'
);`
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize cache schema: %w", err)
	}
	return nil
}

// rebind turns "?" placeholders into "$n" for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e          Entry
		kind       string
		produced   int64
		expires    int64
		sourceJSON string
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT cache_key, kind, payload, produced_at, expires_at, source FROM generation_cache WHERE cache_key = ?`),
		key,
	).Scan(&e.Key, &kind, &e.Payload, &produced, &expires, &sourceJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	e.Kind = providers.ResultKind(kind)
	e.ProducedAt = time.UnixMilli(produced).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	if sourceJSON != "" {
		_ = json.Unmarshal([]byte(sourceJSON), &e.Source)
	}
	return e, true, nil
}

// Put implements Store with a single upsert; the row is replaced wholesale.
func (s *SQLStore) Put(ctx context.Context, e Entry) error {
	source, err := json.Marshal(e.Source)
	if err != nil {
		return fmt.Errorf("cache put: encode source: %w", err)
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO generation_cache(cache_key, kind, payload, produced_at, expires_at, source)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET
	kind = excluded.kind,
	payload = excluded.payload,
	produced_at = excluded.produced_at,
	expires_at = excluded.expires_at,
	source = excluded.source`),
		e.Key, string(e.Kind), e.Payload, e.ProducedAt.UnixMilli(), e.ExpiresAt.UnixMilli(), string(source),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: s.dialect}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at < ? THEN 1 ELSE 0 END), 0) FROM generation_cache`),
		s.now().UnixMilli(),
	).Scan(&st.Entries, &st.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
