package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

const kvTable = "kv_entries"

// KVSchema creates the table backing SQLStore. It is valid for postgres and sqlite.
const KVSchema = `CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key   TEXT PRIMARY KEY,
	entry_value TEXT NOT NULL,
	expires_at  BIGINT NOT NULL
)`

// SQLStore shares entries across instances through the application database.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
	logger  *slog.Logger
}

// NewSQLStore wraps db; dialect is an entgo dialect name (dialect.Postgres, dialect.SQLite).
func NewSQLStore(db *sql.DB, dialect string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now, logger: logger}
}

// EnsureSchema creates the backing table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, KVSchema); err != nil {
		return fmt.Errorf("kvstore: create table: %w", err)
	}
	return nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	exp := s.now().Add(ttl).UnixMilli()
	q, args := entsql.Dialect(s.dialect).
		Insert(kvTable).
		Columns("entry_key", "entry_value", "expires_at").
		Values(key, string(value), exp).
		OnConflict(entsql.ConflictColumns("entry_key"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b := entsql.Dialect(s.dialect)
	q, args := b.Select("entry_value", "expires_at").
		From(b.Table(kvTable)).
		Where(entsql.EQ("entry_key", key)).
		Query()

	var (
		value string
		exp   int64
	)
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	if s.now().UnixMilli() >= exp {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn("kvstore.expire.delete_failed", "key", key, "err", err)
		}
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	q, args := entsql.Dialect(s.dialect).
		Delete(kvTable).
		Where(entsql.EQ("entry_key", key)).
		Query()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("kvstore: delete %s: %w", key, err)
	}
	return nil
}

// Sweep deletes expired rows.
func (s *SQLStore) Sweep(ctx context.Context) (int64, error) {
	q, args := entsql.Dialect(s.dialect).
		Delete(kvTable).
		Where(entsql.LTE("expires_at", s.now().UnixMilli())).
		Query()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("kvstore: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
