package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/kvstore/migrations"
	"github.com/dmitrijs2005/fleetsync/internal/dbx"
	"github.com/pressly/goose/v3"
)

// Dialect describes the SQL flavour a SQLStore talks to.
type Dialect struct {
	name        string
	placeholder dbx.Placeholder
	goose       goose.Dialect
	lockClause  string
}

var (
	SQLite   = Dialect{name: "sqlite", placeholder: dbx.Question, goose: goose.DialectSQLite3}
	Postgres = Dialect{name: "postgres", placeholder: dbx.Dollar, goose: goose.DialectPostgres, lockClause: " FOR UPDATE"}
)

// SQLStore implements Store on a kv_store table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database. Call Migrate before first use unless
// the schema is managed elsewhere.
func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, now: time.Now}
}

// Migrate applies the embedded schema migrations for the store's dialect.
func (s *SQLStore) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations.FS, s.dialect.name)
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", s.dialect.name, err)
	}
	p, err := goose.NewProvider(s.dialect.goose, s.db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return dbx.Rebind(s.dialect.placeholder, query)
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.db, key, "")
}

func (s *SQLStore) get(ctx context.Context, db dbx.DBTX, key, suffix string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, s.q(`SELECT value FROM kv_store WHERE key = ?`+suffix), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.set(ctx, s.db, key, value)
}

func (s *SQLStore) set(ctx context.Context, db dbx.DBTX, key string, value []byte) error {
	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM kv_store WHERE key = ?`), key)
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	return nil
}

// Update reads and rewrites key inside one transaction. On PostgreSQL the
// row is first seeded with an empty value when it does not exist, so that
// SELECT ... FOR UPDATE always has a row to lock and a second writer of a new
// key waits for the first; SQLite serialises writers itself. A seeded row
// reads as nil and is rolled back with the transaction when fn fails.
func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if s.dialect.lockClause != "" {
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, 0)
				ON CONFLICT(key) DO NOTHING
			`), key, []byte{}); err != nil {
				return fmt.Errorf("failed to seed kv[%s]: %w", key, err)
			}
		}
		current, err := s.get(ctx, tx, key, s.dialect.lockClause)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			current = nil
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return s.set(ctx, tx, key, next)
	})
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
