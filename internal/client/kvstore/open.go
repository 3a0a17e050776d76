package kvstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Open connects to the store selected by driver and prepares it for use.
// For SQL drivers the schema migrations are applied.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// a single connection serialises writers, which SQLite needs anyway
		db.SetMaxOpenConns(1)
		return openSQL(ctx, db, SQLite)

	case DriverPostgres, "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return openSQL(ctx, db, Postgres)

	case DriverRedis:
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(rdb, "fleetsync:"), nil

	case DriverMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func openSQL(ctx context.Context, db *sql.DB, d Dialect) (Store, error) {
	s := NewSQLStore(db, d)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
