package cacheinfra

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// MemoryPath opens a private in-memory database. Useful for tests and for
// running without durability.
const MemoryPath = ":memory:"

// Open opens (or creates) the SQLite database at path and applies the schema.
// The connection pool is pinned to a single connection; SQLite serialises
// writers anyway and this keeps in-memory databases alive.
func Open(ctx context.Context, path string) (*bun.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := MemoryPath
	if path != MemoryPath {
		dsn = "file:" + filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Migrate creates the cache and queue tables and their indexes if missing.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*entryModel)(nil),
		(*queueModel)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*entryModel)(nil), "idx_cache_entries_tenant", []string{"tenant_id", "cache_key"}},
		{(*entryModel)(nil), "idx_cache_entries_created_at", []string{"created_at"}},
		{(*entryModel)(nil), "idx_cache_entries_expires_at", []string{"expires_at"}},
		{(*entryModel)(nil), "idx_cache_entries_last_access", []string{"priority", "last_access"}},
		{(*queueModel)(nil), "idx_offline_queue_tenant", []string{"tenant_id"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
