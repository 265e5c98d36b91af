// Package storage is the Persistence Gateway (C12): a PostgreSQL-backed
// implementation of every narrow storage interface the other packages
// declare (monitor.Writer, monitor.HistoryReader, scheduler.ExecutionStore,
// tokenstore.Store), plus the file-metadata and RAID-snapshot tables that
// have no other home. One *sqlx.DB connection pool, driven by pgx/v5's
// stdlib adapter, is shared by every writer and reader.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/baluhost/baluhost/internal/baluerr"
)

// Config wires the pool's connection and sizing parameters.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string // defaults to the embedded-adjacent "migrations" dir
}

// Open connects to PostgreSQL, applies pending goose migrations, and
// verifies every previously-applied migration's on-disk checksum still
// matches what was recorded when it ran — goose tracks *that* a version
// applied, not whether the file backing it was edited afterward, so a
// mismatch here means the schema and the migration source have drifted
// and the process refuses to start rather than run against an unknown
// schema.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "internal/storage/migrations"
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := migrate(ctx, db.DB, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, err
	}
	if err := verifyChecksums(ctx, db.DB, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, dir string) error {
	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.migrate", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.migrate", err)
	}
	return recordChecksums(ctx, db, dir)
}

// recordChecksums upserts the sha256 of every migration file currently
// on disk into the side table goose doesn't maintain on its own.
func recordChecksums(ctx context.Context, db *sql.DB, dir string) error {
	if _, err := db.ExecContext(ctx, createChecksumTableSQL); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.recordChecksums", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		sum, err := checksumFile(f)
		if err != nil {
			return err
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO schema_migrations_checksum (filename, checksum)
			VALUES ($1, $2)
			ON CONFLICT (filename) DO NOTHING`,
			filepath.Base(f), sum)
		if err != nil {
			return baluerr.Wrap(baluerr.KindIO, "storage.recordChecksums", err)
		}
	}
	return nil
}

// verifyChecksums re-hashes every migration file on disk and compares it
// against what was recorded the first time that file was applied. A
// mismatch means the migration was edited after being applied against
// this database — refusing to start is safer than guessing which
// version of the schema is actually live.
func verifyChecksums(ctx context.Context, db *sql.DB, dir string) error {
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT filename, checksum FROM schema_migrations_checksum`)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.verifyChecksums", err)
	}
	defer rows.Close()

	recorded := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return baluerr.Wrap(baluerr.KindIO, "storage.verifyChecksums", err)
		}
		recorded[name] = sum
	}
	if err := rows.Err(); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.verifyChecksums", err)
	}

	for _, f := range files {
		name := filepath.Base(f)
		want, ok := recorded[name]
		if !ok {
			continue // no recorded checksum to compare against
		}
		got, err := checksumFile(f)
		if err != nil {
			return err
		}
		if got != want {
			return baluerr.New(baluerr.KindCorrupted, "storage.verifyChecksums",
				fmt.Sprintf("migration %s was modified after being applied (recorded %s, on disk %s)", name, want, got))
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.migrationFiles", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", baluerr.Wrap(baluerr.KindIO, "storage.checksumFile", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

const createChecksumTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations_checksum (
	filename TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
