// Package repomanager opens the configured storage backend, vends the
// key-value store built on it and runs schema migrations (via goose) where
// the backend needs them.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/burrow/internal/dbx"
	"github.com/dmitrijs2005/burrow/internal/filex"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/migrations"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/kv"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// openDB is a seam for testing dbx.Open.
var openDB = dbx.Open

// PostgresRepositoryManager vends the PostgreSQL-backed KV store and exposes
// a schema migration hook.
type PostgresRepositoryManager struct {
	db    *sql.DB
	store *kv.PostgresStore
}

// KV returns the kv.Store bound to the manager's database.
func (m *PostgresRepositoryManager) KV() kv.Store {
	return m.store
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the manager's database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

// Close releases the database handle.
func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{db: db, store: kv.NewPostgresStore(db)}, nil
}

// BadgerRepositoryManager vends an embedded BadgerDB store. It has no schema.
type BadgerRepositoryManager struct {
	store *kv.BadgerStore
}

// NewBadgerRepositoryManager opens badger in dataDir, or in memory when
// dataDir is empty.
func NewBadgerRepositoryManager(dataDir string, logger logging.Logger) (RepositoryManager, error) {
	if dataDir != "" {
		dir, err := filex.EnsureDir(dataDir)
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	s, err := kv.NewBadgerStore(dataDir, logger)
	if err != nil {
		return nil, err
	}
	return &BadgerRepositoryManager{store: s}, nil
}

func (m *BadgerRepositoryManager) KV() kv.Store                        { return m.store }
func (m *BadgerRepositoryManager) RunMigrations(context.Context) error { return nil }
func (m *BadgerRepositoryManager) Close() error                        { return m.store.Close() }
