package repomanager

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/kv"
)

// Storage backends accepted by Open.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

type RepositoryManager interface {
	RunMigrations(context.Context) error
	KV() kv.Store
	Close() error
}

// Open builds the manager for the configured backend. dataDir is used by
// badger (empty means in-memory), dsn by postgres.
func Open(ctx context.Context, backend, dataDir, dsn string, logger logging.Logger) (RepositoryManager, error) {
	switch backend {
	case BackendBadger, "":
		return NewBadgerRepositoryManager(dataDir, logger)
	case BackendPostgres:
		db, err := openDB(ctx, "pgx", dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepositoryManager(db)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
