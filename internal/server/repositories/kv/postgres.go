package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/dbx"
)

// PostgresStore keeps entries in the kv_entries table created by the
// embedded migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query :=
		`SELECT value FROM kv_entries
		 WHERE key = $1
		 `

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorStorageUnavailable, err)
	}

	return value, nil
}

func (s *PostgresStore) Apply(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	upsert :=
		`INSERT INTO kv_entries (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		 `
	del := `DELETE FROM kv_entries WHERE key = $1`

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				_, err = tx.ExecContext(ctx, del, op.Key)
			} else {
				_, err = tx.ExecContext(ctx, upsert, op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: db error: %w", common.ErrorStorageUnavailable, err)
	}

	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	query :=
		`SELECT key, value FROM kv_entries
		 WHERE key LIKE $1
		 ORDER BY key
		 `

	rows, err := s.db.QueryContext(ctx, query, likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("%w: db error: %w", common.ErrorStorageUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("%w: db error: %w", common.ErrorStorageUnavailable, err)
		}
		if !fn(key, value) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: db error: %w", common.ErrorStorageUnavailable, err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// likePrefix escapes LIKE wildcards so the prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
