package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
)

// BadgerStore keeps everything in an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a database in dir. An empty dir opens
// a purely in-memory database.
func NewBadgerStore(dir string, logger logging.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{l: logger.With("module", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageError(err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, storageError(err)
	}
	return value, nil
}

func (s *BadgerStore) Apply(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = txn.Delete([]byte(op.Key))
			} else {
				err = txn.Set([]byte(op.Key), op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *BadgerStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	p := []byte(prefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(string(item.KeyCopy(nil)), value) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return storageError(err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
}

// badgerLogger routes badger's printf-style logging into our logger.
// Info and debug chatter is dropped.
type badgerLogger struct {
	l logging.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(context.Background(), trim(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(context.Background(), trim(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(string, ...interface{})  {}
func (b *badgerLogger) Debugf(string, ...interface{}) {}

func trim(s string) string {
	return string(bytes.TrimRight([]byte(s), "\n"))
}
