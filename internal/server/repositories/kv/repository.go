// Package kv is the byte-oriented key-value layer under the directory and
// the hidden-address records. Backends: embedded BadgerDB and PostgreSQL.
package kv

import "context"

// Op is a single write inside an atomic batch. Delete ignores Value.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put builds a write op.
func Put(key string, value []byte) Op { return Op{Key: key, Value: value} }

// Del builds a delete op.
func Del(key string) Op { return Op{Key: key, Delete: true} }

// Store is implemented by every backend.
//
// Get returns common.ErrorNotFound for a missing key. Apply commits all ops
// or none. Scan visits keys with the given prefix in key order until fn
// returns false. I/O failures wrap common.ErrorStorageUnavailable.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Apply(ctx context.Context, ops ...Op) error
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
	Close() error
}
