package hiddensvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/kv"
)

// Record is the persisted form of a hidden address. The private key only
// ever leaves memory sealed.
type Record struct {
	models.HiddenAddress
	SealedKey []byte `json:"sealedKey"`
}

// Repository stores one Record per user.
type Repository interface {
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*Record, error)
}

const kvPrefix = "hs/"

// KVRepository keeps records in the shared kv.Store under hs/<userId>.
type KVRepository struct {
	store kv.Store
}

func NewKVRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

func (r *KVRepository) Save(ctx context.Context, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Apply(ctx, kv.Put(kvPrefix+rec.UserID, b))
}

func (r *KVRepository) Delete(ctx context.Context, userID string) error {
	return r.store.Apply(ctx, kv.Del(kvPrefix+userID))
}

func (r *KVRepository) List(ctx context.Context) ([]*Record, error) {
	var (
		out       []*Record
		decodeErr error
	)
	err := r.store.Scan(ctx, kvPrefix, func(key string, value []byte) bool {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", key, err)
			return false
		}
		out = append(out, &rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}
