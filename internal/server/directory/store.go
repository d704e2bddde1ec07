// Package directory resolves users by username, user id or network address.
//
// Each record is written three times, once per lookup key, under
// dir/<tag>/<sha256 hex> with the tag repeated inside the value. All writes
// and deletes touching one user go through a single kv batch, so the three
// entries never disagree after a failure.
package directory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/kv"
)

const keyPrefix = "dir/"

const (
	tagUsername = "username"
	tagUserID   = "userId"
	tagAddress  = "address"
)

type entry struct {
	Type   string             `json:"type"`
	Record *models.UserRecord `json:"record"`
}

// Store is the directory. Every write, including the read-modify-write
// cycles of Update and Modify, is serialized by mu.
type Store struct {
	mu     sync.Mutex
	kv     kv.Store
	logger logging.Logger
}

func NewStore(s kv.Store, logger logging.Logger) *Store {
	return &Store{kv: s, logger: logger.With("module", "directory")}
}

// Fingerprint is the hex SHA-256 of v.
func Fingerprint(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func key(tag, v string) string {
	if tag == tagUsername {
		v = strings.ToLower(v)
	}
	return keyPrefix + tag + "/" + Fingerprint(v)
}

// Store writes rec under all of its keys. Entries of the same user are
// overwritten; stale keys from an earlier version of the record are left
// alone (use Update for that). A username or address indexed for another
// user is rejected with common.ErrorAlreadyExists.
func (s *Store) Store(ctx context.Context, rec *models.UserRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(ctx, rec); err != nil {
		return err
	}
	ops, err := putOps(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Apply(ctx, ops...); err != nil {
		return err
	}

	s.logger.Debug(ctx, "user stored", "user_id", rec.UserID)
	return nil
}

// Update replaces the stored record for rec.UserID. Index entries for the
// previous address and username are dropped in the same batch, so an old
// address never resolves to the user after rotation.
func (s *Store) Update(ctx context.Context, rec *models.UserRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	_, err := s.Modify(ctx, rec.UserID, func(*models.UserRecord) (*models.UserRecord, error) {
		return rec, nil
	})
	return err
}

// Modify reads the record of userID, hands a copy to fn (nil for an unknown
// user) and writes the record fn returns, with the same key handling as
// Update. The whole cycle holds the store lock. A nil record from fn
// leaves the store untouched and Modify returns nil.
func (s *Store) Modify(ctx context.Context, userID string,
	fn func(cur *models.UserRecord) (*models.UserRecord, error)) (*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, found, err := s.find(ctx, key(tagUserID, userID))
	if err != nil {
		return nil, err
	}

	rec, err := fn(old.Clone())
	if err != nil || rec == nil {
		return nil, err
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("%w: user id cannot change", common.ErrorValidation)
	}
	if err := s.checkOwner(ctx, rec); err != nil {
		return nil, err
	}

	var ops []kv.Op
	if found {
		if old.NetworkAddress != "" && old.NetworkAddress != rec.NetworkAddress {
			del, err := s.staleKey(ctx, tagAddress, old.NetworkAddress, userID)
			if err != nil {
				return nil, err
			}
			ops = append(ops, del...)
		}
		if !strings.EqualFold(old.Username, rec.Username) {
			del, err := s.staleKey(ctx, tagUsername, old.Username, userID)
			if err != nil {
				return nil, err
			}
			ops = append(ops, del...)
		}
	}

	puts, err := putOps(rec)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Apply(ctx, append(ops, puts...)...); err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "user updated", "user_id", rec.UserID, "address_changed", found && old.NetworkAddress != rec.NetworkAddress)
	return rec.Clone(), nil
}

// checkOwner fails when rec's username or address resolves to a different
// user.
func (s *Store) checkOwner(ctx context.Context, rec *models.UserRecord) error {
	keys := []struct{ tag, value string }{
		{tagUsername, rec.Username},
		{tagAddress, rec.NetworkAddress},
	}
	for _, k := range keys {
		if k.value == "" {
			continue
		}
		owner, found, err := s.find(ctx, key(k.tag, k.value))
		if err != nil {
			return err
		}
		if found && owner.UserID != rec.UserID {
			return fmt.Errorf("%w: %s %q belongs to another user", common.ErrorAlreadyExists, k.tag, k.value)
		}
	}
	return nil
}

// staleKey returns the delete for key(tag, value) when it still points at
// userID.
func (s *Store) staleKey(ctx context.Context, tag, value, userID string) ([]kv.Op, error) {
	k := key(tag, value)
	owner, found, err := s.find(ctx, k)
	if err != nil {
		return nil, err
	}
	if !found || owner.UserID != userID {
		return nil, nil
	}
	return []kv.Op{kv.Del(k)}, nil
}

// Remove deletes every index entry of the user. It reports false for an
// unknown id.
func (s *Store) Remove(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, found, err := s.find(ctx, key(tagUserID, userID))
	if err != nil || !found {
		return false, err
	}

	ops := []kv.Op{kv.Del(key(tagUserID, old.UserID))}
	del, err := s.staleKey(ctx, tagUsername, old.Username, userID)
	if err != nil {
		return false, err
	}
	ops = append(ops, del...)
	if old.NetworkAddress != "" {
		del, err := s.staleKey(ctx, tagAddress, old.NetworkAddress, userID)
		if err != nil {
			return false, err
		}
		ops = append(ops, del...)
	}
	if err := s.kv.Apply(ctx, ops...); err != nil {
		return false, err
	}

	s.logger.Debug(ctx, "user removed", "user_id", userID)
	return true, nil
}

// FindByUsername is case-insensitive.
func (s *Store) FindByUsername(ctx context.Context, username string) (*models.UserRecord, bool, error) {
	return s.find(ctx, key(tagUsername, username))
}

func (s *Store) FindByUserID(ctx context.Context, userID string) (*models.UserRecord, bool, error) {
	return s.find(ctx, key(tagUserID, userID))
}

func (s *Store) FindByNetworkAddress(ctx context.Context, addr string) (*models.UserRecord, bool, error) {
	if addr == "" {
		return nil, false, nil
	}
	return s.find(ctx, key(tagAddress, addr))
}

// All yields each user once. Every range over the result rescans the
// store. A decode or storage error is yielded once and ends the sequence.
func (s *Store) All(ctx context.Context) iter.Seq2[*models.UserRecord, error] {
	return func(yield func(*models.UserRecord, error) bool) {
		var decodeErr error
		stopped := false

		err := s.kv.Scan(ctx, keyPrefix+tagUserID+"/", func(k string, v []byte) bool {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				decodeErr = fmt.Errorf("decode %s: %w", k, err)
				return false
			}
			if e.Type != tagUserID || e.Record == nil {
				return true
			}
			if !yield(e.Record, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if decodeErr != nil {
			err = decodeErr
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (s *Store) find(ctx context.Context, k string) (*models.UserRecord, bool, error) {
	raw, err := s.kv.Get(ctx, k)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", k, err)
	}
	if e.Record == nil {
		return nil, false, nil
	}
	return e.Record, true, nil
}

func putOps(rec *models.UserRecord) ([]kv.Op, error) {
	tags := []struct{ tag, value string }{
		{tagUsername, rec.Username},
		{tagUserID, rec.UserID},
		{tagAddress, rec.NetworkAddress},
	}

	ops := make([]kv.Op, 0, len(tags))
	for _, t := range tags {
		if t.value == "" {
			continue
		}
		b, err := json.Marshal(entry{Type: t.tag, Record: rec})
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.Put(key(t.tag, t.value), b))
	}
	return ops, nil
}

func validate(rec *models.UserRecord) error {
	if rec == nil || rec.Username == "" || rec.UserID == "" {
		return fmt.Errorf("%w: username and user id are required", common.ErrorValidation)
	}
	return nil
}
