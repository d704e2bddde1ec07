// Package cryptox seals secret material (hidden-address private keys) before
// it reaches durable storage.
package cryptox

import (
	"crypto/cipher"
	"errors"

	"github.com/dmitrijs2005/burrow/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealSalt is fixed: the derived key only has to be stable for one
// deployment secret, not unique per record.
var sealSalt = []byte("burrow/hidden-service-keys/v1")

var ErrSealedTooShort = errors.New("sealed data too short")

// DeriveMasterKey stretches password into a 32-byte key with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// Sealer encrypts small blobs with XChaCha20-Poly1305. The output layout is
// nonce ‖ ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	key := DeriveMasterKey(secret, sealSalt)
	defer common.WipeByteArray(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, binding it to ad (e.g. the owning user id).
func (s *Sealer) Seal(plaintext, ad []byte) []byte {
	nonce := common.GenerateRandByteArray(s.aead.NonceSize())
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, ad)
}

// Open reverses Seal. A wrong secret or mismatching ad fails authentication.
func (s *Sealer) Open(sealed, ad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrSealedTooShort
	}
	return s.aead.Open(nil, sealed[:ns], sealed[ns:], ad)
}
