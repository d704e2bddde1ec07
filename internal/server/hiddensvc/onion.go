package hiddensvc

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	onionVersion = 0x03
	onionSuffix  = ".onion"
)

var onionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OnionAddress derives the v3 onion address of pub:
// base32(pub ‖ checksum[:2] ‖ version) + ".onion", lower case.
func OnionAddress(pub ed25519.PublicKey) string {
	sum := onionChecksum(pub)

	raw := make([]byte, 0, ed25519.PublicKeySize+3)
	raw = append(raw, pub...)
	raw = append(raw, sum[:2]...)
	raw = append(raw, onionVersion)

	return strings.ToLower(onionEncoding.EncodeToString(raw)) + onionSuffix
}

// ValidOnionAddress checks length, version and checksum of a v3 address.
func ValidOnionAddress(addr string) bool {
	host, ok := strings.CutSuffix(addr, onionSuffix)
	if !ok || len(host) != 56 {
		return false
	}
	raw, err := onionEncoding.DecodeString(strings.ToUpper(host))
	if err != nil || len(raw) != ed25519.PublicKeySize+3 {
		return false
	}
	pub := raw[:ed25519.PublicKeySize]
	if raw[len(raw)-1] != onionVersion {
		return false
	}
	sum := onionChecksum(pub)
	return bytes.Equal(raw[ed25519.PublicKeySize:ed25519.PublicKeySize+2], sum[:2])
}

func onionChecksum(pub []byte) []byte {
	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(pub)
	h.Write([]byte{onionVersion})
	return h.Sum(nil)
}

// KeyBlob renders priv in the form ADD_ONION expects: the expanded,
// clamped ed25519 secret key, base64 encoded.
func KeyBlob(priv ed25519.PrivateKey) string {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return "ED25519-V3:" + base64.StdEncoding.EncodeToString(h[:])
}
