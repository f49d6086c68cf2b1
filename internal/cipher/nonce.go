// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package cipher

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

// NonceSource derives the GCM nonce for a plaintext. Implementations must be
// deterministic for equality lookups on ciphertext to work.
type NonceSource interface {
	Nonce(plaintext []byte) [NonceSize]byte
}

// HashNonce uses the first 12 bytes of SHA-256(plaintext).
type HashNonce struct{}

// Nonce implements NonceSource.
func (HashNonce) Nonce(plaintext []byte) [NonceSize]byte {
	var n [NonceSize]byte
	sum := sha256.Sum256(plaintext)
	copy(n[:], sum[:NonceSize])
	return n
}

// nonceInfo separates the nonce subkey from any other key derived from the
// same encryption key.
const nonceInfo = "sokoni/cipher/nonce/v1"

// KeyedNonce uses HMAC-SHA256 under a subkey derived from the encryption key
// with HKDF. Unlike HashNonce, the nonce cannot be computed without the key.
type KeyedNonce struct {
	subkey []byte
}

// NewKeyedNonce derives the HMAC subkey from key.
func NewKeyedNonce(key Key) (*KeyedNonce, error) {
	subkey := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, key[:], nil, []byte(nonceInfo))
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, oops.Code("CIPHER_INIT_FAILED").With("operation", "derive nonce subkey").Wrap(err)
	}
	return &KeyedNonce{subkey: subkey}, nil
}

// Nonce implements NonceSource.
func (k *KeyedNonce) Nonce(plaintext []byte) [NonceSize]byte {
	var n [NonceSize]byte
	mac := hmac.New(sha256.New, k.subkey)
	_, _ = mac.Write(plaintext)
	copy(n[:], mac.Sum(nil))
	return n
}

// Nonce policy names accepted by NewNonceSource.
const (
	NonceSHA256 = "sha256"
	NonceHMAC   = "hmac"
)

// NewNonceSource returns the NonceSource registered under name.
func NewNonceSource(name string, key Key) (NonceSource, error) {
	switch name {
	case "", NonceSHA256:
		return HashNonce{}, nil
	case NonceHMAC:
		return NewKeyedNonce(key)
	default:
		return nil, oops.Code("CIPHER_NONCE_UNKNOWN").With("nonce", name).Errorf("unknown nonce policy %q", name)
	}
}
