// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package cipher implements the reversible credential encryption used to
// store and look up passwords.
//
// Encryption is deterministic: the nonce is derived from the plaintext by a
// NonceSource, so equal plaintexts always produce equal ciphertexts. This is
// what allows the user store to find a user by ciphertext equality. It also
// means ciphertexts leak plaintext equality; the NonceSource is the one place
// to change that policy.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/samber/oops"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// NonceSize is the GCM standard nonce length in bytes.
const NonceSize = 12

// ErrDecrypt is the only error Decrypt returns. Malformed encoding, short
// input and authentication failure are deliberately indistinguishable.
var ErrDecrypt = errors.New("decrypt failed")

// Cipher encrypts and decrypts credential strings.
type Cipher interface {
	Encrypt(plaintext string) string
	Decrypt(ciphertext string) (string, error)
}

// Key is a raw AES-256 key.
type Key [KeySize]byte

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, oops.Code("CIPHER_KEY_INVALID").Wrapf(err, "encryption key is not valid hex")
	}
	if len(raw) != KeySize {
		return k, oops.Code("CIPHER_KEY_INVALID").
			With("length", len(raw)).
			Errorf("encryption key must be %d bytes", KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// GenerateKey returns a random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, oops.Code("CIPHER_KEY_GENERATE_FAILED").Wrap(err)
	}
	return k, nil
}

// Hex returns the encoding accepted by ParseKey.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// AESGCM is a Cipher using AES-256-GCM with a deterministic nonce.
// The encoded form is base64(nonce || ciphertext || tag).
type AESGCM struct {
	aead  stdcipher.AEAD
	nonce NonceSource
}

var _ Cipher = (*AESGCM)(nil)

// Option configures an AESGCM.
type Option func(*AESGCM)

// WithNonceSource replaces the default HashNonce policy.
func WithNonceSource(src NonceSource) Option {
	return func(c *AESGCM) {
		if src != nil {
			c.nonce = src
		}
	}
}

// New creates an AESGCM cipher for key.
func New(key Key, opts ...Option) (*AESGCM, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, oops.Code("CIPHER_INIT_FAILED").Wrap(err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, oops.Code("CIPHER_INIT_FAILED").Wrap(err)
	}

	c := &AESGCM{aead: aead, nonce: HashNonce{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encrypt returns the encoded ciphertext of plaintext. The result depends
// only on the key, the nonce policy and plaintext.
func (c *AESGCM) Encrypt(plaintext string) string {
	nonce := c.nonce.Nonce([]byte(plaintext))
	out := make([]byte, 0, NonceSize+len(plaintext)+c.aead.Overhead())
	out = append(out, nonce[:]...)
	out = c.aead.Seal(out, nonce[:], []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt. Any failure yields ErrDecrypt.
func (c *AESGCM) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < NonceSize+c.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
