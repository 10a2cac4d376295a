// Copyright (C) 2026 diggi-project contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package aead provides the pluggable AEAD collaborator the secure
// message layer seals and opens session traffic through, plus the
// default chacha20poly1305 implementation with key material held in a
// memguard-locked buffer rather than a bare byte slice.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// Status mirrors the tri-state result the original crypto collaborator
// interface returns: a caller must distinguish "the MAC didn't verify"
// from "the underlying primitive errored" to decide whether to treat a
// peer as compromised or simply retry.
type Status int

const (
	OK Status = iota
	AuthFail
	Error
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case AuthFail:
		return "AUTH_FAIL"
	default:
		return "ERROR"
	}
}

// NonceSize and TagSize describe the wire geometry callers (smm) need to
// size their envelopes without importing chacha20poly1305 directly.
const (
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead
	KeySize   = chacha20poly1305.KeySize
)

// AEAD is the pluggable sealing collaborator. A session's KeyCtx owns
// one AEAD instance constructed over its negotiated symmetric key.
type AEAD interface {
	// Seal encrypts plaintext, authenticating additionalData, and
	// returns ciphertext||tag.
	Seal(nonce, plaintext, additionalData []byte) ([]byte, Status)
	// Open authenticates and decrypts ciphertext||tag, returning the
	// plaintext. A bad tag is reported as AuthFail, never Error.
	Open(nonce, ciphertext, additionalData []byte) ([]byte, Status)
}

// ChaCha20Poly1305 is the default AEAD, keyed by a memguard-locked
// 32-byte key that is wiped when Destroy is called (session teardown on
// AuthFail or nonce-space exhaustion).
type ChaCha20Poly1305 struct {
	key *memguard.LockedBuffer
	aed cipher.AEAD
}

// NewChaCha20Poly1305 constructs an AEAD over key, which must be exactly
// KeySize bytes. key is copied into locked memory and the caller's slice
// is then wiped (memguard.NewBufferFromBytes zeroes its source), so a
// caller that needs the key again must pass a copy.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	locked := memguard.NewBufferFromBytes(key)
	aed, err := chacha20poly1305.NewX(locked.Bytes())
	if err != nil {
		locked.Destroy()
		return nil, err
	}
	return &ChaCha20Poly1305{key: locked, aed: aed}, nil
}

// GenerateKey returns KeySize fresh random bytes suitable for
// NewChaCha20Poly1305.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *ChaCha20Poly1305) Seal(nonce, plaintext, additionalData []byte) ([]byte, Status) {
	if len(nonce) != NonceSize {
		return nil, Error
	}
	return c.aed.Seal(nil, nonce, plaintext, additionalData), OK
}

func (c *ChaCha20Poly1305) Open(nonce, ciphertext, additionalData []byte) ([]byte, Status) {
	if len(nonce) != NonceSize {
		return nil, Error
	}
	pt, err := c.aed.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, AuthFail
	}
	return pt, OK
}

// Destroy wipes the locked key buffer. Must be called exactly once when
// the owning KeyCtx tears down.
func (c *ChaCha20Poly1305) Destroy() {
	c.key.Destroy()
}
