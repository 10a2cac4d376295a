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

package aead

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	a, err := NewChaCha20Poly1305(key)
	require.NoError(t, err)
	defer a.Destroy()

	nonce := make([]byte, NonceSize)
	ct, status := a.Seal(nonce, []byte("secret"), []byte("aad"))
	require.Equal(t, OK, status)

	pt, status := a.Open(nonce, ct, []byte("aad"))
	require.Equal(t, OK, status)
	require.Equal(t, "secret", string(pt))
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := NewChaCha20Poly1305(key)
	defer a.Destroy()

	nonce := make([]byte, NonceSize)
	ct, _ := a.Seal(nonce, []byte("secret"), nil)
	ct[0] ^= 0xFF

	_, status := a.Open(nonce, ct, nil)
	require.Equal(t, AuthFail, status)
}

func TestOpenRejectsWrongAdditionalData(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := NewChaCha20Poly1305(key)
	defer a.Destroy()

	nonce := make([]byte, NonceSize)
	ct, _ := a.Seal(nonce, []byte("secret"), []byte("aad-a"))
	_, status := a.Open(nonce, ct, []byte("aad-b"))
	require.Equal(t, AuthFail, status)
}

func TestNewChaCha20Poly1305RejectsBadKeySize(t *testing.T) {
	_, err := NewChaCha20Poly1305(make([]byte, 10))
	require.Error(t, err)
}
