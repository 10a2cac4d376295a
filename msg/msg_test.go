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

package msg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAidRawRoundTrip(t *testing.T) {
	a := Aid{Proc: 1, Enclave: 2, Lib: 3, Thread: 4, AttGroup: 5, Host: 6, Type: Lib}
	got := AidFromRaw(a.Raw())
	require.True(t, a.Equal(got))
	require.Equal(t, a, got)
}

func TestAidInstanceClearsThread(t *testing.T) {
	a := Aid{Thread: 7, Type: Enclave}
	inst := a.Instance()
	require.Equal(t, uint8(0), inst.Thread)
	require.False(t, a.Equal(inst))
}

func TestMsgEncodeDecodeRoundTrip(t *testing.T) {
	m := &Msg{
		Type:         Regular,
		Src:          Aid{Proc: 1, Type: Lib},
		Dest:         Aid{Proc: 2, Type: Enclave},
		ID:           42,
		SessionCount: 7,
		Delivery:     Cleartext,
		Payload:      []byte("hello world"),
	}
	m.Size = uint32(HeaderSize + len(m.Payload))
	wire := m.Encode(nil)
	require.Len(t, wire, HeaderSize+len(m.Payload))

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, m.Type, got.Type)
	require.True(t, m.Src.Equal(got.Src))
	require.True(t, m.Dest.Equal(got.Dest))
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, m.SessionCount, got.SessionCount)
	require.Equal(t, m.Delivery, got.Delivery)
	require.True(t, bytes.Equal(m.Payload, got.Payload))
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	m := &Msg{Size: HeaderSize + 10}
	wire := m.Encode(nil)
	_, err := Decode(wire[:HeaderSize+3])
	require.Error(t, err)
}

func TestEncryptedEnvelopeRoundTrip(t *testing.T) {
	e := &EncryptedEnvelope{
		SessionID:  9,
		TagLen:     16,
		Tag:        bytes.Repeat([]byte{0xAA}, 16),
		Ciphertext: []byte("ciphertext-bytes"),
	}
	buf := e.Marshal()
	got, err := UnmarshalEncryptedEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, e.SessionID, got.SessionID)
	require.Equal(t, e.TagLen, got.TagLen)
	require.True(t, bytes.Equal(e.Tag, got.Tag))
	require.True(t, bytes.Equal(e.Ciphertext, got.Ciphertext))
}

func TestUnmarshalEncryptedEnvelopeRejectsShort(t *testing.T) {
	_, err := UnmarshalEncryptedEnvelope(make([]byte, 10))
	require.Error(t, err)
}
