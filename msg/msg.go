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
	"encoding/binary"
	"fmt"

	"github.com/diggi-project/diggicore/mbuf"
)

// Type is the msg_type_t of the original runtime, narrowed to the kinds the
// trusted-runtime core itself interprets. External-collaborator kinds
// (file/net/SQL opcodes in the original datatypes.h) are not modeled here
// and are carried only as an opaque >= UserType range so a host process
// can still round-trip them through the ring/AMM without the core needing
// to know their meaning.
type Type uint32

const (
	SessionRequest Type = iota
	Regular
	SignalExit

	// UserType is the first value external collaborators may use for their
	// own message kinds; the core never interprets values >= UserType.
	UserType Type = 1 << 16
)

func (t Type) String() string {
	switch t {
	case SessionRequest:
		return "SESSION_REQUEST"
	case Regular:
		return "REGULAR"
	case SignalExit:
		return "SIGNAL_EXIT"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Delivery is msg_delivery_t.
type Delivery uint8

const (
	Cleartext Delivery = iota
	Encrypted
)

func (d Delivery) String() string {
	if d == Encrypted {
		return "ENCRYPTED"
	}
	return "CLEARTEXT"
}

// HeaderSize is sizeof(msg_t) in the original runtime: a fixed 128-byte
// header regardless of payload length. Size is always >= HeaderSize.
const HeaderSize = 128

// EvidenceHashSize is the width of the dynamic-measurement hash carried on
// every message (sha256_current_evidence_hash in datatypes.h).
const EvidenceHashSize = 32

// Msg is a single message: the fixed header fields plus a variable payload.
// The zero value is not valid; use an AMM/SMM/Pool allocator.
type Msg struct {
	Type         Type
	Src          Aid
	Dest         Aid
	ID           uint64
	Size         uint32 // total bytes including the 128-byte header
	SessionCount uint64
	Delivery     Delivery
	EvidenceHash [EvidenceHashSize]byte
	OmitFromLog  bool
	Payload      []byte
}

// PayloadSize returns the number of payload bytes implied by Size.
func (m *Msg) PayloadSize() int {
	if int(m.Size) < HeaderSize {
		return 0
	}
	return int(m.Size) - HeaderSize
}

// Encode writes the packed little-endian wire representation (header then
// payload) into dst, growing it if necessary, and returns the slice used.
// When m.Size declares more bytes than the header plus len(m.Payload),
// the result is m.Size bytes long and the missing payload bytes are
// zero-filled, so the wire length matches the declared Size.
func (m *Msg) Encode(dst []byte) []byte {
	total := HeaderSize + len(m.Payload)
	if int(m.Size) > total {
		total = int(m.Size)
	}
	if cap(dst) < total {
		dst = make([]byte, total)
	}
	dst = dst[:total]

	binary.LittleEndian.PutUint32(dst[0:4], uint32(m.Type))
	binary.LittleEndian.PutUint64(dst[4:12], m.Src.Raw())
	binary.LittleEndian.PutUint64(dst[12:20], m.Dest.Raw())
	binary.LittleEndian.PutUint64(dst[20:28], m.ID)
	binary.LittleEndian.PutUint32(dst[28:32], m.Size)
	binary.LittleEndian.PutUint64(dst[32:40], m.SessionCount)
	dst[40] = byte(m.Delivery)
	if m.OmitFromLog {
		dst[41] = 1
	} else {
		dst[41] = 0
	}
	copy(dst[42:42+EvidenceHashSize], m.EvidenceHash[:])
	// dst[74:128] is reserved padding, always zeroed.
	for i := 42 + EvidenceHashSize; i < HeaderSize; i++ {
		dst[i] = 0
	}
	copy(dst[HeaderSize:], m.Payload)
	for i := HeaderSize + len(m.Payload); i < total; i++ {
		dst[i] = 0
	}
	return dst
}

// Decode parses a packed wire message. The returned Msg's Payload aliases
// buf — callers that need the bytes to outlive buf must copy.
func Decode(buf []byte) (*Msg, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("msg: short buffer: %d bytes < header size %d", len(buf), HeaderSize)
	}
	m := &Msg{
		Type:         Type(binary.LittleEndian.Uint32(buf[0:4])),
		Src:          AidFromRaw(binary.LittleEndian.Uint64(buf[4:12])),
		Dest:         AidFromRaw(binary.LittleEndian.Uint64(buf[12:20])),
		ID:           binary.LittleEndian.Uint64(buf[20:28]),
		Size:         binary.LittleEndian.Uint32(buf[28:32]),
		SessionCount: binary.LittleEndian.Uint64(buf[32:40]),
		Delivery:     Delivery(buf[40]),
		OmitFromLog:  buf[41] != 0,
	}
	copy(m.EvidenceHash[:], buf[42:42+EvidenceHashSize])
	if int(m.Size) < HeaderSize {
		return nil, fmt.Errorf("msg: invalid size %d (< header size %d)", m.Size, HeaderSize)
	}
	if len(buf) < int(m.Size) {
		return nil, fmt.Errorf("msg: short buffer: %d bytes < declared size %d", len(buf), m.Size)
	}
	m.Payload = buf[HeaderSize:m.Size]
	return m, nil
}

// EncryptedEnvelope is the wire layout carried as the payload of an
// ENCRYPTED message: {u32 session_id; u32 tag_len; u8[16] iv_reserved;
// u8[tag_len] tag; u8[...] ciphertext}.
type EncryptedEnvelope struct {
	SessionID  uint32
	TagLen     uint32
	IVReserved [16]byte
	Tag        []byte
	Ciphertext []byte
}

// Marshal assembles the wire envelope through the same zero-copy chain
// the rest of the core moves payload bytes with: the fixed header is one
// freshly owned chunk, and the tag/ciphertext are adopted by reference
// (owns=true — Marshal is the last use either slice sees) rather than
// copied into a combined buffer, with only the final Bytes() call
// flattening the chain for the wire.
func (e *EncryptedEnvelope) Marshal() []byte {
	head := make([]byte, 4+4+16)
	binary.LittleEndian.PutUint32(head[0:4], e.SessionID)
	binary.LittleEndian.PutUint32(head[4:8], e.TagLen)
	copy(head[8:24], e.IVReserved[:])

	z := mbuf.New(head)
	z.Append(e.Tag, true)
	z.Append(e.Ciphertext, true)
	return z.Bytes()
}

func UnmarshalEncryptedEnvelope(buf []byte) (*EncryptedEnvelope, error) {
	if len(buf) < 24 {
		return nil, fmt.Errorf("msg: encrypted envelope too short: %d bytes", len(buf))
	}
	e := &EncryptedEnvelope{
		SessionID: binary.LittleEndian.Uint32(buf[0:4]),
		TagLen:    binary.LittleEndian.Uint32(buf[4:8]),
	}
	copy(e.IVReserved[:], buf[8:24])
	rest := buf[24:]
	if uint32(len(rest)) < e.TagLen {
		return nil, fmt.Errorf("msg: encrypted envelope truncated tag: need %d have %d", e.TagLen, len(rest))
	}
	e.Tag = rest[:e.TagLen]
	e.Ciphertext = rest[e.TagLen:]
	return e, nil
}
