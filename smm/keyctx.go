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

// Package smm implements the secure messaging layer: one KeyCtx per
// peer tracking handshake state and strict per-sender ordering, AEAD
// seal/open of session traffic, dynamic measurement hash chaining, and
// the session/attestation handshake that brings a KeyCtx from UNINIT to
// READY before any application message may flow.
package smm

import (
	"sync"

	"github.com/diggi-project/diggicore/aead"
	"github.com/diggi-project/diggicore/msg"
)

// HandshakeState is key_exchange_context_t's lifecycle.
type HandshakeState int

const (
	Uninit HandshakeState = iota
	Handshaking
	Ready
)

func (s HandshakeState) String() string {
	switch s {
	case Handshaking:
		return "HANDSHAKING"
	case Ready:
		return "READY"
	default:
		return "UNINIT"
	}
}

// KeyCtx is the per-peer session state: negotiated symmetric key,
// session counters, handshake state, the queue of messages held back
// while the handshake is in flight, and the reorder buffer that lets a
// strict per-sender FIFO survive messages arriving out of send order.
type KeyCtx struct {
	mu sync.Mutex

	Peer  msg.Aid
	State HandshakeState

	crypto    aead.AEAD
	sessionID uint64 // symmetric across both endpoints, fixed once per session

	outSessionCount uint64
	inSessionCount  uint64 // next session_count this peer expects to deliver

	pendingOut []func()
	reorder    map[uint64]*msg.EncryptedEnvelope

	measurement [32]byte
}

func newKeyCtx(peer msg.Aid) *KeyCtx {
	return &KeyCtx{
		Peer:    peer,
		State:   Uninit,
		reorder: make(map[uint64]*msg.EncryptedEnvelope),
	}
}

// QueueOut appends a send continuation to the pending-out queue for
// replay once the handshake completes, matching SGX_RECIEVEBUFSIZE-style
// buffering of application traffic sent before a session is established.
// A closure rather than a pre-built *msg.Msg is queued because the
// message cannot be encrypted (and so cannot exist on the wire) until
// the session key this handshake is negotiating is installed.
func (k *KeyCtx) QueueOut(send func()) {
	k.mu.Lock()
	k.pendingOut = append(k.pendingOut, send)
	k.mu.Unlock()
}

// DrainOut removes and returns every queued outbound send continuation,
// in the order they were queued, called once the handshake transitions
// to Ready.
func (k *KeyCtx) DrainOut() []func() {
	k.mu.Lock()
	out := k.pendingOut
	k.pendingOut = nil
	k.mu.Unlock()
	return out
}

// NextOutSessionCount allocates and returns the next outbound session
// counter value.
func (k *KeyCtx) NextOutSessionCount() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	c := k.outSessionCount
	k.outSessionCount++
	return c
}

// Destroy wipes the underlying AEAD key material and returns the KeyCtx
// to Uninit. Nothing in this package calls it: Decrypt on AuthFail and
// Encrypt on nonce wrap return their error and leave the KeyCtx and its
// key in place.
func (k *KeyCtx) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if d, ok := k.crypto.(interface{ Destroy() }); ok {
		d.Destroy()
	}
	k.crypto = nil
	k.State = Uninit
}
