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

package smm

import (
	"encoding/binary"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"github.com/diggi-project/diggicore/aead"
	"github.com/diggi-project/diggicore/attestation"
	"github.com/diggi-project/diggicore/diggierr"
	"github.com/diggi-project/diggicore/mbuf"
	"github.com/diggi-project/diggicore/metrics"
	"github.com/diggi-project/diggicore/msg"
)

// GroupKeyBundle is the trusted root's key material push to a newly
// attested peer, CBOR-tagged so it self-describes on the wire. The other
// envelopes this runtime emits (msg.EncryptedEnvelope, the Msg header)
// are fixed binary layouts without a tag.
type GroupKeyBundle struct {
	GroupID    uint64
	Key        []byte
	Generation uint64
}

// TagSet registers GroupKeyBundle under an unassigned CBOR tag number
// (IANA range 1401-18299); MarshalGroupKeyBundle and
// UnmarshalGroupKeyBundle encode and decode with this tag set.
var TagSet = cbor.NewTagSet()

func init() {
	TagSet.Add(
		cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
		reflect.TypeOf(GroupKeyBundle{}), 1500)
}

// MarshalGroupKeyBundle CBOR-encodes b with its registered tag.
func MarshalGroupKeyBundle(b *GroupKeyBundle) ([]byte, error) {
	em, err := cbor.EncOptions{}.EncModeWithTags(TagSet)
	if err != nil {
		return nil, err
	}
	return em.Marshal(b)
}

// UnmarshalGroupKeyBundle decodes a tagged GroupKeyBundle.
func UnmarshalGroupKeyBundle(data []byte) (*GroupKeyBundle, error) {
	dm, err := cbor.DecOptions{}.DecModeWithTags(TagSet)
	if err != nil {
		return nil, err
	}
	var b GroupKeyBundle
	if err := dm.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SMM is one thread's secure messaging layer: per-peer KeyCtx state plus
// the pluggable AEAD and attestation collaborators every session is
// established through.
type SMM struct {
	thr      int
	self     msg.Aid
	attester attestation.Provider
	stats    *metrics.SessionStats
	log      *log.Logger

	mu    sync.Mutex
	peers map[uint64]*KeyCtx
	names map[string]msg.Aid
}

// New constructs an SMM for thread thr, named self, using attester for
// session establishment.
func New(thr int, self msg.Aid, attester attestation.Provider, stats *metrics.SessionStats, logger *log.Logger) *SMM {
	if attester == nil {
		attester = attestation.Null{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SMM{
		thr:      thr,
		self:     self,
		attester: attester,
		stats:    stats,
		log:      logger.With("thread", thr),
		peers:    make(map[uint64]*KeyCtx),
		names:    make(map[string]msg.Aid),
	}
}

// RegisterName binds a human-readable name to peer in this thread's
// name-service map, the §4.4 name→Aid directory a higher layer can
// resolve a symbolic peer through instead of an Aid it must already
// know.
func (s *SMM) RegisterName(name string, peer msg.Aid) {
	s.mu.Lock()
	s.names[name] = peer
	s.mu.Unlock()
}

// Resolve looks up name in this thread's name-service map.
func (s *SMM) Resolve(name string) (msg.Aid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.names[name]
	return peer, ok
}

// Names returns a snapshot copy of this thread's name-service map.
func (s *SMM) Names() map[string]msg.Aid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]msg.Aid, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

func (s *SMM) keyCtx(peer msg.Aid) *KeyCtx {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.peers[peer.Raw()]
	if k == nil {
		k = newKeyCtx(peer)
		s.peers[peer.Raw()] = k
	}
	return k
}

// StartHandshake drives the client-initiator attestation flow for peer,
// transitioning its KeyCtx from UNINIT to HANDSHAKING immediately and to
// READY (with key installed) once the attester's continuation fires. Any
// sends queued via QueueOut/Send while HANDSHAKING are replayed, in
// queue order, before onReady is invoked.
func (s *SMM) StartHandshake(peer msg.Aid, onReady func(error)) {
	k := s.keyCtx(peer)
	k.mu.Lock()
	if k.State != Uninit {
		k.mu.Unlock()
		return
	}
	k.State = Handshaking
	k.mu.Unlock()

	s.attester.ClientInitiatorEntry(peer, func(res attestation.FlowResult) {
		if res.Err != nil || !res.Verified {
			k.mu.Lock()
			k.State = Uninit
			k.mu.Unlock()
			onReady(res.Err)
			return
		}
		key, err := s.deriveSessionKey(peer)
		if err != nil {
			onReady(err)
			return
		}
		impl, err := aead.NewChaCha20Poly1305(key)
		if err != nil {
			onReady(err)
			return
		}
		k.mu.Lock()
		k.crypto = impl
		k.sessionID = s.self.Raw() ^ peer.Raw()
		k.State = Ready
		k.mu.Unlock()
		if s.stats != nil {
			s.stats.Handshakes.Inc()
		}
		for _, send := range k.DrainOut() {
			send()
		}
		onReady(nil)
	})
}

// HandleSessionRequest drives the server-flow attestation entry for an
// inbound SESSION_REQUEST from peer. Queued sends are replayed the same
// way as in StartHandshake before onReady fires.
func (s *SMM) HandleSessionRequest(peer msg.Aid, challenge []byte, onReady func(error)) {
	k := s.keyCtx(peer)
	k.mu.Lock()
	k.State = Handshaking
	k.mu.Unlock()

	s.attester.ServerFlowEntry(peer, challenge, func(res attestation.FlowResult) {
		if res.Err != nil || !res.Verified {
			k.mu.Lock()
			k.State = Uninit
			k.mu.Unlock()
			onReady(res.Err)
			return
		}
		key, err := s.deriveSessionKey(peer)
		if err != nil {
			onReady(err)
			return
		}
		impl, err := aead.NewChaCha20Poly1305(key)
		if err != nil {
			onReady(err)
			return
		}
		k.mu.Lock()
		k.crypto = impl
		k.sessionID = s.self.Raw() ^ peer.Raw()
		k.State = Ready
		k.mu.Unlock()
		if s.stats != nil {
			s.stats.Handshakes.Inc()
		}
		for _, send := range k.DrainOut() {
			send()
		}
		onReady(nil)
	})
}

// Send implements the §4.4 SMM send contract for peer: sendFn runs
// immediately if the session is already READY; otherwise it is queued
// (kicking off the handshake first if peer is entirely unknown) and
// diggierr.ErrHandshakePending is returned, matching §7's "transparently
// queued" policy. sendFn is expected to perform its own allocate/encrypt/
// dispatch sequence, since that sequence can only run once a session key
// exists.
func (s *SMM) Send(peer msg.Aid, sendFn func()) error {
	k := s.keyCtx(peer)
	k.mu.Lock()
	state := k.State
	if state != Ready {
		k.pendingOut = append(k.pendingOut, sendFn)
	}
	k.mu.Unlock()

	switch state {
	case Ready:
		sendFn()
		return nil
	case Handshaking:
		return diggierr.ErrHandshakePending
	default:
		s.StartHandshake(peer, func(err error) {
			if err != nil {
				s.log.Error("handshake failed, queued sends stay pending", "peer", peer, "err", err)
			}
		})
		return diggierr.ErrHandshakePending
	}
}

// InstallSessionKey brings peer's KeyCtx straight to Ready under an
// externally supplied key, the path a GroupKeyBundle distributed by a
// trusted root takes once a peer has already been attested for the
// group: no further pairwise handshake is required before traffic can
// flow.
func (s *SMM) InstallSessionKey(peer msg.Aid, key []byte) error {
	impl, err := aead.NewChaCha20Poly1305(key)
	if err != nil {
		return err
	}
	k := s.keyCtx(peer)
	k.mu.Lock()
	k.crypto = impl
	k.sessionID = s.self.Raw() ^ peer.Raw()
	k.State = Ready
	k.mu.Unlock()
	if s.stats != nil {
		s.stats.Handshakes.Inc()
	}
	for _, send := range k.DrainOut() {
		send()
	}
	return nil
}

// nullDefaultKeyLabel seeds the deterministic key both endpoints derive
// when the attestation Provider cannot actually attest (the Null
// implementation): spec §4.5 calls null mode's key material "an
// implementation-defined default," not independently random material —
// two peers each calling aead.GenerateKey() would never agree on a key,
// so every ENCRYPTED message one side seals would fail AEAD-open on the
// other.
var nullDefaultKeyLabel = []byte("diggi-null-attestation-default-key")

// deriveSessionKey returns the key material a newly-verified handshake
// with peer should install. Under a Provider that cannot attest, both
// endpoints derive the same fixed default from the (order-independent)
// pair of Aids, so no cryptographic binding is implied; a real attester
// negotiates a key through its own evidence channel, so fresh random
// material stands in for that until a group key bundle supersedes it.
func (s *SMM) deriveSessionKey(peer msg.Aid) ([]byte, error) {
	if !s.attester.Attestable() {
		return nullModeKey(s.self, peer), nil
	}
	return aead.GenerateKey()
}

// nullModeKey hashes the label above together with self^peer — the same
// commutative pairing smm.sessionID uses — so either endpoint computes
// an identical result regardless of which side is "self" and which is
// "peer".
func nullModeKey(self, peer msg.Aid) []byte {
	h := sha3.New256()
	h.Write(nullDefaultKeyLabel)
	var pair [8]byte
	binary.LittleEndian.PutUint64(pair[:], self.Raw()^peer.Raw())
	h.Write(pair[:])
	return h.Sum(nil)
}

func nonceFromCounter(sessionID uint64, counter uint64) []byte {
	n := make([]byte, aead.NonceSize)
	binary.LittleEndian.PutUint64(n[0:8], sessionID)
	binary.LittleEndian.PutUint64(n[8:16], counter)
	return n
}

// Encrypt seals plaintext for peer under its KeyCtx's current session
// key, chaining the measurement hash and allocating the next outbound
// session_count. Returns diggierr.ErrHandshakePending if no session is
// established yet.
func (s *SMM) Encrypt(peer msg.Aid, plaintext []byte) (*msg.EncryptedEnvelope, uint64, error) {
	k := s.keyCtx(peer)
	k.mu.Lock()
	if k.State != Ready {
		k.mu.Unlock()
		return nil, 0, diggierr.ErrHandshakePending
	}
	crypto := k.crypto
	sessionID := k.sessionID
	counter := k.outSessionCount
	k.outSessionCount++
	if k.outSessionCount == 0 {
		k.mu.Unlock()
		return nil, 0, diggierr.ErrNonceWrap
	}
	h := k.measurement
	k.mu.Unlock()

	// §4.4 seals with an empty AAD; the measurement hash chain is tracked
	// alongside the ciphertext rather than bound into it, so FIFO
	// ordering (enforced explicitly via session_count, see Decrypt) does
	// not depend on AEAD authentication failing for an out-of-order seal.
	nonce := nonceFromCounter(sessionID, counter)
	ct, status := crypto.Seal(nonce, plaintext, nil)
	if status != aead.OK {
		return nil, 0, diggierr.ErrAuthFail
	}

	newHash := updateMeasurement(h, ct)
	k.mu.Lock()
	k.measurement = newHash
	k.mu.Unlock()

	env := &msg.EncryptedEnvelope{
		SessionID:  uint32(sessionID),
		TagLen:     uint32(aead.TagSize),
		Tag:        ct[len(ct)-aead.TagSize:],
		Ciphertext: ct[:len(ct)-aead.TagSize],
	}
	return env, counter, nil
}

// Decrypt opens env from peer and enforces strict per-sender FIFO
// delivery by session_count. Order is checked explicitly, not through
// the AEAD: the tag is sealed with an empty AAD and a nonce built from
// the envelope's own session_count, so it does not depend on earlier
// messages. A ciphertext that arrives before its predecessor is held
// (undecrypted) in the reorder buffer, and Decrypt returns an empty
// slice for it; one whose session_count was already consumed is
// rejected with ErrOrderViolation. The returned slice is non-empty once the gap closes, in
// which case it holds every now-contiguous-deliverable plaintext in
// order — including, when env itself was already in order, as the first
// element.
func (s *SMM) Decrypt(peer msg.Aid, sessionCount uint64, env *msg.EncryptedEnvelope) ([][]byte, error) {
	k := s.keyCtx(peer)
	k.mu.Lock()
	if k.State != Ready {
		k.mu.Unlock()
		return nil, diggierr.ErrHandshakePending
	}
	if sessionCount < k.inSessionCount {
		k.mu.Unlock()
		return nil, diggierr.ErrOrderViolation
	}
	if sessionCount != k.inSessionCount {
		k.reorder[sessionCount] = env
		if s.stats != nil {
			s.stats.Reordered.Set(float64(len(k.reorder)))
		}
		k.mu.Unlock()
		return nil, nil
	}
	crypto := k.crypto
	sessionID := k.sessionID
	k.mu.Unlock()

	var ready [][]byte
	next := env
	count := sessionCount
	for next != nil {
		k.mu.Lock()
		h := k.measurement
		k.mu.Unlock()

		// Reassemble ciphertext‖tag through the same zero-copy chain the
		// rest of the wire path builds envelopes with: the ciphertext is
		// wrapped by reference, the tag is appended as a copy (owns=false,
		// since it still aliases fields the reorder buffer or the caller's
		// ring slot may hold), and the chain is only materialized into one
		// contiguous buffer at Bytes().
		view := mbuf.New(next.Ciphertext)
		view.Append(next.Tag, false)
		ct := view.Bytes()
		nonce := nonceFromCounter(sessionID, count)
		pt, status := crypto.Open(nonce, ct, nil)
		if status != aead.OK {
			if s.stats != nil {
				s.stats.AuthFails.Inc()
			}
			return ready, diggierr.ErrAuthFail
		}

		k.mu.Lock()
		k.measurement = updateMeasurement(h, ct)
		k.inSessionCount++
		count = k.inSessionCount
		next = k.reorder[count]
		delete(k.reorder, count)
		if s.stats != nil {
			s.stats.Reordered.Set(float64(len(k.reorder)))
		}
		k.mu.Unlock()

		ready = append(ready, pt)
	}
	return ready, nil
}

// ReceiveHandler is the façade-level callback for an inbound message
// already past the common-handler checks below: peer is the
// authenticated sender (m.Src), plaintext is the decrypted payload for
// ENCRYPTED delivery or the raw payload for CLEARTEXT, and m is the
// underlying message for callers that still need header fields. When one
// delivery closes a reorder gap, fn runs once per drained plaintext and
// m is, each time, the message that closed the gap.
type ReceiveHandler func(peer msg.Aid, plaintext []byte, m *msg.Msg)

// WrapReceive builds the §4.4 SMM common handler: the step every inbound
// message passes through between AMM dispatch and a registered type/flow
// callback, enforcing strict per-sender FIFO and decrypting ENCRYPTED
// delivery before fn ever runs, and rejecting CLEARTEXT delivery between
// two ENCLAVE endpoints outright (§4.5's ENCLAVE-to-ENCLAVE traffic must
// be ENCRYPTED). A handler installed through this path never calls
// Decrypt itself. The returned func has TypeHandler's signature so it can
// be registered directly on an AMM.
func (s *SMM) WrapReceive(fn ReceiveHandler) func(m *msg.Msg) {
	return func(m *msg.Msg) {
		if m.Delivery == msg.Cleartext {
			if s.self.Type == msg.Enclave && m.Src.Type == msg.Enclave {
				s.log.Error("rejecting cleartext message between enclaves", "src", m.Src, "dest", m.Dest, "id", m.ID)
				return
			}
			fn(m.Src, m.Payload, m)
			return
		}

		env, err := msg.UnmarshalEncryptedEnvelope(m.Payload)
		if err != nil {
			s.log.Error("malformed encrypted envelope", "src", m.Src, "id", m.ID, "err", err)
			return
		}
		ready, err := s.Decrypt(m.Src, m.SessionCount, env)
		if err != nil {
			s.log.Error("decrypt failed", "src", m.Src, "id", m.ID, "err", err)
			return
		}
		for _, pt := range ready {
			fn(m.Src, pt, m)
		}
	}
}

// State returns peer's current handshake state.
func (s *SMM) State(peer msg.Aid) HandshakeState {
	k := s.keyCtx(peer)
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.State
}

func updateMeasurement(prev [32]byte, data []byte) [32]byte {
	h := sha3.New256()
	h.Write(prev[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
