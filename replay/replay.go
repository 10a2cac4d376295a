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

// Package replay implements the replay-backed alternative to mmngr: an
// IMessageManager-equivalent that reads a recorded input tamper-proof
// log instead of polling a live ring, and writes every outbound message
// to an output tamper-proof log instead of putting it on the network.
// Session-count ordering recorded at capture time is re-verified on
// replay, so a replay run fails closed if the log itself was tampered
// with or truncated rather than silently reordering traffic.
package replay

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/diggi-project/diggicore/diggierr"
	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/tplog"
)

// TypeHandler and FlowContinuation mirror amm's, so application code
// written against amm.AMM can be replayed without change.
type TypeHandler func(m *msg.Msg)
type FlowContinuation func(m *msg.Msg, err error)

// Manager is a replay-backed message manager for one thread.
type Manager struct {
	thr    int
	self   msg.Aid
	input  *tplog.Log
	output *tplog.Log
	log    *log.Logger

	mu          sync.Mutex
	typeHandler map[msg.Type]TypeHandler
	flowHandler map[uint64]FlowContinuation
	nextInLine  uint64

	monotonicMsgID uint64
	stop           int32
}

// New constructs a replay Manager for thread thr, reading input and
// writing output, both previously opened via tplog.Open.
func New(thr int, self msg.Aid, input, output *tplog.Log, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		thr:         thr,
		self:        self,
		input:       input,
		output:      output,
		log:         logger.With("thread", thr, "mode", "replay"),
		typeHandler: make(map[msg.Type]TypeHandler),
		flowHandler: make(map[uint64]FlowContinuation),
	}
}

// RegisterType installs a standing handler for every replayed message of
// type t.
func (m *Manager) RegisterType(t msg.Type, fn TypeHandler) {
	m.mu.Lock()
	m.typeHandler[t] = fn
	m.mu.Unlock()
}

// GetMessageID returns the next monotonically increasing id, matching
// amm.AMM.GetMessageID so handlers are portable between live and replay
// managers.
func (m *Manager) GetMessageID() uint64 {
	return atomic.AddUint64(&m.monotonicMsgID, 1)
}

// Allocate returns a fresh message for this thread to fill in and pass
// to Send or SendAsync. It mirrors amm.AMM.Allocate's contract — a
// zeroed *msg.Msg ready for a caller to address and fill — but draws
// from the heap rather than the fixed-size shared pool, since a replay
// run has no producer/consumer slot budget to enforce.
func (m *Manager) Allocate() *msg.Msg {
	return &msg.Msg{}
}

// Send serializes m and appends it to the output log rather than
// routing it onto a live ring.
func (m *Manager) Send(mm *msg.Msg) error {
	wire := mm.Encode(nil)
	var header [128]byte
	copy(header[:], wire[:128])
	return m.output.Append(header, wire[128:])
}

// SendAsync is Send plus a one-shot flow continuation, fired when a
// reply with the same id is replayed back in.
func (m *Manager) SendAsync(mm *msg.Msg, done FlowContinuation) error {
	m.mu.Lock()
	m.flowHandler[mm.ID] = done
	m.mu.Unlock()
	return m.Send(mm)
}

// Start replays the input log in order until it is exhausted or Stop is
// called, dispatching each record to its flow continuation or type
// handler exactly as amm.AMM.Start would for live traffic.
func (m *Manager) Start() error {
	r := m.input.NewReader()
	for atomic.LoadInt32(&m.stop) == 0 {
		header, payload, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		wire := append(append([]byte{}, header[:]...), payload...)
		rec, err := msg.Decode(wire)
		if err != nil {
			return err
		}

		m.mu.Lock()
		expected := m.nextInLine
		// §4.7's defer-and-retry applies to the live path, where sends from
		// different senders can race onto the wire out of order; a
		// tamper-proof log was written by that same live path already in
		// delivery order, so a gap here means the log itself was tampered
		// with or truncated, not a reordering to wait out — rejecting
		// outright is equivalent for a correctly-written log and simpler.
		if rec.SessionCount != 0 && rec.SessionCount != expected {
			m.mu.Unlock()
			return diggierr.ErrOrderViolation
		}
		m.nextInLine = rec.SessionCount + 1
		m.mu.Unlock()

		m.dispatch(rec)
	}
	return nil
}

func (m *Manager) dispatch(rec *msg.Msg) {
	m.mu.Lock()
	if fn, ok := m.flowHandler[rec.ID]; ok {
		delete(m.flowHandler, rec.ID)
		m.mu.Unlock()
		fn(rec, nil)
		return
	}
	fn, ok := m.typeHandler[rec.Type]
	m.mu.Unlock()
	if ok {
		fn(rec)
		return
	}
	m.log.Debug("replayed message with no registered handler", "type", rec.Type, "id", rec.ID)
}

// Stop halts Start at its next record boundary.
func (m *Manager) Stop() {
	atomic.StoreInt32(&m.stop, 1)
}
