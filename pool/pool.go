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

// Package pool implements the global message-object pool: a Ring
// pre-filled with fixed-capacity Msg slots so allocation on the hot path
// never touches the Go allocator. Every AMM/SMM in the runtime shares one
// Pool, identifying itself by the same small thread index it uses on the
// Ring directly.
package pool

import (
	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/ring"
)

// Pool is the global pre-filled slot pool backing message allocation.
type Pool struct {
	r          *ring.Ring
	maxPayload int
}

// New creates a Pool of slots capacity, each able to hold up to
// maxPayload bytes of payload, usable by nThreads concurrent
// allocators/releasers.
func New(slots, nThreads, maxPayload int) *Pool {
	r := ring.New(slots, nThreads, nThreads)
	p := &Pool{r: r, maxPayload: maxPayload}
	for i := 0; i < r.Cap(); i++ {
		m := &msg.Msg{Payload: make([]byte, 0, maxPayload)}
		r.Push(i%nThreads, m)
	}
	return p
}

// Allocate removes a free slot from the pool for use by thread thr. It
// blocks if every slot is currently checked out.
func (p *Pool) Allocate(thr int) *msg.Msg {
	v := p.r.Pop(thr)
	m := v.(*msg.Msg)
	m.Payload = m.Payload[:0]
	return m
}

// TryAllocate is the non-blocking form of Allocate.
func (p *Pool) TryAllocate(thr int) (*msg.Msg, bool) {
	v, ok := p.r.TryPop(thr)
	if !ok {
		return nil, false
	}
	m := v.(*msg.Msg)
	m.Payload = m.Payload[:0]
	return m, true
}

// Release returns m's slot to the pool. m must not be touched by the
// caller afterward.
func (p *Pool) Release(thr int, m *msg.Msg) {
	*m = msg.Msg{Payload: m.Payload[:0]}
	p.r.Push(thr, m)
}

// MaxPayload returns the fixed payload capacity of every slot.
func (p *Pool) MaxPayload() int { return p.maxPayload }
