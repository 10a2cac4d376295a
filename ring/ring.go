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

// Package ring implements the lock-free bounded MPMC slot buffer that
// backs the global message pool and every inter-thread handoff in the
// messaging core. The algorithm (Krizhanovsky's ring buffer, adapted for
// a fixed producer/consumer count) tracks each caller's in-flight
// position in a per-slot array rather than a single shared cursor, so a
// slow producer or consumer never blocks the others past the point where
// its own reservation would overrun the ring.
package ring

import (
	"math/bits"
	"runtime"
	"sync/atomic"
)

const maxPos = ^uint64(0)

// pos is one caller's in-flight head or tail reservation, padded to its
// own cache line so producers and consumers spinning on neighboring
// entries don't false-share.
type pos struct {
	head   uint64
	tail   uint64
	inSitu uint32
	_      [100]byte // pad to >64B; head/tail/inSitu already span a line
}

// Ring is a bounded MPMC queue of opaque pointers. Capacity must be a
// power of two. Producers and consumers each identify themselves by a
// small integer index below nProd/nCons respectively, exactly as the
// requesting_thread argument does in the original C implementation.
type Ring struct {
	_        [64]byte
	head     uint64
	_        [56]byte
	tail     uint64
	_        [56]byte
	lastHead uint64
	_        [56]byte
	lastTail uint64
	_        [56]byte

	nProducers int
	nConsumers int
	mask       uint64
	slots      []unsafePtr
	thrPos     []pos
}

// unsafePtr is any value a caller wants to hand through the ring;
// storing interface{} keeps the buffer generic without reflection on the
// hot path (a direct pointer is still the intended payload).
type unsafePtr = interface{}

// New allocates a ring of the given capacity (rounded up to the next
// power of two) sized for nProd producers and nCons consumers.
func New(capacity, nProd, nCons int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	size := 1 << bits.Len(uint(capacity-1))
	n := nProd
	if nCons > n {
		n = nCons
	}
	r := &Ring{
		nProducers: nProd,
		nConsumers: nCons,
		mask:       uint64(size - 1),
		slots:      make([]unsafePtr, size),
		thrPos:     make([]pos, n),
	}
	for i := range r.thrPos {
		r.thrPos[i].head = maxPos
		r.thrPos[i].tail = maxPos
	}
	return r
}

// Push enqueues msg on behalf of producer index thr. It blocks (spinning
// with runtime.Gosched) while the ring is full.
func (r *Ring) Push(thr int, v interface{}) {
	tp := &r.thrPos[thr]
	atomic.StoreUint64(&tp.head, atomic.LoadUint64(&r.head))
	h := atomic.AddUint64(&r.head, 1) - 1
	atomic.StoreUint64(&tp.head, h)

	for h >= atomic.LoadUint64(&r.lastTail)+uint64(len(r.slots)) {
		min := atomic.LoadUint64(&r.tail)
		for i := 0; i < r.nConsumers; i++ {
			if t := atomic.LoadUint64(&r.thrPos[i].tail); t < min {
				min = t
			}
		}
		atomic.StoreUint64(&r.lastTail, min)
		if h < atomic.LoadUint64(&r.lastTail)+uint64(len(r.slots)) {
			break
		}
		runtime.Gosched()
	}

	r.slots[h&r.mask] = v
	atomic.StoreUint64(&tp.head, maxPos)
}

// reserveTail claims the next tail position for consumer thr, matching
// the shared setup at the top of lf_recieve/lf_try_recieve.
func (r *Ring) reserveTail(thr int) {
	tp := &r.thrPos[thr]
	if atomic.LoadUint32(&tp.inSitu) != 0 {
		return
	}
	atomic.StoreUint64(&tp.tail, atomic.LoadUint64(&r.tail))
	t := atomic.AddUint64(&r.tail, 1) - 1
	atomic.StoreUint64(&tp.tail, t)
	atomic.StoreUint32(&tp.inSitu, 1)
}

func (r *Ring) release(thr int) interface{} {
	tp := &r.thrPos[thr]
	v := r.slots[atomic.LoadUint64(&tp.tail)&r.mask]
	r.slots[atomic.LoadUint64(&tp.tail)&r.mask] = nil
	atomic.StoreUint64(&tp.tail, maxPos)
	atomic.StoreUint32(&tp.inSitu, 0)
	return v
}

// Pop dequeues the next item for consumer thr, blocking (spinning) while
// the ring is empty.
func (r *Ring) Pop(thr int) interface{} {
	r.reserveTail(thr)
	tp := &r.thrPos[thr]

	for atomic.LoadUint64(&tp.tail) >= atomic.LoadUint64(&r.lastHead) {
		min := atomic.LoadUint64(&r.head)
		for i := 0; i < r.nProducers; i++ {
			if h := atomic.LoadUint64(&r.thrPos[i].head); h < min {
				min = h
			}
		}
		atomic.StoreUint64(&r.lastHead, min)
		if atomic.LoadUint64(&tp.tail) < atomic.LoadUint64(&r.lastHead) {
			break
		}
		runtime.Gosched()
	}
	return r.release(thr)
}

// TryPop dequeues the next item for consumer thr without blocking,
// returning ok=false if the ring currently has nothing visible to thr.
func (r *Ring) TryPop(thr int) (v interface{}, ok bool) {
	r.reserveTail(thr)
	tp := &r.thrPos[thr]

	if atomic.LoadUint64(&tp.tail) >= atomic.LoadUint64(&r.lastHead) {
		min := atomic.LoadUint64(&r.head)
		for i := 0; i < r.nProducers; i++ {
			if h := atomic.LoadUint64(&r.thrPos[i].head); h < min {
				min = h
			}
		}
		atomic.StoreUint64(&r.lastHead, min)
		if atomic.LoadUint64(&tp.tail) >= atomic.LoadUint64(&r.lastHead) {
			return nil, false
		}
	}
	return r.release(thr), true
}

// Cap returns the ring's slot count (always a power of two).
func (r *Ring) Cap() int { return len(r.slots) }
