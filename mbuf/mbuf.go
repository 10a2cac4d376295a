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

// Package mbuf implements the zero-copy virtual buffer that backs every
// message payload in the messaging core: a refcounted singly-linked
// chain of byte chunks (Buf/node) plus a Zcstr view onto that chain that
// exposes the string-like operations (append, concat, substr, pop,
// indexof, reserve, replace) without ever copying the underlying bytes
// unless the operation genuinely requires it.
//
// Ownership contract: a Buf chain may be referenced by multiple Zcstr
// views (Substr/Concat bump the refcount), but only the view that
// currently holds exclusive ownership of a node may mutate it in place;
// every other view must treat the chain as immutable until it releases
// its reference. Callers that need to hand a chain to another goroutine
// while still reading it themselves must take a separate view with
// Substr first.
package mbuf

import "sync/atomic"

// node is one chunk of a Buf chain.
type node struct {
	data []byte
	next *node
	ref  int32
}

func newNode(data []byte) *node {
	return &node{data: data, ref: 1}
}

func (n *node) incref() {
	atomic.AddInt32(&n.ref, 1)
}

// decref drops the reference; returns true if this was the last one (the
// node is now free to drop, same as mbuf_node_destroy on a zero count).
func (n *node) decref() bool {
	return atomic.AddInt32(&n.ref, -1) == 0
}

// Buf is a reference to the head of a chunk chain. Its zero value is an
// empty buffer.
type Buf struct {
	head *node
}

// NewBuf returns an empty Buf.
func NewBuf() *Buf { return &Buf{} }

// Incref bumps the reference count of every node in the chain headed by
// b, matching mbuf_incref: used by Concat on the chain being linked in,
// whose nodes are then reachable from two chains.
func (b *Buf) Incref() {
	for n := b.head; n != nil; n = n.next {
		n.incref()
	}
}

// IncrefRange bumps the reference count of every node overlapping
// [offset, offset+length) of the chain — the inverse of Destroy for the
// same range. Substr uses this rather than Incref so a sub-view only
// holds references to the nodes it actually spans; incrementing the
// whole chain would leave nodes outside the sub-view's range permanently
// referenced once the sub-view's own Destroy only walks its own range.
func (b *Buf) IncrefRange(offset, length int) {
	n, base := b.nodeAtPos(offset)
	end := offset + length
	for c, pos := n, base; c != nil && pos < end; c = c.next {
		c.incref()
		pos += len(c.data)
	}
}

// AppendTail appends data as a new node at the end of the chain.
func (b *Buf) AppendTail(data []byte) {
	nn := newNode(data)
	if b.head == nil {
		b.head = nn
		return
	}
	cur := b.head
	for cur.next != nil {
		cur = cur.next
	}
	cur.next = nn
}

// AppendHead prepends data as a new node at the front of the chain.
func (b *Buf) AppendHead(data []byte) {
	nn := newNode(data)
	nn.next = b.head
	b.head = nn
}

// Concat appends other's chain onto the end of b's chain and bumps the
// refcount of every node now shared between the two (mbuf_concat: "does
// not clean up b, others might be referencing it").
func (b *Buf) Concat(other *Buf) {
	if other.head == nil {
		return
	}
	other.Incref()
	if b.head == nil {
		b.head = other.head
		return
	}
	cur := b.head
	for cur.next != nil {
		cur = cur.next
	}
	cur.next = other.head
}

// nodeAtPos walks the chain to find the node containing byte index and
// that node's starting offset within the logical buffer.
func (b *Buf) nodeAtPos(index int) (n *node, base int) {
	base = 0
	for n = b.head; n != nil; n = n.next {
		if index < base+len(n.data) {
			return n, base
		}
		base += len(n.data)
	}
	return nil, base
}

// RemoveHead drops size bytes from the front of the chain, freeing any
// node fully consumed, and returns the dropped bytes (copied out, since
// their backing node may be shared).
func (b *Buf) RemoveHead(size int) []byte {
	out := make([]byte, 0, size)
	for size > 0 && b.head != nil {
		n := b.head
		if len(n.data) <= size {
			out = append(out, n.data...)
			size -= len(n.data)
			b.head = n.next
			n.decref()
			continue
		}
		out = append(out, n.data[:size]...)
		n.data = n.data[size:]
		size = 0
	}
	return out
}

// RemoveTail drops size bytes from the end of the chain and returns them.
func (b *Buf) RemoveTail(size int) []byte {
	total := b.Len()
	if size > total {
		size = total
	}
	keep := total - size
	out := make([]byte, size)
	copy(out, b.collect()[keep:])

	remaining := keep
	var prev *node
	cur := b.head
	for cur != nil {
		if remaining <= 0 {
			if prev == nil {
				b.head = nil
			} else {
				prev.next = nil
			}
			rest := cur
			for rest != nil {
				next := rest.next
				rest.decref()
				rest = next
			}
			break
		}
		if remaining < len(cur.data) {
			cur.data = cur.data[:remaining]
			remaining = 0
			if cur.next != nil {
				rest := cur.next
				cur.next = nil
				for rest != nil {
					next := rest.next
					rest.decref()
					rest = next
				}
			}
			break
		}
		remaining -= len(cur.data)
		prev = cur
		cur = cur.next
	}
	return out
}

// Len returns the total number of bytes currently stored in the chain.
func (b *Buf) Len() int {
	n := 0
	for c := b.head; c != nil; c = c.next {
		n += len(c.data)
	}
	return n
}

// collect flattens the chain into one contiguous slice. This is the one
// operation the original warns is "expensive if memory is fragmented";
// callers on the hot path should prefer operating on nodes directly.
func (b *Buf) collect() []byte {
	out := make([]byte, 0, b.Len())
	for c := b.head; c != nil; c = c.next {
		out = append(out, c.data...)
	}
	return out
}

// Destroy releases b's reference to every node in its chain from offset
// to offset+length; any node whose count hits zero is dropped for GC.
func (b *Buf) Destroy(offset, length int) {
	n, _ := b.nodeAtPos(offset)
	end := offset + length
	pos := 0
	if n != nil {
		// recompute pos as base of n
		base := 0
		for c := b.head; c != n; c = c.next {
			base += len(c.data)
		}
		pos = base
	}
	for c := n; c != nil && pos < end; {
		next := c.next
		c.decref()
		pos += len(c.data)
		c = next
	}
}
