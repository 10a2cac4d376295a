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

package mbuf

import "bytes"

// Zcstr is a zero-copy view onto a Buf chain: an offset and a length into
// that chain, plus any in-flight Reserve size. Its method set mirrors
// the original zcstring class, minus operator overloading — Append
// mutates this view in place (growing the chain), Concat merges another
// view's chain in without copying either side's bytes. There is
// deliberately no mutating "+" operator: the original's operator+
// mutated its receiver while also returning a reference to it, which
// made `a + b` and `c = a + b` behave differently depending on whether
// the result was assigned; Append/Concat make the mutate-in-place
// behavior explicit instead.
type Zcstr struct {
	buf      *Buf
	length   int
	offset   int
	reserved int
}

// New wraps data as a new single-chunk view. data is not copied; callers
// that need an independent copy should call Copy first.
func New(data []byte) Zcstr {
	b := &Buf{}
	b.AppendTail(data)
	return Zcstr{buf: b, length: len(data)}
}

// Empty reports whether the view has zero length.
func (z Zcstr) Empty() bool { return z.length == 0 }

// Size returns the logical length of the view.
func (z Zcstr) Size() int { return z.length }

// Offset returns the view's offset into its backing chain.
func (z Zcstr) Offset() int { return z.offset }

// Reserve grows the backing chain by size bytes and returns a slice
// pointing directly at the new (uninitialized) storage for the caller to
// fill in place — e.g. as a socket read target. The view's length is
// extended immediately; call AbortReserve if the fill does not complete.
func (z *Zcstr) Reserve(size int) []byte {
	buf := make([]byte, size)
	z.buf.AppendTail(buf)
	z.length += size
	z.reserved = size
	return buf
}

// AbortReserve undoes the most recent Reserve, dropping its node and
// shrinking the view back down. ptr is accepted for symmetry with the
// original API but is not otherwise required to undo the reservation.
func (z *Zcstr) AbortReserve(ptr []byte) {
	if z.reserved == 0 {
		return
	}
	z.buf.RemoveTail(z.reserved)
	z.length -= z.reserved
	z.reserved = 0
}

// Append adopts data as a new tail chunk of the view's chain. When owns
// is true, data is referenced directly with no copy: the chain is now
// the sole owner, so the caller must not mutate or reuse data
// afterward. When owns is false, a defensive copy is taken instead, for
// a caller that still needs data untouched or that does not control its
// lifetime (e.g. a slice aliasing a pool slot or a reorder-buffer
// entry).
func (z *Zcstr) Append(data []byte, owns bool) {
	buf := data
	if !owns {
		buf = make([]byte, len(data))
		copy(buf, data)
	}
	z.buf.AppendTail(buf)
	z.length += len(data)
}

// Concat merges rhs's chain onto the end of z's chain without copying
// bytes. Both z and rhs must start at offset zero (a sub-view created by
// Substr can be neither side of a Concat — Copy it first); otherwise
// Concat returns an error and leaves both views unchanged.
func (z *Zcstr) Concat(rhs *Zcstr) error {
	if z.offset != 0 || rhs.offset != 0 {
		return errOffsetNotZero
	}
	z.buf.Concat(rhs.buf)
	z.length += rhs.length
	return nil
}

// Bytes materializes the view's logical content as one contiguous slice.
// Expensive if the backing chain is fragmented; prefer Reserve/Append on
// hot paths that only ever grow a buffer.
func (z Zcstr) Bytes() []byte {
	all := z.buf.collect()
	end := z.offset + z.length
	if end > len(all) {
		end = len(all)
	}
	if z.offset > end {
		return nil
	}
	return all[z.offset:end]
}

// Copy forces a fresh copy of the view's bytes, independent of the
// backing chain.
func (z Zcstr) Copy() []byte {
	src := z.Bytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// String renders the view's bytes as a string (always a copy).
func (z Zcstr) String() string { return string(z.Bytes()) }

// Substr returns a new view sharing the same backing chain, starting at
// index bytes into z and running for length bytes (clamped to z's own
// extent). The backing chain's refcount is bumped so either view may
// outlive the other.
func (z Zcstr) Substr(index int, length int) Zcstr {
	if index > z.length {
		index = z.length
	}
	if index+length > z.length {
		length = z.length - index
	}
	z.buf.IncrefRange(z.offset+index, length)
	return Zcstr{buf: z.buf, offset: z.offset + index, length: length}
}

// SubstrFrom is Substr to the end of the view.
func (z Zcstr) SubstrFrom(index int) Zcstr {
	return z.Substr(index, z.length-index)
}

// PopFront drops count bytes from the front of the view. Zero-copy: it
// only advances the offset.
func (z *Zcstr) PopFront(count int) {
	if count > z.length {
		count = z.length
	}
	z.offset += count
	z.length -= count
}

// PopBack drops count bytes from the end of the view. Zero-copy: it only
// shrinks the logical length; the underlying node is not modified, which
// mirrors the original's documented "does not clean up tail pointers".
func (z *Zcstr) PopBack(count int) {
	if count > z.length {
		count = z.length
	}
	z.length -= count
}

// Replace overwrites the view's content with data, discarding the
// previous backing chain's reference.
func (z *Zcstr) Replace(data []byte) {
	z.buf.Destroy(z.offset, z.length)
	nb := &Buf{}
	cp := make([]byte, len(data))
	copy(cp, data)
	nb.AppendTail(cp)
	z.buf = nb
	z.offset = 0
	z.length = len(data)
}

// Compare reports whether z and rhs hold identical bytes.
func (z Zcstr) Compare(rhs Zcstr) bool {
	return bytes.Equal(z.Bytes(), rhs.Bytes())
}

// IndexOf returns the byte offset (from the start of z) of the first (or
// last, if last is true) occurrence of needle at or after index, or -1.
func (z Zcstr) IndexOf(needle Zcstr, index int, last bool) int {
	return indexOf(z.Bytes(), needle.Bytes(), index, last)
}

// IndexOfByte is IndexOf for a single byte needle.
func (z Zcstr) IndexOfByte(c byte, index int, last bool) int {
	return indexOf(z.Bytes(), []byte{c}, index, last)
}

// Contains reports whether z holds needle anywhere at or after offset 0.
func (z Zcstr) Contains(needle Zcstr) bool {
	return z.IndexOf(needle, 0, false) != -1
}

func indexOf(hay, needle []byte, index int, last bool) int {
	if index < 0 || index > len(hay) || len(needle) == 0 {
		return -1
	}
	hay = hay[index:]
	if !last {
		i := bytes.Index(hay, needle)
		if i < 0 {
			return -1
		}
		return i + index
	}
	i := bytes.LastIndex(hay, needle)
	if i < 0 {
		return -1
	}
	return i + index
}

// Release drops this view's reference to its backing chain. Every Zcstr
// obtained from New or Substr must eventually be Released exactly once.
func (z *Zcstr) Release() {
	z.buf.Destroy(z.offset, z.length)
}

var errOffsetNotZero = &offsetError{}

type offsetError struct{}

func (*offsetError) Error() string {
	return "mbuf: Concat requires both views to start at offset 0"
}
