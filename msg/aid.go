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

// Package msg defines the wire-level identifier and message types shared by
// every component of the messaging core: Aid, Msg, the message-type and
// delivery enums, and the packed little-endian header codec.
package msg

import "fmt"

// InstanceType is the destination_type_t of the original runtime: whether an
// Aid names an enclave, a library, or a plain (untrusted) process.
type InstanceType uint8

const (
	Enclave InstanceType = iota
	Lib
	Proc
)

func (t InstanceType) String() string {
	switch t {
	case Enclave:
		return "ENCLAVE"
	case Lib:
		return "LIB"
	case Proc:
		return "PROC"
	default:
		return fmt.Sprintf("InstanceType(%d)", uint8(t))
	}
}

// Aid is the 8-byte instance identifier. Field order matches aid_t in
// original_source/Include/datatypes.h exactly: proc, enclave, lib, thread,
// att_group, host, type, pad1.
type Aid struct {
	Proc     uint8
	Enclave  uint8
	Lib      uint8
	Thread   uint8
	AttGroup uint8
	Host     uint8
	Type     InstanceType
	_        uint8 // reserved/pad1
}

// Raw packs the Aid into the 64-bit word used as routing-table keys and as
// the SMM's per-peer KeyCtx map keys.
func (a Aid) Raw() uint64 {
	return uint64(a.Proc) |
		uint64(a.Enclave)<<8 |
		uint64(a.Lib)<<16 |
		uint64(a.Thread)<<24 |
		uint64(a.AttGroup)<<32 |
		uint64(a.Host)<<40 |
		uint64(a.Type)<<48
}

// AidFromRaw is the inverse of Raw.
func AidFromRaw(raw uint64) Aid {
	return Aid{
		Proc:     uint8(raw),
		Enclave:  uint8(raw >> 8),
		Lib:      uint8(raw >> 16),
		Thread:   uint8(raw >> 24),
		AttGroup: uint8(raw >> 32),
		Host:     uint8(raw >> 40),
		Type:     InstanceType(uint8(raw >> 48)),
	}
}

// Instance returns a copy of a with Thread cleared, i.e. the routing-table
// key for "any thread on that instance".
func (a Aid) Instance() Aid {
	a.Thread = 0
	return a
}

// Equal reports whether two Aids name the same endpoint.
func (a Aid) Equal(b Aid) bool { return a.Raw() == b.Raw() }

func (a Aid) String() string {
	return fmt.Sprintf("%s:%d.%d.%d.%d.%d", a.Type, a.Proc, a.Enclave, a.Lib, a.Thread, a.AttGroup)
}
