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

// Package tplog implements the tamper-proof log: an append-only record
// store of header‖payload entries, readable back in the same order they
// were written. It backs the replay manager's input/output logs; no
// other package writes message traffic to it.
//
// Storage is go.etcd.io/bbolt rather than a raw flat file: one bucket
// per Log, keyed by an 8-byte big-endian monotonic sequence number, so
// "append" is a transactional put and "replay in order" is a forward
// cursor scan — the same "append, stream in order, stop at EOF" contract
// the original flat-file log offered, with crash-safe commits for free.
package tplog

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Mode selects whether a Log is opened for appending or for streaming
// replay, matching LogMode{WRITE_LOG,READ_LOG} in the original runtime.
type Mode int

const (
	WriteLog Mode = iota
	ReadLog
)

var recordsBucket = []byte("records")

// Log is one append-only sequence of header‖payload records.
type Log struct {
	db     *bolt.DB
	mode   Mode
	nextID uint64
}

// Open opens (creating if necessary) the log at path in the given mode.
func Open(path string, mode Mode) (*Log, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("tplog: open %s: %w", path, err)
	}
	l := &Log{db: db, mode: mode}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(recordsBucket)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			l.nextID = binary.BigEndian.Uint64(k) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Append writes header‖payload as the next record. Only valid for a Log
// opened with WriteLog.
func (l *Log) Append(header [128]byte, payload []byte) error {
	if l.mode != WriteLog {
		return errors.New("tplog: Append on a read-only log")
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, l.nextID)
		value := make([]byte, 128+len(payload))
		copy(value, header[:])
		copy(value[128:], payload)
		if err := b.Put(key, value); err != nil {
			return err
		}
		l.nextID++
		return nil
	})
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Reader streams records back in append order starting from the
// beginning of the log.
type Reader struct {
	log *Log
	seq uint64
}

// NewReader returns a Reader positioned at the first record.
func (l *Log) NewReader() *Reader { return &Reader{log: l} }

// Next returns the next record's header and payload, or ok=false once
// every record written so far has been read (the "EOF is cursor
// exhausted" contract).
func (r *Reader) Next() (header [128]byte, payload []byte, ok bool, err error) {
	err = r.log.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, r.seq)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		copy(header[:], v[:128])
		payload = append([]byte(nil), v[128:]...)
		ok = true
		return nil
	})
	if ok {
		r.seq++
	}
	return header, payload, ok, err
}

// Len returns the number of records written so far.
func (l *Log) Len() uint64 { return l.nextID }
