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

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHaltStopsGoroutine(t *testing.T) {
	var w Worker
	var ran int32
	w.Go(func() {
		<-w.HaltCh()
		atomic.StoreInt32(&ran, 1)
	})
	w.Halt()
	w.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestWorkerHaltIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
}

func TestPoolScheduleAndYield(t *testing.T) {
	p := NewPool(2)
	h := p.Handle(0)
	var ran int32
	h.Schedule(func() { atomic.AddInt32(&ran, 1) })
	h.Schedule(func() { atomic.AddInt32(&ran, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) < 2 && time.Now().Before(deadline) {
		h.Yield()
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestPoolScheduleOnCrossThread(t *testing.T) {
	p := NewPool(2)
	h0 := p.Handle(0)
	h1 := p.Handle(1)
	var ran int32
	h0.ScheduleOn(1, func() { atomic.AddInt32(&ran, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) < 1 && time.Now().Before(deadline) {
		h1.Yield()
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPoolCurrentThread(t *testing.T) {
	p := NewPool(3)
	h := p.Handle(2)
	require.Equal(t, 2, h.CurrentThread())
}
