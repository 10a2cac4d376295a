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

package ring

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleProducerConsumerFIFO(t *testing.T) {
	r := New(16, 1, 1)
	for i := 0; i < 100; i++ {
		r.Push(0, i)
	}
	for i := 0; i < 100; i++ {
		v, ok := r.TryPop(0)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := r.TryPop(0)
	require.False(t, ok)
}

func TestTryPopEmptyReturnsFalse(t *testing.T) {
	r := New(8, 1, 1)
	_, ok := r.TryPop(0)
	require.False(t, ok)
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	r := New(10, 1, 1)
	require.Equal(t, 16, r.Cap())
}

// TestPerProducerFIFOUnderContention verifies that items sent by a single
// producer index are observed by consumers in the order that producer
// sent them, even when many other producers/consumers share the ring.
func TestPerProducerFIFOUnderContention(t *testing.T) {
	const nProd = 4
	const nCons = 4
	const perProd = 2000
	r := New(64, nProd, nCons)

	var wg sync.WaitGroup
	for p := 0; p < nProd; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				r.Push(p, [2]int{p, i})
			}
		}(p)
	}

	received := make([][]int, nProd)
	var mu sync.Mutex
	var cwg sync.WaitGroup
	total := int64(nProd * perProd)
	remaining := total
	for c := 0; c < nCons; c++ {
		cwg.Add(1)
		go func(c int) {
			defer cwg.Done()
			for {
				if atomic.AddInt64(&remaining, -1) < 0 {
					return
				}
				v := r.Pop(c)
				pair := v.([2]int)
				mu.Lock()
				received[pair[0]] = append(received[pair[0]], pair[1])
				mu.Unlock()
			}
		}(c)
	}

	wg.Wait()
	cwg.Wait()

	for p := 0; p < nProd; p++ {
		seq := received[p]
		require.Len(t, seq, perProd)
		for i, v := range seq {
			require.Equal(t, i, v)
		}
	}
}
