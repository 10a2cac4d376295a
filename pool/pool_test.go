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

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateReleaseRoundTrip(t *testing.T) {
	p := New(8, 1, 64)
	m := p.Allocate(0)
	require.NotNil(t, m)
	require.Len(t, m.Payload, 0)

	m.Payload = append(m.Payload, []byte("hi")...)
	p.Release(0, m)

	m2, ok := p.TryAllocate(0)
	require.True(t, ok)
	require.Len(t, m2.Payload, 0)
}

func TestTryAllocateExhaustion(t *testing.T) {
	p := New(2, 1, 8)
	for i := 0; i < 2; i++ {
		_, ok := p.TryAllocate(0)
		require.True(t, ok)
	}
	_, ok := p.TryAllocate(0)
	require.False(t, ok)
}
