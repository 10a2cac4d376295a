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

package attestation

import (
	"testing"

	"github.com/diggi-project/diggicore/msg"
	"github.com/stretchr/testify/require"
)

func TestNullProviderAlwaysVerifies(t *testing.T) {
	var p Null
	var got FlowResult
	p.ClientInitiatorEntry(msg.Aid{}, func(r FlowResult) { got = r })
	require.True(t, got.Verified)
	require.False(t, p.Attestable())

	r, err := p.Verify([]byte("anything"))
	require.NoError(t, err)
	require.True(t, r.Verified)
}
