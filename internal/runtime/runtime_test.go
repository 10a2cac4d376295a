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

package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diggi-project/diggicore/config"
)

func TestFatalHookOverride(t *testing.T) {
	r := New(config.Default())
	var got error
	r.SetFatalHook(func(err error) { got = err })

	want := errors.New("boom")
	r.Fatal(want)
	require.Equal(t, want, got)
}

func TestSignalHandlerFiresOnce(t *testing.T) {
	count := 0
	sh := NewSignalHandler(func() error { count++; return nil })
	require.NoError(t, sh.Trigger())
	require.NoError(t, sh.Trigger())
	require.Equal(t, 1, count)
}
