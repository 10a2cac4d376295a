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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diggi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
thread_count = 4
ring_capacity = 1024
record_mode = "replay"
attestation_mode = "null"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.ThreadCount)
	require.Equal(t, 1024, cfg.RingCapacity)
	require.Equal(t, RecordReplay, cfg.RecordMode)
	require.Equal(t, 65536, cfg.MaxMsgSize) // untouched default
}

func TestDefaultMatchesOriginalConstants(t *testing.T) {
	cfg := Default()
	require.Equal(t, 10000, cfg.IdleThreshold)
	require.Equal(t, 8192, cfg.BackoffPeakUsec)
}
