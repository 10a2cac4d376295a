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

// Package config loads the runtime's TOML configuration file, matching
// the teacher's configuration-file convention.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// AttestationMode selects which attestation.Provider the runtime wires
// in at startup.
type AttestationMode string

const (
	AttestationNull AttestationMode = "null"
	AttestationSGX  AttestationMode = "sgx"
)

// RecordMode selects whether the runtime talks live (mmngr) or replays a
// previously recorded session (replay).
type RecordMode string

const (
	RecordLive   RecordMode = "live"
	RecordReplay RecordMode = "replay"
)

// Config is the enumerated runtime configuration.
type Config struct {
	RingCapacity    int             `toml:"ring_capacity"`
	PoolSlots       int             `toml:"pool_slots"`
	MaxMsgSize      int             `toml:"max_msg_size"`
	ThreadCount     int             `toml:"thread_count"`
	IdleThreshold   int             `toml:"idle_threshold"`
	BackoffBaseUsec int             `toml:"backoff_base_usec"`
	BackoffPeakUsec int             `toml:"backoff_peak_usec"`
	TrustedRoot     string          `toml:"trusted_root"`
	RecordMode      RecordMode      `toml:"record_mode"`
	AttestationMode AttestationMode `toml:"attestation_mode"`
	ReplayInputLog  string          `toml:"replay_input_log"`
	ReplayOutputLog string          `toml:"replay_output_log"`
	MetricsListen   string          `toml:"metrics_listen"`
}

// Default returns a Config with the same constants the original runtime
// compiles in (DIGGI_IDLE_MESSAGE_THRESHOLD, DIGGI_BASE_IDLE_SLEEP_USEC,
// PEAK_LINEAR_BACKOFF) as its defaults.
func Default() Config {
	return Config{
		RingCapacity:    4096,
		PoolSlots:       4096,
		MaxMsgSize:      65536,
		ThreadCount:     1,
		IdleThreshold:   10000,
		BackoffBaseUsec: 1,
		BackoffPeakUsec: 8192,
		RecordMode:      RecordLive,
		AttestationMode: AttestationNull,
	}
}

// BackoffBase and BackoffPeak convert the microsecond config fields to
// time.Durations for the amm package's poll loop.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseUsec) * time.Microsecond
}

func (c Config) BackoffPeak() time.Duration {
	return time.Duration(c.BackoffPeakUsec) * time.Microsecond
}

// Load reads and parses a TOML config file at path, starting from
// Default so any field the file omits keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
