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

// Package runtime owns the process-wide state every other component
// used to reach through static globals in the original implementation:
// configuration, logger, metrics registry, and the CPU affinity counters
// that hand out core assignments as threads start up. The shared message
// pool is not part of it: mmngr.Create builds its own. A *Runtime is
// passed explicitly to mmngr.Create; replay.New takes a logger instead.
package runtime

import (
	"os"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/diggi-project/diggicore/config"
)

// Runtime is the process-wide handle other packages are constructed
// from, replacing the original's static/global state with one
// explicitly owned value.
type Runtime struct {
	Config   config.Config
	Log      *charmlog.Logger
	Registry *prometheus.Registry

	fatal func(error)

	nextEnclaveCPU    int32
	nextNonEnclaveCPU int32
	numCPU            int
}

// New constructs a Runtime from cfg. The default Fatal hook logs and
// exits the process; tests should override it with SetFatalHook.
func New(cfg config.Config) *Runtime {
	r := &Runtime{
		Config:   cfg,
		Log:      charmlog.Default(),
		Registry: prometheus.NewRegistry(),
		numCPU:   goruntime.NumCPU(),
	}
	r.nextNonEnclaveCPU = 1 // CPU 0 is reserved
	r.nextEnclaveCPU = int32(r.numCPU - 1)
	r.fatal = func(err error) {
		r.Log.Error("fatal error", "err", err)
		os.Exit(1)
	}
	return r
}

// SetFatalHook overrides the action taken for §7's fatal error kinds
// (AuthFail, NonceWrap, OrderViolation), primarily for tests.
func (r *Runtime) SetFatalHook(fn func(error)) { r.fatal = fn }

// Fatal routes a fatal-kind error through the configured hook.
func (r *Runtime) Fatal(err error) { r.fatal(err) }

// PinNonEnclaveThread pins the calling OS thread to the next available
// core starting from core 1 upward, leaving CPU 0 free for the host
// scheduler, and locks the goroutine to that OS thread for the
// duration — the caller must run this once at the top of a dedicated
// worker goroutine, the same way the teacher's queue runner pins I/O
// threads.
func (r *Runtime) PinNonEnclaveThread() error {
	goruntime.LockOSThread()
	cpu := int(atomic.AddInt32(&r.nextNonEnclaveCPU, 1)) - 1
	return r.setAffinity(cpu % r.numCPU)
}

// PinEnclaveThread pins the calling OS thread to the next available core
// counting down from the top of the machine, so enclave and non-enclave
// threads never contend for the same core while the assignment pools
// still meet in the middle under heavy thread counts.
func (r *Runtime) PinEnclaveThread() error {
	goruntime.LockOSThread()
	cpu := int(atomic.AddInt32(&r.nextEnclaveCPU, -1)) + 1
	if cpu < 0 {
		cpu = 0
	}
	return r.setAffinity(cpu % r.numCPU)
}

func (r *Runtime) setAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		r.Log.Warn("failed to set CPU affinity", "cpu", cpu, "err", err)
		return err
	}
	return nil
}

// SignalHandler sends a self-addressed DIGGI_SIGNAL_TYPE_EXIT through
// send so the runtime can be torn down the same way any other message
// would be delivered, rather than through an out-of-band OS signal
// handler reaching into internal state.
type SignalHandler struct {
	once sync.Once
	send func() error
}

// NewSignalHandler wraps send, the function that actually enqueues the
// self-addressed exit message (typically amm.AMM.Send on a SignalExit
// message addressed to the local instance).
func NewSignalHandler(send func() error) *SignalHandler {
	return &SignalHandler{send: send}
}

// Trigger enqueues the exit signal exactly once.
func (s *SignalHandler) Trigger() error {
	var err error
	s.once.Do(func() { err = s.send() })
	return err
}
