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

// Package mmngr implements the thread-safe façade over the per-thread
// AMM/SMM pairs: construction starts every thread's AMM poll loop, and
// callers address an operation to "the manager" without needing to know
// which thread backs which peer.
package mmngr

import (
	"fmt"

	"github.com/diggi-project/diggicore/amm"
	"github.com/diggi-project/diggicore/attestation"
	"github.com/diggi-project/diggicore/config"
	"github.com/diggi-project/diggicore/internal/runtime"
	"github.com/diggi-project/diggicore/metrics"
	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/pool"
	"github.com/diggi-project/diggicore/ring"
	"github.com/diggi-project/diggicore/smm"
	"github.com/diggi-project/diggicore/worker"
)

// MMngr is the thread-safe façade: one AMM and one SMM per thread,
// sharing a pool and a worker.Pool for cross-thread scheduling, and the
// process-wide Runtime handle each thread's poll loop pins itself
// through at startup.
type MMngr struct {
	threads []*thread
	pool    *worker.Pool
	runtime *runtime.Runtime
	signal  *runtime.SignalHandler
}

type thread struct {
	self msg.Aid
	amm  *amm.AMM
	smm  *smm.SMM
}

// doSend runs the allocate→encrypt→dispatch sequence for one outbound
// message on this thread, per §4.4 SMM.Send step 4-6. It is passed to
// smm.SMM.Send as the sendFn closure, so the same sequence runs whether
// the session was already READY (immediate) or only became READY after
// a queued handshake (replayed).
func (t *thread) doSend(peer msg.Aid, typ msg.Type, payload []byte, done amm.FlowContinuation) {
	env, sessionCount, err := t.smm.Encrypt(peer, payload)
	if err != nil {
		if done != nil {
			done(nil, err)
		}
		return
	}
	wire := env.Marshal()
	out := t.amm.Allocate()
	out.Type = typ
	out.Src = t.self
	out.Dest = peer
	out.Delivery = msg.Encrypted
	out.SessionCount = sessionCount
	out.Payload = wire
	out.Size = uint32(msg.HeaderSize + len(wire))

	if done != nil {
		out.ID = t.amm.GetMessageID()
		t.amm.SendAsync(out, done)
		return
	}
	t.amm.Send(out)
}

// Create builds a thread-safe manager with threadCount AMM/SMM pairs
// sharing one inbox ring per instance (every thread of self is a
// distinct consumer index on that one ring, matching the original
// ThreadSafeMessageManager::Create, which hands every thread's AMM the
// same lock-free queue rather than a private one per thread), and
// starts every AMM's poll loop on its own goroutine, pinned to a CPU
// core through rt. rt supplies the logger and Prometheus registry every
// thread's stats are constructed against; if nil, a default Runtime
// (config.Default()) is constructed so callers that do not care about
// affinity or metrics still get a working manager.
func Create(threadCount, ringCapacity, poolSlots, maxMsgSize int, self msg.Aid, attester attestation.Provider, rt *runtime.Runtime) *MMngr {
	if rt == nil {
		rt = runtime.New(config.Default())
	}
	p := pool.New(poolSlots, threadCount, maxMsgSize)
	wp := worker.NewPool(threadCount)
	m := &MMngr{pool: wp, runtime: rt}

	inbox := ring.New(ringCapacity, threadCount, threadCount)
	amms := make([]*amm.AMM, threadCount)

	for i := 0; i < threadCount; i++ {
		threadSelf := self
		threadSelf.Thread = uint8(i)
		a := amm.New(i, inbox, p, wp.Handle(i), metrics.NewDispatcherStats(rt.Registry, i), rt.Log)
		a.RegisterRoute(self, inbox)
		amms[i] = a
		s := smm.New(i, threadSelf, attester, metrics.NewSessionStats(rt.Registry, i), rt.Log)
		m.threads = append(m.threads, &thread{self: threadSelf, amm: a, smm: s})
	}
	// Every AMM needs to see its siblings before any of them starts
	// polling, since a message for thread j may be dequeued by thread i
	// and handed to amms[j] via worker.Handle.ScheduleOn.
	for _, a := range amms {
		a.SetPeers(amms)
	}
	// §5 affinity: ENCLAVE instances pin from the top CPU down, everyone
	// else pins from core 1 up, so the two pools only meet in the middle
	// under heavy thread counts. Each poll-loop goroutine pins itself
	// before it starts polling, the same way the original runtime's
	// enclave worker threads set their own affinity on entry rather than
	// being pinned from outside.
	for _, a := range amms {
		a := a
		pin := rt.PinNonEnclaveThread
		if self.Type == msg.Enclave {
			pin = rt.PinEnclaveThread
		}
		wp.Go(func() {
			if err := pin(); err != nil {
				rt.Log.Warn("continuing without CPU affinity", "err", err)
			}
			a.Start()
		})
	}

	m.signal = runtime.NewSignalHandler(func() error {
		th := m.threads[0]
		out := th.amm.Allocate()
		out.Type = msg.SignalExit
		out.Src = self
		out.Dest = self
		out.Delivery = msg.Cleartext
		out.Size = msg.HeaderSize
		if !th.amm.Send(out) {
			return fmt.Errorf("mmngr: no route registered for self-addressed exit signal")
		}
		return nil
	})
	// SignalExit is a local control message (Src == Dest == self, never
	// crossing the wire to another instance), so it is registered
	// directly on thread 0's AMM rather than through the façade's SMM
	// common handler: the common handler's ENCLAVE-to-ENCLAVE-must-be-
	// ENCRYPTED check would otherwise reject an enclave's own
	// self-addressed exit signal, which is always sent CLEARTEXT.
	m.threads[0].amm.RegisterType(msg.SignalExit, func(*msg.Msg) {
		go m.Stop()
	})

	return m
}

// Runtime returns the process-wide handle this manager's threads were
// constructed against.
func (m *MMngr) Runtime() *runtime.Runtime { return m.runtime }

// Signal returns the §6 orderly-shutdown trigger: calling Trigger sends
// a self-addressed SignalExit message through thread 0's AMM, which the
// standing SignalExit handler installed by Create turns into a Stop.
func (m *MMngr) Signal() *runtime.SignalHandler { return m.signal }

func (m *MMngr) at(i int) (*thread, error) {
	if i < 0 || i >= len(m.threads) {
		return nil, fmt.Errorf("mmngr: thread index %d out of range", i)
	}
	return m.threads[i], nil
}

// AMM returns the async dispatcher for thread i.
func (m *MMngr) AMM(i int) (*amm.AMM, error) {
	th, err := m.at(i)
	if err != nil {
		return nil, err
	}
	return th.amm, nil
}

// SMM returns the secure layer for thread i.
func (m *MMngr) SMM(i int) (*smm.SMM, error) {
	th, err := m.at(i)
	if err != nil {
		return nil, err
	}
	return th.smm, nil
}

// ThreadCount returns the number of AMM/SMM pairs managed.
func (m *MMngr) ThreadCount() int { return len(m.threads) }

// Send is the façade's §6 send operation: thread i encrypts payload
// under its session with peer and dispatches it through its AMM,
// registering done as a one-shot flow continuation when non-nil (the
// send_async form). If peer has no READY session yet, the send is
// queued behind the handshake this call kicks off and
// diggierr.ErrHandshakePending is returned — the §7 "transparently
// queued" policy, not a failure.
func (m *MMngr) Send(i int, peer msg.Aid, t msg.Type, payload []byte, done amm.FlowContinuation) error {
	th, err := m.at(i)
	if err != nil {
		return err
	}
	return th.smm.Send(peer, func() { th.doSend(peer, t, payload, done) })
}

// Allocate is the façade's §6 allocate operation: a message slot from
// thread i's AMM pool, ready for a caller to fill in and pass to Send.
func (m *MMngr) Allocate(i int) (*msg.Msg, error) {
	th, err := m.at(i)
	if err != nil {
		return nil, err
	}
	return th.amm.Allocate(), nil
}

// RegisterType is the façade's §6 register_type operation: installs a
// standing handler for type t on thread i, interposed behind thread i's
// SMM common handler (smm.SMM.WrapReceive) so fn only ever sees
// already-FIFO-ordered, already-decrypted plaintext rather than the raw
// dispatched message — callers never call smm.Decrypt themselves.
func (m *MMngr) RegisterType(i int, t msg.Type, fn smm.ReceiveHandler) error {
	th, err := m.at(i)
	if err != nil {
		return err
	}
	th.amm.RegisterType(t, th.smm.WrapReceive(fn))
	return nil
}

// EndAsync is the façade's §6 end_async operation: cancels a pending
// flow continuation registered on thread i without waiting for a reply.
func (m *MMngr) EndAsync(i int, id uint64, sendErr error) error {
	th, err := m.at(i)
	if err != nil {
		return err
	}
	th.amm.EndAsync(id, sendErr)
	return nil
}

// RegisterName binds a human-readable name to peer in thread i's §4.4
// name-service map.
func (m *MMngr) RegisterName(i int, name string, peer msg.Aid) error {
	th, err := m.at(i)
	if err != nil {
		return err
	}
	th.smm.RegisterName(name, peer)
	return nil
}

// Names is the façade's §6 names operation: the name→Aid directory,
// merged across every thread's SMM name-service map into one flat
// namespace for the instance.
func (m *MMngr) Names() map[string]msg.Aid {
	out := make(map[string]msg.Aid)
	for _, th := range m.threads {
		for k, v := range th.smm.Names() {
			out[k] = v
		}
	}
	return out
}

// Stop halts every thread's AMM poll loop and the shared worker pool.
func (m *MMngr) Stop() {
	for _, t := range m.threads {
		t.amm.Stop()
	}
	m.pool.Stop()
	m.pool.Wait()
}
