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

// Package amm implements the async dispatcher: a per-thread poll loop
// that drains its inbox ring, routes each message to either a one-shot
// flow continuation or a type handler, and falls back to adaptive
// backoff (doubling, capped) once the inbox has stayed empty past an
// idle threshold, so a quiet thread does not spin a CPU core.
package amm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/diggi-project/diggicore/metrics"
	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/pool"
	"github.com/diggi-project/diggicore/ring"
	"github.com/diggi-project/diggicore/worker"
)

// Tuning constants translated from the original runtime's
// DIGGI_IDLE_MESSAGE_THRESHOLD / DIGGI_BASE_IDLE_SLEEP_USEC /
// PEAK_LINEAR_BACKOFF.
const (
	IdleThreshold = 10000
	BackoffBase   = time.Microsecond
	BackoffPeak   = 8192 * time.Microsecond
)

// FlowContinuation is a one-shot callback correlated by message id; it is
// removed from the flow table the moment it fires.
type FlowContinuation func(m *msg.Msg, err error)

// TypeHandler is a standing callback for every message of a given type.
type TypeHandler func(m *msg.Msg)

// AMM is one thread's async message dispatcher.
type AMM struct {
	thr    int
	inbox  *ring.Ring
	pool   *pool.Pool
	handle *worker.Handle
	log    *log.Logger
	stats  *metrics.DispatcherStats

	monotonicMsgID   uint64
	monotonicVirtual uint64

	mu          sync.Mutex
	routes      map[uint64]*ring.Ring
	typeHandler map[msg.Type]TypeHandler
	flowHandler map[uint64]FlowContinuation
	deferred    []*msg.Msg

	// peers holds every AMM sharing this instance's inbox ring, indexed
	// by thread. Any thread may dequeue a message addressed to any
	// other thread of the same instance (the inbox is one shared ring,
	// not one per thread); peers lets dispatch hand such a message back
	// to the thread it actually belongs to. Set once via SetPeers
	// before Start runs; read-only afterward.
	peers []*AMM

	stop int32
}

// New constructs an AMM for thread thr, reading from inbox and
// allocating message slots from p.
func New(thr int, inbox *ring.Ring, p *pool.Pool, handle *worker.Handle, stats *metrics.DispatcherStats, logger *log.Logger) *AMM {
	if logger == nil {
		logger = log.Default()
	}
	return &AMM{
		thr:         thr,
		inbox:       inbox,
		pool:        p,
		handle:      handle,
		log:         logger.With("thread", thr),
		stats:       stats,
		routes:      make(map[uint64]*ring.Ring),
		typeHandler: make(map[msg.Type]TypeHandler),
		flowHandler: make(map[uint64]FlowContinuation),
	}
}

// GetMessageID returns the next monotonically increasing id for a
// logged message.
func (a *AMM) GetMessageID() uint64 {
	return atomic.AddUint64(&a.monotonicMsgID, 1)
}

// GetVirtualMessageID returns the next id from a counter that decrements
// from the maximum uint64, keeping omit_from_log message ids in a
// disjoint range from logged message ids so the two id spaces can never
// collide regardless of traffic volume.
func (a *AMM) GetVirtualMessageID() uint64 {
	return atomic.AddUint64(&a.monotonicVirtual, ^uint64(0)) // wraps downward from max
}

// RegisterRoute installs the outbound ring a message addressed to dest's
// instance (any thread on that Aid) should be pushed onto.
func (a *AMM) RegisterRoute(dest msg.Aid, q *ring.Ring) {
	a.mu.Lock()
	a.routes[dest.Instance().Raw()] = q
	a.mu.Unlock()
}

// Inbox returns the ring this AMM polls, so a caller wiring up routes
// between two AMMs in the same process can register one's Inbox as the
// other's route without threading a separate reference around.
func (a *AMM) Inbox() *ring.Ring {
	return a.inbox
}

// SetPeers installs the sibling AMMs that share this instance's inbox
// ring, indexed by thread (peers[a.thr] is a itself). Call once, after
// every thread's AMM has been constructed and before Start runs, so a
// message dequeued by the wrong thread can be rescheduled onto the
// right one.
func (a *AMM) SetPeers(peers []*AMM) {
	a.peers = peers
}

// RegisterType installs a standing handler for every inbound message of
// type t, then drains any deferred messages of that type that arrived
// before a handler existed.
func (a *AMM) RegisterType(t msg.Type, fn TypeHandler) {
	a.mu.Lock()
	a.typeHandler[t] = fn
	var ready []*msg.Msg
	kept := a.deferred[:0]
	for _, m := range a.deferred {
		if m.Type == t {
			ready = append(ready, m)
		} else {
			kept = append(kept, m)
		}
	}
	a.deferred = kept
	a.mu.Unlock()

	for _, m := range ready {
		fn(m)
	}
}

// UnregisterType removes a standing type handler.
func (a *AMM) UnregisterType(t msg.Type) {
	a.mu.Lock()
	delete(a.typeHandler, t)
	a.mu.Unlock()
}

// Allocate reserves a message slot from the shared pool for thread thr.
func (a *AMM) Allocate() *msg.Msg {
	return a.pool.Allocate(a.thr)
}

// Send routes m to the ring registered for m.Dest's instance. The
// caller retains no further ownership of m once Send returns.
func (a *AMM) Send(m *msg.Msg) bool {
	a.mu.Lock()
	q := a.routes[m.Dest.Instance().Raw()]
	a.mu.Unlock()
	if q == nil {
		return false
	}
	q.Push(a.thr, m)
	return true
}

// SendAsync is Send plus a one-shot continuation correlated by m.ID,
// invoked when a reply carrying the same id is dispatched, or with a
// non-nil error if EndAsync cancels it first.
func (a *AMM) SendAsync(m *msg.Msg, done FlowContinuation) bool {
	a.mu.Lock()
	a.flowHandler[m.ID] = done
	a.mu.Unlock()
	if ok := a.Send(m); !ok {
		a.mu.Lock()
		delete(a.flowHandler, m.ID)
		a.mu.Unlock()
		return false
	}
	return true
}

// EndAsync cancels a pending flow continuation without waiting for a
// reply, invoking it once with err set.
func (a *AMM) EndAsync(id uint64, err error) {
	a.mu.Lock()
	fn, ok := a.flowHandler[id]
	delete(a.flowHandler, id)
	a.mu.Unlock()
	if ok {
		fn(nil, err)
	}
}

// dispatch handles one message popped from the shared inbox. Since the
// inbox is one ring shared by every thread of this instance, whichever
// thread happens to dequeue a message is not necessarily the one it was
// addressed to; dispatch reschedules onto the right thread via the
// worker pool before falling through to deliverLocal.
func (a *AMM) dispatch(m *msg.Msg) {
	if dst := int(m.Dest.Thread); dst != a.thr && a.handle != nil && dst >= 0 && dst < len(a.peers) && a.peers[dst] != nil {
		target := a.peers[dst]
		a.handle.ScheduleOn(dst, func() { target.deliverLocal(m) })
		return
	}
	a.deliverLocal(m)
}

// deliverLocal routes one inbound message, already confirmed to belong
// to this thread, to its flow continuation or type handler, deferring
// it if neither is currently registered.
func (a *AMM) deliverLocal(m *msg.Msg) {
	a.mu.Lock()
	if fn, ok := a.flowHandler[m.ID]; ok {
		delete(a.flowHandler, m.ID)
		a.mu.Unlock()
		if a.stats != nil {
			a.stats.Dispatched.Inc()
		}
		fn(m, nil)
		return
	}
	if fn, ok := a.typeHandler[m.Type]; ok {
		a.mu.Unlock()
		if a.stats != nil {
			a.stats.Dispatched.Inc()
		}
		fn(m)
		return
	}
	a.deferred = append(a.deferred, m)
	deferredLen := len(a.deferred)
	a.mu.Unlock()
	if a.stats != nil {
		a.stats.HandlerlessDrops.Inc()
		a.stats.Deferred.Set(float64(deferredLen))
	}
	a.log.Debug("deferred message with no registered handler", "type", m.Type, "id", m.ID)
}

// Start runs the poll loop until Stop is called. Intended to be run on
// its own goroutine, typically via worker.Handle.Run's owning thread.
// Each tick also drains this thread's scheduled-continuation queue, so
// a message dispatch rescheduled here by another thread (see dispatch)
// actually runs.
func (a *AMM) Start() {
	idle := 0
	backoff := BackoffBase
	for atomic.LoadInt32(&a.stop) == 0 {
		if a.handle != nil {
			a.handle.Yield()
		}
		if a.stats != nil {
			a.stats.Polls.Inc()
		}
		v, ok := a.inbox.TryPop(a.thr)
		if !ok {
			idle++
			if a.stats != nil {
				a.stats.Idles.Inc()
			}
			if idle > IdleThreshold {
				if a.stats != nil {
					a.stats.Backoff.Set(float64(backoff.Microseconds()))
				}
				time.Sleep(backoff)
				if backoff < BackoffPeak {
					backoff *= 2
					if backoff > BackoffPeak {
						backoff = BackoffPeak
					}
				}
			}
			continue
		}
		idle = 0
		backoff = BackoffBase
		a.dispatch(v.(*msg.Msg))
	}
}

// Stop halts the poll loop and releases every currently deferred message
// back to the pool synchronously, so no slot is leaked on shutdown.
func (a *AMM) Stop() {
	atomic.StoreInt32(&a.stop, 1)
	a.mu.Lock()
	deferred := a.deferred
	a.deferred = nil
	a.mu.Unlock()
	for _, m := range deferred {
		a.pool.Release(a.thr, m)
	}
}
