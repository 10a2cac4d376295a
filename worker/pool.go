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
	channels "gopkg.in/eapache/channels.v1"
)

// Pool is a cooperative per-thread continuation runner: every logical
// thread index owns an unbounded FIFO of scheduled closures (an
// eapache/channels InfiniteChannel, so Schedule never blocks the
// scheduling side even if the target thread is busy), drained only when
// that thread calls Run or Yield. There is no preemption — a closure
// runs to completion once picked up.
type Pool struct {
	Worker
	queues []*channels.InfiniteChannel
}

// NewPool creates a Pool with n per-thread continuation queues.
func NewPool(n int) *Pool {
	p := &Pool{queues: make([]*channels.InfiniteChannel, n)}
	for i := range p.queues {
		p.queues[i] = channels.NewInfiniteChannel()
	}
	return p
}

// Handle is a Pool bound to one thread index, used by the component that
// owns that thread (an AMM) so call sites
// read schedule/yield/current_thread the way the original runtime does.
type Handle struct {
	pool   *Pool
	thread int
}

// Handle returns a Handle bound to thread index i.
func (p *Pool) Handle(i int) *Handle {
	return &Handle{pool: p, thread: i}
}

// CurrentThread returns the thread index this handle is bound to.
func (h *Handle) CurrentThread() int { return h.thread }

// Schedule queues fn to run on this handle's own thread.
func (h *Handle) Schedule(fn func()) {
	h.pool.queues[h.thread].In() <- fn
}

// ScheduleOn queues fn to run on a different thread's queue, the
// cross-thread rescheduling path used when a message or continuation
// belongs to a thread other than the one currently processing it.
func (h *Handle) ScheduleOn(thread int, fn func()) {
	h.pool.queues[thread].In() <- fn
}

// Yield drains and runs every continuation currently queued for this
// thread without blocking, then returns. This is the cooperative thread
// model's only preemption point: a long-running handler calls Yield
// between units of work to let scheduled continuations make progress.
func (h *Handle) Yield() {
	q := h.pool.queues[h.thread].Out()
	for {
		select {
		case v, ok := <-q:
			if !ok {
				return
			}
			v.(func())()
		default:
			return
		}
	}
}

// Run blocks, executing continuations scheduled for this thread as they
// arrive, until the pool is halted.
func (h *Handle) Run() {
	q := h.pool.queues[h.thread].Out()
	halt := h.pool.HaltCh()
	for {
		select {
		case <-halt:
			return
		case v := <-q:
			v.(func())()
		}
	}
}

// Stop halts the pool and closes every per-thread queue.
func (p *Pool) Stop() {
	p.Halt()
	for _, q := range p.queues {
		q.Close()
	}
}
