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

// Package metrics wires the messaging core's internal counters into a
// Prometheus registry: one DispatcherStats per AMM and one SessionStats
// per SMM. The Ring exports no metrics of its own.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatcherStats tracks one AMM's poll loop.
type DispatcherStats struct {
	Polls            prometheus.Counter
	Idles            prometheus.Counter
	Backoff          prometheus.Gauge
	Deferred         prometheus.Gauge
	Dispatched       prometheus.Counter
	HandlerlessDrops prometheus.Counter
}

// NewDispatcherStats registers and returns a DispatcherStats for
// dispatcher thr, labeled so multiple AMMs can share one registry.
func NewDispatcherStats(reg prometheus.Registerer, thr int) *DispatcherStats {
	labels := prometheus.Labels{"thread": strconv.Itoa(thr)}
	d := &DispatcherStats{
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "polls_total",
			ConstLabels: labels,
		}),
		Idles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "idle_polls_total",
			ConstLabels: labels,
		}),
		Backoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "backoff_usec",
			ConstLabels: labels,
		}),
		Deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "deferred_messages",
			ConstLabels: labels,
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "dispatched_total",
			ConstLabels: labels,
		}),
		HandlerlessDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "amm", Name: "handlerless_total",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(d.Polls, d.Idles, d.Backoff, d.Deferred, d.Dispatched, d.HandlerlessDrops)
	}
	return d
}

// SessionStats tracks one SMM's session traffic.
type SessionStats struct {
	Handshakes prometheus.Counter
	AuthFails  prometheus.Counter
	Reordered  prometheus.Gauge
}

// NewSessionStats registers and returns a SessionStats for thread thr.
func NewSessionStats(reg prometheus.Registerer, thr int) *SessionStats {
	labels := prometheus.Labels{"thread": strconv.Itoa(thr)}
	s := &SessionStats{
		Handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "smm", Name: "handshakes_total",
			ConstLabels: labels,
		}),
		AuthFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diggi", Subsystem: "smm", Name: "auth_failures_total",
			ConstLabels: labels,
		}),
		Reordered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diggi", Subsystem: "smm", Name: "reordered_pending",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Handshakes, s.AuthFails, s.Reordered)
	}
	return s
}
