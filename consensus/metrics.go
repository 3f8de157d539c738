// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceConsensus = "ballot"

// Metrics collects the statistics of the ballot protocol,
// a nil *Metrics discards everything.
type Metrics struct {
	statements       *prometheus.CounterVec
	emitted          *prometheus.CounterVec
	phases           *prometheus.CounterVec
	externalized     prometheus.Counter
	timerExpirations prometheus.Counter
	fatals           prometheus.Counter
	activeSlots      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	m := &Metrics{
		statements: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "statements_processed_total",
			Namespace: namespaceConsensus,
			Help:      "the number of statements processed by type and result",
		}, []string{"type", "state"}),

		emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "statements_emitted_total",
			Namespace: namespaceConsensus,
			Help:      "the number of statements emitted by the local node",
		}, []string{"type"}),

		phases: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "phase_transitions_total",
			Namespace: namespaceConsensus,
			Help:      "the number of slots entering a phase",
		}, []string{"phase"}),

		externalized: f.NewCounter(prometheus.CounterOpts{
			Name:      "slots_externalized_total",
			Namespace: namespaceConsensus,
			Help:      "the number of slots externalized",
		}),

		timerExpirations: f.NewCounter(prometheus.CounterOpts{
			Name:      "ballot_timer_expirations_total",
			Namespace: namespaceConsensus,
			Help:      "the number of ballot protocol timer expirations",
		}),

		fatals: f.NewCounter(prometheus.CounterOpts{
			Name:      "slots_aborted_total",
			Namespace: namespaceConsensus,
			Help:      "the number of slots aborted by a fatal condition",
		}),

		activeSlots: f.NewGauge(prometheus.GaugeOpts{
			Name:      "active_slots",
			Namespace: namespaceConsensus,
			Help:      "the number of slots kept in memory",
		}),
	}
	return m
}

func (m *Metrics) statementProcessed(t StatementType, state StatementState) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(t.String(), state.String()).Inc()
}

func (m *Metrics) statementEmitted(t StatementType) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) phaseEntered(p Phase) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(p.String()).Inc()
	if p == PhaseExternalize {
		m.externalized.Inc()
	}
}

func (m *Metrics) timerExpired() {
	if m == nil {
		return
	}
	m.timerExpirations.Inc()
}

func (m *Metrics) fatalRaised() {
	if m == nil {
		return
	}
	m.fatals.Inc()
}

func (m *Metrics) setActiveSlots(n int) {
	if m == nil {
		return
	}
	m.activeSlots.Set(float64(n))
}
