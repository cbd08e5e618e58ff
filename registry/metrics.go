// Copyright 2025 OpenTCR Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registryMetrics struct {
	agentsListed       prometheus.Gauge
	challengesOpen     prometheus.Gauge
	agentsSubmitted    prometheus.Counter
	challengesOpened   prometheus.Counter
	challengeVotes     prometheus.Counter
	challengesResolved *prometheus.CounterVec
	feedbacks          prometheus.Counter
	strategyUpdates    prometheus.Counter
	escrowRemainder    prometheus.Counter
}

func (r *Registry) initMetrics() {
	promautoFactory := promauto.With(r.config.PromRegistry)
	r.metrics.agentsListed = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "agora_registry_agents_listed",
		Help: "current count of listed agents",
	})
	r.metrics.challengesOpen = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "agora_registry_challenges_open",
		Help: "current count of open challenges",
	})
	r.metrics.agentsSubmitted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_registry_agents_submitted_total",
			Help: "total agent submissions accepted",
		},
	)
	r.metrics.challengesOpened = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_registry_challenges_opened_total",
			Help: "total challenges opened",
		},
	)
	r.metrics.challengeVotes = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_registry_challenge_votes_total",
			Help: "total challenge votes accepted",
		},
	)
	r.metrics.challengesResolved = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_registry_challenges_resolved_total",
			Help: "total challenges resolved by outcome",
		},
		[]string{"outcome"},
	)
	r.metrics.feedbacks = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "agora_registry_feedback_total",
		Help: "total feedback submissions accepted",
	})
	r.metrics.strategyUpdates = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_registry_strategy_updates_total",
			Help: "total strategy updates applied",
		},
	)
	r.metrics.escrowRemainder = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_registry_escrow_remainder_total",
			Help: "tokens retained by the escrow account from pro-rata rounding",
		},
	)
}
