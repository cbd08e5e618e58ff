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

package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type governanceMetrics struct {
	proposalsCreated  prometheus.Counter
	proposalVotes     prometheus.Counter
	proposalsExecuted *prometheus.CounterVec
}

func (g *Governance) initMetrics() {
	promautoFactory := promauto.With(g.config.PromRegistry)
	g.metrics.proposalsCreated = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_governance_proposals_created_total",
			Help: "total proposals created",
		},
	)
	g.metrics.proposalVotes = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_governance_proposal_votes_total",
			Help: "total proposal votes accepted",
		},
	)
	g.metrics.proposalsExecuted = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_governance_proposals_executed_total",
			Help: "total proposals executed by outcome",
		},
		[]string{"outcome"},
	)
}
