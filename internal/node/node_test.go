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

package node

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opentcr/agora/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A single node per test binary: the node registers its metrics with the
// default prometheus registry, which rejects duplicates.
func TestNodeLifecycle(t *testing.T) {
	cfg := &config.Config{
		DatabasePath:        "", // in-memory stores
		MinStakeAmount:      100,
		ChallengePeriod:     "72h",
		RewardPercentage:    70,
		FeedbackCooldown:    "24h",
		PayoutPolicy:        "all",
		AuthPolicy:          "owner-or-governance",
		MinTokensToPropose:  100,
		VotingPeriod:        "72h",
		GovernanceAuthority: "governance",
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	n, err := New(cfg, logger)
	require.NoError(t, err)
	n.Start()

	// Drive a submission and a feedback through the assembled engines
	n.Ledger().Mint("alice", 500)
	require.NoError(
		t,
		n.Registry().SubmitAgent("agent-1", "alice", "ipfs://meta", "momentum-v1", 100),
	)
	require.NoError(
		t,
		n.Registry().SubmitFeedback("agent-1", "carol", true, 5, "solid"),
	)
	stats, err := n.Registry().GetAgentStats("agent-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), stats.AverageRating)

	// A proposal flows through governance into the registry
	n.Ledger().Mint("proposer", 100)
	_, err = n.Governance().CreateProposal(
		"proposer",
		"agent-1",
		"desc",
		"ipfs://prop",
		"mean-reversion-v1",
	)
	require.NoError(t, err)

	// The journal records the published facts
	require.Eventually(t, func() bool {
		return n.Journal().LastSeq() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Stop())
}
