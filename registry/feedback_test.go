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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opentcr/agora/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedbackTestRegistry(
	t *testing.T,
) (*Registry, *ledger.TokenLedger, *fakeClock) {
	t.Helper()
	l := ledger.NewTokenLedger()
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		PromRegistry:     prometheus.NewRegistry(),
		Ledger:           l,
		Clock:            clock,
		MinStakeAmount:   100,
		ChallengePeriod:  72 * time.Hour,
		FeedbackCooldown: 24 * time.Hour,
	})
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	return r, l, clock
}

func TestSubmitFeedback(t *testing.T) {
	r, _, _ := newFeedbackTestRegistry(t)

	err := r.SubmitFeedback("agent-1", "carol", true, 5, "flawless execution")
	require.NoError(t, err)

	stats, err := r.GetAgentStats("agent-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalFeedbacks)
	assert.Equal(t, uint64(1), stats.PositiveAlignments)
	// Average rating is scaled by 100
	assert.Equal(t, uint64(500), stats.AverageRating)
}

func TestSubmitFeedbackAverage(t *testing.T) {
	r, _, _ := newFeedbackTestRegistry(t)

	require.NoError(t, r.SubmitFeedback("agent-1", "carol", true, 5, ""))
	require.NoError(t, r.SubmitFeedback("agent-1", "dave", false, 3, "drifted"))

	stats, err := r.GetAgentStats("agent-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalFeedbacks)
	assert.Equal(t, uint64(1), stats.PositiveAlignments)
	// (500 + 300) / 2
	assert.Equal(t, uint64(400), stats.AverageRating)
}

func TestSubmitFeedbackRatingBounds(t *testing.T) {
	r, _, _ := newFeedbackTestRegistry(t)

	err := r.SubmitFeedback("agent-1", "carol", true, 0, "")
	assert.ErrorIs(t, err, ErrInvalidRating)
	err = r.SubmitFeedback("agent-1", "carol", true, 6, "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	// Rejected submissions leave no trace
	stats, err := r.GetAgentStats("agent-1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFeedbacks)
}

func TestSubmitFeedbackCooldown(t *testing.T) {
	r, _, clock := newFeedbackTestRegistry(t)

	require.NoError(t, r.SubmitFeedback("agent-1", "carol", true, 5, ""))
	err := r.SubmitFeedback("agent-1", "carol", true, 4, "")
	assert.ErrorIs(t, err, ErrCooldownActive)

	clock.Advance(23 * time.Hour)
	err = r.SubmitFeedback("agent-1", "carol", true, 4, "")
	assert.ErrorIs(t, err, ErrCooldownActive)

	clock.Advance(time.Hour)
	require.NoError(t, r.SubmitFeedback("agent-1", "carol", true, 4, ""))

	// The cooldown is per author, not global
	require.NoError(t, r.SubmitFeedback("agent-1", "dave", false, 2, ""))
}

func TestSubmitFeedbackNotListed(t *testing.T) {
	r, _, _ := newFeedbackTestRegistry(t)

	err := r.SubmitFeedback("no-such-agent", "carol", true, 5, "")
	assert.ErrorIs(t, err, ErrNotListed)
}

func TestFeedbackStatsSurviveDelisting(t *testing.T) {
	r, l, clock := newFeedbackTestRegistry(t)
	require.NoError(t, r.SubmitFeedback("agent-1", "carol", true, 4, ""))

	// Delist the agent through a successful challenge
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))
	l.Mint("voter-1", 100)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", false, 100))
	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	// Stats remain queryable, new feedback is rejected
	stats, err := r.GetAgentStats("agent-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalFeedbacks)
	assert.Equal(t, uint64(400), stats.AverageRating)

	err = r.SubmitFeedback("agent-1", "dave", true, 5, "")
	assert.ErrorIs(t, err, ErrNotListed)
}

func TestGetAgentStatsNotFound(t *testing.T) {
	r, _, _ := newFeedbackTestRegistry(t)
	_, err := r.GetAgentStats("no-such-agent")
	assert.ErrorIs(t, err, ErrNotFound)
}
