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
	"sync"
	"testing"
	"time"

	"github.com/opentcr/agora/event"
	"github.com/opentcr/agora/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeClock is a manually advanced clock for deterministic window tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestRegistry creates a registry configured for testing
func newTestRegistry(t *testing.T) (*Registry, *ledger.TokenLedger, *fakeClock) {
	t.Helper()
	l := ledger.NewTokenLedger()
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{
		Logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		EventBus:        event.NewEventBus(nil, nil),
		PromRegistry:    prometheus.NewRegistry(),
		Ledger:          l,
		Clock:           clock,
		MinStakeAmount:  100,
		ChallengePeriod: 72 * time.Hour,
	})
	return r, l, clock
}

// submitTestAgent funds the owner and submits a listed agent
func submitTestAgent(
	t *testing.T,
	r *Registry,
	l *ledger.TokenLedger,
	id string,
	owner string,
	stake uint64,
) {
	t.Helper()
	l.Mint(owner, stake)
	require.NoError(
		t,
		r.SubmitAgent(id, owner, "ipfs://metadata", "momentum-v1", stake),
	)
}

// =============================================================================
// Submission
// =============================================================================

func TestSubmitAgent(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	l.Mint("alice", 500)

	err := r.SubmitAgent("agent-1", "alice", "ipfs://meta", "momentum-v1", 100)
	require.NoError(t, err)

	agent, ok := r.GetAgent("agent-1")
	require.True(t, ok)
	assert.Equal(t, "alice", agent.Owner)
	assert.Equal(t, "ipfs://meta", agent.Metadata)
	assert.Equal(t, "momentum-v1", agent.Strategy)
	assert.Equal(t, uint64(100), agent.Stake)
	assert.True(t, agent.Listed)

	// Stake moved from owner to escrow
	assert.Equal(t, uint64(400), l.BalanceOf("alice"))
	assert.Equal(t, uint64(100), l.BalanceOf(r.EscrowAccount()))
}

func TestSubmitAgentDuplicateId(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)

	l.Mint("bob", 100)
	err := r.SubmitAgent("agent-1", "bob", "m", "s", 100)
	assert.ErrorIs(t, err, ErrDuplicateId)
	// Bob's funds untouched
	assert.Equal(t, uint64(100), l.BalanceOf("bob"))
}

func TestSubmitAgentBelowMinStake(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	l.Mint("alice", 500)
	err := r.SubmitAgent("agent-1", "alice", "m", "s", 99)
	assert.ErrorIs(t, err, ErrInsufficientStake)
	_, ok := r.GetAgent("agent-1")
	assert.False(t, ok)
}

func TestSubmitAgentInsufficientFunds(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	l.Mint("alice", 50)
	err := r.SubmitAgent("agent-1", "alice", "m", "s", 100)
	require.Error(t, err)
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	var insufficientErr *ledger.InsufficientFundsError
	assert.ErrorAs(t, err, &insufficientErr)
	// No partial state
	_, ok := r.GetAgent("agent-1")
	assert.False(t, ok)
	assert.Equal(t, uint64(50), l.BalanceOf("alice"))
	assert.Equal(t, uint64(0), l.BalanceOf(r.EscrowAccount()))
}

// =============================================================================
// Challenge lifecycle
// =============================================================================

func TestChallengeAgent(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)

	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	agent, ok := r.GetAgent("agent-1")
	require.True(t, ok)
	assert.Equal(t, "bob", agent.Challenger)
	assert.Equal(t, uint64(100), agent.ChallengeStake)
	assert.Equal(t, clock.Now().Add(72*time.Hour), agent.ChallengeEndTime)
	assert.Equal(t, uint64(0), l.BalanceOf("bob"))
	assert.Equal(t, uint64(200), l.BalanceOf(r.EscrowAccount()))
}

func TestChallengeAgentNotFound(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	l.Mint("bob", 100)
	err := r.ChallengeAgent("no-such-agent", "bob", 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChallengeAgentAlreadyChallenged(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	l.Mint("carol", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	err := r.ChallengeAgent("agent-1", "carol", 100)
	assert.ErrorIs(t, err, ErrAlreadyChallenged)
	assert.Equal(t, uint64(100), l.BalanceOf("carol"))
}

func TestVoteOnChallenge(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	l.Mint("voter-1", 150)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", true, 150))

	agent, _ := r.GetAgent("agent-1")
	assert.Equal(t, uint64(150), agent.VotesFor)
	assert.Equal(t, uint64(0), agent.VotesAgainst)
	assert.Equal(t, uint64(150), agent.TotalVoterStakes)
	assert.Equal(t, uint64(0), l.BalanceOf("voter-1"))

	// One vote per party per round
	l.Mint("voter-1", 50)
	err := r.VoteOnChallenge("agent-1", "voter-1", false, 50)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, uint64(50), l.BalanceOf("voter-1"))
}

func TestVoteOnChallengeNoActiveChallenge(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("voter-1", 100)
	err := r.VoteOnChallenge("agent-1", "voter-1", true, 100)
	assert.ErrorIs(t, err, ErrNoActiveChallenge)
}

func TestVoteOnChallengeAfterWindow(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	clock.Advance(72 * time.Hour)
	l.Mint("voter-1", 100)
	err := r.VoteOnChallenge("agent-1", "voter-1", true, 100)
	assert.ErrorIs(t, err, ErrChallengeEnded)
}

func TestResolveChallengeBeforeWindow(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	clock.Advance(71 * time.Hour)
	err := r.ResolveChallenge("agent-1")
	assert.ErrorIs(t, err, ErrChallengeStillActive)
}

func TestResolveChallengeAccepted(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	// Four voters: 300 against, 400 for
	for _, v := range []struct {
		name    string
		support bool
		stake   uint64
	}{
		{"voter-1", false, 100},
		{"voter-2", false, 200},
		{"voter-3", true, 100},
		{"voter-4", true, 300},
	} {
		l.Mint(v.name, v.stake)
		require.NoError(
			t,
			r.VoteOnChallenge("agent-1", v.name, v.support, v.stake),
		)
	}
	supplyBefore := l.TotalSupply()

	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	agent, ok := r.GetAgent("agent-1")
	require.True(t, ok)
	assert.True(t, agent.Listed)
	// Agent keeps 70% of the combined 200 stake as its new listing stake
	assert.Equal(t, uint64(140), agent.Stake)
	// Challenge sub-state fully cleared
	assert.Empty(t, agent.Challenger)
	assert.Zero(t, agent.ChallengeStake)
	assert.Zero(t, agent.VotesFor)
	assert.Zero(t, agent.VotesAgainst)
	assert.Zero(t, agent.TotalVoterStakes)
	assert.Nil(t, agent.Voted)
	assert.Nil(t, agent.VoterStakes)

	// Voter pool of 60 split pro-rata over 700 staked
	assert.Equal(t, uint64(60*100/700), l.BalanceOf("voter-1"))
	assert.Equal(t, uint64(60*200/700), l.BalanceOf("voter-2"))
	assert.Equal(t, uint64(60*100/700), l.BalanceOf("voter-3"))
	assert.Equal(t, uint64(60*300/700), l.BalanceOf("voter-4"))
	// Losing challenger gets nothing back
	assert.Equal(t, uint64(0), l.BalanceOf("bob"))

	// Stake is conserved exactly; rounding remainders stay with escrow
	assert.Equal(t, supplyBefore, l.TotalSupply())

	// Round is closed
	err := r.ResolveChallenge("agent-1")
	assert.ErrorIs(t, err, ErrNoActiveChallenge)
}

func TestResolveChallengeRejected(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	l.Mint("voter-1", 300)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", false, 300))

	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	agent, ok := r.GetAgent("agent-1")
	require.True(t, ok)
	assert.False(t, agent.Listed)
	assert.Zero(t, agent.Stake)
	// Challenger takes 70% of the combined stake
	assert.Equal(t, uint64(140), l.BalanceOf("bob"))
	// Sole voter takes the whole 60 pool
	assert.Equal(t, uint64(60), l.BalanceOf("voter-1"))
}

func TestResolveChallengeTieFavorsIncumbent(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	// Equal stake on each side
	l.Mint("voter-1", 100)
	l.Mint("voter-2", 100)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", true, 100))
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-2", false, 100))

	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	agent, _ := r.GetAgent("agent-1")
	assert.True(t, agent.Listed)
	assert.Equal(t, uint64(140), agent.Stake)
	assert.Equal(t, uint64(0), l.BalanceOf("bob"))
}

func TestResolveChallengeNoVoters(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))
	escrowBefore := l.BalanceOf(r.EscrowAccount())

	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	agent, _ := r.GetAgent("agent-1")
	assert.True(t, agent.Listed)
	// Undistributed pool stays with escrow
	assert.Equal(t, escrowBefore, l.BalanceOf(r.EscrowAccount()))
}

func TestResolveChallengeWinnersOnlyPayout(t *testing.T) {
	l := ledger.NewTokenLedger()
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{
		Logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		PromRegistry:    prometheus.NewRegistry(),
		Ledger:          l,
		Clock:           clock,
		MinStakeAmount:  100,
		ChallengePeriod: 72 * time.Hour,
		PayoutPolicy:    PayoutWinners,
	})
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))

	l.Mint("voter-1", 100)
	l.Mint("voter-2", 300)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", false, 100))
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-2", true, 300))

	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	// Only the winning side shares the pool, pro-rata over winning stake
	assert.Equal(t, uint64(0), l.BalanceOf("voter-1"))
	assert.Equal(t, uint64(60), l.BalanceOf("voter-2"))
}

func TestChallengeDelistedAgent(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	l.Mint("bob", 100)
	require.NoError(t, r.ChallengeAgent("agent-1", "bob", 100))
	l.Mint("voter-1", 100)
	require.NoError(t, r.VoteOnChallenge("agent-1", "voter-1", false, 100))
	clock.Advance(72 * time.Hour)
	require.NoError(t, r.ResolveChallenge("agent-1"))

	// Delisted agents cannot be challenged again
	l.Mint("carol", 100)
	err := r.ChallengeAgent("agent-1", "carol", 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Strategy updates
// =============================================================================

func TestUpdateStrategy(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)

	require.NoError(t, r.UpdateStrategy("agent-1", "alice", "momentum-v2"))
	agent, _ := r.GetAgent("agent-1")
	assert.Equal(t, "momentum-v2", agent.Strategy)

	err := r.UpdateStrategy("agent-1", "mallory", "drain-the-vault")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = r.UpdateStrategy("no-such-agent", "alice", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStrategyGovernanceOnly(t *testing.T) {
	l := ledger.NewTokenLedger()
	r := NewRegistry(RegistryConfig{
		Logger:              slog.New(slog.NewJSONHandler(io.Discard, nil)),
		PromRegistry:        prometheus.NewRegistry(),
		Ledger:              l,
		Clock:               newFakeClock(),
		MinStakeAmount:      100,
		ChallengePeriod:     72 * time.Hour,
		AuthPolicy:          AuthGovernanceOnly,
		GovernanceAuthority: "governance",
	})
	submitTestAgent(t, r, l, "agent-1", "alice", 100)

	// Owner is locked out, the governance authority is not
	err := r.UpdateStrategy("agent-1", "alice", "momentum-v2")
	assert.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, r.UpdateStrategy("agent-1", "governance", "momentum-v2"))
}

// =============================================================================
// Queries and restore
// =============================================================================

func TestListAgents(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-b", "alice", 100)
	submitTestAgent(t, r, l, "agent-a", "bob", 100)

	agents := r.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "agent-a", agents[0].Id)
	assert.Equal(t, "agent-b", agents[1].Id)
}

func TestGetAgentReturnsCopy(t *testing.T) {
	r, l, _ := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)

	agent, _ := r.GetAgent("agent-1")
	agent.Strategy = "mutated"
	fresh, _ := r.GetAgent("agent-1")
	assert.Equal(t, "momentum-v1", fresh.Strategy)
}

func TestExpiredChallenges(t *testing.T) {
	r, l, clock := newTestRegistry(t)
	submitTestAgent(t, r, l, "agent-1", "alice", 100)
	submitTestAgent(t, r, l, "agent-2", "bob", 100)
	l.Mint("carol", 200)
	require.NoError(t, r.ChallengeAgent("agent-1", "carol", 100))

	assert.Empty(t, r.ExpiredChallenges())

	clock.Advance(36 * time.Hour)
	require.NoError(t, r.ChallengeAgent("agent-2", "carol", 100))

	clock.Advance(36 * time.Hour)
	assert.Equal(t, []string{"agent-1"}, r.ExpiredChallenges())

	clock.Advance(36 * time.Hour)
	assert.Equal(t, []string{"agent-1", "agent-2"}, r.ExpiredChallenges())
}

func TestRestore(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.Restore([]*Agent{
		{Id: "agent-1", Owner: "alice", Stake: 100, Listed: true},
		{Id: "agent-2", Owner: "bob", Stake: 0, Listed: false},
	})

	agent, ok := r.GetAgent("agent-1")
	require.True(t, ok)
	assert.True(t, agent.Listed)
	agent, ok = r.GetAgent("agent-2")
	require.True(t, ok)
	assert.False(t, agent.Listed)
}
