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
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/opentcr/agora/event"
	"github.com/opentcr/agora/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// PayoutPolicy selects which challenge voters share the voter pool at
// resolution.
type PayoutPolicy string

const (
	// PayoutAll pays every participating voter pro-rata regardless of side
	PayoutAll PayoutPolicy = "all"
	// PayoutWinners pays only voters who backed the winning side
	PayoutWinners PayoutPolicy = "winners"
)

// AuthPolicy selects who may update an agent's strategy directly.
type AuthPolicy string

const (
	// AuthOwnerOrGovernance allows the agent owner and the governance authority
	AuthOwnerOrGovernance AuthPolicy = "owner-or-governance"
	// AuthGovernanceOnly allows the governance authority alone
	AuthGovernanceOnly AuthPolicy = "governance-only"
)

const (
	DefaultRewardPercentage = 70
	DefaultEscrowAccount    = "registry.escrow"
)

type RegistryConfig struct {
	PromRegistry prometheus.Registerer
	Ledger       ledger.Ledger
	Clock        Clock
	Store        Store
	Logger       *slog.Logger
	EventBus     *event.EventBus

	MinStakeAmount   uint64
	ChallengePeriod  time.Duration
	RewardPercentage uint64
	FeedbackCooldown time.Duration
	EscrowAccount    string
	PayoutPolicy     PayoutPolicy
	AuthPolicy       AuthPolicy
	// GovernanceAuthority is the identity the governance engine mutates
	// strategies under
	GovernanceAuthority string
}

// Registry holds the agent records and implements the challenge and
// feedback engines. Every public operation is atomic with respect to the
// store: it executes under the registry lock, reads the clock once, and
// commits no state when the ledger debit fails.
type Registry struct {
	config  RegistryConfig
	metrics registryMetrics
	logger  *slog.Logger
	ldgr    ledger.Ledger
	clock   Clock
	agents  map[string]*Agent
	sync.Mutex
}

func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config: config,
		ldgr:   config.Ledger,
		clock:  config.Clock,
		agents: make(map[string]*Agent),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		r.logger = config.Logger
	}
	if r.clock == nil {
		r.clock = WallClock{}
	}
	if r.config.RewardPercentage == 0 {
		r.config.RewardPercentage = DefaultRewardPercentage
	}
	if r.config.EscrowAccount == "" {
		r.config.EscrowAccount = DefaultEscrowAccount
	}
	if r.config.PayoutPolicy == "" {
		r.config.PayoutPolicy = PayoutAll
	}
	if r.config.AuthPolicy == "" {
		r.config.AuthPolicy = AuthOwnerOrGovernance
	}
	if r.config.PromRegistry != nil {
		r.initMetrics()
	}
	return r
}

// EscrowAccount returns the ledger account holding escrowed stakes
func (r *Registry) EscrowAccount() string {
	return r.config.EscrowAccount
}

// Restore seeds the registry from persisted agent records. It is called
// once at startup before the registry starts serving operations.
func (r *Registry) Restore(agents []*Agent) {
	r.Lock()
	defer r.Unlock()
	for _, a := range agents {
		r.agents[a.Id] = a.copy()
	}
	r.syncGauges()
}

func (r *Registry) syncGauges() {
	if r.config.PromRegistry == nil {
		return
	}
	var listed, open float64
	for _, a := range r.agents {
		if a.Listed {
			listed++
		}
		if a.challengeOpen() {
			open++
		}
	}
	r.metrics.agentsListed.Set(listed)
	r.metrics.challengesOpen.Set(open)
}

// SubmitAgent lists a new agent backed by the given stake. The stake is
// debited from the owner into escrow before the record is created; a debit
// failure leaves the registry unchanged.
func (r *Registry) SubmitAgent(
	id string,
	owner string,
	metadata string,
	strategy string,
	stake uint64,
) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.agents[id]; ok {
		return ErrDuplicateId
	}
	if stake < r.config.MinStakeAmount {
		return ErrInsufficientStake
	}
	if err := r.ldgr.Debit(owner, stake); err != nil {
		return &LedgerError{Op: "debit", Err: err}
	}
	r.ldgr.Credit(r.config.EscrowAccount, stake)
	agent := &Agent{
		Id:       id,
		Owner:    owner,
		Metadata: metadata,
		Strategy: strategy,
		Stake:    stake,
		Listed:   true,
	}
	r.agents[id] = agent
	r.persistAgent(agent)
	r.logger.Info(
		"agent submitted",
		"component", "registry",
		"agent_id", id,
		"owner", owner,
		"stake", stake,
	)
	if r.config.PromRegistry != nil {
		r.metrics.agentsSubmitted.Inc()
		r.metrics.agentsListed.Inc()
	}
	r.publish(
		AgentSubmittedEventType,
		AgentSubmittedEvent{
			Id:       id,
			Owner:    owner,
			Metadata: metadata,
			Strategy: strategy,
			Stake:    stake,
		},
	)
	return nil
}

// ChallengeAgent opens a dispute over a listed agent. Exactly one challenge
// may be open per agent; the window closes ChallengePeriod after now.
func (r *Registry) ChallengeAgent(
	id string,
	challenger string,
	stake uint64,
) error {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok || !agent.Listed {
		return ErrNotFound
	}
	if agent.challengeOpen() {
		return ErrAlreadyChallenged
	}
	if stake < r.config.MinStakeAmount {
		return ErrInsufficientStake
	}
	now := r.clock.Now()
	if err := r.ldgr.Debit(challenger, stake); err != nil {
		return &LedgerError{Op: "debit", Err: err}
	}
	r.ldgr.Credit(r.config.EscrowAccount, stake)
	agent.Challenger = challenger
	agent.ChallengeStake = stake
	agent.ChallengeEndTime = now.Add(r.config.ChallengePeriod)
	agent.Voted = make(map[string]bool)
	agent.VoterStakes = make(map[string]uint64)
	agent.VoterSupport = make(map[string]bool)
	r.persistAgent(agent)
	r.logger.Info(
		"agent challenged",
		"component", "registry",
		"agent_id", id,
		"challenger", challenger,
		"stake", stake,
	)
	if r.config.PromRegistry != nil {
		r.metrics.challengesOpened.Inc()
		r.metrics.challengesOpen.Inc()
	}
	r.publish(
		AgentChallengedEventType,
		AgentChallengedEvent{
			Id:         id,
			Challenger: challenger,
			Stake:      stake,
			EndTime:    agent.ChallengeEndTime,
		},
	)
	return nil
}

// VoteOnChallenge records a stake-weighted vote in the open challenge
// round. A voter may vote at most once per round; there is no upper bound
// on the number of distinct voters.
func (r *Registry) VoteOnChallenge(
	id string,
	voter string,
	support bool,
	stake uint64,
) error {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if !agent.challengeOpen() {
		return ErrNoActiveChallenge
	}
	now := r.clock.Now()
	if !now.Before(agent.ChallengeEndTime) {
		return ErrChallengeEnded
	}
	if agent.Voted[voter] {
		return ErrAlreadyVoted
	}
	if err := r.ldgr.Debit(voter, stake); err != nil {
		return &LedgerError{Op: "debit", Err: err}
	}
	r.ldgr.Credit(r.config.EscrowAccount, stake)
	if support {
		agent.VotesFor += stake
	} else {
		agent.VotesAgainst += stake
	}
	agent.TotalVoterStakes += stake
	agent.Voted[voter] = true
	agent.VoterStakes[voter] = stake
	agent.VoterSupport[voter] = support
	r.persistAgent(agent)
	if r.config.Store != nil {
		if err := r.config.Store.PutChallengeVote(id, voter, support, stake); err != nil {
			r.logger.Error(
				"failed to persist challenge vote",
				"component", "registry",
				"agent_id", id,
				"voter", voter,
				"error", err,
			)
		}
	}
	r.logger.Debug(
		"challenge vote cast",
		"component", "registry",
		"agent_id", id,
		"voter", voter,
		"support", support,
		"stake", stake,
	)
	if r.config.PromRegistry != nil {
		r.metrics.challengeVotes.Inc()
	}
	r.publish(
		ChallengeVoteCastEventType,
		ChallengeVoteCastEvent{
			Id:      id,
			Voter:   voter,
			Support: support,
			Stake:   stake,
		},
	)
	return nil
}

// ResolveChallenge closes an expired challenge round in a single atomic
// step. A tie favors the incumbent agent. The combined agent and challenge
// stake splits RewardPercentage/100 to the winner and the rest to the voter
// pool, distributed pro-rata by vote stake; integer-division remainders
// stay with the escrow account so stake is conserved exactly.
func (r *Registry) ResolveChallenge(id string) error {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if !agent.challengeOpen() {
		return ErrNoActiveChallenge
	}
	now := r.clock.Now()
	if now.Before(agent.ChallengeEndTime) {
		return ErrChallengeStillActive
	}
	accepted := agent.VotesFor >= agent.VotesAgainst
	totalStake := agent.Stake + agent.ChallengeStake
	winnerReward := totalStake * r.config.RewardPercentage / 100
	voterPool := totalStake - winnerReward

	if !accepted {
		// Challenger wins and is paid out of escrow
		if err := r.ldgr.Debit(r.config.EscrowAccount, winnerReward); err != nil {
			return &LedgerError{Op: "debit", Err: err}
		}
		r.ldgr.Credit(agent.Challenger, winnerReward)
	}
	// Winning an accepted challenge leaves the reward escrowed as the
	// agent's continued listing stake

	distributed := uint64(0)
	if agent.TotalVoterStakes > 0 {
		shareBase := agent.TotalVoterStakes
		if r.config.PayoutPolicy == PayoutWinners {
			if accepted {
				shareBase = agent.VotesFor
			} else {
				shareBase = agent.VotesAgainst
			}
		}
		if shareBase > 0 {
			// Deterministic payout order
			voters := slices.Sorted(maps.Keys(agent.VoterStakes))
			for _, voter := range voters {
				stake := agent.VoterStakes[voter]
				if r.config.PayoutPolicy == PayoutWinners &&
					agent.VoterSupport[voter] != accepted {
					continue
				}
				share := voterPool * stake / shareBase
				if share == 0 {
					continue
				}
				if err := r.ldgr.Debit(r.config.EscrowAccount, share); err != nil {
					return &LedgerError{Op: "debit", Err: err}
				}
				r.ldgr.Credit(voter, share)
				distributed += share
			}
		}
	}
	// Remainder (and the whole pool when nobody voted) stays with escrow
	remainder := voterPool - distributed

	if accepted {
		agent.Stake = winnerReward
	} else {
		agent.Stake = 0
		agent.Listed = false
	}
	agent.clearChallenge()
	r.persistAgent(agent)
	if r.config.Store != nil {
		if err := r.config.Store.ClearChallengeVotes(id); err != nil {
			r.logger.Error(
				"failed to clear persisted challenge votes",
				"component", "registry",
				"agent_id", id,
				"error", err,
			)
		}
	}
	r.logger.Info(
		"challenge resolved",
		"component", "registry",
		"agent_id", id,
		"accepted", accepted,
		"winner_reward", winnerReward,
		"voter_pool", voterPool,
		"escrow_remainder", remainder,
	)
	if r.config.PromRegistry != nil {
		outcome := "accepted"
		if !accepted {
			outcome = "rejected"
			r.metrics.agentsListed.Dec()
		}
		r.metrics.challengesResolved.WithLabelValues(outcome).Inc()
		r.metrics.challengesOpen.Dec()
		r.metrics.escrowRemainder.Add(float64(remainder))
	}
	r.publish(
		ChallengeResolvedEventType,
		ChallengeResolvedEvent{
			Id:           id,
			Accepted:     accepted,
			WinnerReward: winnerReward,
			VoterPool:    voterPool,
		},
	)
	return nil
}

// UpdateStrategy mutates an agent's strategy. Authorization depends on the
// configured policy: the governance authority is always allowed; the agent
// owner is allowed under AuthOwnerOrGovernance.
func (r *Registry) UpdateStrategy(
	id string,
	caller string,
	newStrategy string,
) error {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if !r.authorized(agent, caller) {
		return ErrUnauthorized
	}
	agent.Strategy = newStrategy
	r.persistAgent(agent)
	r.logger.Info(
		"strategy updated",
		"component", "registry",
		"agent_id", id,
		"caller", caller,
	)
	if r.config.PromRegistry != nil {
		r.metrics.strategyUpdates.Inc()
	}
	r.publish(
		StrategyUpdatedEventType,
		StrategyUpdatedEvent{
			Id:          id,
			Caller:      caller,
			NewStrategy: newStrategy,
		},
	)
	return nil
}

func (r *Registry) authorized(agent *Agent, caller string) bool {
	if r.config.GovernanceAuthority != "" &&
		caller == r.config.GovernanceAuthority {
		return true
	}
	if r.config.AuthPolicy == AuthOwnerOrGovernance {
		return caller == agent.Owner
	}
	return false
}

// GetAgent returns a copy of the agent record
func (r *Registry) GetAgent(id string) (*Agent, bool) {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return agent.copy(), true
}

// ListAgents returns copies of all agent records
func (r *Registry) ListAgents() []*Agent {
	r.Lock()
	defer r.Unlock()
	ret := make([]*Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		ret = append(ret, agent.copy())
	}
	slices.SortFunc(ret, func(a, b *Agent) int {
		return strings.Compare(a.Id, b.Id)
	})
	return ret
}

// ExpiredChallenges returns the ids of agents whose open challenge window
// has closed. Used by the node's background resolver.
func (r *Registry) ExpiredChallenges() []string {
	r.Lock()
	defer r.Unlock()
	now := r.clock.Now()
	var ret []string
	for id, agent := range r.agents {
		if agent.challengeOpen() && !now.Before(agent.ChallengeEndTime) {
			ret = append(ret, id)
		}
	}
	slices.Sort(ret)
	return ret
}

func (r *Registry) persistAgent(agent *Agent) {
	if r.config.Store == nil {
		return
	}
	if err := r.config.Store.PutAgent(agent.copy()); err != nil {
		r.logger.Error(
			"failed to persist agent",
			"component", "registry",
			"agent_id", agent.Id,
			"error", err,
		)
	}
}

func (r *Registry) publish(eventType event.EventType, data any) {
	if r.config.EventBus == nil {
		return
	}
	r.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}
