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
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opentcr/agora/event"
	"github.com/opentcr/agora/ledger"
	"github.com/opentcr/agora/registry"
	"github.com/prometheus/client_golang/prometheus"
)

// WeightFunc resolves the tally weight of a governance vote. Whether votes
// are flat or balance-weighted is a deployment policy, not a protocol rule.
type WeightFunc func(voter string, proposalId uint64) uint64

// FlatWeight counts one weight unit per voter
func FlatWeight(string, uint64) uint64 {
	return 1
}

// BalanceWeight weighs each vote by the voter's current ledger balance
func BalanceWeight(l ledger.Ledger) WeightFunc {
	return func(voter string, _ uint64) uint64 {
		return l.BalanceOf(voter)
	}
}

// AgentRegistry is the slice of the registry the governance engine consumes:
// listing checks on proposal creation and the strategy-mutation primitive on
// successful execution.
type AgentRegistry interface {
	GetAgent(id string) (*registry.Agent, bool)
	UpdateStrategy(id, caller, newStrategy string) error
}

// Store is the optional write-through persistence for proposals. Like the
// registry store, failures are logged and never roll back an operation.
type Store interface {
	PutProposal(p *Proposal) error
	PutProposalVote(proposalId uint64, voter string, support bool, weight uint64) error
}

type GovernanceConfig struct {
	PromRegistry prometheus.Registerer
	Ledger       ledger.Ledger
	Clock        registry.Clock
	Registry     AgentRegistry
	Store        Store
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Weight       WeightFunc

	MinTokensToPropose uint64
	VotingPeriod       time.Duration
	// Authority is the identity proposals execute strategy updates under;
	// the registry must recognize it as its governance authority
	Authority string
}

// Governance implements the proposal lifecycle. Proposals mutate agent
// strategies only through the registry's strategy-mutation primitive,
// invoked as the configured authority.
type Governance struct {
	config    GovernanceConfig
	metrics   governanceMetrics
	logger    *slog.Logger
	clock     registry.Clock
	proposals map[uint64]*Proposal
	lastId    uint64
	sync.Mutex
}

func NewGovernance(config GovernanceConfig) *Governance {
	g := &Governance{
		config:    config,
		clock:     config.Clock,
		proposals: make(map[uint64]*Proposal),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		g.logger = config.Logger
	}
	if g.clock == nil {
		g.clock = registry.WallClock{}
	}
	if g.config.Weight == nil {
		g.config.Weight = FlatWeight
	}
	if g.config.PromRegistry != nil {
		g.initMetrics()
	}
	return g
}

// Restore seeds the engine from persisted proposals. Called once at
// startup before serving operations.
func (g *Governance) Restore(proposals []*Proposal) {
	g.Lock()
	defer g.Unlock()
	for _, p := range proposals {
		g.proposals[p.Id] = p.copy()
		if p.Id > g.lastId {
			g.lastId = p.Id
		}
	}
}

// CreateProposal opens a strategy-update proposal for a listed agent. The
// proposer must hold at least MinTokensToPropose tokens. Returns the
// allocated proposal id.
func (g *Governance) CreateProposal(
	proposer string,
	agentId string,
	description string,
	metadataRef string,
	newStrategy string,
) (uint64, error) {
	g.Lock()
	defer g.Unlock()
	agent, ok := g.config.Registry.GetAgent(agentId)
	if !ok || !agent.Listed {
		return 0, registry.ErrNotListed
	}
	if g.config.Ledger.BalanceOf(proposer) < g.config.MinTokensToPropose {
		return 0, ErrInsufficientTokens
	}
	now := g.clock.Now()
	g.lastId++
	proposal := &Proposal{
		Id:          g.lastId,
		Proposer:    proposer,
		AgentId:     agentId,
		Description: description,
		MetadataRef: metadataRef,
		NewStrategy: newStrategy,
		EndTime:     now.Add(g.config.VotingPeriod),
		Voted:       make(map[string]bool),
	}
	g.proposals[proposal.Id] = proposal
	g.persistProposal(proposal)
	g.logger.Info(
		"proposal created",
		"component", "governance",
		"proposal_id", proposal.Id,
		"agent_id", agentId,
		"proposer", proposer,
	)
	if g.config.PromRegistry != nil {
		g.metrics.proposalsCreated.Inc()
	}
	g.publish(
		ProposalCreatedEventType,
		ProposalCreatedEvent{
			ProposalId:  proposal.Id,
			AgentId:     agentId,
			Proposer:    proposer,
			Description: description,
			MetadataRef: metadataRef,
			NewStrategy: newStrategy,
			EndTime:     proposal.EndTime,
		},
	)
	return proposal.Id, nil
}

// VoteOnProposal records a vote while the proposal window is open. Each
// voter may vote at most once; the tally weight comes from the configured
// WeightFunc.
func (g *Governance) VoteOnProposal(
	proposalId uint64,
	voter string,
	support bool,
) error {
	g.Lock()
	defer g.Unlock()
	proposal, ok := g.proposals[proposalId]
	if !ok {
		return ErrProposalNotFound
	}
	now := g.clock.Now()
	if !proposal.Active(now) {
		return ErrVotingEnded
	}
	if proposal.Voted[voter] {
		return registry.ErrAlreadyVoted
	}
	weight := g.config.Weight(voter, proposalId)
	if support {
		proposal.VotesFor += weight
	} else {
		proposal.VotesAgainst += weight
	}
	proposal.Voted[voter] = true
	g.persistProposal(proposal)
	if g.config.Store != nil {
		if err := g.config.Store.PutProposalVote(proposalId, voter, support, weight); err != nil {
			g.logger.Error(
				"failed to persist proposal vote",
				"component", "governance",
				"proposal_id", proposalId,
				"voter", voter,
				"error", err,
			)
		}
	}
	g.logger.Debug(
		"proposal vote cast",
		"component", "governance",
		"proposal_id", proposalId,
		"voter", voter,
		"support", support,
		"weight", weight,
	)
	if g.config.PromRegistry != nil {
		g.metrics.proposalVotes.Inc()
	}
	g.publish(
		ProposalVoteCastEventType,
		ProposalVoteCastEvent{
			ProposalId: proposalId,
			Voter:      voter,
			Support:    support,
			Weight:     weight,
		},
	)
	return nil
}

// ExecuteProposal closes a proposal once its window has elapsed. A strict
// majority of votes-for applies the new strategy through the registry; any
// other tally executes as rejected with no mutation. A second call always
// fails with ErrAlreadyExecuted.
func (g *Governance) ExecuteProposal(proposalId uint64) error {
	g.Lock()
	defer g.Unlock()
	proposal, ok := g.proposals[proposalId]
	if !ok {
		return ErrProposalNotFound
	}
	now := g.clock.Now()
	if proposal.Active(now) {
		return ErrVotingStillActive
	}
	if proposal.Executed {
		return ErrAlreadyExecuted
	}
	accepted := proposal.VotesFor > proposal.VotesAgainst
	if accepted {
		if err := g.config.Registry.UpdateStrategy(
			proposal.AgentId,
			g.config.Authority,
			proposal.NewStrategy,
		); err != nil {
			return fmt.Errorf("apply proposal %d: %w", proposalId, err)
		}
	}
	proposal.Executed = true
	g.persistProposal(proposal)
	g.logger.Info(
		"proposal executed",
		"component", "governance",
		"proposal_id", proposalId,
		"agent_id", proposal.AgentId,
		"accepted", accepted,
	)
	if g.config.PromRegistry != nil {
		outcome := "accepted"
		if !accepted {
			outcome = "rejected"
		}
		g.metrics.proposalsExecuted.WithLabelValues(outcome).Inc()
	}
	g.publish(
		ProposalExecutedEventType,
		ProposalExecutedEvent{
			ProposalId: proposalId,
			AgentId:    proposal.AgentId,
			Accepted:   accepted,
		},
	)
	return nil
}

// GetProposal returns a copy of the proposal record
func (g *Governance) GetProposal(proposalId uint64) (*Proposal, bool) {
	g.Lock()
	defer g.Unlock()
	proposal, ok := g.proposals[proposalId]
	if !ok {
		return nil, false
	}
	return proposal.copy(), true
}

// HasVoted reports whether a voter already voted on a proposal
func (g *Governance) HasVoted(proposalId uint64, voter string) bool {
	g.Lock()
	defer g.Unlock()
	proposal, ok := g.proposals[proposalId]
	if !ok {
		return false
	}
	return proposal.Voted[voter]
}

func (g *Governance) persistProposal(proposal *Proposal) {
	if g.config.Store == nil {
		return
	}
	if err := g.config.Store.PutProposal(proposal.copy()); err != nil {
		g.logger.Error(
			"failed to persist proposal",
			"component", "governance",
			"proposal_id", proposal.Id,
			"error", err,
		)
	}
}

func (g *Governance) publish(eventType event.EventType, data any) {
	if g.config.EventBus == nil {
		return
	}
	g.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}
