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

package models

// MigrateModels is the list of model objects that should have DB migrations applied
var MigrateModels = []any{
	&Agent{},
	&ChallengeVote{},
	&FeedbackCooldown{},
	&Proposal{},
	&ProposalVote{},
}

// Agent is the persisted form of a registry entry. Challenge voter maps and
// feedback cooldowns live in their own tables; everything else is a flat row
// keyed by the agent id.
type Agent struct {
	Id                 string `gorm:"primarykey;size:128"`
	Owner              string `gorm:"index;size:128;not null"`
	Metadata           string
	Strategy           string
	Stake              uint64 `gorm:"not null"`
	Listed             bool   `gorm:"index;not null"`
	Challenger         string `gorm:"size:128"`
	ChallengeStake     uint64
	ChallengeEndTime   int64 // Unix seconds, zero when no challenge open
	VotesFor           uint64
	VotesAgainst       uint64
	TotalVoterStakes   uint64
	TotalFeedbacks     uint64
	PositiveAlignments uint64
	TotalRatingPoints  uint64
}

// TableName returns the table name
func (Agent) TableName() string {
	return "agent"
}

// ChallengeVote is one voter's stake in an open challenge round. Rows for a
// round are deleted when the challenge resolves.
type ChallengeVote struct {
	ID      uint   `gorm:"primarykey"`
	AgentId string `gorm:"uniqueIndex:idx_challenge_vote_agent_voter,priority:1;size:128;not null"`
	Voter   string `gorm:"uniqueIndex:idx_challenge_vote_agent_voter,priority:2;size:128;not null"`
	Support bool   `gorm:"not null"`
	Stake   uint64 `gorm:"not null"`
}

// TableName returns the table name
func (ChallengeVote) TableName() string {
	return "challenge_vote"
}

// FeedbackCooldown records the last feedback time per (agent, author)
type FeedbackCooldown struct {
	ID           uint   `gorm:"primarykey"`
	AgentId      string `gorm:"uniqueIndex:idx_feedback_cooldown_agent_author,priority:1;size:128;not null"`
	Author       string `gorm:"uniqueIndex:idx_feedback_cooldown_agent_author,priority:2;size:128;not null"`
	LastFeedback int64  `gorm:"not null"` // Unix seconds
}

// TableName returns the table name
func (FeedbackCooldown) TableName() string {
	return "feedback_cooldown"
}

// Proposal is the persisted form of a governance item. The id is the
// engine-allocated monotonic id, not a surrogate key.
type Proposal struct {
	Id           uint64 `gorm:"primarykey"`
	Proposer     string `gorm:"index;size:128;not null"`
	AgentId      string `gorm:"index;size:128;not null"`
	Description  string
	MetadataRef  string
	NewStrategy  string
	VotesFor     uint64
	VotesAgainst uint64
	EndTime      int64 `gorm:"not null"` // Unix seconds
	Executed     bool  `gorm:"index;not null"`
}

// TableName returns the table name
func (Proposal) TableName() string {
	return "proposal"
}

// ProposalVote records that a voter has voted on a proposal, with the tally
// weight applied at vote time
type ProposalVote struct {
	ID         uint   `gorm:"primarykey"`
	ProposalId uint64 `gorm:"uniqueIndex:idx_proposal_vote_proposal_voter,priority:1;not null"`
	Voter      string `gorm:"uniqueIndex:idx_proposal_vote_proposal_voter,priority:2;size:128;not null"`
	Support    bool   `gorm:"not null"`
	Weight     uint64 `gorm:"not null"`
}

// TableName returns the table name
func (ProposalVote) TableName() string {
	return "proposal_vote"
}
