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
	"time"

	"github.com/opentcr/agora/event"
)

const (
	ProposalCreatedEventType  event.EventType = "governance.proposal_created"
	ProposalVoteCastEventType event.EventType = "governance.proposal_vote_cast"
	ProposalExecutedEventType event.EventType = "governance.proposal_executed"
)

type ProposalCreatedEvent struct {
	ProposalId  uint64
	AgentId     string
	Proposer    string
	Description string
	MetadataRef string
	NewStrategy string
	EndTime     time.Time
}

type ProposalVoteCastEvent struct {
	ProposalId uint64
	Voter      string
	Support    bool
	Weight     uint64
}

type ProposalExecutedEvent struct {
	ProposalId uint64
	AgentId    string
	Accepted   bool
}
