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
	"time"

	"github.com/opentcr/agora/event"
)

const (
	AgentSubmittedEventType    event.EventType = "registry.agent_submitted"
	AgentChallengedEventType   event.EventType = "registry.agent_challenged"
	ChallengeVoteCastEventType event.EventType = "registry.challenge_vote_cast"
	ChallengeResolvedEventType event.EventType = "registry.challenge_resolved"
	FeedbackSubmittedEventType event.EventType = "registry.feedback_submitted"
	StrategyUpdatedEventType   event.EventType = "registry.strategy_updated"
)

type AgentSubmittedEvent struct {
	Id       string
	Owner    string
	Metadata string
	Strategy string
	Stake    uint64
}

type AgentChallengedEvent struct {
	Id         string
	Challenger string
	Stake      uint64
	EndTime    time.Time
}

type ChallengeVoteCastEvent struct {
	Id      string
	Voter   string
	Support bool
	Stake   uint64
}

type ChallengeResolvedEvent struct {
	Id           string
	Accepted     bool
	WinnerReward uint64
	VoterPool    uint64
}

type FeedbackSubmittedEvent struct {
	Id                 string
	Author             string
	Comment            string
	Rating             int
	AlignsWithStrategy bool
	Timestamp          time.Time
}

type StrategyUpdatedEvent struct {
	Id          string
	Caller      string
	NewStrategy string
}
