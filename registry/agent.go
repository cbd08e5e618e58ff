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
	"maps"
	"time"
)

// Agent is one entry in the registry. Id is an opaque unique string chosen
// by the submitter; no address semantics are assumed. Metadata is immutable
// after submission, Strategy is mutable through UpdateStrategy.
//
// Challenge sub-state is present only while a challenge is open; the empty
// Challenger string is the "no challenge" sentinel. While a challenge is
// open, VotesFor+VotesAgainst == TotalVoterStakes holds, and VoterStakes
// and Voted are fully cleared at resolution.
type Agent struct {
	Id       string
	Owner    string
	Metadata string
	Strategy string
	Stake    uint64
	Listed   bool

	Challenger       string
	ChallengeStake   uint64
	ChallengeEndTime time.Time
	VotesFor         uint64
	VotesAgainst     uint64
	TotalVoterStakes uint64
	Voted            map[string]bool
	VoterStakes      map[string]uint64
	VoterSupport     map[string]bool

	TotalFeedbacks     uint64
	PositiveAlignments uint64
	TotalRatingPoints  uint64
	LastFeedback       map[string]time.Time
}

// AverageRating is the mean submitted rating scaled by 100, computed from
// the running aggregates. Zero when no feedback has been recorded.
func (a *Agent) AverageRating() uint64 {
	if a.TotalFeedbacks == 0 {
		return 0
	}
	return a.TotalRatingPoints / a.TotalFeedbacks
}

func (a *Agent) challengeOpen() bool {
	return a.Challenger != ""
}

func (a *Agent) clearChallenge() {
	a.Challenger = ""
	a.ChallengeStake = 0
	a.ChallengeEndTime = time.Time{}
	a.VotesFor = 0
	a.VotesAgainst = 0
	a.TotalVoterStakes = 0
	a.Voted = nil
	a.VoterStakes = nil
	a.VoterSupport = nil
}

// copy returns a deep copy safe to hand to callers
func (a *Agent) copy() *Agent {
	ret := *a
	ret.Voted = maps.Clone(a.Voted)
	ret.VoterStakes = maps.Clone(a.VoterStakes)
	ret.VoterSupport = maps.Clone(a.VoterSupport)
	ret.LastFeedback = maps.Clone(a.LastFeedback)
	return &ret
}

// AgentStats is the aggregated feedback view for a single agent
type AgentStats struct {
	TotalFeedbacks     uint64
	PositiveAlignments uint64
	AverageRating      uint64
}
