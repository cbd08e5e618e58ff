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
	"maps"
	"time"
)

// Proposal is one governance item: a time-boxed vote to change an agent's
// strategy. Ids are allocated monotonically starting at 1. Executed is
// monotone false to true; execution never re-applies.
type Proposal struct {
	Id           uint64
	Proposer     string
	AgentId      string
	Description  string
	MetadataRef  string
	NewStrategy  string
	VotesFor     uint64
	VotesAgainst uint64
	EndTime      time.Time
	Executed     bool
	Voted        map[string]bool
}

// Active returns whether the proposal still accepts votes at the given time
func (p *Proposal) Active(now time.Time) bool {
	return now.Before(p.EndTime)
}

func (p *Proposal) copy() *Proposal {
	ret := *p
	ret.Voted = maps.Clone(p.Voted)
	return &ret
}
