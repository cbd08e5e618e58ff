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

import "time"

// Store is the optional write-through persistence consumed by the registry.
// Writes happen after the in-memory mutation commits; persistence failures
// are logged and do not roll back the operation. The authoritative copy of
// all invariants is the in-memory state.
type Store interface {
	PutAgent(a *Agent) error
	PutChallengeVote(agentId, voter string, support bool, stake uint64) error
	ClearChallengeVotes(agentId string) error
	PutFeedbackCooldown(agentId, author string, last time.Time) error
}
