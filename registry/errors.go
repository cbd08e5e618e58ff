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
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the referenced agent does not exist
	ErrNotFound = errors.New("agent not found")
	// ErrDuplicateId is returned on submission under an already-used identifier
	ErrDuplicateId = errors.New("agent id already exists")
	// ErrInsufficientStake is returned when the offered stake is below the
	// configured minimum
	ErrInsufficientStake = errors.New("insufficient stake")
	// ErrAlreadyChallenged is returned when a challenge is already open
	ErrAlreadyChallenged = errors.New("already challenged")
	// ErrNoActiveChallenge is returned when an operation requires an open challenge
	ErrNoActiveChallenge = errors.New("no active challenge")
	// ErrChallengeStillActive is returned when resolving before the window closes
	ErrChallengeStillActive = errors.New("challenge still active")
	// ErrChallengeEnded is returned when voting after the window closed
	ErrChallengeEnded = errors.New("challenge ended")
	// ErrAlreadyVoted is returned on double-voting within a challenge round
	ErrAlreadyVoted = errors.New("already voted")
	// ErrInvalidRating is returned for feedback ratings outside 1..5
	ErrInvalidRating = errors.New("invalid rating range")
	// ErrCooldownActive is returned when feedback is submitted before the
	// per-author cooldown elapsed
	ErrCooldownActive = errors.New("feedback cooldown active")
	// ErrNotListed is returned when an operation requires a currently-listed agent
	ErrNotListed = errors.New("agent not listed")
	// ErrUnauthorized is returned when a strategy mutation is attempted by a
	// caller that is neither the agent owner nor the governance authority
	ErrUnauthorized = errors.New("only agent owner or governance can update strategy")
)

// LedgerError wraps a failure reported by the external ledger adapter. The
// failed operation leaves the store unmutated and is never retried.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s failed: %s", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}
