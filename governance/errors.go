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

import "errors"

var (
	// ErrProposalNotFound is returned when the referenced proposal does not exist
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrInsufficientTokens is returned when the proposer's balance is below
	// the proposal threshold
	ErrInsufficientTokens = errors.New("not enough tokens to propose")
	// ErrVotingEnded is returned when voting after the window closed
	ErrVotingEnded = errors.New("voting ended")
	// ErrVotingStillActive is returned when executing before the window closes
	ErrVotingStillActive = errors.New("voting still active")
	// ErrAlreadyExecuted is returned on a second execution attempt
	ErrAlreadyExecuted = errors.New("already executed")
)
