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

const (
	MinRating = 1
	MaxRating = 5
	// Ratings are aggregated scaled by 100 so the average keeps two
	// decimal places under integer division
	ratingScale = 100
)

// SubmitFeedback records a rating and strategy-alignment flag for a listed
// agent. An author may submit at most once per FeedbackCooldown per agent.
func (r *Registry) SubmitFeedback(
	id string,
	author string,
	alignsWithStrategy bool,
	rating int,
	comment string,
) error {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok || !agent.Listed {
		return ErrNotListed
	}
	if rating < MinRating || rating > MaxRating {
		return ErrInvalidRating
	}
	now := r.clock.Now()
	if last, ok := agent.LastFeedback[author]; ok {
		if now.Sub(last) < r.config.FeedbackCooldown {
			return ErrCooldownActive
		}
	}
	agent.TotalFeedbacks++
	agent.TotalRatingPoints += uint64(rating) * ratingScale
	if alignsWithStrategy {
		agent.PositiveAlignments++
	}
	if agent.LastFeedback == nil {
		agent.LastFeedback = make(map[string]time.Time)
	}
	agent.LastFeedback[author] = now
	r.persistAgent(agent)
	if r.config.Store != nil {
		if err := r.config.Store.PutFeedbackCooldown(id, author, now); err != nil {
			r.logger.Error(
				"failed to persist feedback cooldown",
				"component", "registry",
				"agent_id", id,
				"author", author,
				"error", err,
			)
		}
	}
	r.logger.Debug(
		"feedback submitted",
		"component", "registry",
		"agent_id", id,
		"author", author,
		"rating", rating,
		"aligns", alignsWithStrategy,
	)
	if r.config.PromRegistry != nil {
		r.metrics.feedbacks.Inc()
	}
	r.publish(
		FeedbackSubmittedEventType,
		FeedbackSubmittedEvent{
			Id:                 id,
			Author:             author,
			AlignsWithStrategy: alignsWithStrategy,
			Rating:             rating,
			Comment:            comment,
			Timestamp:          now,
		},
	)
	return nil
}

// GetAgentStats returns the aggregated feedback statistics for an agent.
// Stats remain queryable after delisting.
func (r *Registry) GetAgentStats(id string) (AgentStats, error) {
	r.Lock()
	defer r.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return AgentStats{}, ErrNotFound
	}
	return AgentStats{
		TotalFeedbacks:     agent.TotalFeedbacks,
		PositiveAlignments: agent.PositiveAlignments,
		AverageRating:      agent.AverageRating(),
	}, nil
}
