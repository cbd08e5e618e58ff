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

package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/opentcr/agora/database/models"
	"github.com/opentcr/agora/governance"
	"github.com/opentcr/agora/registry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Database is the SQLite-backed write-through store for agent records,
// challenge votes, feedback cooldowns, and proposals. It implements
// registry.Store and governance.Store. The in-memory engines stay
// authoritative; the database exists so a node can restore state after a
// restart.
type Database struct {
	db      *gorm.DB
	logger  *slog.Logger
	dataDir string
}

// New creates a Database. Uses an in-memory SQLite database if dataDir is
// empty, which is useful for testing.
func New(dataDir string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var db *gorm.DB
	var err error
	if dataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		db, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dbPath := filepath.Join(dataDir, "registry.sqlite")
		// WAL journal mode, disable sync on write
		connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		db, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	d := &Database{
		db:      db,
		logger:  logger,
		dataDir: dataDir,
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := d.db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutAgent upserts the flat agent row
func (d *Database) PutAgent(a *registry.Agent) error {
	row := &models.Agent{
		Id:                 a.Id,
		Owner:              a.Owner,
		Metadata:           a.Metadata,
		Strategy:           a.Strategy,
		Stake:              a.Stake,
		Listed:             a.Listed,
		Challenger:         a.Challenger,
		ChallengeStake:     a.ChallengeStake,
		VotesFor:           a.VotesFor,
		VotesAgainst:       a.VotesAgainst,
		TotalVoterStakes:   a.TotalVoterStakes,
		TotalFeedbacks:     a.TotalFeedbacks,
		PositiveAlignments: a.PositiveAlignments,
		TotalRatingPoints:  a.TotalRatingPoints,
	}
	if !a.ChallengeEndTime.IsZero() {
		row.ChallengeEndTime = a.ChallengeEndTime.Unix()
	}
	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("put agent %s: %w", a.Id, result.Error)
	}
	return nil
}

// PutChallengeVote upserts one voter's stake row for an open round
func (d *Database) PutChallengeVote(
	agentId string,
	voter string,
	support bool,
	stake uint64,
) error {
	result := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}, {Name: "voter"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"support", "stake"},
		),
	}).Create(&models.ChallengeVote{
		AgentId: agentId,
		Voter:   voter,
		Support: support,
		Stake:   stake,
	})
	if result.Error != nil {
		return fmt.Errorf(
			"put challenge vote %s/%s: %w",
			agentId,
			voter,
			result.Error,
		)
	}
	return nil
}

// ClearChallengeVotes removes all vote rows for a resolved round
func (d *Database) ClearChallengeVotes(agentId string) error {
	result := d.db.Where("agent_id = ?", agentId).
		Delete(&models.ChallengeVote{})
	if result.Error != nil {
		return fmt.Errorf(
			"clear challenge votes %s: %w",
			agentId,
			result.Error,
		)
	}
	return nil
}

// PutFeedbackCooldown upserts the last feedback time for (agent, author)
func (d *Database) PutFeedbackCooldown(
	agentId string,
	author string,
	last time.Time,
) error {
	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}, {Name: "author"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_feedback"}),
	}).Create(&models.FeedbackCooldown{
		AgentId:      agentId,
		Author:       author,
		LastFeedback: last.Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf(
			"put feedback cooldown %s/%s: %w",
			agentId,
			author,
			result.Error,
		)
	}
	return nil
}

// PutProposal upserts the flat proposal row
func (d *Database) PutProposal(p *governance.Proposal) error {
	row := &models.Proposal{
		Id:           p.Id,
		Proposer:     p.Proposer,
		AgentId:      p.AgentId,
		Description:  p.Description,
		MetadataRef:  p.MetadataRef,
		NewStrategy:  p.NewStrategy,
		VotesFor:     p.VotesFor,
		VotesAgainst: p.VotesAgainst,
		EndTime:      p.EndTime.Unix(),
		Executed:     p.Executed,
	}
	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("put proposal %d: %w", p.Id, result.Error)
	}
	return nil
}

// PutProposalVote records a proposal vote
func (d *Database) PutProposalVote(
	proposalId uint64,
	voter string,
	support bool,
	weight uint64,
) error {
	result := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "proposal_id"}, {Name: "voter"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"support", "weight"},
		),
	}).Create(&models.ProposalVote{
		ProposalId: proposalId,
		Voter:      voter,
		Support:    support,
		Weight:     weight,
	})
	if result.Error != nil {
		return fmt.Errorf(
			"put proposal vote %d/%s: %w",
			proposalId,
			voter,
			result.Error,
		)
	}
	return nil
}

// LoadAgents reconstructs all agent records, including open-challenge voter
// maps and feedback cooldowns, for registry restore at startup.
func (d *Database) LoadAgents() ([]*registry.Agent, error) {
	var rows []models.Agent
	if result := d.db.Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("load agents: %w", result.Error)
	}
	ret := make([]*registry.Agent, 0, len(rows))
	for _, row := range rows {
		agent := &registry.Agent{
			Id:                 row.Id,
			Owner:              row.Owner,
			Metadata:           row.Metadata,
			Strategy:           row.Strategy,
			Stake:              row.Stake,
			Listed:             row.Listed,
			Challenger:         row.Challenger,
			ChallengeStake:     row.ChallengeStake,
			VotesFor:           row.VotesFor,
			VotesAgainst:       row.VotesAgainst,
			TotalVoterStakes:   row.TotalVoterStakes,
			TotalFeedbacks:     row.TotalFeedbacks,
			PositiveAlignments: row.PositiveAlignments,
			TotalRatingPoints:  row.TotalRatingPoints,
		}
		if row.ChallengeEndTime != 0 {
			agent.ChallengeEndTime = time.Unix(row.ChallengeEndTime, 0)
		}
		if agent.Challenger != "" {
			agent.Voted = make(map[string]bool)
			agent.VoterStakes = make(map[string]uint64)
			agent.VoterSupport = make(map[string]bool)
			var votes []models.ChallengeVote
			result := d.db.Where("agent_id = ?", row.Id).Find(&votes)
			if result.Error != nil {
				return nil, fmt.Errorf(
					"load challenge votes %s: %w",
					row.Id,
					result.Error,
				)
			}
			for _, vote := range votes {
				agent.Voted[vote.Voter] = true
				agent.VoterStakes[vote.Voter] = vote.Stake
				agent.VoterSupport[vote.Voter] = vote.Support
			}
		}
		var cooldowns []models.FeedbackCooldown
		result := d.db.Where("agent_id = ?", row.Id).Find(&cooldowns)
		if result.Error != nil {
			return nil, fmt.Errorf(
				"load feedback cooldowns %s: %w",
				row.Id,
				result.Error,
			)
		}
		if len(cooldowns) > 0 {
			agent.LastFeedback = make(map[string]time.Time)
			for _, cooldown := range cooldowns {
				agent.LastFeedback[cooldown.Author] = time.Unix(
					cooldown.LastFeedback,
					0,
				)
			}
		}
		ret = append(ret, agent)
	}
	return ret, nil
}

// LoadProposals reconstructs all proposal records for governance restore
// at startup.
func (d *Database) LoadProposals() ([]*governance.Proposal, error) {
	var rows []models.Proposal
	if result := d.db.Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("load proposals: %w", result.Error)
	}
	ret := make([]*governance.Proposal, 0, len(rows))
	for _, row := range rows {
		proposal := &governance.Proposal{
			Id:           row.Id,
			Proposer:     row.Proposer,
			AgentId:      row.AgentId,
			Description:  row.Description,
			MetadataRef:  row.MetadataRef,
			NewStrategy:  row.NewStrategy,
			VotesFor:     row.VotesFor,
			VotesAgainst: row.VotesAgainst,
			EndTime:      time.Unix(row.EndTime, 0),
			Executed:     row.Executed,
			Voted:        make(map[string]bool),
		}
		var votes []models.ProposalVote
		result := d.db.Where("proposal_id = ?", row.Id).Find(&votes)
		if result.Error != nil {
			return nil, fmt.Errorf(
				"load proposal votes %d: %w",
				row.Id,
				result.Error,
			)
		}
		for _, vote := range votes {
			proposal.Voted[vote.Voter] = true
		}
		ret = append(ret, proposal)
	}
	return ret, nil
}
