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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"syscall"
	"time"

	"github.com/opentcr/agora/database"
	"github.com/opentcr/agora/event"
	"github.com/opentcr/agora/governance"
	"github.com/opentcr/agora/internal/config"
	"github.com/opentcr/agora/journal"
	"github.com/opentcr/agora/ledger"
	"github.com/opentcr/agora/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Node assembles the registry, governance, persistence, and journal into a
// running service sharing one ledger, clock, and event bus.
type Node struct {
	config     *config.Config
	logger     *slog.Logger
	eventBus   *event.EventBus
	ledger     *ledger.TokenLedger
	db         *database.Database
	journal    *journal.Journal
	registry   *registry.Registry
	governance *governance.Governance

	resolveTicker *time.Ticker
	resolveStopCh chan struct{}
}

func New(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	n := &Node{
		config: cfg,
		logger: logger,
	}
	promRegistry := prometheus.DefaultRegisterer
	n.eventBus = event.NewEventBus(promRegistry, logger)
	n.ledger = ledger.NewTokenLedger()
	db, err := database.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	jrnl, err := journal.NewJournal(
		journal.JournalConfig{
			Logger:   logger,
			EventBus: n.eventBus,
			DataDir:  cfg.DatabasePath,
			EventTypes: []event.EventType{
				registry.AgentSubmittedEventType,
				registry.AgentChallengedEventType,
				registry.ChallengeVoteCastEventType,
				registry.ChallengeResolvedEventType,
				registry.FeedbackSubmittedEventType,
				registry.StrategyUpdatedEventType,
				governance.ProposalCreatedEventType,
				governance.ProposalVoteCastEventType,
				governance.ProposalExecutedEventType,
			},
		},
	)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	n.journal = jrnl
	n.registry = registry.NewRegistry(
		registry.RegistryConfig{
			PromRegistry:        promRegistry,
			Ledger:              n.ledger,
			Store:               db,
			Logger:              logger,
			EventBus:            n.eventBus,
			MinStakeAmount:      cfg.MinStakeAmount,
			ChallengePeriod:     cfg.ChallengePeriodDuration(),
			RewardPercentage:    cfg.RewardPercentage,
			FeedbackCooldown:    cfg.FeedbackCooldownDuration(),
			EscrowAccount:       cfg.EscrowAccount,
			PayoutPolicy:        registry.PayoutPolicy(cfg.PayoutPolicy),
			AuthPolicy:          registry.AuthPolicy(cfg.AuthPolicy),
			GovernanceAuthority: cfg.GovernanceAuthority,
		},
	)
	n.governance = governance.NewGovernance(
		governance.GovernanceConfig{
			PromRegistry:       promRegistry,
			Ledger:             n.ledger,
			Registry:           n.registry,
			Store:              db,
			Logger:             logger,
			EventBus:           n.eventBus,
			Weight:             governance.BalanceWeight(n.ledger),
			MinTokensToPropose: cfg.MinTokensToPropose,
			VotingPeriod:       cfg.VotingPeriodDuration(),
			Authority:          cfg.GovernanceAuthority,
		},
	)
	// Restore persisted state before serving any operations
	agents, err := db.LoadAgents()
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	n.registry.Restore(agents)
	proposals, err := db.LoadProposals()
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("failed to load proposals: %w", err)
	}
	n.governance.Restore(proposals)
	return n, nil
}

func (n *Node) Registry() *registry.Registry {
	return n.registry
}

func (n *Node) Governance() *governance.Governance {
	return n.governance
}

func (n *Node) Ledger() *ledger.TokenLedger {
	return n.ledger
}

func (n *Node) Journal() *journal.Journal {
	return n.journal
}

// Start begins journaling facts and, when configured, the background
// challenge resolver
func (n *Node) Start() {
	n.journal.Start()
	if interval := n.config.ResolveIntervalDuration(); interval > 0 {
		n.resolveTicker = time.NewTicker(interval)
		n.resolveStopCh = make(chan struct{})
		go n.resolveLoop()
	}
}

// resolveLoop settles challenges whose voting window has closed. Resolution
// is idempotent from the caller's view: a challenge settled between the
// expiry scan and the resolve call reports no active challenge, which we
// drop on the floor.
func (n *Node) resolveLoop() {
	for {
		select {
		case <-n.resolveTicker.C:
			for _, id := range n.registry.ExpiredChallenges() {
				err := n.registry.ResolveChallenge(id)
				if err != nil && !errors.Is(err, registry.ErrNoActiveChallenge) {
					n.logger.Error(
						"failed to resolve challenge",
						"component", "node",
						"agent", id,
						"error", err,
					)
				}
			}
		case <-n.resolveStopCh:
			return
		}
	}
}

func (n *Node) Stop() error {
	if n.resolveTicker != nil {
		n.resolveTicker.Stop()
		close(n.resolveStopCh)
		n.resolveTicker = nil
	}
	n.eventBus.Stop()
	return n.closeStores()
}

func (n *Node) closeStores() error {
	var ret error
	if err := n.journal.Stop(); err != nil {
		ret = errors.Join(ret, err)
	}
	if err := n.db.Close(); err != nil {
		ret = errors.Join(ret, err)
	}
	return ret
}

// Run assembles a node from the given config and serves until interrupted
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	n, err := New(cfg, logger)
	if err != nil {
		return err
	}
	n.Start()

	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
	case err := <-errChan:
		logger.Error("node error", "error", err)
		if stopErr := n.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}
		return err
	}

	// Shutdown metrics server
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		30*time.Second,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	// Shutdown node
	if err := n.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
