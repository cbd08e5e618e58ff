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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "agora.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DatabasePath string `yaml:"databasePath" split_words:"true"`
	BindAddr     string `yaml:"bindAddr"     split_words:"true"`
	MetricsPort  uint   `yaml:"metricsPort"  split_words:"true"`

	// Registry tuning
	MinStakeAmount   uint64 `yaml:"minStakeAmount"   split_words:"true"`
	ChallengePeriod  string `yaml:"challengePeriod"  split_words:"true"`
	RewardPercentage uint64 `yaml:"rewardPercentage" split_words:"true"`
	FeedbackCooldown string `yaml:"feedbackCooldown" split_words:"true"`
	EscrowAccount    string `yaml:"escrowAccount"    split_words:"true"`
	PayoutPolicy     string `yaml:"payoutPolicy"     split_words:"true"`
	AuthPolicy       string `yaml:"authPolicy"       split_words:"true"`

	// Governance tuning
	MinTokensToPropose  uint64 `yaml:"minTokensToPropose"  split_words:"true"`
	VotingPeriod        string `yaml:"votingPeriod"        split_words:"true"`
	GovernanceAuthority string `yaml:"governanceAuthority" split_words:"true"`

	// ResolveInterval enables the background challenge resolver when
	// non-empty and non-zero
	ResolveInterval string `yaml:"resolveInterval" split_words:"true"`
}

var globalConfig = &Config{
	DatabasePath:        ".agora",
	BindAddr:            "0.0.0.0",
	MetricsPort:         12798,
	MinStakeAmount:      100,
	ChallengePeriod:     "72h",
	RewardPercentage:    70,
	FeedbackCooldown:    "24h",
	EscrowAccount:       "registry.escrow",
	PayoutPolicy:        "all",
	AuthPolicy:          "owner-or-governance",
	MinTokensToPropose:  100,
	VotingPeriod:        "72h",
	GovernanceAuthority: "governance",
	ResolveInterval:     "",
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.agora/agora.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".agora", "agora.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/agora/agora.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/agora/agora.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("agora", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Validate durations and percentages up front so bad values fail at
	// startup rather than in the middle of an operation
	for _, field := range []struct {
		name  string
		value string
	}{
		{"challengePeriod", globalConfig.ChallengePeriod},
		{"feedbackCooldown", globalConfig.FeedbackCooldown},
		{"votingPeriod", globalConfig.VotingPeriod},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return nil, fmt.Errorf(
				"invalid %s: %q: %w",
				field.name,
				field.value,
				err,
			)
		}
	}
	if globalConfig.ResolveInterval != "" {
		if _, err := time.ParseDuration(globalConfig.ResolveInterval); err != nil {
			return nil, fmt.Errorf(
				"invalid resolveInterval: %q: %w",
				globalConfig.ResolveInterval,
				err,
			)
		}
	}
	if globalConfig.RewardPercentage > 100 {
		return nil, fmt.Errorf(
			"invalid rewardPercentage: %d (must be 0-100)",
			globalConfig.RewardPercentage,
		)
	}
	switch globalConfig.PayoutPolicy {
	case "all", "winners":
	default:
		return nil, fmt.Errorf(
			"invalid payoutPolicy: %q (must be 'all' or 'winners')",
			globalConfig.PayoutPolicy,
		)
	}
	switch globalConfig.AuthPolicy {
	case "owner-or-governance", "governance-only":
	default:
		return nil, fmt.Errorf(
			"invalid authPolicy: %q (must be 'owner-or-governance' or 'governance-only')",
			globalConfig.AuthPolicy,
		)
	}

	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// ChallengePeriodDuration returns the parsed challenge period. LoadConfig
// validates the value, so parse failures here fall back to the default.
func (c *Config) ChallengePeriodDuration() time.Duration {
	return parseDurationOr(c.ChallengePeriod, 72*time.Hour)
}

func (c *Config) FeedbackCooldownDuration() time.Duration {
	return parseDurationOr(c.FeedbackCooldown, 24*time.Hour)
}

func (c *Config) VotingPeriodDuration() time.Duration {
	return parseDurationOr(c.VotingPeriod, 72*time.Hour)
}

func (c *Config) ResolveIntervalDuration() time.Duration {
	return parseDurationOr(c.ResolveInterval, 0)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
