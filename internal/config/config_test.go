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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cfg.MinStakeAmount)
	assert.Equal(t, uint64(70), cfg.RewardPercentage)
	assert.Equal(t, "all", cfg.PayoutPolicy)
	assert.Equal(t, "owner-or-governance", cfg.AuthPolicy)
	assert.Equal(t, 72*time.Hour, cfg.ChallengePeriodDuration())
	assert.Equal(t, 24*time.Hour, cfg.FeedbackCooldownDuration())
	assert.Equal(t, 72*time.Hour, cfg.VotingPeriodDuration())
	// Background resolver is off by default
	assert.Equal(t, time.Duration(0), cfg.ResolveIntervalDuration())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeTestConfig(t, `
minStakeAmount: 250
challengePeriod: 48h
rewardPercentage: 60
payoutPolicy: winners
resolveInterval: 1m
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), cfg.MinStakeAmount)
	assert.Equal(t, 48*time.Hour, cfg.ChallengePeriodDuration())
	assert.Equal(t, uint64(60), cfg.RewardPercentage)
	assert.Equal(t, "winners", cfg.PayoutPolicy)
	assert.Equal(t, time.Minute, cfg.ResolveIntervalDuration())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AGORA_MIN_STAKE_AMOUNT", "999")
	t.Setenv("AGORA_PAYOUT_POLICY", "winners")
	cfg, err := LoadConfig(writeTestConfig(t, "minStakeAmount: 250\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(999), cfg.MinStakeAmount)
	assert.Equal(t, "winners", cfg.PayoutPolicy)
}

func TestLoadConfigInvalidValues(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"bad duration", "challengePeriod: not-a-duration\n"},
		{"bad percentage", "rewardPercentage: 101\n"},
		{"bad payout policy", "payoutPolicy: losers\n"},
		{"bad auth policy", "authPolicy: anyone\n"},
		{"bad resolve interval", "resolveInterval: sometimes\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTestConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
	// Restore parseable values for later loads of the shared config
	_, err := LoadConfig(writeTestConfig(t, `
challengePeriod: 72h
rewardPercentage: 70
payoutPolicy: all
authPolicy: owner-or-governance
resolveInterval: ""
`))
	require.NoError(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
