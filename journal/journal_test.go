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

package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/opentcr/agora/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEventType event.EventType = "registry.agent_submitted"

func newTestJournal(t *testing.T, eb *event.EventBus) *Journal {
	t.Helper()
	j, err := NewJournal(JournalConfig{
		EventBus:   eb,
		EventTypes: []event.EventType{testEventType},
	})
	require.NoError(t, err)
	return j
}

func TestJournalRecordsFacts(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	j := newTestJournal(t, eb)
	j.Start()

	for i := range 3 {
		eb.Publish(
			testEventType,
			event.NewEvent(testEventType, map[string]int{"n": i}),
		)
	}
	// Delivery through the bus is asynchronous
	require.Eventually(t, func() bool {
		return j.LastSeq() == 3
	}, 5*time.Second, 10*time.Millisecond)

	var entries []Entry
	err := j.Replay(0, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		// #nosec G115
		assert.Equal(t, uint64(i+1), entry.Seq)
		assert.Equal(t, string(testEventType), entry.Type)
		var data map[string]int
		require.NoError(t, json.Unmarshal(entry.Data, &data))
		assert.Equal(t, i, data["n"])
	}
	require.NoError(t, j.Stop())
}

func TestJournalReplayFromSeq(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	j := newTestJournal(t, eb)
	j.Start()

	for i := range 5 {
		eb.Publish(
			testEventType,
			event.NewEvent(testEventType, map[string]int{"n": i}),
		)
	}
	require.Eventually(t, func() bool {
		return j.LastSeq() == 5
	}, 5*time.Second, 10*time.Millisecond)

	var seqs []uint64
	err := j.Replay(4, func(e Entry) error {
		seqs = append(seqs, e.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, seqs)
	require.NoError(t, j.Stop())
}

func TestJournalSequenceSurvivesReopen(t *testing.T) {
	dataDir := t.TempDir()

	j, err := NewJournal(JournalConfig{DataDir: dataDir})
	require.NoError(t, err)
	j.record(event.NewEvent(testEventType, "first"))
	j.record(event.NewEvent(testEventType, "second"))
	assert.Equal(t, uint64(2), j.LastSeq())
	require.NoError(t, j.Stop())

	// Reopening resumes the sequence from the persisted tail
	j2, err := NewJournal(JournalConfig{DataDir: dataDir})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), j2.LastSeq())
	j2.record(event.NewEvent(testEventType, "third"))
	assert.Equal(t, uint64(3), j2.LastSeq())

	var entries []Entry
	require.NoError(t, j2.Replay(0, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	assert.Len(t, entries, 3)
	require.NoError(t, j2.Stop())
}

func TestJournalStopUnsubscribes(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	j := newTestJournal(t, eb)
	j.Start()
	require.NoError(t, j.Stop())

	// Publishing after Stop must not panic or block
	eb.Publish(testEventType, event.NewEvent(testEventType, "late"))
}
