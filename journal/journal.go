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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/opentcr/agora/event"
)

// Entry is one journaled fact, keyed by its assigned sequence number
type Entry struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type JournalConfig struct {
	Logger   *slog.Logger
	EventBus *event.EventBus
	// DataDir holds the badger journal; empty means in-memory
	DataDir string
	// EventTypes is the set of fact types to record
	EventTypes []event.EventType
}

// Journal is an append-only record of the facts emitted on the event bus,
// stored in badger under big-endian sequence keys. It is the surface
// external observers replay from; the engines never read it.
type Journal struct {
	config   JournalConfig
	db       *badger.DB
	logger   *slog.Logger
	subIds   map[event.EventType]event.EventSubscriberId
	lastSeq  uint64
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	gcWg     sync.WaitGroup
	seqMu    sync.Mutex
}

func NewJournal(config JournalConfig) (*Journal, error) {
	j := &Journal{
		config: config,
		subIds: make(map[event.EventType]event.EventSubscriberId),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		j.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		j.logger = config.Logger
	}
	var badgerOpts badger.Options
	if config.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithLogger(newBadgerLogger(j.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
	} else {
		if _, err := os.Stat(config.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		journalDir := filepath.Join(config.DataDir, "journal")
		badgerOpts = badger.DefaultOptions(journalDir).
			WithLogger(newBadgerLogger(j.logger)).
			WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	j.db = db
	if err := j.loadLastSeq(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	if config.DataDir != "" {
		j.gcTicker = time.NewTicker(5 * time.Minute)
		j.gcStopCh = make(chan struct{})
		j.gcWg.Add(1)
		go j.valueLogGc(j.gcTicker, j.gcStopCh)
	}
	return j, nil
}

// Start subscribes the journal to the configured fact types
func (j *Journal) Start() {
	if j.config.EventBus == nil {
		return
	}
	for _, eventType := range j.config.EventTypes {
		j.subIds[eventType] = j.config.EventBus.SubscribeFunc(
			eventType,
			j.record,
		)
	}
}

// Stop unsubscribes from the event bus and closes the badger database
func (j *Journal) Stop() error {
	if j.config.EventBus != nil {
		for eventType, subId := range j.subIds {
			j.config.EventBus.Unsubscribe(eventType, subId)
		}
	}
	if j.gcTicker != nil {
		j.gcTicker.Stop()
		close(j.gcStopCh)
		j.gcWg.Wait()
		j.gcTicker = nil
	}
	return j.db.Close()
}

func (j *Journal) loadLastSeq() error {
	return j.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Reverse = true
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()
		// Seek to the highest possible key and read backward
		iter.Seek([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		if iter.Valid() {
			key := iter.Item().KeyCopy(nil)
			if len(key) == 8 {
				j.lastSeq = binary.BigEndian.Uint64(key)
			}
		}
		return nil
	})
}

func (j *Journal) record(evt event.Event) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		j.logger.Error(
			"failed to encode fact",
			"component", "journal",
			"type", evt.Type,
			"error", err,
		)
		return
	}
	j.seqMu.Lock()
	defer j.seqMu.Unlock()
	seq := j.lastSeq + 1
	entry := Entry{
		Seq:       seq,
		Type:      string(evt.Type),
		Timestamp: evt.Timestamp,
		Data:      data,
	}
	value, err := json.Marshal(&entry)
	if err != nil {
		j.logger.Error(
			"failed to encode journal entry",
			"component", "journal",
			"type", evt.Type,
			"error", err,
		)
		return
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		j.logger.Error(
			"failed to append journal entry",
			"component", "journal",
			"type", evt.Type,
			"error", err,
		)
		return
	}
	j.lastSeq = seq
}

// LastSeq returns the sequence number of the newest journaled fact
func (j *Journal) LastSeq() uint64 {
	j.seqMu.Lock()
	defer j.seqMu.Unlock()
	return j.lastSeq
}

// Replay calls fn for every journaled fact with sequence >= fromSeq, in
// sequence order. Iteration stops at the first fn error.
func (j *Journal) Replay(fromSeq uint64, fn func(Entry) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iter := txn.NewIterator(iterOpts)
		defer iter.Close()
		startKey := make([]byte, 8)
		binary.BigEndian.PutUint64(startKey, fromSeq)
		for iter.Seek(startKey); iter.Valid(); iter.Next() {
			var entry Entry
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode journal entry: %w", err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journal) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer j.gcWg.Done()
	for {
		select {
		case <-t.C:
		again:
			err := j.db.RunValueLogGC(0.5)
			if err != nil {
				// Log any actual errors
				if !errors.Is(err, badger.ErrNoRewrite) {
					j.logger.Warn(
						fmt.Sprintf("journal DB: GC failure: %s", err),
						"component", "journal",
					)
				}
			} else {
				// Run it again if it just ran successfully
				goto again
			}
		case <-stop:
			return
		}
	}
}
