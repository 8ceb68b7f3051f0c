// Copyright 2025 Circleworks Software
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

package blob

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrKeyNotFound is returned by Get when a key is missing
var ErrKeyNotFound = errors.New("blob key not found")

const metadataKeyPrefix = "acctmeta_"

// Store holds free-form accountability metadata payloads in Badger, keyed by
// accountability log ID. The relational store never sees these payloads.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// New creates a Badger blob store under dataDir. Uses an in-memory store if
// dataDir is empty, which is useful for testing.
func New(
	dataDir string,
	logger *slog.Logger,
) (*Store, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dataDir, "blob"))
	}
	opts = opts.WithLogger(newBadgerLogger(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// NewTransaction returns a new Badger transaction handle
func (s *Store) NewTransaction(readWrite bool) *badger.Txn {
	return s.db.NewTransaction(readWrite)
}

// MetadataKey returns the blob key for an accountability log ID
func MetadataKey(logId uint) []byte {
	return fmt.Appendf(nil, "%s%d", metadataKeyPrefix, logId)
}

// SetMetadata stores a metadata payload for an accountability log within the
// given transaction
func (s *Store) SetMetadata(txn *badger.Txn, logId uint, payload []byte) error {
	if txn == nil {
		return errors.New("nil blob transaction")
	}
	return txn.Set(MetadataKey(logId), payload)
}

// GetMetadata retrieves the metadata payload for an accountability log within
// the given transaction
func (s *Store) GetMetadata(txn *badger.Txn, logId uint) ([]byte, error) {
	if txn == nil {
		return nil, errors.New("nil blob transaction")
	}
	item, err := txn.Get(MetadataKey(logId))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// GC runs a value log garbage collection pass. Safe to call periodically;
// returns without error when there is nothing to collect.
func (s *Store) GC() error {
	if s.db.Opts().InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Close cleans up the blob store
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts badger's logger interface to slog
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...), "component", "blob")
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...), "component", "blob")
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...), "component", "blob")
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...), "component", "blob")
}
