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

package database

import (
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"gorm.io/gorm"
)

const (
	retryAttempts = 3
	retryBackoff  = 100 * time.Millisecond
)

// Retry runs fn up to three times with linear backoff, retrying only
// transient storage errors. fn must be safe to re-run in full; every write
// path runs inside a single transaction so a failed attempt leaves nothing
// behind.
func Retry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !IsTransientError(err) {
			return err
		}
		if attempt < retryAttempts {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}
	return err
}

// IsTransientError reports whether a storage error is worth retrying. This
// covers serialization conflicts on the blob store and SQLite lock
// contention; anything else is surfaced to the caller.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, badger.ErrConflict) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") {
		return true
	}
	return false
}
