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

package reconnect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/internal/keymutex"
	"github.com/circleworks/trustengine/ledger"
)

// ErrAlreadyConnected is returned when the pair already holds an ACTIVE
// connection
var ErrAlreadyConnected = errors.New("connection already exists")

type GatekeeperConfig struct {
	Logger   *slog.Logger
	Database *database.Database
	// TimeNow overrides the clock, for tests
	TimeNow func() time.Time
}

// Gatekeeper owns connection records and enforces the reconnection cooldown
// after a disconnect
type Gatekeeper struct {
	logger  *slog.Logger
	db      *database.Database
	timeNow func() time.Time
	// pairLocks serializes connection writes per canonical pair
	pairLocks *keymutex.KeyMutex
}

func NewGatekeeper(cfg GatekeeperConfig) *Gatekeeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Gatekeeper{
		logger:    logger,
		db:        cfg.Database,
		timeNow:   timeNow,
		pairLocks: keymutex.New(),
	}
}

func pairLockKey(userAId string, userBId string) string {
	a, b := models.CanonicalPair(userAId, userBId)
	return a + "|" + b
}

// CanReconnect reports whether the unordered pair may establish a new
// connection. When blocked by a prior disconnect, availableAt carries the
// end of the cooldown window. No prior revocation means always eligible.
func (g *Gatekeeper) CanReconnect(
	ctx context.Context,
	userAId string,
	userBId string,
) (bool, *time.Time, error) {
	now := g.timeNow()
	cfg, err := g.db.GetActiveVouchConfig(now, nil)
	if err != nil {
		return false, nil, err
	}
	lastRevoked, err := g.db.GetLatestRevokedConnection(userAId, userBId, nil)
	if err != nil {
		if errors.Is(err, models.ErrConnectionNotFound) {
			return true, nil, nil
		}
		return false, nil, err
	}
	if lastRevoked.RevokedAt == nil {
		return true, nil, nil
	}
	availableAt := lastRevoked.RevokedAt.AddDate(
		0,
		0,
		cfg.ReconnectionCooldownDays,
	)
	if now.Before(availableAt) {
		return false, &availableAt, nil
	}
	return true, nil, nil
}

// Connect establishes a connection between the pair, honoring the
// reconnection cooldown
func (g *Gatekeeper) Connect(
	ctx context.Context,
	userAId string,
	userBId string,
) (models.Connection, error) {
	tmpConn := models.Connection{}
	if userAId == userBId {
		return tmpConn, ledger.ErrSelfVouch
	}
	// The duplicate check and insert must be one atomic unit per pair, or
	// two concurrent connects can both observe no ACTIVE row
	lockKey := pairLockKey(userAId, userBId)
	g.pairLocks.Lock(lockKey)
	defer g.pairLocks.Unlock(lockKey)
	eligible, availableAt, err := g.CanReconnect(ctx, userAId, userBId)
	if err != nil {
		return tmpConn, err
	}
	if !eligible {
		return tmpConn, &ledger.CooldownError{AvailableAt: *availableAt}
	}
	_, err = g.db.GetActiveConnection(userAId, userBId, nil)
	if err == nil {
		return tmpConn, ErrAlreadyConnected
	}
	if !errors.Is(err, models.ErrConnectionNotFound) {
		return tmpConn, err
	}
	a, b := models.CanonicalPair(userAId, userBId)
	newConn := models.Connection{
		UserAID:     a,
		UserBID:     b,
		Status:      models.ConnectionStatusActive,
		ConnectedAt: g.timeNow(),
	}
	err = database.Retry(func() error {
		newConn.ID = 0
		return g.db.AddConnection(&newConn, nil)
	})
	if err != nil {
		return tmpConn, err
	}
	g.logger.Info(
		"connection established",
		"component", "reconnect",
		"user_a", a,
		"user_b", b,
	)
	return newConn, nil
}

// Disconnect revokes the ACTIVE connection between the pair, starting the
// reconnection cooldown
func (g *Gatekeeper) Disconnect(
	ctx context.Context,
	userAId string,
	userBId string,
) (models.Connection, error) {
	lockKey := pairLockKey(userAId, userBId)
	g.pairLocks.Lock(lockKey)
	defer g.pairLocks.Unlock(lockKey)
	conn, err := g.db.GetActiveConnection(userAId, userBId, nil)
	if err != nil {
		return models.Connection{}, err
	}
	now := g.timeNow()
	conn.Status = models.ConnectionStatusRevoked
	conn.RevokedAt = &now
	err = database.Retry(func() error {
		return g.db.UpdateConnection(&conn, nil)
	})
	if err != nil {
		return models.Connection{}, err
	}
	g.logger.Info(
		"connection revoked",
		"component", "reconnect",
		"user_a", conn.UserAID,
		"user_b", conn.UserBID,
	)
	return conn, nil
}
