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

package reconnect_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/ledger"
	"github.com/circleworks/trustengine/reconnect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatekeeperHarness struct {
	db         *database.Database
	gatekeeper *reconnect.Gatekeeper

	mu  sync.Mutex
	now time.Time
}

func (h *gatekeeperHarness) timeNow() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *gatekeeperHarness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func setupGatekeeper(t *testing.T) *gatekeeperHarness {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seedCfg := models.DefaultVouchConfig()
	require.NoError(t, db.AddVouchConfig(&seedCfg, nil))

	h := &gatekeeperHarness{
		db:  db,
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.gatekeeper = reconnect.NewGatekeeper(reconnect.GatekeeperConfig{
		Database: db,
		TimeNow:  h.timeNow,
	})
	return h
}

func TestCanReconnectNoHistory(t *testing.T) {
	h := setupGatekeeper(t)
	eligible, availableAt, err := h.gatekeeper.CanReconnect(
		context.Background(),
		"alice",
		"bob",
	)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Nil(t, availableAt)
}

func TestConnectSelf(t *testing.T) {
	h := setupGatekeeper(t)
	_, err := h.gatekeeper.Connect(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, ledger.ErrSelfVouch)
}

func TestConnectDuplicate(t *testing.T) {
	h := setupGatekeeper(t)
	_, err := h.gatekeeper.Connect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	// Argument order does not matter for an undirected pair
	_, err = h.gatekeeper.Connect(context.Background(), "bob", "alice")
	assert.ErrorIs(t, err, reconnect.ErrAlreadyConnected)
}

func TestReconnectionCooldown(t *testing.T) {
	h := setupGatekeeper(t)
	conn, err := h.gatekeeper.Connect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusActive, conn.Status)
	// Canonical pair ordering
	assert.Equal(t, "alice", conn.UserAID)
	assert.Equal(t, "bob", conn.UserBID)

	revoked, err := h.gatekeeper.Disconnect(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)

	// Default reconnection cooldown is 14 days
	eligible, availableAt, err := h.gatekeeper.CanReconnect(
		context.Background(),
		"alice",
		"bob",
	)
	require.NoError(t, err)
	assert.False(t, eligible)
	require.NotNil(t, availableAt)
	assert.WithinDuration(
		t,
		revoked.RevokedAt.AddDate(0, 0, 14),
		*availableAt,
		time.Second,
	)

	_, err = h.gatekeeper.Connect(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, ledger.ErrCooldownActive)

	// Other pairs are unaffected
	_, err = h.gatekeeper.Connect(context.Background(), "alice", "carol")
	require.NoError(t, err)

	// After the window the pair can reconnect
	h.advance(15 * 24 * time.Hour)
	eligible, availableAt, err = h.gatekeeper.CanReconnect(
		context.Background(),
		"alice",
		"bob",
	)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Nil(t, availableAt)
	_, err = h.gatekeeper.Connect(context.Background(), "alice", "bob")
	require.NoError(t, err)
}

func TestConcurrentConnectsSinglePair(t *testing.T) {
	h := setupGatekeeper(t)

	// The duplicate check and insert serialize per pair, so racing connects
	// produce exactly one ACTIVE connection
	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			userA, userB := "alice", "bob"
			if idx%2 == 1 {
				userA, userB = userB, userA
			}
			_, errs[idx] = h.gatekeeper.Connect(
				context.Background(),
				userA,
				userB,
			)
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, reconnect.ErrAlreadyConnected)
		}
	}
	assert.Equal(t, 1, successes)

	conn, err := h.db.GetActiveConnection("alice", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusActive, conn.Status)
}

func TestDisconnectNoConnection(t *testing.T) {
	h := setupGatekeeper(t)
	_, err := h.gatekeeper.Disconnect(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, models.ErrConnectionNotFound)
}
