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

package trustengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	trustengine "github.com/circleworks/trustengine"
	"github.com/circleworks/trustengine/accountability"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureNotifier records notification calls for assertions
type captureNotifier struct {
	mu    sync.Mutex
	calls []capturedNotification
}

type capturedNotification struct {
	UserId    string
	EventKind string
}

func (n *captureNotifier) Notify(
	ctx context.Context,
	userId string,
	eventKind string,
	payload any,
) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, capturedNotification{
		UserId:    userId,
		EventKind: eventKind,
	})
	return nil
}

func (n *captureNotifier) waitFor(
	t *testing.T,
	want capturedNotification,
) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		for _, call := range n.calls {
			if call == want {
				n.mu.Unlock()
				return
			}
		}
		n.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notification %+v never delivered", want)
}

func setupEngine(t *testing.T) (*trustengine.Engine, *directory.MemoryDirectory, *captureNotifier) {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	notifier := &captureNotifier{}
	engine, err := trustengine.New(trustengine.NewConfig(
		trustengine.WithUserDirectory(dir),
		trustengine.WithActivitySource(dir),
		trustengine.WithEventAttendance(dir),
		trustengine.WithCommunities(dir),
		trustengine.WithNotifier(notifier),
		trustengine.WithSeedDefaultConfig(true),
	))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Stop() }) //nolint:errcheck
	return engine, dir, notifier
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := trustengine.New(trustengine.NewConfig())
	assert.Error(t, err)
}

func TestEngineVouchLifecycle(t *testing.T) {
	engine, dir, notifier := setupEngine(t)
	dir.AddUser(directory.User{Id: "alice", TrustScore: 80})
	dir.AddUser(directory.User{Id: "bob", TrustScore: 60})

	rel, err := engine.RequestVouch(
		context.Background(),
		"alice",
		"bob",
		models.VouchTypePrimary,
		"",
	)
	require.NoError(t, err)
	assert.Equal(t, models.VouchStatusPending, rel.Status)
	notifier.waitFor(t, capturedNotification{
		UserId:    "bob",
		EventKind: "vouch.requested",
	})

	accepted, err := engine.RespondToVouch(
		context.Background(),
		rel.ID,
		"bob",
		true,
	)
	require.NoError(t, err)
	assert.Equal(t, models.VouchStatusActive, accepted.Status)
	notifier.waitFor(t, capturedNotification{
		UserId:    "alice",
		EventKind: "vouch.accepted",
	})

	// Accepting recomputed the vouchee's score
	score, err := engine.GetTrustScore(context.Background(), "bob")
	require.NoError(t, err)
	assert.Greater(t, score, float64(0))

	// Record a positive event and fold it in
	_, err = engine.RecordAccountabilityEvent(
		context.Background(),
		accountability.RecordParams{
			VoucherId:   "alice",
			VoucheeId:   "bob",
			ImpactType:  models.ImpactEndorsement,
			ImpactValue: 5,
		},
	)
	require.NoError(t, err)

	processed, err := engine.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	betterScore, err := engine.GetTrustScore(context.Background(), "bob")
	require.NoError(t, err)
	assert.Greater(t, betterScore, score)

	// Revoking notifies both sides and lowers the score again
	_, err = engine.RevokeVouch(context.Background(), rel.ID, "alice")
	require.NoError(t, err)
	notifier.waitFor(t, capturedNotification{
		UserId:    "alice",
		EventKind: "vouch.revoked",
	})
	notifier.waitFor(t, capturedNotification{
		UserId:    "bob",
		EventKind: "vouch.revoked",
	})
	lowerScore, err := engine.GetTrustScore(context.Background(), "bob")
	require.NoError(t, err)
	assert.Less(t, lowerScore, betterScore)
}

func TestEngineAutoVouch(t *testing.T) {
	engine, dir, _ := setupEngine(t)
	dir.AddUser(directory.User{
		Id:         "alice",
		TrustScore: 80,
		CreatedAt:  time.Now().AddDate(0, 0, -120),
	})
	dir.AddUser(directory.User{Id: "bob", TrustScore: 50})
	dir.SetEventCount("alice", 6)

	eligibility, err := engine.CheckAutoVouchEligibility(
		context.Background(),
		"alice",
		"bob",
	)
	require.NoError(t, err)
	require.True(t, eligibility.Eligible)

	rel, err := engine.AutoVouch(
		context.Background(),
		"alice",
		"bob",
		models.VouchTypeSecondary,
	)
	require.NoError(t, err)
	assert.Equal(t, models.VouchStatusActive, rel.Status)

	// The freshly created relationship now blocks a second auto-vouch
	_, err = engine.AutoVouch(
		context.Background(),
		"alice",
		"bob",
		models.VouchTypeSecondary,
	)
	assert.ErrorIs(t, err, trustengine.ErrNotEligible)
}

func TestEngineConnections(t *testing.T) {
	engine, _, _ := setupEngine(t)

	conn, err := engine.Connect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusActive, conn.Status)

	_, err = engine.Disconnect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	eligible, availableAt, err := engine.CanReconnect(
		context.Background(),
		"alice",
		"bob",
	)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.NotNil(t, availableAt)
}

func TestEnginePutVouchConfig(t *testing.T) {
	engine, _, _ := setupEngine(t)

	active, err := engine.GetActiveVouchConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, active.MaxPrimaryVouches)

	// Invalid policies are rejected
	bad := models.DefaultVouchConfig()
	bad.CooldownDays = -1
	assert.Error(t, engine.PutVouchConfig(bad))

	// A new version with an earlier EffectiveFrom already in the past takes
	// over immediately
	updated := models.DefaultVouchConfig()
	updated.EffectiveFrom = time.Now().Add(-time.Hour)
	updated.MaxPrimaryVouches = 2
	require.NoError(t, engine.PutVouchConfig(updated))

	active, err = engine.GetActiveVouchConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, active.MaxPrimaryVouches)
}

func TestEngineRunStop(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	engine, err := trustengine.New(trustengine.NewConfig(
		trustengine.WithUserDirectory(dir),
		trustengine.WithActivitySource(dir),
		trustengine.WithEventAttendance(dir),
		trustengine.WithCommunities(dir),
		trustengine.WithSeedDefaultConfig(true),
		trustengine.WithProcessingInterval(10*time.Millisecond),
	))
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() {
		runDone <- engine.Run()
	}()
	// Let at least one processing tick fire
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.Stop())
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}
