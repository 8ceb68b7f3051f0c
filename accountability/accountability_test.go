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

package accountability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/circleworks/trustengine/accountability"
	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/directory"
	"github.com/circleworks/trustengine/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logHarness struct {
	db  *database.Database
	dir *directory.MemoryDirectory
	log *accountability.Log
}

func setupLog(t *testing.T) *logHarness {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seedCfg := models.DefaultVouchConfig()
	require.NoError(t, db.AddVouchConfig(&seedCfg, nil))

	dir := directory.NewMemoryDirectory()
	calculator := scoring.NewCalculator(scoring.CalculatorConfig{
		Database: db,
		Users:    dir,
		Activity: dir,
	})
	return &logHarness{
		db:  db,
		dir: dir,
		log: accountability.NewLog(accountability.LogConfig{
			Database: db,
			Scorer:   calculator,
		}),
	}
}

func (h *logHarness) addUser(id string) {
	h.dir.AddUser(directory.User{
		Id:        id,
		CreatedAt: time.Now().AddDate(0, -6, 0),
	})
}

// activeVouch inserts an ACTIVE relationship directly, bypassing the
// request/response cycle
func (h *logHarness) activeVouch(
	t *testing.T,
	voucherId string,
	voucheeId string,
) {
	t.Helper()
	now := time.Now()
	rel := models.VouchRelationship{
		VoucherID:   voucherId,
		VoucheeID:   voucheeId,
		Type:        models.VouchTypeSecondary,
		Status:      models.VouchStatusActive,
		RequestedAt: now,
		RespondedAt: &now,
	}
	require.NoError(t, h.db.AddVouchRelationship(&rel, nil))
}

func TestRecordEventNoActiveVouch(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")

	_, err := h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "alice",
		VoucheeId:   "bob",
		ImpactType:  models.ImpactEndorsement,
		ImpactValue: 5,
	})
	assert.ErrorIs(t, err, accountability.ErrNoActiveVouch)
}

func TestRecordEventInvalidType(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.activeVouch(t, "alice", "bob")

	_, err := h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "alice",
		VoucheeId:   "bob",
		ImpactType:  "BOGUS",
		ImpactValue: 5,
	})
	assert.ErrorIs(t, err, accountability.ErrInvalidImpactType)

	// CHAIN entries are engine-generated, never recorded directly
	_, err = h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "alice",
		VoucheeId:   "bob",
		ImpactType:  models.ImpactChain,
		ImpactValue: -5,
	})
	assert.ErrorIs(t, err, accountability.ErrInvalidImpactType)
}

func TestRecordEvent(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.activeVouch(t, "alice", "bob")

	logEntry, err := h.log.RecordEvent(
		context.Background(),
		accountability.RecordParams{
			VoucherId:         "alice",
			VoucheeId:         "bob",
			ImpactType:        models.ImpactEndorsement,
			ImpactValue:       5,
			Description:       "great event host",
			RelatedEntityType: "event",
			RelatedEntityId:   "evt-42",
			Metadata:          map[string]any{"eventName": "Sunday Picnic"},
		},
	)
	require.NoError(t, err)
	assert.NotZero(t, logEntry.ID)
	assert.False(t, logEntry.IsProcessed)
	assert.Empty(t, logEntry.ChainID)

	// Free-form metadata lands in the blob store keyed by log ID
	payload, err := h.db.GetAccountabilityLogMetadata(logEntry.ID, nil)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "Sunday Picnic", decoded["eventName"])
}

func TestRecordEventPositiveDoesNotChain(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.addUser("carol")
	h.activeVouch(t, "alice", "bob")
	h.activeVouch(t, "bob", "carol")

	_, err := h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "bob",
		VoucheeId:   "carol",
		ImpactType:  models.ImpactEndorsement,
		ImpactValue: 10,
	})
	require.NoError(t, err)

	logs, total, err := h.db.GetLogHistory("bob", 0, 10, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, logs)
}

func TestRecordEventChainPropagation(t *testing.T) {
	h := setupLog(t)
	// alice vouched for bob, bob vouched for carol. A negative event on
	// carol propagates one attenuated hop to bob and another to alice.
	h.addUser("alice")
	h.addUser("bob")
	h.addUser("carol")
	h.activeVouch(t, "alice", "bob")
	h.activeVouch(t, "bob", "carol")

	rootLog, err := h.log.RecordEvent(
		context.Background(),
		accountability.RecordParams{
			VoucherId:   "bob",
			VoucheeId:   "carol",
			ImpactType:  models.ImpactEventNoShow,
			ImpactValue: -10,
		},
	)
	require.NoError(t, err)

	bobLogs, total, err := h.db.GetLogHistory("bob", 0, 10, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, models.ImpactChain, bobLogs[0].ImpactType)
	assert.InDelta(t, -5.0, bobLogs[0].ImpactValue, 0.0001)
	assert.Equal(t, fmt.Sprintf("chain-%d", rootLog.ID), bobLogs[0].ChainID)

	aliceLogs, total, err := h.db.GetLogHistory("alice", 0, 10, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.InDelta(t, -2.5, aliceLogs[0].ImpactValue, 0.0001)
	assert.Equal(t, bobLogs[0].ChainID, aliceLogs[0].ChainID)
}

func TestRecordEventChainCycle(t *testing.T) {
	h := setupLog(t)
	// Mutual vouches must not propagate forever
	h.addUser("alice")
	h.addUser("bob")
	h.activeVouch(t, "alice", "bob")
	h.activeVouch(t, "bob", "alice")

	_, err := h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "alice",
		VoucheeId:   "bob",
		ImpactType:  models.ImpactCommunityFlag,
		ImpactValue: -8,
	})
	require.NoError(t, err)

	// Root entry on bob plus exactly one chain entry on alice
	count, err := h.db.CountUnprocessedLogs(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestProcessPending(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.activeVouch(t, "alice", "bob")

	_, err := h.log.RecordEvent(context.Background(), accountability.RecordParams{
		VoucherId:   "alice",
		VoucheeId:   "bob",
		ImpactType:  models.ImpactEndorsement,
		ImpactValue: 5,
	})
	require.NoError(t, err)

	processed, err := h.log.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// Processed entries fold into the trust moment sum
	sum, err := h.db.SumProcessedImpact("bob", nil)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, sum, 0.0001)
	user, err := h.dir.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	scoreAfterFirst := user.TrustScore
	assert.Greater(t, scoreAfterFirst, float64(0))

	// A second run finds nothing and changes nothing
	processed, err = h.log.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, processed)
	user, err = h.dir.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, scoreAfterFirst, user.TrustScore)
}

func TestSummarize(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.addUser("carol")
	h.activeVouch(t, "alice", "bob")
	h.activeVouch(t, "alice", "carol")

	for _, params := range []accountability.RecordParams{
		{
			VoucherId:   "alice",
			VoucheeId:   "bob",
			ImpactType:  models.ImpactEndorsement,
			ImpactValue: 5,
		},
		{
			VoucherId:   "alice",
			VoucheeId:   "carol",
			ImpactType:  models.ImpactEventNoShow,
			ImpactValue: -3,
		},
		{
			VoucherId:   "alice",
			VoucheeId:   "carol",
			ImpactType:  models.ImpactDisputeResolved,
			ImpactValue: 0,
		},
	} {
		_, err := h.log.RecordEvent(context.Background(), params)
		require.NoError(t, err)
	}

	summary, err := h.log.Summarize("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.PositiveCount)
	assert.Equal(t, int64(1), summary.NegativeCount)
	assert.Equal(t, int64(1), summary.NeutralCount)
	assert.InDelta(t, 2.0, summary.TotalImpact, 0.0001)
	assert.Len(t, summary.PerVouchee, 2)
	assert.Len(t, summary.RecentLogs, 3)
}

func TestGetHistoryPagination(t *testing.T) {
	h := setupLog(t)
	h.addUser("alice")
	h.addUser("bob")
	h.activeVouch(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		_, err := h.log.RecordEvent(
			context.Background(),
			accountability.RecordParams{
				VoucherId:   "alice",
				VoucheeId:   "bob",
				ImpactType:  models.ImpactEndorsement,
				ImpactValue: float64(i + 1),
			},
		)
		require.NoError(t, err)
	}

	page1, total, err := h.log.GetHistory("bob", 1, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page1, 2)

	page3, total, err := h.log.GetHistory("bob", 3, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page3, 1)

	// Type filter
	impactType := models.ImpactEventNoShow
	filtered, total, err := h.log.GetHistory("bob", 1, 10, &impactType)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, filtered)
}
