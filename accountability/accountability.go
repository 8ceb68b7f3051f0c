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

package accountability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/event"
	"github.com/circleworks/trustengine/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoActiveVouch is returned when recording an event for a pair with no
// ACTIVE vouch relationship
var ErrNoActiveVouch = errors.New("no active vouch relationship between pair")

// ErrInvalidImpactType is returned for unknown impact types
var ErrInvalidImpactType = errors.New("unknown accountability impact type")

const (
	// maxChainHops bounds propagation up the vouch graph
	maxChainHops = 3
	// chainAttenuation scales the impact value at each hop
	chainAttenuation = 0.5

	// DefaultBatchSize is used when ProcessPending is called with a
	// non-positive batch size
	DefaultBatchSize = 100

	summaryRecentLogs = 10
)

type LogConfig struct {
	Logger       *slog.Logger
	Database     *database.Database
	EventBus     *event.EventBus
	Scorer       ledger.Recomputer
	PromRegistry prometheus.Registerer
	// TimeNow overrides the clock, for tests
	TimeNow func() time.Time
}

// Log is the append-only accountability record. Entries are only ever
// mutated by the single IsProcessed flip in ProcessPending.
type Log struct {
	logger   *slog.Logger
	db       *database.Database
	eventBus *event.EventBus
	scorer   ledger.Recomputer
	timeNow  func() time.Time
	metrics  *logMetrics
}

func NewLog(cfg LogConfig) *Log {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	a := &Log{
		logger:   logger,
		db:       cfg.Database,
		eventBus: cfg.EventBus,
		scorer:   cfg.Scorer,
		timeNow:  timeNow,
	}
	if cfg.PromRegistry != nil {
		a.initMetrics(cfg.PromRegistry)
	}
	return a
}

// RecordParams describes a behavioral event attributed to a vouched
// relationship
type RecordParams struct {
	VoucherId         string
	VoucheeId         string
	ImpactType        models.AccountabilityImpact
	ImpactValue       float64
	Description       string
	RelatedEntityType string
	RelatedEntityId   string
	Metadata          map[string]any
}

// RecordEvent appends an accountability entry for the pair. Negative impacts
// additionally propagate attenuated chain entries up the vouch graph,
// bounded by maxChainHops. The append itself never fails due to score
// recomputation; entries are folded into scores by ProcessPending.
func (a *Log) RecordEvent(
	ctx context.Context,
	params RecordParams,
) (models.AccountabilityLog, error) {
	tmpLog := models.AccountabilityLog{}
	if !params.ImpactType.Valid() ||
		params.ImpactType == models.ImpactChain {
		return tmpLog, fmt.Errorf(
			"%w: %q",
			ErrInvalidImpactType,
			params.ImpactType,
		)
	}
	hasVouch, err := a.db.HasActiveVouch(params.VoucherId, params.VoucheeId, nil)
	if err != nil {
		return tmpLog, err
	}
	if !hasVouch {
		return tmpLog, ErrNoActiveVouch
	}
	var metadataPayload []byte
	if len(params.Metadata) > 0 {
		metadataPayload, err = json.Marshal(params.Metadata)
		if err != nil {
			return tmpLog, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}
	now := a.timeNow()
	rootLog := models.AccountabilityLog{
		VoucherID:         params.VoucherId,
		VoucheeID:         params.VoucheeId,
		ImpactType:        params.ImpactType,
		ImpactValue:       params.ImpactValue,
		Description:       params.Description,
		RelatedEntityType: params.RelatedEntityType,
		RelatedEntityID:   params.RelatedEntityId,
		OccurredAt:        now,
	}
	var chainLogs []models.AccountabilityLog
	err = database.Retry(func() error {
		chainLogs = nil
		txn := a.db.Transaction(true)
		return txn.Do(func(txn *database.Txn) error {
			rootLog.ID = 0
			if err := a.db.AddAccountabilityLog(&rootLog, metadataPayload, txn); err != nil {
				return err
			}
			if params.ImpactValue < 0 {
				var err error
				chainLogs, err = a.propagateChain(&rootLog, txn)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return tmpLog, err
	}
	a.logger.Info(
		"accountability event recorded",
		"component", "accountability",
		"log_id", rootLog.ID,
		"voucher_id", params.VoucherId,
		"vouchee_id", params.VoucheeId,
		"impact_type", params.ImpactType,
		"impact_value", params.ImpactValue,
		"chain_entries", len(chainLogs),
	)
	if a.metrics != nil {
		a.metrics.recordedTotal.WithLabelValues(string(params.ImpactType)).Inc()
		a.metrics.recordedTotal.WithLabelValues(string(models.ImpactChain)).
			Add(float64(len(chainLogs)))
	}
	a.publishRecorded(rootLog)
	for _, chainLog := range chainLogs {
		a.publishRecorded(chainLog)
	}
	return rootLog, nil
}

// propagateChain walks up the vouch graph from the vouchee, creating
// attenuated entries for each ancestor voucher. Chain entries store the user
// whose event propagated in the voucher column and the accountable ancestor
// in the vouchee column, since scoring reads a user's entries by vouchee ID.
// Traversal is breadth-first, bounded by maxChainHops, and skips users
// already visited so vouch cycles terminate.
func (a *Log) propagateChain(
	rootLog *models.AccountabilityLog,
	txn *database.Txn,
) ([]models.AccountabilityLog, error) {
	chainId := fmt.Sprintf("chain-%d", rootLog.ID)
	visited := map[string]bool{
		rootLog.VoucheeID: true,
	}
	frontier := []string{rootLog.VoucheeID}
	value := rootLog.ImpactValue
	var created []models.AccountabilityLog
	for hop := 1; hop <= maxChainHops; hop++ {
		value *= chainAttenuation
		var nextFrontier []string
		for _, childId := range frontier {
			ancestorIds, err := a.db.GetActiveVouchersForVouchee(childId, txn)
			if err != nil {
				return nil, err
			}
			for _, ancestorId := range ancestorIds {
				if visited[ancestorId] {
					continue
				}
				visited[ancestorId] = true
				chainLog := models.AccountabilityLog{
					VoucherID:   childId,
					VoucheeID:   ancestorId,
					ChainID:     chainId,
					ImpactType:  models.ImpactChain,
					ImpactValue: value,
					Description: rootLog.Description,
					OccurredAt:  rootLog.OccurredAt,
				}
				if err := a.db.AddAccountabilityLog(&chainLog, nil, txn); err != nil {
					return nil, err
				}
				created = append(created, chainLog)
				nextFrontier = append(nextFrontier, ancestorId)
			}
		}
		if len(nextFrontier) == 0 {
			break
		}
		frontier = nextFrontier
	}
	return created, nil
}

func (a *Log) publishRecorded(logEntry models.AccountabilityLog) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(
		event.AccountabilityRecordedEventType,
		event.NewEvent(
			event.AccountabilityRecordedEventType,
			event.AccountabilityRecordedEvent{
				LogId:       logEntry.ID,
				VoucherId:   logEntry.VoucherID,
				VoucheeId:   logEntry.VoucheeID,
				ChainId:     logEntry.ChainID,
				ImpactType:  string(logEntry.ImpactType),
				ImpactValue: logEntry.ImpactValue,
				OccurredAt:  logEntry.OccurredAt,
			},
		),
	)
}

// ProcessPending folds unprocessed entries into trust scores, oldest first.
// Safe to run concurrently with itself: the processed flag flips exactly
// once, so an entry claimed by an overlapping run is skipped rather than
// double-counted. Returns the number of entries processed.
func (a *Log) ProcessPending(
	ctx context.Context,
	batchSize int,
) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	pendingLogs, err := a.db.GetUnprocessedLogs(batchSize, nil)
	if err != nil {
		return 0, err
	}
	now := a.timeNow()
	processed := 0
	affected := make(map[string]bool)
	for _, pendingLog := range pendingLogs {
		claimed, err := a.db.MarkLogProcessed(pendingLog.ID, now, nil)
		if err != nil {
			return processed, err
		}
		if !claimed {
			// Another run got here first
			continue
		}
		processed++
		affected[pendingLog.VoucheeID] = true
	}
	for userId := range affected {
		if a.scorer == nil {
			continue
		}
		if _, err := a.scorer.Recompute(ctx, userId); err != nil {
			// The entries stay processed; the score converges on the
			// next recomputation trigger
			a.logger.Warn(
				"trust score recomputation failed",
				"component", "accountability",
				"user_id", userId,
				"error", err,
			)
		}
	}
	if processed > 0 {
		a.logger.Info(
			"processed pending accountability entries",
			"component", "accountability",
			"count", processed,
			"affected_users", len(affected),
		)
	}
	if a.metrics != nil {
		a.metrics.processedTotal.Add(float64(processed))
		if pending, err := a.db.CountUnprocessedLogs(nil); err == nil {
			a.metrics.pendingGauge.Set(float64(pending))
		}
	}
	return processed, nil
}

// Summary aggregates a voucher's accountability entries
type Summary struct {
	VoucherId     string
	PositiveCount int64
	NegativeCount int64
	NeutralCount  int64
	TotalImpact   float64
	PerVouchee    []database.VoucheeImpactRow
	RecentLogs    []models.AccountabilityLog
}

// Summarize builds the impact summary for a voucher. Read-only.
func (a *Log) Summarize(voucherId string) (Summary, error) {
	tmpSummary := Summary{VoucherId: voucherId}
	txn := a.db.Transaction(false)
	err := txn.Do(func(txn *database.Txn) error {
		stats, err := a.db.GetVoucherImpactStats(voucherId, txn)
		if err != nil {
			return err
		}
		tmpSummary.PositiveCount = stats.PositiveCount
		tmpSummary.NegativeCount = stats.NegativeCount
		tmpSummary.NeutralCount = stats.NeutralCount
		tmpSummary.TotalImpact = stats.TotalImpact
		tmpSummary.PerVouchee, err = a.db.GetVoucheeImpactBreakdown(voucherId, txn)
		if err != nil {
			return err
		}
		tmpSummary.RecentLogs, err = a.db.GetLogsByVoucher(
			voucherId,
			summaryRecentLogs,
			txn,
		)
		return err
	})
	if err != nil {
		return Summary{VoucherId: voucherId}, err
	}
	return tmpSummary, nil
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// GetHistory returns a page of a user's accountability entries, newest
// first. Pages are 1-based.
func (a *Log) GetHistory(
	userId string,
	page int,
	limit int,
	impactType *models.AccountabilityImpact,
) ([]models.AccountabilityLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	} else if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return a.db.GetLogHistory(
		userId,
		(page-1)*limit,
		limit,
		impactType,
		nil,
	)
}

type logMetrics struct {
	recordedTotal  *prometheus.CounterVec
	processedTotal prometheus.Counter
	pendingGauge   prometheus.Gauge
}

func (a *Log) initMetrics(promRegistry prometheus.Registerer) {
	a.metrics = &logMetrics{
		recordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_accountability_recorded_total",
				Help: "Total accountability entries recorded by impact type",
			},
			[]string{"impact_type"},
		),
		processedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trustengine_accountability_processed_total",
				Help: "Total accountability entries folded into trust scores",
			},
		),
		pendingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustengine_accountability_pending",
				Help: "Unprocessed accountability entries",
			},
		),
	}
	promRegistry.MustRegister(a.metrics.recordedTotal)
	promRegistry.MustRegister(a.metrics.processedTotal)
	promRegistry.MustRegister(a.metrics.pendingGauge)
}
