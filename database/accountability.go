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
	"time"

	"github.com/circleworks/trustengine/database/blob"
	"github.com/circleworks/trustengine/database/models"
)

// AddAccountabilityLog appends a log entry and stores its metadata payload
// (when present) in the blob store under the new row's ID
func (d *Database) AddAccountabilityLog(
	logEntry *models.AccountabilityLog,
	metadataPayload []byte,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Create(logEntry); result.Error != nil {
		return result.Error
	}
	if len(metadataPayload) > 0 {
		if err := d.blob.SetMetadata(txn.Blob(), logEntry.ID, metadataPayload); err != nil {
			return err
		}
	}
	return nil
}

// GetAccountabilityLogMetadata retrieves the raw metadata payload for a log
// entry, or nil when the entry has none
func (d *Database) GetAccountabilityLogMetadata(
	logId uint,
	txn *Txn,
) ([]byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	payload, err := d.blob.GetMetadata(txn.Blob(), logId)
	if err != nil {
		if errors.Is(err, blob.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

// GetUnprocessedLogs returns up to limit unprocessed entries, oldest first
// for deterministic replay
func (d *Database) GetUnprocessedLogs(
	limit int,
	txn *Txn,
) ([]models.AccountabilityLog, error) {
	var tmpLogs []models.AccountabilityLog
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	query := txn.Metadata().
		Where("is_processed = ?", false).
		Order("occurred_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&tmpLogs)
	if result.Error != nil {
		return nil, result.Error
	}
	return tmpLogs, nil
}

// MarkLogProcessed flips the IsProcessed flag exactly once. Returns false
// when the entry was already processed, which callers treat as a no-op.
func (d *Database) MarkLogProcessed(
	logId uint,
	point time.Time,
	txn *Txn,
) (bool, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Where("id = ? AND is_processed = ?", logId, false).
		Updates(map[string]any{
			"is_processed": true,
			"processed_at": point,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumProcessedImpact totals the processed impact values recorded against the
// user as vouchee. This is the trust-moments input to scoring.
func (d *Database) SumProcessedImpact(
	voucheeId string,
	txn *Txn,
) (float64, error) {
	var total float64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Where("vouchee_id = ? AND is_processed = ?", voucheeId, true).
		Select("COALESCE(SUM(impact_value), 0)").
		Scan(&total)
	if result.Error != nil {
		return 0, result.Error
	}
	return total, nil
}

// CountNegativeLogsByVoucher counts negative-impact entries recorded with the
// user as voucher, processed or not. Used by auto-vouch eligibility.
func (d *Database) CountNegativeLogsByVoucher(
	voucherId string,
	txn *Txn,
) (int64, error) {
	var count int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Where("voucher_id = ? AND impact_value < 0", voucherId).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// GetLogsByVoucher returns the most recent entries recorded with the user as
// voucher
func (d *Database) GetLogsByVoucher(
	voucherId string,
	limit int,
	txn *Txn,
) ([]models.AccountabilityLog, error) {
	var tmpLogs []models.AccountabilityLog
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	query := txn.Metadata().
		Where("voucher_id = ?", voucherId).
		Order("occurred_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&tmpLogs)
	if result.Error != nil {
		return nil, result.Error
	}
	return tmpLogs, nil
}

// CountUnprocessedLogs returns the number of entries awaiting processing
func (d *Database) CountUnprocessedLogs(
	txn *Txn,
) (int64, error) {
	var count int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Where("is_processed = ?", false).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// ImpactStats aggregates a voucher's accountability entries by impact sign
type ImpactStats struct {
	PositiveCount int64
	NegativeCount int64
	NeutralCount  int64
	TotalImpact   float64
}

// GetVoucherImpactStats computes sign counts and total impact for entries
// recorded with the user as voucher
func (d *Database) GetVoucherImpactStats(
	voucherId string,
	txn *Txn,
) (ImpactStats, error) {
	tmpStats := ImpactStats{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Select(
			"COALESCE(SUM(CASE WHEN impact_value > 0 THEN 1 ELSE 0 END), 0) AS positive_count, "+
				"COALESCE(SUM(CASE WHEN impact_value < 0 THEN 1 ELSE 0 END), 0) AS negative_count, "+
				"COALESCE(SUM(CASE WHEN impact_value = 0 THEN 1 ELSE 0 END), 0) AS neutral_count, "+
				"COALESCE(SUM(impact_value), 0) AS total_impact",
		).
		Where("voucher_id = ?", voucherId).
		Scan(&tmpStats)
	if result.Error != nil {
		return tmpStats, result.Error
	}
	return tmpStats, nil
}

// VoucheeImpactRow is one row of the per-vouchee breakdown in an
// accountability summary
type VoucheeImpactRow struct {
	VoucheeID   string
	EntryCount  int64
	TotalImpact float64
}

// GetVoucheeImpactBreakdown aggregates entries per vouchee for the given
// voucher
func (d *Database) GetVoucheeImpactBreakdown(
	voucherId string,
	txn *Txn,
) ([]VoucheeImpactRow, error) {
	var tmpRows []VoucheeImpactRow
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Select("vouchee_id, COUNT(*) AS entry_count, COALESCE(SUM(impact_value), 0) AS total_impact").
		Where("voucher_id = ?", voucherId).
		Group("vouchee_id").
		Order("vouchee_id ASC").
		Scan(&tmpRows)
	if result.Error != nil {
		return nil, result.Error
	}
	return tmpRows, nil
}

// GetLogHistory returns a page of entries recorded against the user as
// vouchee, newest first, optionally filtered by impact type. Also returns
// the total row count for the filter.
func (d *Database) GetLogHistory(
	voucheeId string,
	offset int,
	limit int,
	impactType *models.AccountabilityImpact,
	txn *Txn,
) ([]models.AccountabilityLog, int64, error) {
	var tmpLogs []models.AccountabilityLog
	var total int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	query := txn.Metadata().
		Model(&models.AccountabilityLog{}).
		Where("vouchee_id = ?", voucheeId)
	if impactType != nil {
		query = query.Where("impact_type = ?", *impactType)
	}
	if result := query.Count(&total); result.Error != nil {
		return nil, 0, result.Error
	}
	result := query.
		Order("occurred_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&tmpLogs)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return tmpLogs, total, nil
}
