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

	"github.com/circleworks/trustengine/database/models"
	"gorm.io/gorm"
)

// AddVouchRelationship inserts a new relationship row
func (d *Database) AddVouchRelationship(
	rel *models.VouchRelationship,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Create(rel); result.Error != nil {
		return result.Error
	}
	return nil
}

// UpdateVouchRelationship persists changes to an existing relationship row
func (d *Database) UpdateVouchRelationship(
	rel *models.VouchRelationship,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Save(rel); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetVouchRelationshipById looks up a relationship by primary key
func (d *Database) GetVouchRelationshipById(
	id uint,
	txn *Txn,
) (models.VouchRelationship, error) {
	tmpRel := models.VouchRelationship{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().First(&tmpRel, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpRel, models.ErrRelationshipNotFound
		}
		return tmpRel, result.Error
	}
	return tmpRel, nil
}

// GetOpenVouchRelationship returns the non-terminal relationship for the
// exact (voucher, vouchee, type, community) tuple, if one exists
func (d *Database) GetOpenVouchRelationship(
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
	communityId string,
	txn *Txn,
) (models.VouchRelationship, error) {
	tmpRel := models.VouchRelationship{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Where("voucher_id = ? AND vouchee_id = ? AND type = ? AND community_id = ?",
			voucherId, voucheeId, vouchType, communityId).
		Where("status IN ?", []models.VouchStatus{
			models.VouchStatusPending,
			models.VouchStatusActive,
		}).
		First(&tmpRel)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpRel, models.ErrRelationshipNotFound
		}
		return tmpRel, result.Error
	}
	return tmpRel, nil
}

// CountOutstandingVouches counts PENDING and ACTIVE relationships of the
// given type held by the vouchee. Pending requests count against the cap so
// limits cannot be evaded by stacking requests.
func (d *Database) CountOutstandingVouches(
	voucheeId string,
	vouchType models.VouchType,
	txn *Txn,
) (int64, error) {
	var count int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.VouchRelationship{}).
		Where("vouchee_id = ? AND type = ?", voucheeId, vouchType).
		Where("status IN ?", []models.VouchStatus{
			models.VouchStatusPending,
			models.VouchStatusActive,
		}).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// GetActiveVouchesForVouchee returns all ACTIVE relationships where the user
// is the vouchee
func (d *Database) GetActiveVouchesForVouchee(
	voucheeId string,
	txn *Txn,
) ([]models.VouchRelationship, error) {
	var tmpRels []models.VouchRelationship
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Where("vouchee_id = ? AND status = ?", voucheeId, models.VouchStatusActive).
		Order("id ASC").
		Find(&tmpRels)
	if result.Error != nil {
		return nil, result.Error
	}
	return tmpRels, nil
}

// GetActiveVouchersForVouchee returns the distinct voucher IDs holding an
// ACTIVE vouch over the given vouchee. Used for chain propagation.
func (d *Database) GetActiveVouchersForVouchee(
	voucheeId string,
	txn *Txn,
) ([]string, error) {
	var tmpIds []string
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.VouchRelationship{}).
		Distinct("voucher_id").
		Where("vouchee_id = ? AND status = ?", voucheeId, models.VouchStatusActive).
		Order("voucher_id ASC").
		Pluck("voucher_id", &tmpIds)
	if result.Error != nil {
		return nil, result.Error
	}
	return tmpIds, nil
}

// HasActiveVouch returns true if any ACTIVE relationship of any type exists
// from voucher to vouchee
func (d *Database) HasActiveVouch(
	voucherId string,
	voucheeId string,
	txn *Txn,
) (bool, error) {
	var count int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.VouchRelationship{}).
		Where("voucher_id = ? AND vouchee_id = ? AND status = ?",
			voucherId, voucheeId, models.VouchStatusActive).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// HasOpenVouchBetween returns true if any non-terminal relationship of any
// type links the ordered pair
func (d *Database) HasOpenVouchBetween(
	voucherId string,
	voucheeId string,
	txn *Txn,
) (bool, error) {
	var count int64
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Model(&models.VouchRelationship{}).
		Where("voucher_id = ? AND vouchee_id = ?", voucherId, voucheeId).
		Where("status IN ?", []models.VouchStatus{
			models.VouchStatusPending,
			models.VouchStatusActive,
		}).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// TransitionVouchStatus atomically moves a relationship from one status to
// another. Returns false when the row was not in the expected status, which
// callers surface as an invalid-state error. Extra column updates (responded
// or revoked timestamps) are applied in the same statement.
func (d *Database) TransitionVouchStatus(
	id uint,
	fromStatus models.VouchStatus,
	toStatus models.VouchStatus,
	updates map[string]any,
	txn *Txn,
) (bool, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = toStatus
	result := txn.Metadata().
		Model(&models.VouchRelationship{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetLatestRevokedVouch returns the most recently revoked relationship for
// the ordered pair and type, for cooldown checks
func (d *Database) GetLatestRevokedVouch(
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
	txn *Txn,
) (models.VouchRelationship, error) {
	tmpRel := models.VouchRelationship{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Where("voucher_id = ? AND vouchee_id = ? AND type = ? AND status = ?",
			voucherId, voucheeId, vouchType, models.VouchStatusRevoked).
		Order("revoked_at DESC").
		Order("id DESC").
		First(&tmpRel)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpRel, models.ErrRelationshipNotFound
		}
		return tmpRel, result.Error
	}
	return tmpRel, nil
}
