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

	"github.com/circleworks/trustengine/database/models"
	"gorm.io/gorm"
)

// AddVouchConfig appends a new policy version. Configs are never updated in
// place.
func (d *Database) AddVouchConfig(
	cfg *models.VouchConfig,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Create(cfg); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetActiveVouchConfig returns the policy with the latest EffectiveFrom not
// after the given evaluation time
func (d *Database) GetActiveVouchConfig(
	point time.Time,
	txn *Txn,
) (models.VouchConfig, error) {
	tmpConfig := models.VouchConfig{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	result := txn.Metadata().
		Where("effective_from <= ?", point).
		Order("effective_from DESC").
		Order("id DESC").
		First(&tmpConfig)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpConfig, models.ErrVouchConfigNotFound
		}
		return tmpConfig, result.Error
	}
	return tmpConfig, nil
}
