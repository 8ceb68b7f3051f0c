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

// AddConnection inserts a connection row. Callers must pass the pair in
// canonical order (see models.CanonicalPair).
func (d *Database) AddConnection(
	conn *models.Connection,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Create(conn); result.Error != nil {
		return result.Error
	}
	return nil
}

// UpdateConnection persists changes to an existing connection row
func (d *Database) UpdateConnection(
	conn *models.Connection,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Commit() //nolint:errcheck
	}
	if result := txn.Metadata().Save(conn); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetActiveConnection returns the ACTIVE connection between the unordered
// pair, if one exists
func (d *Database) GetActiveConnection(
	userA string,
	userB string,
	txn *Txn,
) (models.Connection, error) {
	tmpConn := models.Connection{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	a, b := models.CanonicalPair(userA, userB)
	result := txn.Metadata().
		Where("user_a_id = ? AND user_b_id = ? AND status = ?",
			a, b, models.ConnectionStatusActive).
		First(&tmpConn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpConn, models.ErrConnectionNotFound
		}
		return tmpConn, result.Error
	}
	return tmpConn, nil
}

// GetLatestRevokedConnection returns the most recently revoked connection
// between the unordered pair, for reconnection cooldown checks
func (d *Database) GetLatestRevokedConnection(
	userA string,
	userB string,
	txn *Txn,
) (models.Connection, error) {
	tmpConn := models.Connection{}
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Commit() //nolint:errcheck
	}
	a, b := models.CanonicalPair(userA, userB)
	result := txn.Metadata().
		Where("user_a_id = ? AND user_b_id = ? AND status = ?",
			a, b, models.ConnectionStatusRevoked).
		Order("revoked_at DESC").
		Order("id DESC").
		First(&tmpConn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tmpConn, models.ErrConnectionNotFound
		}
		return tmpConn, result.Error
	}
	return tmpConn, nil
}
