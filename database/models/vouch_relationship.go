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

package models

import (
	"errors"
	"time"
)

var ErrRelationshipNotFound = errors.New("vouch relationship not found")

type VouchType string

const (
	VouchTypePrimary   VouchType = "PRIMARY"
	VouchTypeSecondary VouchType = "SECONDARY"
	VouchTypeCommunity VouchType = "COMMUNITY"
)

// Valid returns true if the VouchType is a known type
func (t VouchType) Valid() bool {
	switch t {
	case VouchTypePrimary, VouchTypeSecondary, VouchTypeCommunity:
		return true
	default:
		return false
	}
}

type VouchStatus string

const (
	VouchStatusPending  VouchStatus = "PENDING"
	VouchStatusActive   VouchStatus = "ACTIVE"
	VouchStatusRevoked  VouchStatus = "REVOKED"
	VouchStatusDeclined VouchStatus = "DECLINED"
)

// Terminal returns true for statuses that end a relationship. Terminal
// relationships never transition again; a new request creates a new row.
func (s VouchStatus) Terminal() bool {
	return s == VouchStatusRevoked || s == VouchStatusDeclined
}

// VouchRelationship is a directed trust assertion from voucher to vouchee.
// At most one non-terminal row may exist per (voucher, vouchee, type,
// community) tuple; the ledger serializes inserts to maintain this along
// with the per-vouchee count caps.
type VouchRelationship struct {
	ID          uint        `gorm:"primarykey"`
	VoucherID   string      `gorm:"index;size:64"`
	VoucheeID   string      `gorm:"index:idx_vouchee_type;size:64"`
	Type        VouchType   `gorm:"index:idx_vouchee_type;size:16"`
	CommunityID string      `gorm:"size:64"`
	Status      VouchStatus `gorm:"index;size:16"`
	RequestedAt time.Time
	RespondedAt *time.Time
	RevokedAt   *time.Time
}

func (VouchRelationship) TableName() string {
	return "vouch_relationship"
}
