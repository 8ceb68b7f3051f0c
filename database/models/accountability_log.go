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
	"time"
)

// AccountabilityImpact classifies the behavioral event behind a log entry.
// The sign of the score effect comes from ImpactValue, not the type.
type AccountabilityImpact string

const (
	ImpactEndorsement     AccountabilityImpact = "ENDORSEMENT"
	ImpactEventNoShow     AccountabilityImpact = "EVENT_NO_SHOW"
	ImpactDisputeResolved AccountabilityImpact = "DISPUTE_RESOLVED"
	ImpactCommunityFlag   AccountabilityImpact = "COMMUNITY_FLAG"
	ImpactChain           AccountabilityImpact = "CHAIN"
)

// Valid returns true if the AccountabilityImpact is a known type
func (i AccountabilityImpact) Valid() bool {
	switch i {
	case ImpactEndorsement, ImpactEventNoShow, ImpactDisputeResolved,
		ImpactCommunityFlag, ImpactChain:
		return true
	default:
		return false
	}
}

// AccountabilityLog is an append-only record of a behavioral event attributed
// to a vouched relationship. Rows are never updated except for the single
// IsProcessed flip when the entry is folded into a trust score. ChainID links
// entries propagated up the vouch graph from a single originating event; it
// is empty for direct events. Free-form metadata payloads live in the blob
// store keyed by log ID.
type AccountabilityLog struct {
	ID                uint                 `gorm:"primarykey"`
	VoucherID         string               `gorm:"index;size:64"`
	VoucheeID         string               `gorm:"index:idx_vouchee_processed;size:64"`
	ChainID           string               `gorm:"index;size:64"`
	ImpactType        AccountabilityImpact `gorm:"index;size:32"`
	ImpactValue       float64
	Description       string
	RelatedEntityType string    `gorm:"size:32"`
	RelatedEntityID   string    `gorm:"size:64"`
	OccurredAt        time.Time `gorm:"index"`
	ProcessedAt       *time.Time
	IsProcessed       bool `gorm:"index:idx_vouchee_processed"`
}

func (AccountabilityLog) TableName() string {
	return "accountability_log"
}

// Sign returns 1, -1, or 0 for positive, negative, and neutral entries
func (l *AccountabilityLog) Sign() int {
	switch {
	case l.ImpactValue > 0:
		return 1
	case l.ImpactValue < 0:
		return -1
	default:
		return 0
	}
}
