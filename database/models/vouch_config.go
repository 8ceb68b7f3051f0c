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

// ErrVouchConfigNotFound is returned when no vouch config is active at the
// requested evaluation time
var ErrVouchConfigNotFound = errors.New("no active vouch config")

// VouchConfig is a versioned policy record. Configs are append-only; the
// active policy at any instant is the one with the latest EffectiveFrom that
// is not in the future.
type VouchConfig struct {
	ID            uint      `gorm:"primarykey"`
	EffectiveFrom time.Time `gorm:"index"`
	CreatedAt     time.Time

	// Outstanding-vouch caps per type, counted against the vouchee
	MaxPrimaryVouches   int
	MaxSecondaryVouches int
	MaxCommunityVouches int

	// Score component weights. These need not sum to 100; scoring
	// normalizes by the weight total.
	PrimaryVouchWeight   float64
	SecondaryVouchWeight float64
	CommunityVouchWeight float64
	TrustMomentsWeight   float64
	ActivityWeight       float64

	// Minimum days between a revocation and a new request for the same
	// ordered pair and type
	CooldownDays int

	// Minimum trust score a voucher must hold to extend any vouch
	MinTrustRequired float64

	// Auto-vouch eligibility thresholds
	AutoVouchMinEvents             int
	AutoVouchMinMemberDays         int
	AutoVouchRequireZeroNegativity bool

	// Cooldown for re-establishing a revoked connection
	ReconnectionCooldownDays int
}

func (VouchConfig) TableName() string {
	return "vouch_config"
}

// WeightTotal returns the sum of all score component weights
func (c *VouchConfig) WeightTotal() float64 {
	return c.PrimaryVouchWeight +
		c.SecondaryVouchWeight +
		c.CommunityVouchWeight +
		c.TrustMomentsWeight +
		c.ActivityWeight
}

// MaxVouches returns the outstanding-vouch cap for the given vouch type
func (c *VouchConfig) MaxVouches(vouchType VouchType) int {
	switch vouchType {
	case VouchTypePrimary:
		return c.MaxPrimaryVouches
	case VouchTypeSecondary:
		return c.MaxSecondaryVouches
	case VouchTypeCommunity:
		return c.MaxCommunityVouches
	default:
		return 0
	}
}

// VouchWeight returns the score weight for the given vouch type
func (c *VouchConfig) VouchWeight(vouchType VouchType) float64 {
	switch vouchType {
	case VouchTypePrimary:
		return c.PrimaryVouchWeight
	case VouchTypeSecondary:
		return c.SecondaryVouchWeight
	case VouchTypeCommunity:
		return c.CommunityVouchWeight
	default:
		return 0
	}
}

// Validate checks field ranges. Weights need not sum to any particular
// total, but caps, weights, and cooldowns must be non-negative.
func (c *VouchConfig) Validate() error {
	if c.MaxPrimaryVouches < 0 ||
		c.MaxSecondaryVouches < 0 ||
		c.MaxCommunityVouches < 0 {
		return errors.New("vouch caps must be non-negative")
	}
	if c.PrimaryVouchWeight < 0 ||
		c.SecondaryVouchWeight < 0 ||
		c.CommunityVouchWeight < 0 ||
		c.TrustMomentsWeight < 0 ||
		c.ActivityWeight < 0 {
		return errors.New("score weights must be non-negative")
	}
	if c.CooldownDays < 0 || c.ReconnectionCooldownDays < 0 {
		return errors.New("cooldowns must be non-negative")
	}
	if c.AutoVouchMinEvents < 0 || c.AutoVouchMinMemberDays < 0 {
		return errors.New("auto-vouch thresholds must be non-negative")
	}
	return nil
}

// DefaultVouchConfig returns the seed policy used when a fresh database has
// no config rows
func DefaultVouchConfig() VouchConfig {
	return VouchConfig{
		EffectiveFrom:                  time.Unix(0, 0).UTC(),
		MaxPrimaryVouches:              1,
		MaxSecondaryVouches:            3,
		MaxCommunityVouches:            5,
		PrimaryVouchWeight:             30,
		SecondaryVouchWeight:           30,
		CommunityVouchWeight:           40,
		TrustMomentsWeight:             30,
		ActivityWeight:                 30,
		CooldownDays:                   30,
		MinTrustRequired:               50,
		AutoVouchMinEvents:             5,
		AutoVouchMinMemberDays:         90,
		AutoVouchRequireZeroNegativity: true,
		ReconnectionCooldownDays:       14,
	}
}
