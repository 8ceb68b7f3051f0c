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

package models_test

import (
	"testing"

	"github.com/circleworks/trustengine/database/models"
	"github.com/stretchr/testify/assert"
)

func TestVouchTypeValid(t *testing.T) {
	assert.True(t, models.VouchTypePrimary.Valid())
	assert.True(t, models.VouchTypeSecondary.Valid())
	assert.True(t, models.VouchTypeCommunity.Valid())
	assert.False(t, models.VouchType("BOGUS").Valid())
	assert.False(t, models.VouchType("").Valid())
}

func TestVouchStatusTerminal(t *testing.T) {
	assert.False(t, models.VouchStatusPending.Terminal())
	assert.False(t, models.VouchStatusActive.Terminal())
	assert.True(t, models.VouchStatusRevoked.Terminal())
	assert.True(t, models.VouchStatusDeclined.Terminal())
}

func TestAccountabilityImpactValid(t *testing.T) {
	assert.True(t, models.ImpactEndorsement.Valid())
	assert.True(t, models.ImpactChain.Valid())
	assert.False(t, models.AccountabilityImpact("BOGUS").Valid())
}

func TestAccountabilityLogSign(t *testing.T) {
	positive := models.AccountabilityLog{ImpactValue: 3}
	negative := models.AccountabilityLog{ImpactValue: -3}
	neutral := models.AccountabilityLog{}
	assert.Equal(t, 1, positive.Sign())
	assert.Equal(t, -1, negative.Sign())
	assert.Equal(t, 0, neutral.Sign())
}

func TestCanonicalPair(t *testing.T) {
	a, b := models.CanonicalPair("bob", "alice")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)
	a, b = models.CanonicalPair("alice", "bob")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)
}

func TestVouchConfigHelpers(t *testing.T) {
	cfg := models.DefaultVouchConfig()
	assert.InDelta(t, 160.0, cfg.WeightTotal(), 0.0001)
	assert.Equal(t, 1, cfg.MaxVouches(models.VouchTypePrimary))
	assert.Equal(t, 3, cfg.MaxVouches(models.VouchTypeSecondary))
	assert.Equal(t, 5, cfg.MaxVouches(models.VouchTypeCommunity))
	assert.Equal(t, 0, cfg.MaxVouches(models.VouchType("BOGUS")))
	assert.InDelta(t, 30.0, cfg.VouchWeight(models.VouchTypePrimary), 0.0001)
	assert.InDelta(t, 40.0, cfg.VouchWeight(models.VouchTypeCommunity), 0.0001)
}

func TestVouchConfigValidate(t *testing.T) {
	cfg := models.DefaultVouchConfig()
	assert.NoError(t, cfg.Validate())

	bad := models.DefaultVouchConfig()
	bad.MaxPrimaryVouches = -1
	assert.Error(t, bad.Validate())

	bad = models.DefaultVouchConfig()
	bad.ActivityWeight = -5
	assert.Error(t, bad.Validate())

	bad = models.DefaultVouchConfig()
	bad.ReconnectionCooldownDays = -1
	assert.Error(t, bad.Validate())

	bad = models.DefaultVouchConfig()
	bad.AutoVouchMinEvents = -1
	assert.Error(t, bad.Validate())
}
