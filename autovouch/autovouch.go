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

package autovouch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/directory"
)

// Reason identifies a single failed eligibility check
type Reason string

const (
	ReasonSelfVouch            Reason = "SELF_VOUCH"
	ReasonInsufficientTenure   Reason = "INSUFFICIENT_TENURE"
	ReasonInsufficientEvents   Reason = "INSUFFICIENT_EVENTS"
	ReasonNegativeHistory      Reason = "NEGATIVE_HISTORY"
	ReasonExistingRelationship Reason = "EXISTING_RELATIONSHIP"
)

// Eligibility is the advisory result of an auto-vouch check. All failing
// reasons are collected so callers can surface a complete explanation.
type Eligibility struct {
	Eligible bool
	Reasons  []Reason
}

type EvaluatorConfig struct {
	Logger   *slog.Logger
	Database *database.Database
	Users    directory.UserDirectory
	Events   directory.EventAttendance
	// TimeNow overrides the clock, for tests
	TimeNow func() time.Time
}

// Evaluator decides whether a voucher may vouch without a manual
// request/response cycle. Purely advisory; the ledger enforces its own
// invariants regardless.
type Evaluator struct {
	logger  *slog.Logger
	db      *database.Database
	users   directory.UserDirectory
	events  directory.EventAttendance
	timeNow func() time.Time
}

func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Evaluator{
		logger:  logger,
		db:      cfg.Database,
		users:   cfg.Users,
		events:  cfg.Events,
		timeNow: timeNow,
	}
}

// CheckEligibility evaluates the auto-vouch thresholds for the pair without
// side effects
func (e *Evaluator) CheckEligibility(
	ctx context.Context,
	voucherId string,
	voucheeId string,
) (Eligibility, error) {
	result := Eligibility{}
	if voucherId == voucheeId {
		result.Reasons = append(result.Reasons, ReasonSelfVouch)
	}
	now := e.timeNow()
	cfg, err := e.db.GetActiveVouchConfig(now, nil)
	if err != nil {
		return result, err
	}
	voucher, err := e.users.GetUser(ctx, voucherId)
	if err != nil {
		return result, fmt.Errorf("failed to load voucher: %w", err)
	}
	memberDays := int(now.Sub(voucher.CreatedAt).Hours() / 24)
	if memberDays < cfg.AutoVouchMinMemberDays {
		result.Reasons = append(result.Reasons, ReasonInsufficientTenure)
	}
	eventCount, err := e.events.QualifyingEventCount(ctx, voucherId)
	if err != nil {
		return result, fmt.Errorf("failed to load event count: %w", err)
	}
	if eventCount < cfg.AutoVouchMinEvents {
		result.Reasons = append(result.Reasons, ReasonInsufficientEvents)
	}
	if cfg.AutoVouchRequireZeroNegativity {
		negativeCount, err := e.db.CountNegativeLogsByVoucher(voucherId, nil)
		if err != nil {
			return result, err
		}
		if negativeCount > 0 {
			result.Reasons = append(result.Reasons, ReasonNegativeHistory)
		}
	}
	hasOpen, err := e.db.HasOpenVouchBetween(voucherId, voucheeId, nil)
	if err != nil {
		return result, err
	}
	if hasOpen {
		result.Reasons = append(result.Reasons, ReasonExistingRelationship)
	}
	result.Eligible = len(result.Reasons) == 0
	e.logger.Debug(
		"auto-vouch eligibility evaluated",
		"component", "autovouch",
		"voucher_id", voucherId,
		"vouchee_id", voucheeId,
		"eligible", result.Eligible,
		"reasons", len(result.Reasons),
	)
	return result, nil
}
