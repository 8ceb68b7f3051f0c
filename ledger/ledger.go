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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/directory"
	"github.com/circleworks/trustengine/event"
	"github.com/circleworks/trustengine/internal/keymutex"
	"github.com/prometheus/client_golang/prometheus"
)

// Recomputer triggers trust score recomputation for a user. Implemented by
// scoring.Calculator.
type Recomputer interface {
	Recompute(ctx context.Context, userId string) (float64, error)
}

type VouchLedgerConfig struct {
	Logger       *slog.Logger
	Database     *database.Database
	EventBus     *event.EventBus
	Users        directory.UserDirectory
	Communities  directory.Communities
	Scorer       Recomputer
	PromRegistry prometheus.Registerer
	// TimeNow overrides the clock, for tests
	TimeNow func() time.Time
}

// VouchLedger owns the vouch relationship records and enforces per-type
// caps, cooldowns, and lifecycle transitions
type VouchLedger struct {
	logger      *slog.Logger
	db          *database.Database
	eventBus    *event.EventBus
	users       directory.UserDirectory
	communities directory.Communities
	scorer      Recomputer
	timeNow     func() time.Time
	// vouchLocks serializes the limit-check-then-insert per
	// (vouchee, type) key. Requests for different vouchees or types never
	// contend.
	vouchLocks *keymutex.KeyMutex
	metrics    *ledgerMetrics
}

func NewVouchLedger(cfg VouchLedgerConfig) *VouchLedger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	l := &VouchLedger{
		logger:      logger,
		db:          cfg.Database,
		eventBus:    cfg.EventBus,
		users:       cfg.Users,
		communities: cfg.Communities,
		scorer:      cfg.Scorer,
		timeNow:     timeNow,
		vouchLocks:  keymutex.New(),
	}
	if cfg.PromRegistry != nil {
		l.initMetrics(cfg.PromRegistry)
	}
	return l
}

func vouchLockKey(voucheeId string, vouchType models.VouchType) string {
	return voucheeId + "|" + string(vouchType)
}

// RequestVouch creates a new vouch relationship. Community vouches are
// moderator-authorized and activate immediately; other types start PENDING
// and await the vouchee's response.
func (l *VouchLedger) RequestVouch(
	ctx context.Context,
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
	communityId string,
) (models.VouchRelationship, error) {
	initialStatus := models.VouchStatusPending
	if vouchType == models.VouchTypeCommunity {
		initialStatus = models.VouchStatusActive
	}
	return l.createVouch(
		ctx,
		voucherId,
		voucheeId,
		vouchType,
		communityId,
		initialStatus,
		false,
	)
}

// GrantAutoVouch creates an immediately ACTIVE relationship without a manual
// response. Callers are expected to have consulted the auto-vouch evaluator
// first; the ledger still enforces all of its own invariants.
func (l *VouchLedger) GrantAutoVouch(
	ctx context.Context,
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
) (models.VouchRelationship, error) {
	return l.createVouch(
		ctx,
		voucherId,
		voucheeId,
		vouchType,
		"",
		models.VouchStatusActive,
		true,
	)
}

func (l *VouchLedger) createVouch(
	ctx context.Context,
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
	communityId string,
	initialStatus models.VouchStatus,
	autoVouch bool,
) (models.VouchRelationship, error) {
	tmpRel := models.VouchRelationship{}
	if !vouchType.Valid() {
		return tmpRel, fmt.Errorf("%w: %q", ErrInvalidVouchType, vouchType)
	}
	if voucherId == voucheeId {
		return tmpRel, ErrSelfVouch
	}
	if vouchType == models.VouchTypeCommunity {
		if communityId == "" {
			return tmpRel, ErrCommunityRequired
		}
	} else {
		communityId = ""
	}
	now := l.timeNow()
	cfg, err := l.db.GetActiveVouchConfig(now, nil)
	if err != nil {
		return tmpRel, err
	}
	// The voucher must hold enough trust to extend any vouch
	voucher, err := l.users.GetUser(ctx, voucherId)
	if err != nil {
		return tmpRel, fmt.Errorf("failed to load voucher: %w", err)
	}
	if voucher.TrustScore < cfg.MinTrustRequired {
		return tmpRel, ErrInsufficientTrust
	}
	// Community vouches require moderator authorization
	if vouchType == models.VouchTypeCommunity {
		isMod, err := l.communities.IsModerator(ctx, voucherId, communityId)
		if err != nil {
			return tmpRel, fmt.Errorf("failed to check moderator status: %w", err)
		}
		if !isMod {
			return tmpRel, ErrForbidden
		}
	}
	// Cooldown after a prior revocation for the same ordered pair and type
	lastRevoked, err := l.db.GetLatestRevokedVouch(
		voucherId,
		voucheeId,
		vouchType,
		nil,
	)
	if err == nil && lastRevoked.RevokedAt != nil {
		availableAt := lastRevoked.RevokedAt.AddDate(0, 0, cfg.CooldownDays)
		if now.Before(availableAt) {
			return tmpRel, &CooldownError{AvailableAt: availableAt}
		}
	} else if err != nil && !errors.Is(err, models.ErrRelationshipNotFound) {
		return tmpRel, err
	}
	// The count check and insert must be one atomic unit per (vouchee, type)
	// key, or two concurrent requests can both observe count < max
	lockKey := vouchLockKey(voucheeId, vouchType)
	l.vouchLocks.Lock(lockKey)
	defer l.vouchLocks.Unlock(lockKey)
	newRel := models.VouchRelationship{
		VoucherID:   voucherId,
		VoucheeID:   voucheeId,
		Type:        vouchType,
		CommunityID: communityId,
		Status:      initialStatus,
		RequestedAt: now,
	}
	if initialStatus == models.VouchStatusActive {
		respondedAt := now
		newRel.RespondedAt = &respondedAt
	}
	err = database.Retry(func() error {
		txn := l.db.Transaction(true)
		return txn.Do(func(txn *database.Txn) error {
			count, err := l.db.CountOutstandingVouches(voucheeId, vouchType, txn)
			if err != nil {
				return err
			}
			if count >= int64(cfg.MaxVouches(vouchType)) {
				return ErrLimitExceeded
			}
			_, err = l.db.GetOpenVouchRelationship(
				voucherId,
				voucheeId,
				vouchType,
				communityId,
				txn,
			)
			if err == nil {
				return ErrDuplicateVouch
			}
			if !errors.Is(err, models.ErrRelationshipNotFound) {
				return err
			}
			newRel.ID = 0
			return l.db.AddVouchRelationship(&newRel, txn)
		})
	})
	if err != nil {
		l.observeOp("request", err)
		return tmpRel, err
	}
	l.observeOp("request", nil)
	l.logger.Info(
		"vouch relationship created",
		"component", "ledger",
		"relationship_id", newRel.ID,
		"voucher_id", voucherId,
		"vouchee_id", voucheeId,
		"type", vouchType,
		"status", newRel.Status,
	)
	evtType := event.VouchRequestedEventType
	if newRel.Status == models.VouchStatusActive {
		evtType = event.VouchAcceptedEventType
	}
	l.publishVouchEvent(evtType, newRel, autoVouch)
	if newRel.Status == models.VouchStatusActive {
		l.triggerRecompute(ctx, voucheeId)
	}
	return newRel, nil
}

// RespondToVouch accepts or declines a pending vouch request. Only the
// vouchee may respond.
func (l *VouchLedger) RespondToVouch(
	ctx context.Context,
	relationshipId uint,
	responderId string,
	accept bool,
) (models.VouchRelationship, error) {
	tmpRel, err := l.db.GetVouchRelationshipById(relationshipId, nil)
	if err != nil {
		return tmpRel, err
	}
	if tmpRel.VoucheeID != responderId {
		return tmpRel, ErrForbidden
	}
	if tmpRel.Status != models.VouchStatusPending {
		return tmpRel, ErrInvalidState
	}
	now := l.timeNow()
	toStatus := models.VouchStatusDeclined
	if accept {
		toStatus = models.VouchStatusActive
	}
	err = database.Retry(func() error {
		txn := l.db.Transaction(true)
		return txn.Do(func(txn *database.Txn) error {
			transitioned, err := l.db.TransitionVouchStatus(
				relationshipId,
				models.VouchStatusPending,
				toStatus,
				map[string]any{"responded_at": now},
				txn,
			)
			if err != nil {
				return err
			}
			if !transitioned {
				// Lost a race with another responder or a revocation
				return ErrInvalidState
			}
			return nil
		})
	})
	if err != nil {
		l.observeOp("respond", err)
		return tmpRel, err
	}
	l.observeOp("respond", nil)
	tmpRel.Status = toStatus
	tmpRel.RespondedAt = &now
	l.logger.Info(
		"vouch request answered",
		"component", "ledger",
		"relationship_id", relationshipId,
		"accepted", accept,
	)
	if accept {
		l.publishVouchEvent(event.VouchAcceptedEventType, tmpRel, false)
		l.triggerRecompute(ctx, tmpRel.VoucheeID)
	} else {
		l.publishVouchEvent(event.VouchDeclinedEventType, tmpRel, false)
	}
	return tmpRel, nil
}

// RevokeVouch ends an ACTIVE relationship. Either party may revoke.
func (l *VouchLedger) RevokeVouch(
	ctx context.Context,
	relationshipId uint,
	requesterId string,
) (models.VouchRelationship, error) {
	tmpRel, err := l.db.GetVouchRelationshipById(relationshipId, nil)
	if err != nil {
		return tmpRel, err
	}
	if tmpRel.VoucherID != requesterId && tmpRel.VoucheeID != requesterId {
		return tmpRel, ErrForbidden
	}
	if tmpRel.Status != models.VouchStatusActive {
		return tmpRel, ErrInvalidState
	}
	now := l.timeNow()
	err = database.Retry(func() error {
		txn := l.db.Transaction(true)
		return txn.Do(func(txn *database.Txn) error {
			transitioned, err := l.db.TransitionVouchStatus(
				relationshipId,
				models.VouchStatusActive,
				models.VouchStatusRevoked,
				map[string]any{"revoked_at": now},
				txn,
			)
			if err != nil {
				return err
			}
			if !transitioned {
				return ErrInvalidState
			}
			return nil
		})
	})
	if err != nil {
		l.observeOp("revoke", err)
		return tmpRel, err
	}
	l.observeOp("revoke", nil)
	tmpRel.Status = models.VouchStatusRevoked
	tmpRel.RevokedAt = &now
	l.logger.Info(
		"vouch relationship revoked",
		"component", "ledger",
		"relationship_id", relationshipId,
		"requester_id", requesterId,
	)
	l.publishVouchEvent(event.VouchRevokedEventType, tmpRel, false)
	// The vouchee loses a weighted contribution
	l.triggerRecompute(ctx, tmpRel.VoucheeID)
	return tmpRel, nil
}

// GetRelationship looks up a relationship by ID
func (l *VouchLedger) GetRelationship(
	relationshipId uint,
) (models.VouchRelationship, error) {
	return l.db.GetVouchRelationshipById(relationshipId, nil)
}

func (l *VouchLedger) publishVouchEvent(
	evtType event.EventType,
	rel models.VouchRelationship,
	autoVouch bool,
) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Publish(
		evtType,
		event.NewEvent(
			evtType,
			event.VouchEvent{
				RelationshipId: rel.ID,
				VoucherId:      rel.VoucherID,
				VoucheeId:      rel.VoucheeID,
				Type:           string(rel.Type),
				CommunityId:    rel.CommunityID,
				AutoVouch:      autoVouch,
			},
		),
	)
}

// triggerRecompute requests a trust score recomputation. Failures are logged
// rather than surfaced; the score converges on the next trigger or pending
// log processing run.
func (l *VouchLedger) triggerRecompute(ctx context.Context, userId string) {
	if l.scorer == nil {
		return
	}
	if _, err := l.scorer.Recompute(ctx, userId); err != nil {
		l.logger.Warn(
			"trust score recomputation failed",
			"component", "ledger",
			"user_id", userId,
			"error", err,
		)
	}
}

func (l *VouchLedger) observeOp(op string, err error) {
	if l.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	l.metrics.operationsTotal.WithLabelValues(op, result).Inc()
}

type ledgerMetrics struct {
	operationsTotal *prometheus.CounterVec
}

func (l *VouchLedger) initMetrics(promRegistry prometheus.Registerer) {
	l.metrics = &ledgerMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustengine_vouch_operations_total",
				Help: "Total vouch ledger operations by result",
			},
			[]string{"operation", "result"},
		),
	}
	promRegistry.MustRegister(l.metrics.operationsTotal)
}
