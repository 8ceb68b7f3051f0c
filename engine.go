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

package trustengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/circleworks/trustengine/accountability"
	"github.com/circleworks/trustengine/autovouch"
	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/event"
	"github.com/circleworks/trustengine/ledger"
	"github.com/circleworks/trustengine/reconnect"
	"github.com/circleworks/trustengine/scoring"
)

// ErrNotEligible is returned by AutoVouch when the evaluator rejects the
// pair
var ErrNotEligible = errors.New("pair not eligible for auto-vouch")

// Engine wires the trust and vouching components over shared storage and
// event bus
type Engine struct {
	config         Config
	db             *database.Database
	eventBus       *event.EventBus
	vouchLedger    *ledger.VouchLedger
	accountability *accountability.Log
	calculator     *scoring.Calculator
	evaluator      *autovouch.Evaluator
	gatekeeper     *reconnect.Gatekeeper
	shutdownFuncs  []func(context.Context) error
	done           chan struct{}
	shutdownOnce   sync.Once
}

func New(cfg Config) (*Engine, error) {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.users == nil {
		return nil, errors.New("no user directory configured")
	}
	if cfg.activity == nil {
		return nil, errors.New("no activity source configured")
	}
	if cfg.events == nil {
		return nil, errors.New("no event attendance provider configured")
	}
	if cfg.communities == nil {
		return nil, errors.New("no community membership provider configured")
	}
	e := &Engine{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	db, err := database.New(&database.Config{
		DataDir:      cfg.dataDir,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	if cfg.seedDefaultConfig {
		if err := e.seedDefaultConfig(); err != nil {
			return nil, err
		}
	}
	e.calculator = scoring.NewCalculator(scoring.CalculatorConfig{
		Logger:       cfg.logger,
		Database:     db,
		EventBus:     e.eventBus,
		Users:        cfg.users,
		Activity:     cfg.activity,
		PromRegistry: cfg.promRegistry,
	})
	e.vouchLedger = ledger.NewVouchLedger(ledger.VouchLedgerConfig{
		Logger:       cfg.logger,
		Database:     db,
		EventBus:     e.eventBus,
		Users:        cfg.users,
		Communities:  cfg.communities,
		Scorer:       e.calculator,
		PromRegistry: cfg.promRegistry,
	})
	e.accountability = accountability.NewLog(accountability.LogConfig{
		Logger:       cfg.logger,
		Database:     db,
		EventBus:     e.eventBus,
		Scorer:       e.calculator,
		PromRegistry: cfg.promRegistry,
	})
	e.evaluator = autovouch.NewEvaluator(autovouch.EvaluatorConfig{
		Logger:   cfg.logger,
		Database: db,
		Users:    cfg.users,
		Events:   cfg.events,
	})
	e.gatekeeper = reconnect.NewGatekeeper(reconnect.GatekeeperConfig{
		Logger:   cfg.logger,
		Database: db,
	})
	e.subscribeNotifier()
	return e, nil
}

// seedDefaultConfig inserts the default policy on a fresh database
func (e *Engine) seedDefaultConfig() error {
	_, err := e.db.GetActiveVouchConfig(time.Now(), nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrVouchConfigNotFound) {
		return err
	}
	seedCfg := models.DefaultVouchConfig()
	if err := e.db.AddVouchConfig(&seedCfg, nil); err != nil {
		return fmt.Errorf("failed to seed default vouch config: %w", err)
	}
	e.config.logger.Info(
		"seeded default vouch config",
		"component", "engine",
	)
	return nil
}

// subscribeNotifier forwards vouch state changes to the external
// notification dispatcher. Delivery is best-effort; errors are logged and
// dropped.
func (e *Engine) subscribeNotifier() {
	notify := func(userId string, eventKind string, payload any) {
		ctx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		err := e.config.notifier.Notify(ctx, userId, eventKind, payload)
		if err != nil {
			e.config.logger.Warn(
				"notification delivery failed",
				"component", "engine",
				"user_id", userId,
				"event_kind", eventKind,
				"error", err,
			)
		}
	}
	e.eventBus.SubscribeFunc(
		event.VouchRequestedEventType,
		func(evt event.Event) {
			if data, ok := evt.Data.(event.VouchEvent); ok {
				notify(data.VoucheeId, string(evt.Type), data)
			}
		},
	)
	for _, evtType := range []event.EventType{
		event.VouchAcceptedEventType,
		event.VouchDeclinedEventType,
	} {
		e.eventBus.SubscribeFunc(
			evtType,
			func(evt event.Event) {
				if data, ok := evt.Data.(event.VouchEvent); ok {
					notify(data.VoucherId, string(evt.Type), data)
				}
			},
		)
	}
	e.eventBus.SubscribeFunc(
		event.VouchRevokedEventType,
		func(evt event.Event) {
			if data, ok := evt.Data.(event.VouchEvent); ok {
				notify(data.VoucherId, string(evt.Type), data)
				notify(data.VoucheeId, string(evt.Type), data)
			}
		},
	)
}

// Run starts the periodic accountability processor and blocks until Stop is
// called
func (e *Engine) Run() error {
	if e.config.tracing {
		if err := e.setupTracing(); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(e.config.processingInterval)
	defer ticker.Stop()
	e.config.logger.Info(
		"trust engine running",
		"component", "engine",
		"processing_interval", e.config.processingInterval.String(),
	)
	for {
		select {
		case <-e.done:
			return nil
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(
				context.Background(),
				e.config.processingInterval,
			)
			_, err := e.accountability.ProcessPending(
				ctx,
				e.config.processingBatchSize,
			)
			cancel()
			if err != nil {
				e.config.logger.Error(
					"pending accountability processing failed",
					"component", "engine",
					"error", err,
				)
			}
		}
	}
}

// Stop shuts the engine down gracefully
func (e *Engine) Stop() error {
	var err error
	e.shutdownOnce.Do(func() {
		close(e.done)
		ctx, cancel := context.WithTimeout(
			context.Background(),
			e.config.shutdownTimeout,
		)
		defer cancel()
		for _, fn := range e.shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		e.eventBus.Stop()
		err = errors.Join(err, e.db.Close())
	})
	return err
}

// Database returns the underlying database instance
func (e *Engine) Database() *database.Database {
	return e.db
}

// EventBus returns the engine's event bus
func (e *Engine) EventBus() *event.EventBus {
	return e.eventBus
}

// RequestVouch creates a vouch request from voucher to vouchee
func (e *Engine) RequestVouch(
	ctx context.Context,
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
	communityId string,
) (models.VouchRelationship, error) {
	return e.vouchLedger.RequestVouch(
		ctx,
		voucherId,
		voucheeId,
		vouchType,
		communityId,
	)
}

// RespondToVouch accepts or declines a pending vouch request
func (e *Engine) RespondToVouch(
	ctx context.Context,
	relationshipId uint,
	responderId string,
	accept bool,
) (models.VouchRelationship, error) {
	return e.vouchLedger.RespondToVouch(ctx, relationshipId, responderId, accept)
}

// RevokeVouch ends an active vouch relationship
func (e *Engine) RevokeVouch(
	ctx context.Context,
	relationshipId uint,
	requesterId string,
) (models.VouchRelationship, error) {
	return e.vouchLedger.RevokeVouch(ctx, relationshipId, requesterId)
}

// CheckAutoVouchEligibility evaluates the auto-vouch thresholds for the
// pair without side effects
func (e *Engine) CheckAutoVouchEligibility(
	ctx context.Context,
	voucherId string,
	voucheeId string,
) (autovouch.Eligibility, error) {
	return e.evaluator.CheckEligibility(ctx, voucherId, voucheeId)
}

// AutoVouch grants an immediately active vouch when the evaluator deems the
// pair eligible
func (e *Engine) AutoVouch(
	ctx context.Context,
	voucherId string,
	voucheeId string,
	vouchType models.VouchType,
) (models.VouchRelationship, error) {
	eligibility, err := e.evaluator.CheckEligibility(ctx, voucherId, voucheeId)
	if err != nil {
		return models.VouchRelationship{}, err
	}
	if !eligibility.Eligible {
		return models.VouchRelationship{}, fmt.Errorf(
			"%w: %v",
			ErrNotEligible,
			eligibility.Reasons,
		)
	}
	return e.vouchLedger.GrantAutoVouch(ctx, voucherId, voucheeId, vouchType)
}

// RecordAccountabilityEvent appends a behavioral event attributed to a
// vouched relationship
func (e *Engine) RecordAccountabilityEvent(
	ctx context.Context,
	params accountability.RecordParams,
) (models.AccountabilityLog, error) {
	return e.accountability.RecordEvent(ctx, params)
}

// GetAccountabilitySummary aggregates a voucher's accountability entries
func (e *Engine) GetAccountabilitySummary(
	userId string,
) (accountability.Summary, error) {
	return e.accountability.Summarize(userId)
}

// GetAccountabilityHistory returns a page of a user's accountability
// entries, newest first
func (e *Engine) GetAccountabilityHistory(
	userId string,
	page int,
	limit int,
	impactType *models.AccountabilityImpact,
) ([]models.AccountabilityLog, int64, error) {
	return e.accountability.GetHistory(userId, page, limit, impactType)
}

// ProcessPending folds unprocessed accountability entries into trust scores
func (e *Engine) ProcessPending(
	ctx context.Context,
	batchSize int,
) (int, error) {
	return e.accountability.ProcessPending(ctx, batchSize)
}

// CanReconnect reports whether the pair may establish a new connection
func (e *Engine) CanReconnect(
	ctx context.Context,
	userAId string,
	userBId string,
) (bool, *time.Time, error) {
	return e.gatekeeper.CanReconnect(ctx, userAId, userBId)
}

// Connect establishes a connection between the pair
func (e *Engine) Connect(
	ctx context.Context,
	userAId string,
	userBId string,
) (models.Connection, error) {
	return e.gatekeeper.Connect(ctx, userAId, userBId)
}

// Disconnect revokes the active connection between the pair
func (e *Engine) Disconnect(
	ctx context.Context,
	userAId string,
	userBId string,
) (models.Connection, error) {
	return e.gatekeeper.Disconnect(ctx, userAId, userBId)
}

// GetTrustScore returns the user's stored trust score
func (e *Engine) GetTrustScore(
	ctx context.Context,
	userId string,
) (float64, error) {
	user, err := e.config.users.GetUser(ctx, userId)
	if err != nil {
		return 0, err
	}
	return user.TrustScore, nil
}

// RecomputeTrustScore recomputes and replaces the user's stored trust score
func (e *Engine) RecomputeTrustScore(
	ctx context.Context,
	userId string,
) (float64, error) {
	return e.calculator.Recompute(ctx, userId)
}

// GetActiveVouchConfig returns the policy in effect right now
func (e *Engine) GetActiveVouchConfig() (models.VouchConfig, error) {
	return e.db.GetActiveVouchConfig(time.Now(), nil)
}

// PutVouchConfig appends a new policy version after validation
func (e *Engine) PutVouchConfig(cfg models.VouchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.db.AddVouchConfig(&cfg, nil)
}
