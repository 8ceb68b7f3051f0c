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

package scoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/circleworks/trustengine/database"
	"github.com/circleworks/trustengine/database/models"
	"github.com/circleworks/trustengine/directory"
	"github.com/circleworks/trustengine/event"
	"github.com/circleworks/trustengine/internal/keymutex"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// ScoreMin and ScoreMax bound every stored trust score
	ScoreMin float64 = 0
	ScoreMax float64 = 100

	// trustMomentSquashScale controls how quickly the accumulated trust
	// moment sum saturates. At +/-25 the squashed value is ~0.76; a single
	// extreme event cannot dominate the score.
	trustMomentSquashScale = 25.0
)

// Inputs are the resolved score components for one user. ComputeScore is a
// pure function of these plus the active policy.
type Inputs struct {
	// ActiveVouches counts ACTIVE relationships per type with the user as
	// vouchee
	ActiveVouches map[models.VouchType]int
	// TrustMomentSum is the sum of processed accountability impact values
	// with the user as vouchee
	TrustMomentSum float64
	// ActivitySignal is the externally computed activity input in [0,1]
	ActivitySignal float64
}

// ComputeScore derives a trust score from the active policy and resolved
// inputs. Weights are normalized by their total, so a policy whose weights
// sum to 160 produces the same relative scoring as one summing to 100. The
// result is clamped to [ScoreMin, ScoreMax].
func ComputeScore(cfg models.VouchConfig, in Inputs) float64 {
	weightTotal := cfg.WeightTotal()
	if weightTotal <= 0 {
		return ScoreMin
	}
	scale := ScoreMax / weightTotal
	// Vouch composite: each relationship contributes weight/cap, so a user
	// at full capacity for a type earns that type's full weight
	var vouchComposite float64
	for _, vouchType := range []models.VouchType{
		models.VouchTypePrimary,
		models.VouchTypeSecondary,
		models.VouchTypeCommunity,
	} {
		perTypeCap := cfg.MaxVouches(vouchType)
		divisor := perTypeCap
		if divisor < 1 {
			divisor = 1
		}
		count := in.ActiveVouches[vouchType]
		if count > divisor {
			count = divisor
		}
		vouchComposite += cfg.VouchWeight(vouchType) *
			float64(count) / float64(divisor)
	}
	// Trust moments: bounded squashing, monotonic and symmetric around zero
	moments := cfg.TrustMomentsWeight *
		math.Tanh(in.TrustMomentSum/trustMomentSquashScale)
	// Activity: externally computed, defensively clamped to [0,1]
	signal := in.ActivitySignal
	if signal < 0 {
		signal = 0
	} else if signal > 1 {
		signal = 1
	}
	activity := cfg.ActivityWeight * signal
	score := (vouchComposite + moments + activity) * scale
	if score < ScoreMin {
		return ScoreMin
	}
	if score > ScoreMax {
		return ScoreMax
	}
	return score
}

type CalculatorConfig struct {
	Logger       *slog.Logger
	Database     *database.Database
	EventBus     *event.EventBus
	Users        directory.UserDirectory
	Activity     directory.ActivitySource
	PromRegistry prometheus.Registerer
	// TimeNow allows tests to inject a clock. Defaults to time.Now
	TimeNow func() time.Time
}

// Calculator owns the derived trust score field. It is the only writer;
// every write is a full replacement with a freshly computed value.
type Calculator struct {
	logger    *slog.Logger
	db        *database.Database
	eventBus  *event.EventBus
	users     directory.UserDirectory
	activity  directory.ActivitySource
	timeNow   func() time.Time
	userLocks *keymutex.KeyMutex
	metrics   *calculatorMetrics
}

func NewCalculator(cfg CalculatorConfig) *Calculator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	c := &Calculator{
		logger:    logger,
		db:        cfg.Database,
		eventBus:  cfg.EventBus,
		users:     cfg.Users,
		activity:  cfg.Activity,
		timeNow:   timeNow,
		userLocks: keymutex.New(),
	}
	if cfg.PromRegistry != nil {
		c.initMetrics(cfg.PromRegistry)
	}
	return c
}

// Recompute derives the user's trust score from current ledger and log state
// and replaces the stored value. Recomputation for the same user serializes
// on a per-user lock so concurrent triggers cannot interleave stale reads
// with writes; recomputation for different users runs concurrently. The
// function is idempotent: unchanged inputs yield an identical score.
func (c *Calculator) Recompute(
	ctx context.Context,
	userId string,
) (float64, error) {
	c.userLocks.Lock(userId)
	defer c.userLocks.Unlock(userId)
	start := time.Now()

	user, err := c.users.GetUser(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf("failed to load user %s: %w", userId, err)
	}
	inputs := Inputs{
		ActiveVouches: make(map[models.VouchType]int),
	}
	var cfg models.VouchConfig
	txn := c.db.Transaction(false)
	err = txn.Do(func(txn *database.Txn) error {
		var err error
		cfg, err = c.db.GetActiveVouchConfig(c.timeNow(), txn)
		if err != nil {
			return err
		}
		rels, err := c.db.GetActiveVouchesForVouchee(userId, txn)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			inputs.ActiveVouches[rel.Type]++
		}
		inputs.TrustMomentSum, err = c.db.SumProcessedImpact(userId, txn)
		return err
	})
	if err != nil {
		return 0, err
	}
	inputs.ActivitySignal, err = c.activity.ActivitySignal(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to load activity signal for %s: %w",
			userId,
			err,
		)
	}

	score := ComputeScore(cfg, inputs)
	if err := c.users.SetTrustScore(ctx, userId, score); err != nil {
		return 0, fmt.Errorf("failed to store trust score for %s: %w", userId, err)
	}
	c.logger.Debug(
		"recomputed trust score",
		"component", "scoring",
		"user_id", userId,
		"old_score", user.TrustScore,
		"new_score", score,
	)
	if c.eventBus != nil {
		c.eventBus.Publish(
			event.TrustScoreUpdatedEventType,
			event.NewEvent(
				event.TrustScoreUpdatedEventType,
				event.TrustScoreUpdatedEvent{
					UserId:   userId,
					OldScore: user.TrustScore,
					NewScore: score,
				},
			),
		)
	}
	if c.metrics != nil {
		c.metrics.recomputeTotal.Inc()
		c.metrics.recomputeSeconds.Observe(time.Since(start).Seconds())
	}
	return score, nil
}

type calculatorMetrics struct {
	recomputeTotal   prometheus.Counter
	recomputeSeconds prometheus.Histogram
}

func (c *Calculator) initMetrics(promRegistry prometheus.Registerer) {
	c.metrics = &calculatorMetrics{
		recomputeTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trustengine_score_recomputes_total",
				Help: "Total trust score recomputations",
			},
		),
		recomputeSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustengine_score_recompute_seconds",
				Help:    "Trust score recomputation duration",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	promRegistry.MustRegister(c.metrics.recomputeTotal)
	promRegistry.MustRegister(c.metrics.recomputeSeconds)
}
