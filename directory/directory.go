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

// Package directory defines the external collaborators the trust engine
// consumes: the user directory that owns profile rows (including the stored
// trust score), activity and event-attendance signals, community moderator
// checks, and the fire-and-forget notification dispatcher.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user ID is unknown to the directory
var ErrUserNotFound = errors.New("user not found")

// User is the slice of the externally owned profile record the engine reads
type User struct {
	Id         string
	TrustScore float64
	CreatedAt  time.Time
}

// UserDirectory provides read access to user records and write access to the
// derived trust score field. The trust score is only ever written by the
// score calculator, always by replacement.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (User, error)
	SetTrustScore(ctx context.Context, id string, value float64) error
}

// ActivitySource supplies the externally computed activity signal, bounded
// to [0,1]
type ActivitySource interface {
	ActivitySignal(ctx context.Context, userId string) (float64, error)
}

// EventAttendance supplies qualifying-event attendance counts for auto-vouch
// eligibility
type EventAttendance interface {
	QualifyingEventCount(ctx context.Context, userId string) (int, error)
}

// Communities authorizes COMMUNITY vouches
type Communities interface {
	IsModerator(ctx context.Context, userId string, communityId string) (bool, error)
}

// Notifier receives fire-and-forget notifications on vouch state changes.
// Errors are logged and dropped; delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, userId string, eventKind string, payload any) error
}
