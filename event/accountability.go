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

package event

import "time"

// AccountabilityRecordedEventType is the event type for appended accountability logs
const AccountabilityRecordedEventType = EventType("accountability.recorded")

// AccountabilityRecordedEvent is emitted when a behavioral event is appended
// to the accountability log, including chain-propagated entries
type AccountabilityRecordedEvent struct {
	LogId       uint
	VoucherId   string
	VoucheeId   string
	ChainId     string
	ImpactType  string
	ImpactValue float64
	OccurredAt  time.Time
}

// TrustScoreUpdatedEventType is the event type for trust score recomputations
const TrustScoreUpdatedEventType = EventType("trustscore.updated")

// TrustScoreUpdatedEvent is emitted after a recomputation replaces a user's
// stored trust score
type TrustScoreUpdatedEvent struct {
	UserId   string
	OldScore float64
	NewScore float64
}
