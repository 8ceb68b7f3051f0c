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

// VouchRequestedEventType is the event type for new vouch requests
const VouchRequestedEventType = EventType("vouch.requested")

// VouchAcceptedEventType is the event type for accepted vouches
const VouchAcceptedEventType = EventType("vouch.accepted")

// VouchDeclinedEventType is the event type for declined vouches
const VouchDeclinedEventType = EventType("vouch.declined")

// VouchRevokedEventType is the event type for revoked vouches
const VouchRevokedEventType = EventType("vouch.revoked")

// VouchEvent is emitted on every vouch relationship state transition. The
// notification dispatcher and the trust score recompute trigger both consume
// these.
type VouchEvent struct {
	RelationshipId uint
	VoucherId      string
	VoucheeId      string
	Type           string
	CommunityId    string
	// AutoVouch marks relationships activated without a manual response
	AutoVouch bool
}
