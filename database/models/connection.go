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

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "ACTIVE"
	ConnectionStatusRevoked ConnectionStatus = "REVOKED"
)

// Connection is the mutual relationship kind consumed by the reconnection
// gatekeeper. Unlike vouches it is undirected; rows store the pair in
// canonical order (UserAID < UserBID) so lookups are a single query.
type Connection struct {
	ID          uint             `gorm:"primarykey"`
	UserAID     string           `gorm:"index:idx_connection_pair;size:64"`
	UserBID     string           `gorm:"index:idx_connection_pair;size:64"`
	Status      ConnectionStatus `gorm:"index;size:16"`
	ConnectedAt time.Time
	RevokedAt   *time.Time
}

func (Connection) TableName() string {
	return "connection"
}

// CanonicalPair returns the two user IDs in canonical storage order
func CanonicalPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}
