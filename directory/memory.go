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

package directory

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory implementation of every collaborator
// interface, used by tests and dev mode
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[string]User
	activity    map[string]float64
	eventCounts map[string]int
	moderators  map[string]map[string]bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[string]User),
		activity:    make(map[string]float64),
		eventCounts: make(map[string]int),
		moderators:  make(map[string]map[string]bool),
	}
}

// AddUser registers a user record
func (m *MemoryDirectory) AddUser(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.Id] = user
}

// SetActivity sets the activity signal for a user
func (m *MemoryDirectory) SetActivity(userId string, signal float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[userId] = signal
}

// SetEventCount sets the qualifying-event attendance count for a user
func (m *MemoryDirectory) SetEventCount(userId string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCounts[userId] = count
}

// SetModerator marks a user as moderator of a community
func (m *MemoryDirectory) SetModerator(userId, communityId string, isMod bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moderators[communityId] == nil {
		m.moderators[communityId] = make(map[string]bool)
	}
	m.moderators[communityId][userId] = isMod
}

func (m *MemoryDirectory) GetUser(
	ctx context.Context,
	id string,
) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryDirectory) SetTrustScore(
	ctx context.Context,
	id string,
	value float64,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.TrustScore = value
	m.users[id] = user
	return nil
}

func (m *MemoryDirectory) ActivitySignal(
	ctx context.Context,
	userId string,
) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activity[userId], nil
}

func (m *MemoryDirectory) QualifyingEventCount(
	ctx context.Context,
	userId string,
) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventCounts[userId], nil
}

func (m *MemoryDirectory) IsModerator(
	ctx context.Context,
	userId string,
	communityId string,
) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.moderators[communityId][userId], nil
}

// NopNotifier drops all notifications
type NopNotifier struct{}

func (NopNotifier) Notify(
	ctx context.Context,
	userId string,
	eventKind string,
	payload any,
) error {
	return nil
}
