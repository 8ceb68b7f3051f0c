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
	"errors"
	"fmt"
	"time"
)

// User-correctable conditions, returned to the caller verbatim and never
// retried
var (
	ErrSelfVouch         = errors.New("cannot vouch for yourself")
	ErrDuplicateVouch    = errors.New("vouch relationship already exists")
	ErrLimitExceeded     = errors.New("vouch limit exceeded for this type")
	ErrInsufficientTrust = errors.New("trust score below minimum required to vouch")
	ErrCooldownActive    = errors.New("cooldown active for this pair")
)

// Request-shape and authorization conditions
var (
	ErrForbidden         = errors.New("not authorized for this relationship")
	ErrInvalidState      = errors.New("relationship is not in the required state")
	ErrInvalidVouchType  = errors.New("unknown vouch type")
	ErrCommunityRequired = errors.New("community id is required for community vouches")
)

// CooldownError reports when the pair becomes eligible again. It matches
// ErrCooldownActive under errors.Is.
type CooldownError struct {
	AvailableAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf(
		"cooldown active for this pair until %s",
		e.AvailableAt.Format(time.RFC3339),
	)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}
