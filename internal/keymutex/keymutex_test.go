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

package keymutex

import (
	"sync"
	"testing"
	"time"
)

func TestMutualExclusion(t *testing.T) {
	km := New()
	const goroutines = 50
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("key")
			defer km.Unlock("key")
			counter++
		}()
	}
	wg.Wait()
	if counter != goroutines {
		t.Fatalf("expected %d increments, got %d", goroutines, counter)
	}
	// All entries released
	if len(km.locks) != 0 {
		t.Fatalf("expected empty lock map, got %d entries", len(km.locks))
	}
}

func TestIndependentKeys(t *testing.T) {
	km := New()
	km.Lock("a")
	acquired := make(chan struct{})
	go func() {
		// A different key must not block on the held one
		km.Lock("b")
		km.Unlock("b")
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(1 * time.Second):
		t.Fatalf("independent key blocked on a held lock")
	}
	km.Unlock("a")
}

func TestUnlockUnheld(t *testing.T) {
	km := New()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on unlock of unheld key")
		}
	}()
	km.Unlock("nope")
}
