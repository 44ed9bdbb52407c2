// Copyright Pigeonworks LLC
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

package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestTracker_CanCreate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	tracker := NewTracker(clock.Now)
	cooldown := 300 * time.Second

	t.Run("unknown actor may always create", func(t *testing.T) {
		assert.True(t, tracker.CanCreate("P1", cooldown))
		assert.Zero(t, tracker.Remaining("P1", cooldown))
	})

	tracker.RecordCreation("P1", t0)

	t.Run("blocked strictly inside the window", func(t *testing.T) {
		for _, offset := range []time.Duration{time.Nanosecond, time.Second, 150 * time.Second, 299 * time.Second, cooldown - time.Nanosecond} {
			clock.Set(t0.Add(offset))
			assert.False(t, tracker.CanCreate("P1", cooldown), "offset %s", offset)
			assert.Equal(t, cooldown-offset, tracker.Remaining("P1", cooldown))
		}
	})

	t.Run("allowed exactly at the boundary", func(t *testing.T) {
		clock.Set(t0.Add(cooldown))
		assert.True(t, tracker.CanCreate("P1", cooldown))
		assert.Zero(t, tracker.Remaining("P1", cooldown))
	})

	t.Run("other actors are independent", func(t *testing.T) {
		clock.Set(t0.Add(time.Second))
		assert.True(t, tracker.CanCreate("P2", cooldown))
	})
}

func TestTracker_SnapshotRestore(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(func() time.Time { return t0.Add(time.Minute) })
	tracker.RecordCreation("b", t0)
	tracker.RecordCreation("a", t0.Add(-time.Hour))

	records := tracker.Snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, "a", string(records[0].Actor))

	restored := NewTracker(func() time.Time { return t0.Add(time.Minute) })
	restored.Restore(records)

	last, ok := restored.Last("b")
	require.True(t, ok)
	assert.True(t, last.Equal(t0))
	assert.False(t, restored.CanCreate("b", 5*time.Minute))
	assert.True(t, restored.CanCreate("a", 5*time.Minute))
}
