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

// Package cooldown tracks per-actor creation timestamps for rate limiting.
package cooldown

import (
	"sort"
	"sync"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

// Record is the persisted form of one actor's last creation.
type Record struct {
	Actor        instance.ActorID `json:"actor"`
	LastCreation time.Time        `json:"last_creation"`
}

// Tracker answers whether an actor may create a new instance yet.
// It is safe for concurrent use so that snapshots can be taken off the
// mutation thread.
type Tracker struct {
	mu   sync.RWMutex
	last map[instance.ActorID]time.Time
	now  func() time.Time
}

// NewTracker creates a tracker. A nil clock defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		last: make(map[instance.ActorID]time.Time),
		now:  now,
	}
}

// CanCreate reports whether at least cooldown has elapsed since the actor's
// last recorded creation. Actors with no record may always create.
func (t *Tracker) CanCreate(actor instance.ActorID, cooldown time.Duration) bool {
	return t.Remaining(actor, cooldown) == 0
}

// Remaining returns how long the actor must still wait. Zero means allowed.
func (t *Tracker) Remaining(actor instance.ActorID, cooldown time.Duration) time.Duration {
	t.mu.RLock()
	last, ok := t.last[actor]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	wait := cooldown - t.now().Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

// RecordCreation stores the creation time for the actor.
func (t *Tracker) RecordCreation(actor instance.ActorID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[actor] = at
}

// Last returns the actor's last recorded creation.
func (t *Tracker) Last(actor instance.ActorID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last, ok := t.last[actor]
	return last, ok
}

// Snapshot returns all records sorted by actor.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	records := make([]Record, 0, len(t.last))
	for actor, last := range t.last {
		records = append(records, Record{Actor: actor, LastCreation: last})
	}
	t.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Actor < records[j].Actor })
	return records
}

// Restore replaces the tracker contents with the given records.
func (t *Tracker) Restore(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = make(map[instance.ActorID]time.Time, len(records))
	for _, r := range records {
		t.last[r.Actor] = r.LastCreation
	}
}
