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

package console

import (
	"sort"
	"sync"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
)

// Tracker is an in-memory stand-in for the host server's player registry.
// It remembers where each actor is and which environment they are in.
type Tracker struct {
	mu        sync.RWMutex
	locations map[instance.ActorID]session.Location
	inside    map[instance.ActorID]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		locations: make(map[instance.ActorID]session.Location),
		inside:    make(map[instance.ActorID]string),
	}
}

// Place puts the actor at loc in the host world.
func (t *Tracker) Place(actor instance.ActorID, loc session.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locations[actor] = loc
	delete(t.inside, actor)
}

// Location returns the actor's last known host-world position.
func (t *Tracker) Location(actor instance.ActorID) (session.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, ok := t.locations[actor]
	return loc, ok
}

// Enter moves the actor into env.
func (t *Tracker) Enter(actor instance.ActorID, env instance.Environment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inside[actor] = env.Name
	return nil
}

// Teleport moves the actor back to the host world.
func (t *Tracker) Teleport(actor instance.ActorID, loc session.Location) error {
	t.Place(actor, loc)
	return nil
}

// Occupants lists the actors inside env, sorted.
func (t *Tracker) Occupants(env instance.Environment) []instance.ActorID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var actors []instance.ActorID
	for actor, name := range t.inside {
		if name == env.Name {
			actors = append(actors, actor)
		}
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i] < actors[j] })
	return actors
}

// Where returns the environment the actor is in, if any.
func (t *Tracker) Where(actor instance.ActorID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.inside[actor]
	return name, ok
}
