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

// Package instance defines the dungeon instance record and its state machine.
//
// An Instance is a passive holder of data and state. Side effects of a
// transition (notifications, rewards, teardown) belong to whoever drives the
// transition, not to the record itself.
package instance

import (
	"errors"
	"sort"
	"time"
)

// ActorID identifies a player or other actor.
type ActorID string

// Environment is the handle of a provisioned isolated environment.
type Environment struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Instance is a live dungeon session.
type Instance struct {
	ID          string
	Template    string
	Owner       ActorID
	Allowed     map[ActorID]struct{}
	DisplayName string
	Public      bool
	Environment *Environment
	CreatedAt   time.Time
	ExpiresAt   time.Time
	State       State
}

// New returns an instance in the creating state.
func New(id, template string, owner ActorID, displayName string, now time.Time) *Instance {
	return &Instance{
		ID:          id,
		Template:    template,
		Owner:       owner,
		Allowed:     make(map[ActorID]struct{}),
		DisplayName: displayName,
		CreatedAt:   now,
		State:       StateCreating,
	}
}

// ErrNoEnvironment is returned when promoting an instance that has no environment.
var ErrNoEnvironment = errors.New("instance has no environment")

// Transition moves the instance to the given state.
func (i *Instance) Transition(to State) error {
	if !i.State.CanTransition(to) {
		return &TransitionError{ID: i.ID, From: i.State, To: to}
	}
	if to == StateRunning && i.Environment == nil {
		return ErrNoEnvironment
	}
	i.State = to
	return nil
}

// CanEnter reports whether the actor may join without further checks.
func (i *Instance) CanEnter(actor ActorID) bool {
	if i.Public || actor == i.Owner {
		return true
	}
	_, ok := i.Allowed[actor]
	return ok
}

// Invite adds the actor to the allow list.
func (i *Instance) Invite(actor ActorID) {
	if i.Allowed == nil {
		i.Allowed = make(map[ActorID]struct{})
	}
	i.Allowed[actor] = struct{}{}
}

// Uninvite removes the actor from the allow list.
func (i *Instance) Uninvite(actor ActorID) {
	delete(i.Allowed, actor)
}

// AllowedActors returns the allow list in sorted order.
func (i *Instance) AllowedActors() []ActorID {
	actors := make([]ActorID, 0, len(i.Allowed))
	for a := range i.Allowed {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(x, y int) bool { return actors[x] < actors[y] })
	return actors
}

// Remaining returns the time left before expiry. Negative once overdue.
func (i *Instance) Remaining(now time.Time) time.Duration {
	return i.ExpiresAt.Sub(now)
}

// Clone returns a deep copy safe to hand to callers.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Allowed = make(map[ActorID]struct{}, len(i.Allowed))
	for a := range i.Allowed {
		c.Allowed[a] = struct{}{}
	}
	if i.Environment != nil {
		env := *i.Environment
		c.Environment = &env
	}
	return &c
}
