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

package session

import (
	"sort"
	"sync"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

// Store holds every known session. Reads and writes are guarded so the
// autosave snapshot can run off the mutation thread.
type Store struct {
	mu       sync.RWMutex
	sessions map[instance.ActorID]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[instance.ActorID]*Session)}
}

// Get returns a copy of the actor's session, creating it on first touch.
func (s *Store) Get(actor instance.ActorID) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(actor).clone()
}

// Peek returns a copy of the session without creating it.
func (s *Store) Peek(actor instance.ActorID) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[actor]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Update applies fn to the actor's session under the store lock and returns
// the updated copy.
func (s *Store) Update(actor instance.ActorID, fn func(*Session)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(actor)
	fn(sess)
	return sess.clone()
}

func (s *Store) getLocked(actor instance.ActorID) *Session {
	sess, ok := s.sessions[actor]
	if !ok {
		sess = &Session{Actor: actor}
		s.sessions[actor] = sess
	}
	return sess
}

// Members returns the actors whose current instance is id, sorted.
func (s *Store) Members(id string) []instance.ActorID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var actors []instance.ActorID
	for actor, sess := range s.sessions {
		if sess.CurrentInstance == id {
			actors = append(actors, actor)
		}
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i] < actors[j] })
	return actors
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns copies of all sessions sorted by actor.
func (s *Store) Snapshot() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

// Restore replaces the store contents.
func (s *Store) Restore(sessions []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[instance.ActorID]*Session, len(sessions))
	for i := range sessions {
		c := sessions[i].clone()
		s.sessions[c.Actor] = &c
	}
}
