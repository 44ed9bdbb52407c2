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

package dungeon

import (
	"context"
	"fmt"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
)

// Join moves actor into a RUNNING instance they are allowed to enter.
func (m *Manager) Join(ctx context.Context, actor instance.ActorID, id string) error {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.inst.State != instance.StateRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if sess := m.sessions.Get(actor); sess.InInstance() {
		m.mu.Unlock()
		return ErrAlreadyInInstance
	}
	if _, busy := m.pending[actor]; busy {
		m.mu.Unlock()
		return ErrCreationPending
	}
	if !e.inst.CanEnter(actor) {
		m.mu.Unlock()
		return ErrNotAllowed
	}
	m.sessions.Update(actor, func(s *session.Session) {
		s.CurrentInstance = id
		s.TotalJoined++
	})
	env := *e.inst.Environment
	snap := e.inst.Clone()
	m.mu.Unlock()

	if err := m.transportIn(actor, env); err != nil {
		m.sessions.Update(actor, func(s *session.Session) {
			if s.CurrentInstance == id {
				s.CurrentInstance = ""
				s.TotalJoined--
			}
		})
		return fmt.Errorf("failed to enter instance %s: %w", id, err)
	}

	ev := eventFor(EventJoined, snap)
	ev.Subject = actor
	m.notifyAll(m.occupants(id, &env), ev)
	m.logger.Info("actor joined", "instance_id", id, "actor", actor)
	return nil
}

// Leave returns actor to their return point. It reports false when the
// actor was not in an instance.
func (m *Manager) Leave(ctx context.Context, actor instance.ActorID) bool {
	m.mu.Lock()
	sess, ok := m.sessions.Peek(actor)
	if !ok || !sess.InInstance() {
		m.mu.Unlock()
		return false
	}
	id := sess.CurrentInstance
	m.sessions.Update(actor, func(s *session.Session) {
		s.CurrentInstance = ""
	})
	var (
		env  *instance.Environment
		snap *instance.Instance
	)
	if e, exists := m.instances[id]; exists {
		snap = e.inst.Clone()
		env = snap.Environment
	}
	m.mu.Unlock()

	m.transportOut(actor, sess.ReturnPoint)
	m.logger.Info("actor left", "instance_id", id, "actor", actor)
	if snap == nil {
		return true
	}

	remaining := m.occupants(id, env)
	ev := eventFor(EventLeft, snap)
	ev.Subject = actor
	m.notifyAll(remaining, ev)
	m.maybeAutoDelete(ctx, id, remaining)
	return true
}

// maybeAutoDelete removes an instance nobody is inside any more.
func (m *Manager) maybeAutoDelete(ctx context.Context, id string, remaining []instance.ActorID) {
	if !m.cfg.AutoDeleteEmpty || len(remaining) > 0 {
		return
	}
	m.mu.Lock()
	e, ok := m.instances[id]
	eligible := ok && (e.inst.State == instance.StateRunning || e.inst.State == instance.StateCompleted)
	m.mu.Unlock()
	if eligible {
		m.logger.Info("deleting empty instance", "instance_id", id)
		m.Delete(ctx, id)
	}
}

type evictee struct {
	actor instance.ActorID
	ret   *session.Location
}

// evictLocked clears the membership of everyone inside id.
func (m *Manager) evictLocked(id string) []evictee {
	var out []evictee
	for _, actor := range m.sessions.Members(id) {
		var ret *session.Location
		m.sessions.Update(actor, func(s *session.Session) {
			ret = s.ReturnPoint
			s.CurrentInstance = ""
		})
		out = append(out, evictee{actor: actor, ret: ret})
	}
	return out
}
