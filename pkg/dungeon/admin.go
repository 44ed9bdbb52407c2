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

// lookupLocked returns the entry for id unless it is unknown or being
// deleted.
func (m *Manager) lookupLocked(id string) (*entry, error) {
	e, ok := m.instances[id]
	if !ok || e.inst.State == instance.StateDeleting {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// SetPublic toggles whether anyone may join.
func (m *Manager) SetPublic(ctx context.Context, id string, public bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	e.inst.Public = public
	m.logger.Info("instance visibility changed", "instance_id", id, "public", public)
	return nil
}

// SetDisplayName renames the instance.
func (m *Manager) SetDisplayName(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	e.inst.DisplayName = name
	return nil
}

// Invite adds actor to the allow list and tells them about it.
func (m *Manager) Invite(ctx context.Context, id string, actor instance.ActorID) error {
	m.mu.Lock()
	e, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	e.inst.Invite(actor)
	snap := e.inst.Clone()
	m.mu.Unlock()

	ev := eventFor(EventInvited, snap)
	ev.Subject = snap.Owner
	m.notify(actor, ev)
	m.logger.Info("actor invited", "instance_id", id, "actor", actor)
	return nil
}

// Kick removes actor from the allow list and, if they are inside, sends
// them back to their return point.
func (m *Manager) Kick(ctx context.Context, id string, actor instance.ActorID) error {
	m.mu.Lock()
	e, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	e.inst.Uninvite(actor)

	var (
		inside bool
		ret    *session.Location
	)
	if sess, ok := m.sessions.Peek(actor); ok && sess.CurrentInstance == id {
		inside = true
		m.sessions.Update(actor, func(s *session.Session) {
			ret = s.ReturnPoint
			s.CurrentInstance = ""
		})
	}
	snap := e.inst.Clone()
	m.mu.Unlock()

	m.logger.Info("actor kicked", "instance_id", id, "actor", actor, "was_inside", inside)
	if !inside {
		return nil
	}

	m.transportOut(actor, ret)
	m.notify(actor, eventFor(EventKicked, snap))

	remaining := m.occupants(id, snap.Environment)
	ev := eventFor(EventLeft, snap)
	ev.Subject = actor
	m.notifyAll(remaining, ev)
	m.maybeAutoDelete(ctx, id, remaining)
	return nil
}
