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

// Complete marks a RUNNING instance completed, rewards its occupants and
// schedules deletion after the completion grace period.
func (m *Manager) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.inst.Transition(instance.StateCompleted); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	e.expiry.cancel()
	e.expiry = nil
	elapsed := m.now().Sub(e.inst.CreatedAt)
	e.finished = m.evictLocked(id)
	e.grace = m.deps.Scheduler.After(m.cfg.CompletionGrace, func() {
		m.finishCompletion(id, e)
	})
	snap := e.inst.Clone()
	m.mu.Unlock()

	occupants := make([]instance.ActorID, 0, len(e.finished))
	for _, done := range e.finished {
		occupants = append(occupants, ev.actor)
	}
	if m.deps.Occupants != nil && snap.Environment != nil {
		occupants = m.deps.Occupants.Occupants(*snap.Environment)
	}
	ev := eventFor(EventCompleted, snap)
	ev.Elapsed = elapsed
	m.notifyAll(occupants, ev)

	report := CompletionReport{Instance: snap, Occupants: occupants, Elapsed: elapsed}
	if err := m.deps.Rewarder.Reward(ctx, report); err != nil {
		m.logger.Error("failed to grant rewards", "instance_id", id, "error", err)
	}
	for _, actor := range occupants {
		m.sessions.Update(actor, func(s *session.Session) {
			s.RecordCompletion(snap.Template)
		})
	}

	m.metrics.completed.Add(ctx, 1, templateAttr(snap.Template))
	m.logger.Info("instance completed",
		"instance_id", id, "template", snap.Template,
		"elapsed", elapsed, "occupants", len(occupants))
	return nil
}

func (m *Manager) finishCompletion(id string, e *entry) {
	m.mu.Lock()
	current := m.instances[id] == e && e.inst.State == instance.StateCompleted
	m.mu.Unlock()
	if current {
		m.deleteInstance(context.Background(), id, EventDeleted)
	}
}

// Delete tears an instance down: timers are cancelled, occupants are
// returned and the environment is released. Deleting an unknown or
// already-deleting instance reports false and does nothing.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	return m.deleteInstance(ctx, id, EventDeleted)
}

// ForceDelete is the administrative form of Delete.
func (m *Manager) ForceDelete(ctx context.Context, id string) bool {
	m.logger.Info("force delete requested", "instance_id", id)
	return m.deleteInstance(ctx, id, EventDeleted)
}

// ForceDeleteAll deletes every instance and returns how many were removed.
func (m *Manager) ForceDeleteAll(ctx context.Context) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.deleteInstance(ctx, id, EventDeleted) {
			n++
		}
	}
	m.logger.Info("force deleted all instances", "count", n)
	return n
}

// deleteInstance performs the delete; reason is the event sent to evicted
// actors. A timed-out instance always reports the timeout, whoever deletes
// it, so occupants hear about its end once.
func (m *Manager) deleteInstance(ctx context.Context, id string, reason EventKind) bool {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok || e.inst.State == instance.StateDeleting {
		m.mu.Unlock()
		return false
	}
	e.cancelTimers()
	prev := e.inst.State
	if prev == instance.StateTimeout {
		reason = EventTimeout
	}
	_ = e.inst.Transition(instance.StateDeleting)
	if m.pending[e.inst.Owner] == id {
		delete(m.pending, e.inst.Owner)
	}
	evicted := m.evictLocked(id)
	for _, done := range e.finished {
		// Actors who moved on to another instance during the grace period
		// stay where they are.
		if s, ok := m.sessions.Peek(done.actor); !ok || s.CurrentInstance == "" {
			evicted = append(evicted, done)
		}
	}
	e.finished = nil
	snap := e.inst.Clone()
	m.mu.Unlock()

	var stragglers []instance.ActorID
	if m.deps.Occupants != nil && snap.Environment != nil {
		stragglers = m.deps.Occupants.Occupants(*snap.Environment)
	}
	ev := eventFor(reason, snap)
	seen := make(map[instance.ActorID]struct{}, len(evicted))
	for _, out := range evicted {
		seen[out.actor] = struct{}{}
		m.transportOut(out.actor, out.ret)
		m.notify(out.actor, ev)
	}
	for _, actor := range stragglers {
		if _, ok := seen[actor]; !ok {
			m.transportOut(actor, nil)
			m.notify(actor, ev)
		}
	}

	if snap.Environment != nil {
		m.teardown(ctx, id, *snap.Environment)
	}

	m.mu.Lock()
	if m.instances[id] == e {
		delete(m.instances, id)
	}
	m.mu.Unlock()

	m.metrics.deleted.Add(ctx, 1, templateAttr(snap.Template))
	if prev != instance.StateCreating {
		m.metrics.active.Add(ctx, -1, templateAttr(snap.Template))
	}
	m.logger.Info("instance deleted",
		"instance_id", id, "template", snap.Template,
		"previous_state", prev.String(), "evicted", len(evicted))
	return true
}
