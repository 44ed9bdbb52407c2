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
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/sched"
)

// expiry is the pair of timers armed for a RUNNING instance. Callbacks
// compare their expiry against the entry's current one and do nothing when
// it was replaced or cleared.
type expiry struct {
	warning sched.Task
	hard    sched.Task
}

func (x *expiry) cancel() {
	if x == nil {
		return
	}
	if x.warning != nil {
		x.warning.Cancel()
	}
	if x.hard != nil {
		x.hard.Cancel()
	}
}

// warningDelay places the warning lead before expiry, but never earlier
// than half way through the remaining time.
func warningDelay(remaining, lead time.Duration) time.Duration {
	d := max(remaining-lead, remaining/2)
	if d < 0 {
		return 0
	}
	return d
}

// armLocked replaces the entry's timers. It reports overdue when the
// instance has already expired; the caller must then call expire after
// releasing the lock.
func (m *Manager) armLocked(id string, e *entry) (*expiry, bool) {
	e.expiry.cancel()
	x := &expiry{}
	e.expiry = x

	remaining := e.inst.ExpiresAt.Sub(m.now())
	if remaining <= 0 {
		return x, true
	}
	x.warning = m.deps.Scheduler.After(warningDelay(remaining, m.cfg.WarningLead), func() {
		m.warn(id, x)
	})
	x.hard = m.deps.Scheduler.After(remaining, func() {
		m.expire(id, x)
	})
	return x, false
}

func (m *Manager) warn(id string, x *expiry) {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok || e.expiry != x || e.inst.State != instance.StateRunning {
		m.mu.Unlock()
		return
	}
	ev := eventFor(EventWarning, e.inst)
	ev.Remaining = e.inst.Remaining(m.now())
	env := e.inst.Clone().Environment
	m.mu.Unlock()

	m.notifyAll(m.occupants(id, env), ev)
	m.logger.Info("instance expiring soon", "instance_id", id, "remaining", ev.Remaining)
}

// expire moves a RUNNING instance to TIMEOUT and deletes it; the delete
// sends the timeout notice. Stale calls are no-ops.
func (m *Manager) expire(id string, x *expiry) {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok || e.expiry != x || e.inst.State != instance.StateRunning {
		m.mu.Unlock()
		return
	}
	x.cancel()
	e.expiry = nil
	_ = e.inst.Transition(instance.StateTimeout)
	snap := e.inst.Clone()
	m.mu.Unlock()

	ctx := context.Background()
	m.metrics.timedOut.Add(ctx, 1, templateAttr(snap.Template))
	m.logger.Info("instance timed out", "instance_id", id, "template", snap.Template)
	m.deleteInstance(ctx, id, EventTimeout)
}

// SetExpiration moves the expiry of a RUNNING instance and re-arms its
// timers. A time in the past expires the instance immediately.
func (m *Manager) SetExpiration(ctx context.Context, id string, at time.Time) error {
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
	e.inst.ExpiresAt = at
	x, overdue := m.armLocked(id, e)
	m.mu.Unlock()

	m.logger.Info("instance expiry changed", "instance_id", id, "expires_at", at)
	if overdue {
		m.expire(id, x)
	}
	return nil
}

// Extend pushes the expiry of a RUNNING instance back by d.
func (m *Manager) Extend(ctx context.Context, id string, d time.Duration) error {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	at := e.inst.ExpiresAt.Add(d)
	m.mu.Unlock()
	return m.SetExpiration(ctx, id, at)
}
