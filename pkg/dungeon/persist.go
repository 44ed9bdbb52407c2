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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/state"
)

// RecoveryReport describes what Restore did with each persisted instance.
type RecoveryReport struct {
	Restored []string
	Expired  []string
	Dropped  []string
	TornDown []string
}

// Snapshot captures the registry, sessions and cooldowns.
func (m *Manager) Snapshot() *state.Snapshot {
	snap := state.NewSnapshot()

	m.mu.Lock()
	snap.SavedAt = m.now()
	snap.IDCounter = m.seq
	for _, e := range m.instances {
		snap.Instances = append(snap.Instances, recordOf(e.inst))
	}
	snap.Sessions = m.sessions.Snapshot()
	m.mu.Unlock()

	snap.Cooldowns = m.cooldowns.Snapshot()
	sort.Slice(snap.Instances, func(i, j int) bool { return idLess(snap.Instances[i].ID, snap.Instances[j].ID) })
	return snap
}

func recordOf(inst *instance.Instance) *state.InstanceRecord {
	c := inst.Clone()
	return &state.InstanceRecord{
		ID:          c.ID,
		Template:    c.Template,
		Owner:       c.Owner,
		Allowed:     c.AllowedActors(),
		DisplayName: c.DisplayName,
		Public:      c.Public,
		Environment: c.Environment,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
		State:       c.State,
	}
}

func instanceOf(rec *state.InstanceRecord) *instance.Instance {
	inst := instance.New(rec.ID, rec.Template, rec.Owner, rec.DisplayName, rec.CreatedAt)
	for _, a := range rec.Allowed {
		inst.Invite(a)
	}
	inst.Public = rec.Public
	inst.ExpiresAt = rec.ExpiresAt
	inst.State = rec.State
	return inst
}

// seqOf extracts the numeric prefix of an instance id.
func seqOf(id string) uint64 {
	prefix, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Restore loads a snapshot into an empty manager. RUNNING instances whose
// environment still resolves are re-registered with their expiry re-armed;
// anything else is dropped and its environment released.
func (m *Manager) Restore(ctx context.Context, snap *state.Snapshot) (*RecoveryReport, error) {
	if snap == nil {
		return nil, errors.New("snapshot is nil")
	}
	if snap.Version != "" && snap.Version != state.CurrentVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %s", snap.Version)
	}

	m.mu.Lock()
	if len(m.instances) > 0 {
		m.mu.Unlock()
		return nil, errors.New("restore requires an empty registry")
	}
	m.seq = max(m.seq, snap.IDCounter)
	m.sessions.Restore(snap.Sessions)
	m.mu.Unlock()
	m.cooldowns.Restore(snap.Cooldowns)

	type overdue struct {
		id string
		x  *expiry
	}
	var (
		report = &RecoveryReport{}
		late   []overdue
		live   = make(map[string]struct{})
	)

	for _, rec := range snap.Instances {
		logger := m.logger.With("instance_id", rec.ID, "template", rec.Template)
		m.mu.Lock()
		m.seq = max(m.seq, seqOf(rec.ID))
		m.mu.Unlock()

		if rec.State != instance.StateRunning {
			if rec.Environment != nil {
				m.teardown(ctx, rec.ID, *rec.Environment)
				report.TornDown = append(report.TornDown, rec.ID)
			}
			report.Dropped = append(report.Dropped, rec.ID)
			logger.Info("discarding unfinished instance", "state", rec.State.String())
			continue
		}
		if rec.Environment == nil {
			report.Dropped = append(report.Dropped, rec.ID)
			logger.Warn("dropping running instance without environment")
			continue
		}
		env, err := m.deps.Provisioner.Resolve(ctx, rec.Environment.Name)
		if err != nil {
			report.Dropped = append(report.Dropped, rec.ID)
			logger.Warn("dropping instance, environment could not be resolved", "error", err)
			continue
		}

		inst := instanceOf(rec)
		inst.Environment = &env
		e := &entry{inst: inst, timeout: inst.ExpiresAt.Sub(inst.CreatedAt)}

		m.mu.Lock()
		m.instances[rec.ID] = e
		x, expired := m.armLocked(rec.ID, e)
		m.mu.Unlock()

		live[rec.ID] = struct{}{}
		report.Restored = append(report.Restored, rec.ID)
		m.metrics.active.Add(ctx, 1, templateAttr(rec.Template))
		if expired {
			late = append(late, overdue{id: rec.ID, x: x})
		}
	}

	// Sessions may still point at instances that did not survive.
	for _, sess := range m.sessions.Snapshot() {
		if !sess.InInstance() {
			continue
		}
		if _, ok := live[sess.CurrentInstance]; ok {
			continue
		}
		m.sessions.Update(sess.Actor, func(s *session.Session) {
			s.CurrentInstance = ""
		})
		m.transportOut(sess.Actor, sess.ReturnPoint)
		m.logger.Info("cleared stale membership", "actor", sess.Actor, "instance_id", sess.CurrentInstance)
	}

	m.logger.Info("recovery finished",
		"restored", len(report.Restored), "dropped", len(report.Dropped),
		"torn_down", len(report.TornDown), "expired", len(late))

	for _, o := range late {
		report.Expired = append(report.Expired, o.id)
		m.expire(o.id, o.x)
	}
	return report, nil
}

// Save writes a snapshot to store.
func (m *Manager) Save(ctx context.Context, store state.Store) error {
	if err := store.Save(ctx, m.Snapshot()); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load reads a snapshot from store and restores it.
func (m *Manager) Load(ctx context.Context, store state.Store) (*RecoveryReport, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return m.Restore(ctx, snap)
}

// RunAutosave saves every interval until ctx is done. Failures are logged
// and retried on the next tick.
func (m *Manager) RunAutosave(ctx context.Context, store state.Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Save(ctx, store); err != nil {
				m.logger.Error("autosave failed, retrying next interval", "error", err)
				continue
			}
			m.logger.Debug("autosave complete")
		}
	}
}
