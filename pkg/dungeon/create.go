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
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

// Pending is a reservation returned by Create.
type Pending struct {
	ID       string
	Template template.Template
	Owner    instance.ActorID
}

// StartFunc receives the outcome of Start. It runs on the mutation thread.
type StartFunc func(inst *instance.Instance, err error)

func formatID(seq uint64, templateName string) string {
	return fmt.Sprintf("%03d-%s", seq, templateName)
}

// Create validates the request and reserves a CREATING instance for owner.
// Checks run in order: template, current instance, pending creation,
// cooldown. The cooldown itself is only recorded by Activate.
func (m *Manager) Create(ctx context.Context, templateName string, owner instance.ActorID) (*Pending, error) {
	tpl, ok := m.deps.Templates.Lookup(templateName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateName)
	}

	m.mu.Lock()
	if sess := m.sessions.Get(owner); sess.InInstance() {
		m.mu.Unlock()
		return nil, ErrAlreadyInInstance
	}
	if _, busy := m.pending[owner]; busy {
		m.mu.Unlock()
		return nil, ErrCreationPending
	}
	if wait := m.cooldowns.Remaining(owner, m.cooldownFor(tpl)); wait > 0 {
		m.mu.Unlock()
		return nil, &CooldownError{Actor: owner, Remaining: wait}
	}

	// The counter and the insert share the lock so ids never collide.
	m.seq++
	id := formatID(m.seq, tpl.Name)
	m.instances[id] = &entry{
		inst:    instance.New(id, tpl.Name, owner, tpl.Title(), m.now()),
		timeout: tpl.Timeout(),
	}
	m.pending[owner] = id
	m.mu.Unlock()

	if tpl.CreationCost > 0 && m.deps.Economy != nil {
		if err := m.deps.Economy.Withdraw(ctx, owner, tpl.CreationCost); err != nil {
			m.Discard(id)
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
	}

	m.metrics.created.Add(ctx, 1, templateAttr(tpl.Name))
	m.logger.Info("instance reserved", "instance_id", id, "template", tpl.Name, "owner", owner)
	return &Pending{ID: id, Template: tpl, Owner: owner}, nil
}

// Activate attaches a provisioned environment, promotes the instance to
// RUNNING, arms its expiry and brings the owner in.
func (m *Manager) Activate(ctx context.Context, id string, env instance.Environment) error {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := e.inst.Environment
	e.inst.Environment = &env
	if err := e.inst.Transition(instance.StateRunning); err != nil {
		e.inst.Environment = prev
		m.mu.Unlock()
		return err
	}

	now := m.now()
	owner := e.inst.Owner
	e.inst.ExpiresAt = now.Add(e.timeout)
	if m.pending[owner] == id {
		delete(m.pending, owner)
	}
	x, overdue := m.armLocked(id, e)
	m.sessions.Update(owner, func(s *session.Session) {
		s.CurrentInstance = id
		s.LastCreation = now
		s.TotalCreated++
	})
	m.cooldowns.RecordCreation(owner, now)
	snap := e.inst.Clone()
	m.mu.Unlock()

	m.metrics.activated.Add(ctx, 1, templateAttr(snap.Template))
	m.metrics.active.Add(ctx, 1, templateAttr(snap.Template))
	m.logger.Info("instance running",
		"instance_id", id, "template", snap.Template, "environment", env.Name,
		"expires_at", snap.ExpiresAt)

	if err := m.transportIn(owner, env); err != nil {
		m.logger.Warn("failed to move owner into instance", "instance_id", id, "actor", owner, "error", err)
	}
	m.notify(owner, eventFor(EventCreated, snap))

	if overdue {
		m.expire(id, x)
	}
	return nil
}

// Discard drops a reservation that never reached RUNNING.
func (m *Manager) Discard(id string) bool {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok || e.inst.State != instance.StateCreating {
		m.mu.Unlock()
		return false
	}
	delete(m.instances, id)
	if m.pending[e.inst.Owner] == id {
		delete(m.pending, e.inst.Owner)
	}
	m.mu.Unlock()

	m.logger.Info("reservation discarded", "instance_id", id, "template", e.inst.Template)
	return true
}

// Start is Create followed by asynchronous provisioning. The result is
// delivered to done on the mutation thread; done may be nil.
func (m *Manager) Start(ctx context.Context, templateName string, owner instance.ActorID, done StartFunc) (*Pending, error) {
	p, err := m.Create(ctx, templateName, owner)
	if err != nil {
		return nil, err
	}

	m.deps.Workers.Go(func() {
		env, perr := m.deps.Provisioner.Provision(ctx, p.Template.WorldName(), p.ID)
		posted := m.deps.Poster.Post(func() {
			m.finishStart(ctx, p, env, perr, done)
		})
		if !posted && perr == nil {
			m.logger.Warn("mutation thread gone, releasing environment", "instance_id", p.ID)
			m.release(context.WithoutCancel(ctx), p.ID, env)
		}
	})
	return p, nil
}

func (m *Manager) finishStart(ctx context.Context, p *Pending, env instance.Environment, perr error, done StartFunc) {
	if done == nil {
		done = func(*instance.Instance, error) {}
	}

	if perr != nil {
		m.Discard(p.ID)
		m.refund(ctx, p)
		m.metrics.provisionFailed.Add(ctx, 1, templateAttr(p.Template.Name))
		m.logger.Error("provisioning failed", "instance_id", p.ID, "template", p.Template.Name, "error", perr)
		m.notify(p.Owner, Event{
			Kind:        EventProvisionFailed,
			InstanceID:  p.ID,
			Template:    p.Template.Name,
			DisplayName: p.Template.Title(),
			Err:         perr,
		})
		done(nil, &ProvisionError{InstanceID: p.ID, Template: p.Template.Name, Err: perr})
		return
	}

	if err := m.Activate(ctx, p.ID, env); err != nil {
		// The reservation was removed while provisioning ran.
		m.logger.Warn("reservation gone after provisioning", "instance_id", p.ID, "error", err)
		m.teardown(ctx, p.ID, env)
		m.refund(ctx, p)
		done(nil, err)
		return
	}

	inst, _ := m.Get(p.ID)
	done(inst, nil)
}

func (m *Manager) refund(ctx context.Context, p *Pending) {
	if p.Template.CreationCost <= 0 || m.deps.Economy == nil {
		return
	}
	if err := m.deps.Economy.Deposit(ctx, p.Owner, p.Template.CreationCost); err != nil {
		m.logger.Error("failed to refund creation cost", "instance_id", p.ID, "actor", p.Owner, "error", err)
	}
}
