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

// Package dungeon manages the lifecycle of temporary dungeon instances:
// reservation, activation, membership, expiry, completion and deletion.
//
// All mutating methods are meant to be called from a single mutation
// thread (see pkg/loop). Internal state is still guarded by a mutex so
// snapshots for autosave can be taken from other goroutines.
package dungeon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/pigeonworks-llc/go-dungeon/pkg/cooldown"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/sched"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

// Config holds the manager's tunables.
type Config struct {
	// Cooldown is the minimum time between two creations by one actor.
	// Templates may override it.
	Cooldown time.Duration
	// CompletionGrace is how long a completed instance lingers before it is
	// deleted.
	CompletionGrace time.Duration
	// WarningLead is how long before expiry occupants are warned.
	WarningLead time.Duration
	// AutoDeleteEmpty deletes an instance as soon as its last occupant
	// leaves.
	AutoDeleteEmpty bool
	// Fallback is where actors go when they have no return point.
	Fallback session.Location
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Cooldown:        300 * time.Second,
		CompletionGrace: 10 * time.Second,
		WarningLead:     60 * time.Second,
		AutoDeleteEmpty: true,
		Fallback:        session.Location{World: "world"},
	}
}

// Deps are the collaborators the manager drives. Templates, Provisioner and
// Scheduler are required.
type Deps struct {
	Templates   Templates
	Provisioner Provisioner
	Scheduler   sched.Scheduler

	Notifier    Notifier
	Rewarder    Rewarder
	Transporter Transporter
	Occupants   OccupantDirectory
	Economy     Economy

	// Workers runs provisioning and teardown. Defaults to running inline.
	Workers Workers
	// Poster returns provisioning results to the mutation thread. Defaults
	// to running inline.
	Poster sched.Poster
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMeterProvider sets the meter provider used for lifecycle counters.
// The default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		if mp != nil {
			m.meterProvider = mp
		}
	}
}

type entry struct {
	inst    *instance.Instance
	timeout time.Duration
	expiry  *expiry
	grace   sched.Task
	// finished holds the occupants released at completion; they are
	// returned home when the grace period ends.
	finished []evictee
}

// cancelTimers stops every pending callback for the entry.
func (e *entry) cancelTimers() {
	e.expiry.cancel()
	e.expiry = nil
	if e.grace != nil {
		e.grace.Cancel()
		e.grace = nil
	}
}

// Manager is the instance registry and lifecycle driver.
type Manager struct {
	cfg           Config
	deps          Deps
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	metrics       *metrics

	mu        sync.Mutex
	seq       uint64
	instances map[string]*entry
	pending   map[instance.ActorID]string

	sessions  *session.Store
	cooldowns *cooldown.Tracker
}

// New creates a manager.
func New(cfg Config, deps Deps, opts ...Option) (*Manager, error) {
	if deps.Templates == nil {
		return nil, errors.New("templates are required")
	}
	if deps.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Rewarder == nil {
		deps.Rewarder = nopRewarder{}
	}
	if deps.Transporter == nil {
		deps.Transporter = nopTransporter{}
	}
	if deps.Workers == nil {
		deps.Workers = inline{}
	}
	if deps.Poster == nil {
		deps.Poster = inline{}
	}

	m := &Manager{
		cfg:       cfg,
		deps:      deps,
		logger:    slog.New(slog.DiscardHandler),
		instances: make(map[string]*entry),
		pending:   make(map[instance.ActorID]string),
		sessions:  session.NewStore(),
	}
	m.cooldowns = cooldown.NewTracker(deps.Scheduler.Now)
	for _, opt := range opts {
		opt(m)
	}
	if m.meterProvider == nil {
		m.meterProvider = otel.GetMeterProvider()
	}
	m.metrics = newMetrics(m.meterProvider)
	return m, nil
}

func (m *Manager) now() time.Time {
	return m.deps.Scheduler.Now()
}

// Get returns a copy of the instance.
func (m *Manager) Get(id string) (*instance.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[id]
	if !ok {
		return nil, false
	}
	return e.inst.Clone(), true
}

// List returns copies of all instances sorted by id.
func (m *Manager) List() []*instance.Instance {
	m.mu.Lock()
	out := make([]*instance.Instance, 0, len(m.instances))
	for _, e := range m.instances {
		out = append(out, e.inst.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// idLess orders instance ids by their sequence number, then by name.
func idLess(a, b string) bool {
	if sa, sb := seqOf(a), seqOf(b); sa != sb {
		return sa < sb
	}
	return a < b
}

// Session returns a copy of the actor's session.
func (m *Manager) Session(actor instance.ActorID) session.Session {
	return m.sessions.Get(actor)
}

// Occupants returns the actors currently inside the instance.
func (m *Manager) Occupants(id string) []instance.ActorID {
	m.mu.Lock()
	e, ok := m.instances[id]
	var env *instance.Environment
	if ok && e.inst.Environment != nil {
		c := *e.inst.Environment
		env = &c
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.occupants(id, env)
}

// CooldownRemaining returns how long the actor must wait before creating
// an instance of the named template.
func (m *Manager) CooldownRemaining(actor instance.ActorID, templateName string) (time.Duration, error) {
	tpl, ok := m.deps.Templates.Lookup(templateName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateName)
	}
	return m.cooldowns.Remaining(actor, m.cooldownFor(tpl)), nil
}

func (m *Manager) cooldownFor(tpl template.Template) time.Duration {
	if cd := tpl.Cooldown(); cd > 0 {
		return cd
	}
	return m.cfg.Cooldown
}

// occupants asks the directory when one is configured and falls back to
// session membership otherwise. Must be called without m.mu held.
func (m *Manager) occupants(id string, env *instance.Environment) []instance.ActorID {
	if m.deps.Occupants != nil && env != nil {
		return m.deps.Occupants.Occupants(*env)
	}
	return m.sessions.Members(id)
}

func (m *Manager) notify(actor instance.ActorID, ev Event) {
	m.deps.Notifier.Notify(actor, ev)
}

func (m *Manager) notifyAll(actors []instance.ActorID, ev Event) {
	for _, actor := range actors {
		m.deps.Notifier.Notify(actor, ev)
	}
}

func eventFor(kind EventKind, inst *instance.Instance) Event {
	return Event{
		Kind:        kind,
		InstanceID:  inst.ID,
		Template:    inst.Template,
		DisplayName: inst.DisplayName,
	}
}

// transportIn records the actor's return point and moves them into env.
func (m *Manager) transportIn(actor instance.ActorID, env instance.Environment) error {
	if loc, ok := m.deps.Transporter.Location(actor); ok {
		m.sessions.Update(actor, func(s *session.Session) {
			s.ReturnPoint = &loc
		})
	}
	return m.deps.Transporter.Enter(actor, env)
}

// transportOut sends the actor to their return point or the fallback.
func (m *Manager) transportOut(actor instance.ActorID, ret *session.Location) {
	loc := m.cfg.Fallback
	if ret != nil {
		loc = *ret
	}
	if err := m.deps.Transporter.Teleport(actor, loc); err != nil {
		m.logger.Warn("failed to return actor", "actor", actor, "world", loc.World, "error", err)
	}
}

// teardown releases an environment on the workers.
func (m *Manager) teardown(ctx context.Context, id string, env instance.Environment) {
	ctx = context.WithoutCancel(ctx)
	m.deps.Workers.Go(func() { m.release(ctx, id, env) })
}

// release tears the environment down on the calling goroutine.
func (m *Manager) release(ctx context.Context, id string, env instance.Environment) {
	if err := m.deps.Provisioner.Teardown(ctx, env); err != nil {
		m.logger.Error("failed to tear down environment",
			"instance_id", id, "environment", env.Name, "error", err)
	}
}
