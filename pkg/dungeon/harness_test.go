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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/sched"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var home = session.Location{World: "world", X: 10, Y: 64, Z: -3}

type fakeProvisioner struct {
	mu        sync.Mutex
	live      map[string]instance.Environment
	teardowns []string
	failWith  error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{live: make(map[string]instance.Environment)}
}

func (p *fakeProvisioner) Provision(ctx context.Context, world, id string) (instance.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return instance.Environment{}, p.failWith
	}
	env := instance.Environment{Name: "dungeon-" + id, Path: "/worlds/dungeon-" + id}
	p.live[env.Name] = env
	return env, nil
}

func (p *fakeProvisioner) Teardown(ctx context.Context, env instance.Environment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, env.Name)
	p.teardowns = append(p.teardowns, env.Name)
	return nil
}

func (p *fakeProvisioner) Resolve(ctx context.Context, name string) (instance.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, ok := p.live[name]
	if !ok {
		return instance.Environment{}, errors.New("no such environment")
	}
	return env, nil
}

func (p *fakeProvisioner) teardownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.teardowns)
}

type notice struct {
	actor instance.ActorID
	event Event
}

type recorder struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recorder) Notify(actor instance.ActorID, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{actor: actor, event: ev})
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, nt := range r.notices {
		if nt.event.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) to(actor instance.ActorID, kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, nt := range r.notices {
		if nt.actor == actor && nt.event.Kind == kind {
			out = append(out, nt.event)
		}
	}
	return out
}

type fakeTransporter struct {
	mu        sync.Mutex
	inside    map[instance.ActorID]string
	teleports map[instance.ActorID][]session.Location
}

func newFakeTransporter() *fakeTransporter {
	return &fakeTransporter{
		inside:    make(map[instance.ActorID]string),
		teleports: make(map[instance.ActorID][]session.Location),
	}
}

func (f *fakeTransporter) Location(actor instance.ActorID) (session.Location, bool) {
	return home, true
}

func (f *fakeTransporter) Enter(actor instance.ActorID, env instance.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inside[actor] = env.Name
	return nil
}

func (f *fakeTransporter) Teleport(actor instance.ActorID, loc session.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inside, actor)
	f.teleports[actor] = append(f.teleports[actor], loc)
	return nil
}

func (f *fakeTransporter) lastTeleport(actor instance.ActorID) (session.Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	locs := f.teleports[actor]
	if len(locs) == 0 {
		return session.Location{}, false
	}
	return locs[len(locs)-1], true
}

type fakeRewarder struct {
	mu      sync.Mutex
	reports []CompletionReport
}

func (f *fakeRewarder) Reward(ctx context.Context, report CompletionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

type fakeEconomy struct {
	mu       sync.Mutex
	balances map[instance.ActorID]float64
}

func (f *fakeEconomy) Withdraw(ctx context.Context, actor instance.ActorID, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[actor] < amount {
		return errors.New("balance too low")
	}
	f.balances[actor] -= amount
	return nil
}

func (f *fakeEconomy) Deposit(ctx context.Context, actor instance.ActorID, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[actor] += amount
	return nil
}

func (f *fakeEconomy) balance(actor instance.ActorID) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[actor]
}

type harness struct {
	m         *Manager
	clock     *sched.Manual
	prov      *fakeProvisioner
	notes     *recorder
	transport *fakeTransporter
	rewards   *fakeRewarder
	economy   *fakeEconomy
}

func testTemplates(t *testing.T) *template.Catalog {
	t.Helper()
	catalog, err := template.NewCatalog(
		template.Template{Name: "ruins", DisplayName: "Sunken Ruins", TimeoutSeconds: 3600},
		template.Template{Name: "crypt", TimeoutSeconds: 100, CooldownSeconds: 30},
		template.Template{Name: "vault", TimeoutSeconds: 600, CreationCost: 50},
	)
	require.NoError(t, err)
	return catalog
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		clock:     sched.NewManual(t0),
		prov:      newFakeProvisioner(),
		notes:     &recorder{},
		transport: newFakeTransporter(),
		rewards:   &fakeRewarder{},
		economy:   &fakeEconomy{balances: make(map[instance.ActorID]float64)},
	}
	h.m = h.newManager(t, mutate...)
	return h
}

// newManager builds a second manager sharing the harness collaborators.
func (h *harness) newManager(t *testing.T, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := New(cfg, Deps{
		Templates:   testTemplates(t),
		Provisioner: h.prov,
		Scheduler:   h.clock,
		Notifier:    h.notes,
		Rewarder:    h.rewards,
		Transporter: h.transport,
		Economy:     h.economy,
	})
	require.NoError(t, err)
	return m
}

// start creates and activates an instance synchronously.
func (h *harness) start(t *testing.T, templateName string, owner instance.ActorID) *instance.Instance {
	t.Helper()
	var (
		got    *instance.Instance
		gotErr error
	)
	_, err := h.m.Start(context.Background(), templateName, owner, func(inst *instance.Instance, err error) {
		got, gotErr = inst, err
	})
	require.NoError(t, err)
	require.NoError(t, gotErr)
	require.NotNil(t, got)
	return got
}
