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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

func TestLifecycle_CompleteThenGrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	p, err := h.m.Create(ctx, "ruins", "P1")
	require.NoError(t, err)
	require.Equal(t, "001-ruins", p.ID)
	inst, _ := h.m.Get(p.ID)
	require.Equal(t, instance.StateCreating, inst.State)

	env, err := h.prov.Provision(ctx, "ruins", p.ID)
	require.NoError(t, err)
	require.NoError(t, h.m.Activate(ctx, p.ID, env))

	inst, _ = h.m.Get(p.ID)
	assert.Equal(t, instance.StateRunning, inst.State)
	assert.Equal(t, t0.Add(3600*time.Second), inst.ExpiresAt)
	assert.Equal(t, []instance.ActorID{"P1"}, h.m.Occupants(p.ID))

	h.clock.Advance(400 * time.Second)
	require.NoError(t, h.m.Complete(ctx, p.ID))

	inst, _ = h.m.Get(p.ID)
	assert.Equal(t, instance.StateCompleted, inst.State)

	sess := h.m.Session("P1")
	assert.Equal(t, 1, sess.CompletionsByTemplate["ruins"])
	assert.Equal(t, 1, sess.TotalCompleted)
	assert.Empty(t, sess.CurrentInstance, "membership ends with the run")
	assert.Empty(t, h.m.Occupants(p.ID))

	completed := h.notes.to("P1", EventCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 400*time.Second, completed[0].Elapsed)

	require.Len(t, h.rewards.reports, 1)
	assert.Equal(t, []instance.ActorID{"P1"}, h.rewards.reports[0].Occupants)
	assert.Equal(t, 400*time.Second, h.rewards.reports[0].Elapsed)

	h.clock.Advance(9 * time.Second)
	_, exists := h.m.Get(p.ID)
	assert.True(t, exists, "instance lingers during the grace period")

	h.clock.Advance(time.Second)
	_, exists = h.m.Get(p.ID)
	assert.False(t, exists)

	assert.Empty(t, h.m.Session("P1").CurrentInstance)
	loc, ok := h.transport.lastTeleport("P1")
	require.True(t, ok)
	assert.Equal(t, home, loc)
	assert.Equal(t, 1, h.prov.teardownCount())

	// The expiry timer was cancelled on completion.
	h.clock.Advance(time.Hour)
	assert.Zero(t, h.notes.count(EventTimeout))
	assert.Zero(t, h.clock.Pending())
}

func TestComplete_GracePeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("occupants cannot leave a finished run", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "ruins", "P1")
		require.NoError(t, h.m.Complete(ctx, inst.ID))

		assert.False(t, h.m.Leave(ctx, "P1"))
		_, teleported := h.transport.lastTeleport("P1")
		assert.False(t, teleported, "returned only when the grace period ends")

		h.clock.Advance(DefaultConfig().CompletionGrace)
		loc, ok := h.transport.lastTeleport("P1")
		require.True(t, ok)
		assert.Equal(t, home, loc)
		assert.Len(t, h.notes.to("P1", EventDeleted), 1)
	})

	t.Run("actors who moved on are left alone", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "ruins", "P1")
		require.NoError(t, h.m.Invite(ctx, inst.ID, "P2"))
		require.NoError(t, h.m.Join(ctx, "P2", inst.ID))
		require.NoError(t, h.m.Complete(ctx, inst.ID))

		next := h.start(t, "crypt", "P2")
		h.clock.Advance(DefaultConfig().CompletionGrace)

		_, exists := h.m.Get(inst.ID)
		assert.False(t, exists)
		assert.Equal(t, next.ID, h.m.Session("P2").CurrentInstance)
		_, teleported := h.transport.lastTeleport("P2")
		assert.False(t, teleported)
		assert.Empty(t, h.notes.to("P2", EventDeleted))

		_, teleported = h.transport.lastTeleport("P1")
		assert.True(t, teleported)
	})
}

func TestComplete_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.m.Complete(ctx, "999-nowhere"), ErrNotFound)

	p, err := h.m.Create(ctx, "ruins", "P1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.m.Complete(ctx, p.ID), ErrNotRunning)

	inst := h.start(t, "crypt", "P2")
	require.NoError(t, h.m.Complete(ctx, inst.ID))
	assert.ErrorIs(t, h.m.Complete(ctx, inst.ID), ErrNotRunning)
	assert.Len(t, h.rewards.reports, 1)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("is idempotent", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "ruins", "P1")

		assert.True(t, h.m.Delete(ctx, inst.ID))
		assert.False(t, h.m.Delete(ctx, inst.ID))
		assert.False(t, h.m.Delete(ctx, "999-nowhere"))

		assert.Equal(t, 1, h.prov.teardownCount())
		assert.Len(t, h.notes.to("P1", EventDeleted), 1)
		assert.Empty(t, h.m.Session("P1").CurrentInstance)
	})

	t.Run("evicts every member", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "ruins", "P1")
		require.NoError(t, h.m.SetPublic(ctx, inst.ID, true))
		require.NoError(t, h.m.Join(ctx, "P2", inst.ID))
		require.NoError(t, h.m.Join(ctx, "P3", inst.ID))

		require.True(t, h.m.Delete(ctx, inst.ID))
		for _, actor := range []instance.ActorID{"P1", "P2", "P3"} {
			assert.Empty(t, h.m.Session(actor).CurrentInstance, actor)
			_, ok := h.transport.lastTeleport(actor)
			assert.True(t, ok, actor)
		}
	})

	t.Run("removes a pending reservation", func(t *testing.T) {
		h := newHarness(t)
		p, err := h.m.Create(ctx, "ruins", "P1")
		require.NoError(t, err)

		assert.True(t, h.m.Delete(ctx, p.ID))
		assert.Zero(t, h.prov.teardownCount())

		_, err = h.m.Create(ctx, "ruins", "P1")
		assert.NoError(t, err)
	})

	t.Run("force delete all", func(t *testing.T) {
		h := newHarness(t)
		h.start(t, "ruins", "P1")
		h.start(t, "crypt", "P2")
		_, err := h.m.Create(ctx, "vault", "P3")
		require.NoError(t, err)

		assert.Equal(t, 3, h.m.ForceDeleteAll(ctx))
		assert.Empty(t, h.m.List())
		assert.Zero(t, h.clock.Pending())
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("warns then times out", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "crypt", "P1")
		require.Equal(t, t0.Add(100*time.Second), inst.ExpiresAt)

		h.clock.Advance(49 * time.Second)
		assert.Zero(t, h.notes.count(EventWarning))

		h.clock.Advance(time.Second)
		warnings := h.notes.to("P1", EventWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, 50*time.Second, warnings[0].Remaining)

		h.clock.Advance(50 * time.Second)
		assert.Len(t, h.notes.to("P1", EventTimeout), 1)
		assert.Empty(t, h.notes.to("P1", EventDeleted))

		_, exists := h.m.Get(inst.ID)
		assert.False(t, exists)
		assert.Empty(t, h.m.Session("P1").CurrentInstance)
		assert.Equal(t, 1, h.prov.teardownCount())
		assert.Zero(t, h.clock.Pending())
	})

	t.Run("delete cancels the timers", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "crypt", "P1")
		require.True(t, h.m.Delete(ctx, inst.ID))

		h.clock.Advance(time.Hour)
		assert.Zero(t, h.notes.count(EventWarning))
		assert.Zero(t, h.notes.count(EventTimeout))
		assert.Equal(t, 1, h.prov.teardownCount())
	})

	t.Run("racing delete tears down once", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			h := newHarness(t)
			inst := h.start(t, "crypt", "P1")
			h.clock.Advance(99 * time.Second)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				h.clock.Advance(time.Second)
			}()
			go func() {
				defer wg.Done()
				h.m.Delete(ctx, inst.ID)
			}()
			wg.Wait()

			assert.Equal(t, 1, h.prov.teardownCount())
			terminal := len(h.notes.to("P1", EventTimeout)) + len(h.notes.to("P1", EventDeleted))
			assert.Equal(t, 1, terminal, "one end-of-instance notice per occupant")
			_, exists := h.m.Get(inst.ID)
			assert.False(t, exists)
		}
	})

	t.Run("delete while timing out notifies once", func(t *testing.T) {
		h := newHarness(t)
		var (
			m        *Manager
			reDelete []bool
		)
		m, err := New(DefaultConfig(), Deps{
			Templates:   testTemplates(t),
			Provisioner: h.prov,
			Scheduler:   h.clock,
			Transporter: h.transport,
			Notifier: NotifierFunc(func(actor instance.ActorID, ev Event) {
				h.notes.Notify(actor, ev)
				if ev.Kind == EventTimeout {
					reDelete = append(reDelete, m.Delete(ctx, ev.InstanceID))
				}
			}),
		})
		require.NoError(t, err)
		h.m = m

		inst := h.start(t, "crypt", "P1")
		h.clock.Advance(100 * time.Second)

		assert.Equal(t, []bool{false}, reDelete)
		assert.Len(t, h.notes.to("P1", EventTimeout), 1)
		assert.Empty(t, h.notes.to("P1", EventDeleted))
		assert.Equal(t, 1, h.prov.teardownCount())
		_, exists := h.m.Get(inst.ID)
		assert.False(t, exists)
	})

	t.Run("setting a past expiry fires immediately", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "ruins", "P1")

		require.NoError(t, h.m.SetExpiration(ctx, inst.ID, t0.Add(-time.Second)))
		assert.Len(t, h.notes.to("P1", EventTimeout), 1)
		_, exists := h.m.Get(inst.ID)
		assert.False(t, exists)
	})

	t.Run("extend re-arms the timers", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(t, "crypt", "P1")

		require.NoError(t, h.m.Extend(ctx, inst.ID, 100*time.Second))
		got, _ := h.m.Get(inst.ID)
		assert.Equal(t, t0.Add(200*time.Second), got.ExpiresAt)

		h.clock.Advance(100 * time.Second)
		assert.Zero(t, h.notes.count(EventTimeout))

		h.clock.Advance(100 * time.Second)
		assert.Equal(t, 1, h.notes.count(EventTimeout))
		assert.Equal(t, 1, h.notes.count(EventWarning))
	})

	t.Run("expiry changes need a running instance", func(t *testing.T) {
		h := newHarness(t)
		p, err := h.m.Create(ctx, "ruins", "P1")
		require.NoError(t, err)

		assert.ErrorIs(t, h.m.SetExpiration(ctx, p.ID, t0.Add(time.Hour)), ErrNotRunning)
		assert.ErrorIs(t, h.m.Extend(ctx, "999-nowhere", time.Minute), ErrNotFound)
	})
}

func TestWarningDelay(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		lead      time.Duration
		want      time.Duration
	}{
		{3600 * time.Second, 60 * time.Second, 3540 * time.Second},
		{100 * time.Second, 60 * time.Second, 50 * time.Second},
		{30 * time.Second, 60 * time.Second, 15 * time.Second},
		{0, 60 * time.Second, 0},
		{10 * time.Second, 0, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, warningDelay(tt.remaining, tt.lead), "remaining=%s lead=%s", tt.remaining, tt.lead)
	}
}
