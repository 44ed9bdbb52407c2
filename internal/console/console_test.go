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

package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/loop"
	"github.com/pigeonworks-llc/go-dungeon/pkg/provision"
	"github.com/pigeonworks-llc/go-dungeon/pkg/sched"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	console *Console
	mgr     *dungeon.Manager
	clock   *sched.Manual
	tracker *Tracker
	out     *syncBuffer
	worlds  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	pcfg := &provision.Config{
		TemplatesDir: filepath.Join(root, "templates"),
		WorldsDir:    filepath.Join(root, "worlds"),
		LockDir:      filepath.Join(root, "locks"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(pcfg.TemplatesDir, "ruins"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pcfg.TemplatesDir, "ruins", "level.dat"), []byte("level"), 0o644))
	prov, err := provision.New(pcfg, nil)
	require.NoError(t, err)

	catalog, err := template.NewCatalog(template.Template{
		Name: "ruins", DisplayName: "Sunken Ruins", TimeoutSeconds: 3600,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New()
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	out := &syncBuffer{}
	tracker := NewTracker()
	clock := sched.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	mgr, err := dungeon.New(dungeon.DefaultConfig(), dungeon.Deps{
		Templates:   catalog,
		Provisioner: prov,
		Scheduler:   clock,
		Notifier:    NewPrinter(out),
		Transporter: tracker,
		Occupants:   tracker,
		Poster:      l,
	})
	require.NoError(t, err)

	return &fixture{
		console: New(mgr, l, tracker, out, WithTemplates(catalog)),
		mgr:     mgr,
		clock:   clock,
		tracker: tracker,
		out:     out,
		worlds:  pcfg.WorldsDir,
	}
}

func (f *fixture) exec(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, f.console.Exec(context.Background(), line), line)
	}
}

func TestConsole_Lifecycle(t *testing.T) {
	f := newFixture(t)

	f.exec(t,
		"at P1 world 10 64 -3",
		"create P1 ruins",
		"list",
	)
	assert.Contains(t, f.out.String(), "reserved 001-ruins for P1")
	assert.Contains(t, f.out.String(), "Sunken Ruins is ready (001-ruins)")
	assert.DirExists(t, filepath.Join(f.worlds, "dungeon-001-ruins"))

	where, ok := f.tracker.Where("P1")
	require.True(t, ok)
	assert.Equal(t, "dungeon-001-ruins", where)

	f.exec(t,
		"invite 001-ruins P2",
		"join P2 001-ruins",
		"complete 001-ruins",
		"session P2",
	)
	out := f.out.String()
	assert.Contains(t, out, "[P2] P1 invited you to Sunken Ruins (001-ruins)")
	assert.Contains(t, out, "[P1] P2 joined Sunken Ruins")
	assert.Contains(t, out, "Sunken Ruins completed in 0s")
	assert.Contains(t, out, "  ruins: 1")

	f.clock.Advance(10 * time.Second)
	_, exists := f.mgr.Get("001-ruins")
	assert.False(t, exists)

	loc, ok := f.tracker.Location("P1")
	require.True(t, ok)
	assert.Equal(t, session.Location{World: "world", X: 10, Y: 64, Z: -3}, loc)
	_, inside := f.tracker.Where("P1")
	assert.False(t, inside)
	assert.NoDirExists(t, filepath.Join(f.worlds, "dungeon-001-ruins"))
}

func TestConsole_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorContains(t, f.console.Exec(ctx, "dance"), "unknown command")
	assert.ErrorContains(t, f.console.Exec(ctx, "join P1"), "usage: join")
	assert.ErrorIs(t, f.console.Exec(ctx, "create P1 missing"), dungeon.ErrTemplateNotFound)
	assert.ErrorIs(t, f.console.Exec(ctx, "delete 999-nowhere"), dungeon.ErrNotFound)
	assert.ErrorContains(t, f.console.Exec(ctx, "leave P1"), "not in an instance")
	assert.ErrorContains(t, f.console.Exec(ctx, "extend 001-ruins soon"), "invalid duration")
	assert.ErrorContains(t, f.console.Exec(ctx, "save"), "no state store")
	assert.ErrorIs(t, f.console.Exec(ctx, "quit"), ErrQuit)
	assert.NoError(t, f.console.Exec(ctx, "# comment"))
}

func TestConsole_Run(t *testing.T) {
	f := newFixture(t)
	script := strings.Join([]string{
		"templates",
		"create P1 ruins",
		"public 001-ruins on",
		"join P3 001-ruins",
		"rename 001-ruins Friday run",
		"bogus",
		"list",
		"quit",
		"create P9 ruins",
	}, "\n")

	require.NoError(t, f.console.Run(context.Background(), strings.NewReader(script)))

	out := f.out.String()
	assert.Contains(t, out, "ruins\tSunken Ruins\ttimeout=1h0m0s")
	assert.Contains(t, out, "error: unknown command \"bogus\"")
	assert.Contains(t, out, "occupants=2\tpublic=true")
	assert.NotContains(t, out, "P9")

	inst, ok := f.mgr.Get("001-ruins")
	require.True(t, ok)
	assert.Equal(t, "Friday run", inst.DisplayName)
	assert.Equal(t, []instance.ActorID{"P1", "P3"}, f.mgr.Occupants("001-ruins"))
}
