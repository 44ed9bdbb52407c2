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

// Package console is a line-oriented front end for the instance manager.
// Each line is one player or operator command; commands run on the event
// loop so they never race with timers or provisioning results.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/loop"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// TemplateLister lists the available templates.
type TemplateLister interface {
	List() []template.Template
}

type command struct {
	usage   string
	minArgs int
	run     func(ctx context.Context, args []string) error
}

// Console executes text commands against a Manager.
type Console struct {
	mgr       *dungeon.Manager
	loop      *loop.Loop
	tracker   *Tracker
	templates TemplateLister
	save      func(ctx context.Context) error

	mu  sync.Mutex
	out io.Writer

	commands map[string]command
}

// Option configures a Console.
type Option func(*Console)

// WithTemplates enables the templates command.
func WithTemplates(l TemplateLister) Option {
	return func(c *Console) { c.templates = l }
}

// WithSaver enables the save command.
func WithSaver(fn func(ctx context.Context) error) Option {
	return func(c *Console) { c.save = fn }
}

// New creates a console. The tracker must be the Transporter the manager
// was built with.
func New(mgr *dungeon.Manager, l *loop.Loop, tracker *Tracker, out io.Writer, opts ...Option) *Console {
	c := &Console{mgr: mgr, loop: l, tracker: tracker, out: out}
	for _, opt := range opts {
		opt(c)
	}
	c.commands = map[string]command{
		"at":        {"at <actor> <world> <x> <y> <z>", 5, c.cmdAt},
		"create":    {"create <actor> <template>", 2, c.cmdCreate},
		"join":      {"join <actor> <instance>", 2, c.cmdJoin},
		"leave":     {"leave <actor>", 1, c.cmdLeave},
		"complete":  {"complete <instance>", 1, c.cmdComplete},
		"delete":    {"delete <instance>", 1, c.cmdDelete},
		"deleteall": {"deleteall", 0, c.cmdDeleteAll},
		"invite":    {"invite <instance> <actor>", 2, c.cmdInvite},
		"kick":      {"kick <instance> <actor>", 2, c.cmdKick},
		"public":    {"public <instance> on|off", 2, c.cmdPublic},
		"rename":    {"rename <instance> <name...>", 2, c.cmdRename},
		"extend":    {"extend <instance> <duration>", 2, c.cmdExtend},
		"list":      {"list", 0, c.cmdList},
		"templates": {"templates", 0, c.cmdTemplates},
		"session":   {"session <actor>", 1, c.cmdSession},
		"save":      {"save", 0, c.cmdSave},
		"help":      {"help", 0, c.cmdHelp},
	}
	return c
}

// Run executes lines from in until EOF, quit, or ctx is done. Command
// errors are printed and do not stop the console.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.Exec(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if errors.Is(err, loop.ErrStopped) {
			return err
		}
		if err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

// Exec runs a single command line. Blank lines and comments are ignored.
func (c *Console) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	if name == "quit" || name == "exit" {
		return ErrQuit
	}

	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	if len(args) < cmd.minArgs {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, args)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// call runs fn on the event loop and returns its error.
func (c *Console) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := c.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

func (c *Console) cmdAt(ctx context.Context, args []string) error {
	coords := make([]float64, 3)
	for i, s := range args[2:5] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", s, err)
		}
		coords[i] = v
	}
	c.tracker.Place(instance.ActorID(args[0]), session.Location{
		World: args[1], X: coords[0], Y: coords[1], Z: coords[2],
	})
	return nil
}

func (c *Console) cmdCreate(ctx context.Context, args []string) error {
	actor := instance.ActorID(args[0])
	return c.call(ctx, func() error {
		p, err := c.mgr.Start(ctx, args[1], actor, func(inst *instance.Instance, err error) {
			if err != nil {
				c.printf("creation of %s for %s failed: %v\n", args[1], actor, err)
			}
		})
		if err != nil {
			return err
		}
		c.printf("reserved %s for %s\n", p.ID, actor)
		return nil
	})
}

func (c *Console) cmdJoin(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		return c.mgr.Join(ctx, instance.ActorID(args[0]), args[1])
	})
}

func (c *Console) cmdLeave(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		if !c.mgr.Leave(ctx, instance.ActorID(args[0])) {
			return fmt.Errorf("%s is not in an instance", args[0])
		}
		return nil
	})
}

func (c *Console) cmdComplete(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		return c.mgr.Complete(ctx, args[0])
	})
}

func (c *Console) cmdDelete(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		if !c.mgr.ForceDelete(ctx, args[0]) {
			return fmt.Errorf("%w: %s", dungeon.ErrNotFound, args[0])
		}
		c.printf("deleted %s\n", args[0])
		return nil
	})
}

func (c *Console) cmdDeleteAll(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		c.printf("deleted %d instance(s)\n", c.mgr.ForceDeleteAll(ctx))
		return nil
	})
}

func (c *Console) cmdInvite(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		return c.mgr.Invite(ctx, args[0], instance.ActorID(args[1]))
	})
}

func (c *Console) cmdKick(ctx context.Context, args []string) error {
	return c.call(ctx, func() error {
		return c.mgr.Kick(ctx, args[0], instance.ActorID(args[1]))
	})
}

func (c *Console) cmdPublic(ctx context.Context, args []string) error {
	var public bool
	switch args[1] {
	case "on", "true", "yes":
		public = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("usage: public <instance> on|off")
	}
	return c.call(ctx, func() error {
		return c.mgr.SetPublic(ctx, args[0], public)
	})
}

func (c *Console) cmdRename(ctx context.Context, args []string) error {
	name := strings.Join(args[1:], " ")
	return c.call(ctx, func() error {
		return c.mgr.SetDisplayName(ctx, args[0], name)
	})
}

func (c *Console) cmdExtend(ctx context.Context, args []string) error {
	d, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[1], err)
	}
	return c.call(ctx, func() error {
		return c.mgr.Extend(ctx, args[0], d)
	})
}

func (c *Console) cmdList(ctx context.Context, args []string) error {
	var (
		insts     []*instance.Instance
		occupants = make(map[string]int)
	)
	if err := c.call(ctx, func() error {
		insts = c.mgr.List()
		for _, inst := range insts {
			occupants[inst.ID] = len(c.mgr.Occupants(inst.ID))
		}
		return nil
	}); err != nil {
		return err
	}

	if len(insts) == 0 {
		c.printf("no instances\n")
		return nil
	}
	for _, inst := range insts {
		remaining := "-"
		if inst.State == instance.StateRunning {
			remaining = time.Until(inst.ExpiresAt).Round(time.Second).String()
		}
		c.printf("%s\t%s\towner=%s\toccupants=%d\tpublic=%t\tremaining=%s\n",
			inst.ID, inst.State, inst.Owner, occupants[inst.ID], inst.Public, remaining)
	}
	return nil
}

func (c *Console) cmdTemplates(ctx context.Context, args []string) error {
	if c.templates == nil {
		return errors.New("no template catalog configured")
	}
	for _, t := range c.templates.List() {
		c.printf("%s\t%s\ttimeout=%s\n", t.Name, t.Title(), t.Timeout())
	}
	return nil
}

func (c *Console) cmdSession(ctx context.Context, args []string) error {
	s := c.mgr.Session(instance.ActorID(args[0]))
	current := s.CurrentInstance
	if current == "" {
		current = "-"
	}
	c.printf("%s\tcurrent=%s\tcreated=%d\tjoined=%d\tcompleted=%d\n",
		s.Actor, current, s.TotalCreated, s.TotalJoined, s.TotalCompleted)

	names := make([]string, 0, len(s.CompletionsByTemplate))
	for name := range s.CompletionsByTemplate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.printf("  %s: %d\n", name, s.CompletionsByTemplate[name])
	}
	return nil
}

func (c *Console) cmdSave(ctx context.Context, args []string) error {
	if c.save == nil {
		return errors.New("no state store configured")
	}
	if err := c.save(ctx); err != nil {
		return err
	}
	c.printf("state saved\n")
	return nil
}

func (c *Console) cmdHelp(ctx context.Context, args []string) error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.printf("  %s\n", c.commands[name].usage)
	}
	c.printf("  quit\n")
	return nil
}
