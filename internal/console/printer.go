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
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

var (
	actorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
)

// Printer is a dungeon.Notifier that writes one line per event.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter writes notifications to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Notify formats ev for actor.
func (p *Printer) Notify(actor instance.ActorID, ev dungeon.Event) {
	line := Describe(ev)
	switch ev.Kind {
	case dungeon.EventWarning, dungeon.EventTimeout:
		line = warnStyle.Render(line)
	case dungeon.EventProvisionFailed, dungeon.EventKicked:
		line = errorStyle.Render(line)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", actorStyle.Render("["+string(actor)+"]"), line)
}

// Describe renders an event as a sentence.
func Describe(ev dungeon.Event) string {
	name := ev.DisplayName
	if name == "" {
		name = ev.Template
	}
	switch ev.Kind {
	case dungeon.EventCreated:
		return fmt.Sprintf("%s is ready (%s)", name, ev.InstanceID)
	case dungeon.EventProvisionFailed:
		return fmt.Sprintf("could not create %s: %v", name, ev.Err)
	case dungeon.EventJoined:
		return fmt.Sprintf("%s joined %s", ev.Subject, name)
	case dungeon.EventLeft:
		return fmt.Sprintf("%s left %s", ev.Subject, name)
	case dungeon.EventWarning:
		return fmt.Sprintf("%s closes in %s", name, ev.Remaining.Round(time.Second))
	case dungeon.EventTimeout:
		return fmt.Sprintf("%s ran out of time", name)
	case dungeon.EventCompleted:
		return fmt.Sprintf("%s completed in %s", name, ev.Elapsed.Round(time.Second))
	case dungeon.EventKicked:
		return fmt.Sprintf("you were removed from %s", name)
	case dungeon.EventInvited:
		return fmt.Sprintf("%s invited you to %s (%s)", ev.Subject, name, ev.InstanceID)
	case dungeon.EventDeleted:
		return fmt.Sprintf("%s was closed", name)
	default:
		return fmt.Sprintf("%s: %s", ev.Kind, name)
	}
}
