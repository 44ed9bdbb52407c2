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
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

// Templates resolves template definitions by name.
type Templates interface {
	Lookup(name string) (template.Template, bool)
}

// Provisioner creates and destroys the isolated environment behind an
// instance. Calls may be slow; the manager only invokes them from Workers.
type Provisioner interface {
	Provision(ctx context.Context, world, instanceID string) (instance.Environment, error)
	Teardown(ctx context.Context, env instance.Environment) error
	Resolve(ctx context.Context, name string) (instance.Environment, error)
}

// OccupantDirectory lists the actors physically present in an environment.
type OccupantDirectory interface {
	Occupants(env instance.Environment) []instance.ActorID
}

// Notifier delivers events to actors. It never receives formatted text.
type Notifier interface {
	Notify(actor instance.ActorID, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(actor instance.ActorID, event Event)

// Notify calls f.
func (f NotifierFunc) Notify(actor instance.ActorID, event Event) { f(actor, event) }

// Rewarder grants completion rewards.
type Rewarder interface {
	Reward(ctx context.Context, report CompletionReport) error
}

// Transporter moves actors between the host world and environments.
type Transporter interface {
	Location(actor instance.ActorID) (session.Location, bool)
	Enter(actor instance.ActorID, env instance.Environment) error
	Teleport(actor instance.ActorID, loc session.Location) error
}

// Economy charges creation costs.
type Economy interface {
	Withdraw(ctx context.Context, actor instance.ActorID, amount float64) error
	Deposit(ctx context.Context, actor instance.ActorID, amount float64) error
}

// Workers runs slow work off the mutation thread.
type Workers interface {
	Go(fn func())
}

// EventKind names a notification.
type EventKind string

const (
	EventCreated         EventKind = "created"
	EventProvisionFailed EventKind = "provision_failed"
	EventJoined          EventKind = "joined"
	EventLeft            EventKind = "left"
	EventWarning         EventKind = "warning"
	EventTimeout         EventKind = "timeout"
	EventCompleted       EventKind = "completed"
	EventKicked          EventKind = "kicked"
	EventInvited         EventKind = "invited"
	EventDeleted         EventKind = "deleted"
)

// Event is the context passed to the Notifier.
type Event struct {
	Kind        EventKind
	InstanceID  string
	Template    string
	DisplayName string
	// Subject is the actor the event is about, when it differs from the
	// recipient (joins, leaves).
	Subject   instance.ActorID
	Remaining time.Duration
	Elapsed   time.Duration
	Err       error
}

// CompletionReport is handed to the Rewarder.
type CompletionReport struct {
	Instance  *instance.Instance
	Occupants []instance.ActorID
	Elapsed   time.Duration
}

type nopNotifier struct{}

func (nopNotifier) Notify(instance.ActorID, Event) {}

type nopRewarder struct{}

func (nopRewarder) Reward(context.Context, CompletionReport) error { return nil }

type nopTransporter struct{}

func (nopTransporter) Location(instance.ActorID) (session.Location, bool) {
	return session.Location{}, false
}
func (nopTransporter) Enter(instance.ActorID, instance.Environment) error { return nil }
func (nopTransporter) Teleport(instance.ActorID, session.Location) error  { return nil }

// inline runs work and posted callbacks on the calling goroutine.
type inline struct{}

func (inline) Go(fn func())        { fn() }
func (inline) Post(fn func()) bool { fn(); return true }
