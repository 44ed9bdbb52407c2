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

// Package state provides the versioned snapshot format for the instance
// registry and its durable stores.
package state

import (
	"context"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/cooldown"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
)

// CurrentVersion is the current version of the snapshot format.
const CurrentVersion = "1.0"

// Snapshot is everything needed to rebuild the registry after a restart.
type Snapshot struct {
	Version   string            `json:"version"`
	SavedAt   time.Time         `json:"saved_at"`
	IDCounter uint64            `json:"id_counter"`
	Instances []*InstanceRecord `json:"instances"`
	Sessions  []session.Session `json:"sessions"`
	Cooldowns []cooldown.Record `json:"cooldowns"`
}

// InstanceRecord is the persisted form of an instance. The scheduled expiry
// handle is not stored; it is re-armed on load.
type InstanceRecord struct {
	ID          string                `json:"id"`
	Template    string                `json:"template"`
	Owner       instance.ActorID      `json:"owner"`
	Allowed     []instance.ActorID    `json:"allowed,omitempty"`
	DisplayName string                `json:"display_name"`
	Public      bool                  `json:"public"`
	Environment *instance.Environment `json:"environment,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	State       instance.State        `json:"state"`
}

// NewSnapshot returns an empty snapshot at the current version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   CurrentVersion,
		Instances: []*InstanceRecord{},
		Sessions:  []session.Session{},
		Cooldowns: []cooldown.Record{},
	}
}

// FindInstance returns the record with the given id.
func (s *Snapshot) FindInstance(id string) (*InstanceRecord, bool) {
	for _, rec := range s.Instances {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// RemoveInstance drops the record with the given id and clears any session
// pointing at it. It reports whether a record was removed.
func (s *Snapshot) RemoveInstance(id string) bool {
	kept := make([]*InstanceRecord, 0, len(s.Instances))
	removed := false
	for _, rec := range s.Instances {
		if rec.ID == id {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	s.Instances = kept

	for i := range s.Sessions {
		if s.Sessions[i].CurrentInstance == id {
			s.Sessions[i].CurrentInstance = ""
		}
	}
	return removed
}

// Store persists snapshots.
type Store interface {
	// Load returns the last saved snapshot, or an empty one if none exists.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}
