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

// Package session keeps per-actor session records: current instance
// membership, the location to return to, and lifetime counters.
package session

import (
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

// Location is a point in the host world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw,omitempty"`
	Pitch float32 `json:"pitch,omitempty"`
}

// Session is one actor's record. Sessions are created on first lookup and
// never deleted.
type Session struct {
	Actor                 instance.ActorID `json:"actor"`
	CurrentInstance       string           `json:"current_instance,omitempty"`
	ReturnPoint           *Location        `json:"return_point,omitempty"`
	LastCreation          time.Time        `json:"last_creation"`
	TotalCreated          int              `json:"total_created"`
	TotalJoined           int              `json:"total_joined"`
	TotalCompleted        int              `json:"total_completed"`
	CompletionsByTemplate map[string]int   `json:"completions_by_template,omitempty"`
}

// InInstance reports whether the actor is currently inside an instance.
func (s *Session) InInstance() bool {
	return s.CurrentInstance != ""
}

// RecordCompletion bumps the completion counters for a template.
func (s *Session) RecordCompletion(template string) {
	if s.CompletionsByTemplate == nil {
		s.CompletionsByTemplate = make(map[string]int)
	}
	s.CompletionsByTemplate[template]++
	s.TotalCompleted++
}

func (s *Session) clone() Session {
	c := *s
	if s.ReturnPoint != nil {
		loc := *s.ReturnPoint
		c.ReturnPoint = &loc
	}
	if s.CompletionsByTemplate != nil {
		c.CompletionsByTemplate = make(map[string]int, len(s.CompletionsByTemplate))
		for k, v := range s.CompletionsByTemplate {
			c.CompletionsByTemplate[k] = v
		}
	}
	return c
}
