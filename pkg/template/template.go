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

// Package template loads dungeon template definitions from a TOML or YAML
// catalog file and keeps them current while the file changes.
package template

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Template describes how instances of one dungeon are created.
type Template struct {
	Name            string  `toml:"name" yaml:"name"`
	DisplayName     string  `toml:"display_name" yaml:"display_name"`
	Description     string  `toml:"description" yaml:"description"`
	World           string  `toml:"world" yaml:"world"`
	TimeoutSeconds  int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	CooldownSeconds int     `toml:"cooldown_seconds" yaml:"cooldown_seconds"`
	CreationCost    float64 `toml:"creation_cost" yaml:"creation_cost"`
}

// Timeout is the time budget of an instance.
func (t Template) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Cooldown returns the per-template cooldown override, or zero.
func (t Template) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

// WorldName is the source world directory; it defaults to the template name.
func (t Template) WorldName() string {
	if t.World != "" {
		return t.World
	}
	return t.Name
}

// Title returns the display name, falling back to the template name.
func (t Template) Title() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// Validate checks the template for unusable values.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if !safeName(t.Name) {
		return fmt.Errorf("template %q: name must be a single word without path separators or \"..\"", t.Name)
	}
	if t.World != "" && !safeName(t.World) {
		return fmt.Errorf("template %s: world %q must be a directory name, not a path", t.Name, t.World)
	}
	if t.TimeoutSeconds <= 0 {
		return fmt.Errorf("template %s: timeout_seconds must be positive, got %d", t.Name, t.TimeoutSeconds)
	}
	if t.CooldownSeconds < 0 {
		return fmt.Errorf("template %s: cooldown_seconds must not be negative", t.Name)
	}
	if t.CreationCost < 0 {
		return fmt.Errorf("template %s: creation_cost must not be negative", t.Name)
	}
	return nil
}

// safeName reports whether s can be embedded in instance IDs and used as a
// single directory name.
func safeName(s string) bool {
	if s == "." || strings.Contains(s, "..") || strings.ContainsAny(s, `/\`) {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsSpace)
}
