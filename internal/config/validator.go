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

package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pigeonworks-llc/go-dungeon/internal/logging"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidBackends lists the supported state backends.
func ValidBackends() []string {
	return []string{"file", "sqlite"}
}

// Validate returns every problem found in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidBackends(), c.State.Backend) {
		errs = append(errs, ValidationError{"state.backend", c.State.Backend,
			fmt.Sprintf("must be one of %s", strings.Join(ValidBackends(), ", "))})
	}
	if c.State.Path == "" {
		errs = append(errs, ValidationError{"state.path", c.State.Path, "is required"})
	}
	if c.State.AutosaveIntervalSeconds < 0 {
		errs = append(errs, ValidationError{"state.autosave_interval_seconds", c.State.AutosaveIntervalSeconds, "must not be negative"})
	}

	for field, v := range map[string]int{
		"instances.cooldown_seconds":         c.Instances.CooldownSeconds,
		"instances.completion_grace_seconds": c.Instances.CompletionGraceSeconds,
		"instances.warning_lead_seconds":     c.Instances.WarningLeadSeconds,
	} {
		if v < 0 {
			errs = append(errs, ValidationError{field, v, "must not be negative"})
		}
	}

	if c.Templates.Path == "" {
		errs = append(errs, ValidationError{"templates.path", c.Templates.Path, "is required"})
	}
	if c.Worlds.Dir == "" {
		errs = append(errs, ValidationError{"worlds.dir", c.Worlds.Dir, "is required"})
	}
	if c.Worlds.TemplatesDir == "" {
		errs = append(errs, ValidationError{"worlds.templates_dir", c.Worlds.TemplatesDir, "is required"})
	}
	if c.Worlds.LockDir == "" {
		errs = append(errs, ValidationError{"worlds.lock_dir", c.Worlds.LockDir, "is required"})
	}
	if c.Worlds.Workers < 1 {
		errs = append(errs, ValidationError{"worlds.workers", c.Worlds.Workers, "must be at least 1"})
	}
	if c.Fallback.World == "" {
		errs = append(errs, ValidationError{"fallback.world", c.Fallback.World, "is required"})
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level,
			"must be one of debug, info, warn, error"})
	}

	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}
