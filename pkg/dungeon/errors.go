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
	"errors"
	"fmt"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

// Validation errors. They are returned synchronously and leave no state
// behind.
var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrAlreadyInInstance = errors.New("actor is already in an instance")
	ErrCreationPending   = errors.New("actor already has an instance being created")
	ErrOnCooldown        = errors.New("creation cooldown has not elapsed")
	ErrNotAllowed        = errors.New("actor is not allowed to join this instance")
	ErrNotRunning        = errors.New("instance is not running")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ErrNotFound is returned when an instance id is unknown or already deleted.
var ErrNotFound = errors.New("instance not found")

// CooldownError reports how long an actor must still wait. It matches
// ErrOnCooldown with errors.Is.
type CooldownError struct {
	Actor     instance.ActorID
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("actor %s must wait %s before creating another instance", e.Actor, e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrOnCooldown) hold.
func (e *CooldownError) Is(target error) bool {
	return target == ErrOnCooldown
}

// ProvisionError is delivered to the Start callback when the environment
// could not be created. The reservation has already been discarded.
type ProvisionError struct {
	InstanceID string
	Template   string
	Err        error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision instance %s (%s): %v", e.InstanceID, e.Template, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a caller-facing validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrTemplateNotFound, ErrAlreadyInInstance, ErrCreationPending,
		ErrOnCooldown, ErrNotAllowed, ErrNotRunning, ErrInsufficientFunds,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
