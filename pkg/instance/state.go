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

package instance

import "fmt"

// State is the lifecycle state of an instance.
type State int

const (
	// StateCreating means the ID is reserved and the environment is being provisioned.
	StateCreating State = iota
	// StateRunning means the environment exists and actors may enter.
	StateRunning
	// StateCompleted means the completion condition fired; deletion is pending.
	StateCompleted
	// StateTimeout means the time budget ran out; deletion follows immediately.
	StateTimeout
	// StateDeleting means teardown has been requested.
	StateDeleting
)

var stateNames = map[State]string{
	StateCreating:  "creating",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateTimeout:   "timeout",
	StateDeleting:  "deleting",
}

// String returns the lowercase state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState parses a state name produced by String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown instance state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown instance state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether the state machine permits s -> to.
//
// Deletion is reachable from every state except itself; everything else
// moves strictly forward.
func (s State) CanTransition(to State) bool {
	switch to {
	case StateRunning:
		return s == StateCreating
	case StateCompleted, StateTimeout:
		return s == StateRunning
	case StateDeleting:
		return s != StateDeleting
	default:
		return false
	}
}

// TransitionError is returned when a transition is not permitted.
type TransitionError struct {
	ID   string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("instance %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}
