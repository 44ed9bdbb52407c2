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

package state

import "github.com/pigeonworks-llc/go-dungeon/pkg/instance"

// EnvironmentExists reports whether a named environment is still present.
type EnvironmentExists func(name string) bool

// Reconcile drops instance records whose environment is gone, and records
// that can never be resumed (anything not running). Sessions pointing at a
// dropped instance are cleared. It returns the dropped records.
func (s *Snapshot) Reconcile(exists EnvironmentExists) []*InstanceRecord {
	var dropped []*InstanceRecord
	for _, rec := range append([]*InstanceRecord(nil), s.Instances...) {
		if rec.State == instance.StateRunning && rec.Environment != nil && exists(rec.Environment.Name) {
			continue
		}
		s.RemoveInstance(rec.ID)
		dropped = append(dropped, rec)
	}
	return dropped
}
