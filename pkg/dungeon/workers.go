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

import "github.com/sourcegraph/conc/pool"

// PoolWorkers is a bounded worker pool for provisioning, teardown and
// persistence I/O.
type PoolWorkers struct {
	p *pool.Pool
}

// NewPoolWorkers creates a pool running at most size tasks at once.
func NewPoolWorkers(size int) *PoolWorkers {
	if size <= 0 {
		size = 1
	}
	return &PoolWorkers{p: pool.New().WithMaxGoroutines(size)}
}

// Go submits fn, blocking while the pool is full.
func (w *PoolWorkers) Go(fn func()) {
	w.p.Go(fn)
}

// Wait blocks until all submitted work finishes. The pool must not be used
// afterwards.
func (w *PoolWorkers) Wait() {
	w.p.Wait()
}
