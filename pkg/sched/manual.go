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

package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Manual is a Scheduler driven by simulated time. Callbacks only run from
// Advance, in deadline order, on the caller's goroutine.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	queue taskHeap
}

// NewManual creates a simulated scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the simulated time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After schedules fn at Now()+d.
func (m *Manual) After(d time.Duration, fn func()) Task {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	mt := &manualTask{at: m.now.Add(d), seq: m.seq, fn: fn}
	heap.Push(&m.queue, mt)
	return mt
}

// Advance moves the clock forward by d, running every task that becomes due,
// including tasks scheduled by other tasks. It returns the number run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	return m.runUntil(target)
}

// AdvanceTo moves the clock to t if t is later than Now.
func (m *Manual) AdvanceTo(t time.Time) int {
	return m.runUntil(t)
}

func (m *Manual) runUntil(target time.Time) int {
	ran := 0
	for {
		m.mu.Lock()
		if m.queue.Len() == 0 || m.queue[0].at.After(target) {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return ran
		}
		next := heap.Pop(&m.queue).(*manualTask)
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()

		if next.claim() {
			next.fn()
			ran++
		}
	}
}

// Pending returns the number of tasks that are neither run nor cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.queue {
		if !t.done.Load() {
			n++
		}
	}
	return n
}

type manualTask struct {
	task
	at  time.Time
	seq uint64
	fn  func()
}

type taskHeap []*manualTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*manualTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
