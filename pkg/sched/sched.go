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

// Package sched provides the delayed-task abstraction used for instance
// expiry: schedule a callback after a duration and cancel it later.
package sched

import (
	"sync/atomic"
	"time"
)

// Task is a scheduled callback.
type Task interface {
	// Cancel prevents the callback from running. It returns false when the
	// callback already ran or was already cancelled.
	Cancel() bool
}

// Scheduler schedules callbacks relative to its own clock.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Task
}

// Poster delivers a function to the mutation thread.
type Poster interface {
	Post(fn func()) bool
}

// task tracks whether a callback ran or was cancelled. Exactly one of the
// two wins.
type task struct {
	done atomic.Bool
}

func (t *task) Cancel() bool {
	return t.done.CompareAndSwap(false, true)
}

// claim marks the task as running; false means it was cancelled first.
func (t *task) claim() bool {
	return t.done.CompareAndSwap(false, true)
}

// Timer is a wall-clock Scheduler backed by time.AfterFunc. Fired callbacks
// are handed to the Poster so they run on the mutation thread, not on the
// timer goroutine.
type Timer struct {
	poster Poster
}

// NewTimer creates a wall-clock scheduler. With a nil poster, callbacks run
// on the timer goroutine.
func NewTimer(poster Poster) *Timer {
	return &Timer{poster: poster}
}

// Now returns the wall-clock time.
func (t *Timer) Now() time.Time {
	return time.Now()
}

type timerTask struct {
	task
	timer *time.Timer
}

func (t *timerTask) Cancel() bool {
	if !t.task.Cancel() {
		return false
	}
	t.timer.Stop()
	return true
}

// After schedules fn after d. Negative durations fire as soon as possible.
func (t *Timer) After(d time.Duration, fn func()) Task {
	if d < 0 {
		d = 0
	}
	tt := &timerTask{}
	run := func() {
		if tt.claim() {
			fn()
		}
	}
	tt.timer = time.AfterFunc(d, func() {
		if t.poster == nil {
			run()
			return
		}
		t.poster.Post(run)
	})
	return tt
}
