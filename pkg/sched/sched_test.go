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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_RunsInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.After(30*time.Second, func() { order = append(order, "c") })
	m.After(10*time.Second, func() { order = append(order, "a") })
	m.After(10*time.Second, func() { order = append(order, "b") })
	assert.Equal(t, 3, m.Pending())

	ran := m.Advance(15 * time.Second)
	assert.Equal(t, 2, ran)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, start.Add(15*time.Second), m.Now())

	m.Advance(time.Minute)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, m.Pending())
}

func TestManual_ClockInsideCallback(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var seen time.Time
	m.After(40*time.Second, func() { seen = m.Now() })
	m.Advance(100 * time.Second)

	assert.Equal(t, start.Add(40*time.Second), seen)
	assert.Equal(t, start.Add(100*time.Second), m.Now())
}

func TestManual_NestedScheduling(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	fired := 0
	m.After(time.Second, func() {
		fired++
		m.After(time.Second, func() { fired++ })
	})

	m.Advance(5 * time.Second)
	assert.Equal(t, 2, fired)
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	fired := false
	task := m.After(time.Second, func() { fired = true })

	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel(), "second cancel reports nothing to cancel")
	assert.Zero(t, m.Pending())

	m.Advance(time.Minute)
	assert.False(t, fired)

	ranTask := m.After(time.Second, func() {})
	m.Advance(time.Second)
	assert.False(t, ranTask.Cancel(), "cancel after fire is a no-op")
}

type chanPoster struct {
	ch chan func()
}

func (p *chanPoster) Post(fn func()) bool {
	p.ch <- fn
	return true
}

func TestTimer_PostsToPoster(t *testing.T) {
	poster := &chanPoster{ch: make(chan func(), 1)}
	timer := NewTimer(poster)

	var fired atomic.Bool
	timer.After(5*time.Millisecond, func() { fired.Store(true) })

	select {
	case fn := <-poster.ch:
		assert.False(t, fired.Load(), "callback must not run on the timer goroutine")
		fn()
	case <-time.After(time.Second):
		t.Fatal("timer never posted")
	}
	assert.True(t, fired.Load())
}

func TestTimer_CancelBeforeFire(t *testing.T) {
	timer := NewTimer(nil)

	var fired atomic.Bool
	task := timer.After(50*time.Millisecond, func() { fired.Store(true) })
	require.True(t, task.Cancel())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTimer_CancelAfterPostIsStillHonoured(t *testing.T) {
	poster := &chanPoster{ch: make(chan func(), 1)}
	timer := NewTimer(poster)

	var fired atomic.Bool
	task := timer.After(time.Millisecond, func() { fired.Store(true) })

	fn := <-poster.ch
	require.True(t, task.Cancel(), "cancel wins while the callback is still queued")
	fn()
	assert.False(t, fired.Load())
}

func TestTimer_ConcurrentCancel(t *testing.T) {
	timer := NewTimer(nil)

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		task := timer.After(time.Millisecond, func() { count.Add(1) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			task.Cancel()
		}()
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, count.Load(), int32(50))
}
