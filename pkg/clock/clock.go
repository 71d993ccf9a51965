// Copyright 2025 Google Inc. All Rights Reserved.
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

// Package clock supplies the time source vnode timestamps are stamped
// from, so tests can control time deterministically instead of racing
// the wall clock.
package clock

import (
	"sync"
	"time"
)

// Clock is a source of the current time, abstracted so vnode
// timestamping can be driven by a deterministic clock in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reports the actual wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock reports the real time but waits WaitTime, rather than the
// requested duration, before firing After's channel.
type FakeClock struct {
	WaitTime time.Duration
}

func (c *FakeClock) Now() time.Time { return time.Now() }

func (c *FakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		time.Sleep(c.WaitTime)
		ch <- time.Now()
	}()
	return ch
}

// afterRequest is a pending SimulatedClock.After call awaiting its
// target time.
type afterRequest struct {
	targetTime time.Time
	ch         chan time.Time
}

// SimulatedClock holds a time that only moves when SetTime or
// AdvanceTime is called, for deterministic tests of timestamp
// behavior (mtime/ctime ordering across writes, nlink-count probes
// taken at a known instant, and so on).
type SimulatedClock struct {
	mu      sync.RWMutex
	t       time.Time
	pending []*afterRequest
}

// NewSimulatedClock creates a SimulatedClock starting at startTime.
func NewSimulatedClock(startTime time.Time) *SimulatedClock {
	return &SimulatedClock{t: startTime}
}

func (sc *SimulatedClock) Now() time.Time {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.t
}

// SetTime sets the clock's current time, firing any pending After
// calls whose target time has passed.
func (sc *SimulatedClock) SetTime(t time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.t = t
	sc.processPending()
}

// AdvanceTime moves the clock's current time forward by d.
func (sc *SimulatedClock) AdvanceTime(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.t = sc.t.Add(d)
	sc.processPending()
}

// After returns a channel that receives the simulated time once it
// reaches sc.Now()+d, advanced only by SetTime/AdvanceTime.
func (sc *SimulatedClock) After(d time.Duration) <-chan time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := make(chan time.Time, 1)
	target := sc.t.Add(d)
	if !target.After(sc.t) {
		ch <- sc.t
		return ch
	}
	sc.pending = append(sc.pending, &afterRequest{targetTime: target, ch: ch})
	return ch
}

// LOCKS_REQUIRED(sc.mu)
func (sc *SimulatedClock) processPending() {
	remaining := sc.pending[:0]
	for _, req := range sc.pending {
		if !sc.t.Before(req.targetTime) {
			req.ch <- sc.t
			continue
		}
		remaining = append(remaining, req)
	}
	sc.pending = remaining
}
