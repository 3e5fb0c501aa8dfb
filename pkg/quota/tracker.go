// Copyright 2024 The mqttgate Authors
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

// Package quota tracks how many bytes each client has published during
// the current calendar month and decides whether a publish must be
// throttled. Counters expire at the first instant of the next month in
// the tracker's configured timezone and are recreated lazily on the
// next charge.
package quota

import (
	"log"
	"math"
	"sync"
	"time"
)

// Clock returns the current time. It is injectable so tests can
// simulate month-boundary crossings deterministically.
type Clock func() time.Time

type counter struct {
	total   int64
	expires time.Time
}

// Tracker is a thread-safe byte counter store keyed by client id.
// Increments are atomic with respect to the limit check, so concurrent
// charges for the same client id never lose bytes.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]*counter
	loc      *time.Location
	now      Clock
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock used to compute period boundaries.
func WithClock(now Clock) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLocation sets the timezone in which the monthly period ends.
// The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		t.loc = loc
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		counters: make(map[string]*counter),
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ChargeAndCheck adds size bytes to the client's running total for the
// current month and reports whether the client must be throttled. A
// client is throttled once its total reaches limit; further charges
// keep accumulating so the client stays locked until the period ends.
// An addition that would overflow the counter also throttles rather
// than wrapping around.
func (t *Tracker) ChargeAndCheck(clientID string, size, limit int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().In(t.loc)
	c, ok := t.counters[clientID]
	if !ok || !now.Before(c.expires) {
		// First charge of the period. The old counter, if any, is
		// discarded along with its expired total.
		t.counters[clientID] = &counter{
			total:   size,
			expires: startOfNextMonth(now),
		}
		if size < limit {
			return false
		}
		log.Printf("[INFO] Client %s is locked until the end of the month: monthly data limit reached", clientID)
		return true
	}

	if c.total > math.MaxInt64-size {
		log.Printf("[WARN] Byte counter overflow for client %s, treating as throttled", clientID)
		return true
	}
	c.total += size

	if c.total >= limit {
		log.Printf("[INFO] Client %s is locked until the end of the month: monthly data limit reached", clientID)
		return true
	}
	return false
}

// Used returns the bytes charged to the client in the current period.
// An expired or missing counter reads as zero.
func (t *Tracker) Used(clientID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[clientID]
	if !ok || !t.now().In(t.loc).Before(c.expires) {
		return 0
	}
	return c.total
}

// startOfNextMonth returns the first instant of the calendar month
// following now, in now's location.
func startOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
}
