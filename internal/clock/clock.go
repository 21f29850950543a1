// Package clock provides the wall-clock abstraction the table writer uses
// to stamp file_creation_time/oldest_ancester_time, grounded on the
// atomic-counter clock style used elsewhere in the corpus for
// monotonic time sources.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time as unix micros.
type Clock interface {
	Now() int64
}

// System is the real wall clock.
type System struct{}

func (System) Now() int64 { return time.Now().UnixMicro() }

// Manual is a deterministic clock for tests: Now() returns whatever was
// last Set, advancing only when the test tells it to.
type Manual struct {
	t atomic.Int64
}

// NewManual creates a manual clock initialized to t (unix micros).
func NewManual(t int64) *Manual {
	m := &Manual{}
	m.t.Store(t)
	return m
}

func (m *Manual) Now() int64 { return m.t.Load() }

// Set pins the clock to t.
func (m *Manual) Set(t int64) { m.t.Store(t) }

// Advance moves the clock forward by delta and returns the new value.
func (m *Manual) Advance(delta int64) int64 { return m.t.Add(delta) }
