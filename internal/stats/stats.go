// Package stats tracks IO statistics counters the flush engine snapshots
// before and after its I/O phase to compute deltas (spec §5: "IO stats
// counters: thread-local; snapshotted before/after I/O to compute
// deltas").
package stats

import "sync/atomic"

// IOCounters is a thread-safe set of cumulative I/O counters. A single
// instance is typically shared across every flush job on a column family;
// each job takes its own Snapshot before and after its I/O phase.
type IOCounters struct {
	bytesWritten atomic.Uint64
	writeOps     atomic.Uint64
	fsyncOps     atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters, comparable with Delta.
type Snapshot struct {
	BytesWritten uint64
	WriteOps     uint64
	FsyncOps     uint64
}

func (c *IOCounters) AddWrite(n int64) {
	c.bytesWritten.Add(uint64(n))
	c.writeOps.Add(1)
}

func (c *IOCounters) AddFsync() { c.fsyncOps.Add(1) }

// Snapshot returns the counters' current values.
func (c *IOCounters) Snapshot() Snapshot {
	return Snapshot{
		BytesWritten: c.bytesWritten.Load(),
		WriteOps:     c.writeOps.Load(),
		FsyncOps:     c.fsyncOps.Load(),
	}
}

// Delta returns the difference between two snapshots taken from the same
// counters, e.g. before and after a flush's I/O phase.
func Delta(before, after Snapshot) Snapshot {
	return Snapshot{
		BytesWritten: after.BytesWritten - before.BytesWritten,
		WriteOps:     after.WriteOps - before.WriteOps,
		FsyncOps:     after.FsyncOps - before.FsyncOps,
	}
}

// FlushGauge tracks whether a flush job is currently running on a column
// family, mirroring the thread-status slot a flush job claims on start and
// resets on destruction. pkg/engine shares one gauge across every flush job
// it runs, for all of its column families.
type FlushGauge struct {
	active atomic.Bool
}

// Start marks a flush as in progress.
func (g *FlushGauge) Start() { g.active.Store(true) }

// Stop clears the in-progress marker. It is idempotent: calling it on a
// gauge that was never started, or twice in a row, is harmless.
func (g *FlushGauge) Stop() { g.active.Store(false) }

// Active reports whether a flush is currently marked in progress.
func (g *FlushGauge) Active() bool { return g.active.Load() }
