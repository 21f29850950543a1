// Package flushjob orchestrates one flush of a column family's sealed
// memtables: picking inputs, optionally attempting an in-memory mempurge,
// falling back to building an on-disk L0 table, and installing or rolling
// back the result (spec §4.E, §5, §7).
package flushjob

import (
	"errors"
	"sync"
	"sync/atomic"

	"basalt/internal/base"
	"basalt/internal/clock"
	"basalt/internal/compaction"
	"basalt/internal/compare"
	"basalt/internal/config"
	"basalt/internal/eventlog"
	"basalt/internal/manifest"
	"basalt/internal/memtable"
	"basalt/internal/mempurge"
	"basalt/internal/merge"
	"basalt/internal/rangedel"
	"basalt/internal/stats"
	"basalt/internal/storage"
	"basalt/internal/table"
)

// Status is the terminal outcome of a flush job's run.
type Status int

const (
	StatusOK Status = iota
	StatusNotSupported
	StatusAborted
	StatusColumnFamilyDropped
	StatusShutdownInProgress
	StatusCorruption
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotSupported:
		return "NotSupported"
	case StatusAborted:
		return "Aborted"
	case StatusColumnFamilyDropped:
		return "ColumnFamilyDropped"
	case StatusShutdownInProgress:
		return "ShutdownInProgress"
	case StatusCorruption:
		return "Corruption"
	case StatusIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

var (
	ErrColumnFamilyDropped = errors.New("flushjob: column family was dropped while flushing")
	ErrShutdownInProgress  = errors.New("flushjob: shutdown in progress")
	ErrDoublePick          = errors.New("flushjob: pick called twice on the same job")
	ErrRunWithoutPick      = errors.New("flushjob: run called before pick")
)

// phase tracks the job's position in the Created -> Picked -> Running ->
// {terminal} state machine (spec §4.E). It exists purely for the
// programmer-error guards; it is not exposed as part of the public result.
type phase int

const (
	phaseCreated phase = iota
	phasePicked
	phaseTerminal
)

// BuilderFactory constructs a fresh table.Builder for one output file. The
// job owns exactly one builder per run.
type BuilderFactory func(fileNumber uint64) (table.Builder, error)

// Callbacks are the cooperative signals a job consults after its I/O phase
// completes (spec §5: "Cancellation and shutdown").
type Callbacks struct {
	ColumnFamilyDropped func() bool
	ShuttingDown        func() bool
}

// Options configures a new flush Job, mirroring the constructor parameter
// list in spec §6.
type Options struct {
	ColumnFamilyName string
	ColumnFamilyID   uint32
	List             *memtable.ImmutableList
	Versions         *manifest.VersionSet
	DBOptions        config.DBOptions
	CFOptions        config.MutableCFOptions
	Snapshots        []base.SeqNum
	EarliestWriteConflictSnapshot base.SeqNum
	MergeOperator    compaction.MergeOperator
	Filter           compaction.Filter
	Reason           eventlog.FlushReason
	Clock            clock.Clock
	IOStats          *stats.IOCounters
	Logger           *eventlog.Logger
	OutputDirectory  *storage.Directory
	NewBuilder       BuilderFactory
	Callbacks        Callbacks
	JobID            uint64
	MeasureIO        bool
	Gauge            *stats.FlushGauge
}

// Job is one flush of a single column family's sealed memtables.
type Job struct {
	opts Options
	cmp  compare.Compare

	mu      sync.Mutex
	phase   phase
	inputs  []*memtable.MemTable
	version *manifest.Version

	cancelled atomic.Bool
}

// New constructs a job in the Created phase. cmp is the column family's
// user-key comparator.
func New(cmp compare.Compare, opts Options) *Job {
	return &Job{opts: opts, cmp: cmp}
}

// Pick selects the input memtables to flush: every memtable in the list with
// id <= maxMemtableID that no other job has picked. It must be called exactly
// once, under the database mutex, before Run or Cancel. Pick also takes a
// reference on the version current at selection time; Run and Cancel
// release it. Nothing downstream currently depends on the version staying
// pinned for a flush's duration (flush only ever adds files, never deletes
// the ones a reader might still have open), but the hold/release pairing
// is kept symmetric so a future reader-visible GC pass can rely on it.
func (j *Job) Pick(maxMemtableID uint64) ([]*memtable.MemTable, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.phase != phaseCreated {
		return nil, ErrDoublePick
	}
	j.inputs = j.opts.List.PickMemtablesToFlush(maxMemtableID)
	if j.opts.Versions != nil {
		j.version = j.opts.Versions.Current()
		j.version.Ref()
	}
	j.phase = phasePicked
	return j.inputs, nil
}

// Cancel releases the job without running it, returning its picked inputs
// to the immutable list so a future job may pick them. It must be called
// under the database mutex.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase == phasePicked {
		j.opts.List.Rollback(j.inputs, 0)
	}
	j.releaseVersion()
	j.phase = phaseTerminal
	j.cancelled.Store(true)
}

func (j *Job) releaseVersion() {
	if j.version != nil {
		j.version.Unref()
		j.version = nil
	}
}

// Close releases any resources the job still holds once the caller is done
// with its Result, mirroring the thread-status reset a flush job performs
// on destruction. It is always safe to call, including after Cancel or a
// Run that never started (the gauge is simply left untouched in that case).
func (j *Job) Close() {
	j.mu.Lock()
	ran := j.phase == phaseTerminal && !j.cancelled.Load()
	j.mu.Unlock()
	if ran && j.opts.Gauge != nil {
		j.opts.Gauge.Stop()
	}
}

// Result is what Run returns: the terminal status and, on a successful
// non-mempurge flush, the metadata of the file that was added.
type Result struct {
	Status        Status
	File          *manifest.FileMetaData
	Mempurged     bool
	Err           error
	TableIOErr    error
	ManifestIOErr error
}

// Run performs the flush: it attempts mempurge when the policy allows,
// otherwise (or on mempurge overflow) builds and installs an on-disk L0
// table. Run takes the job's own lock for its bookkeeping, releases it for
// the duration of I/O and mempurge, and takes it again for installation. It
// does not acquire a database mutex; pkg/engine calls it with its own mutex
// released. Run may only be called once, after Pick.
func (j *Job) Run() Result {
	j.mu.Lock()
	if j.phase != phasePicked {
		j.mu.Unlock()
		return Result{Status: StatusIOError, Err: ErrRunWithoutPick}
	}
	inputs := j.inputs
	j.releaseVersion()
	if j.opts.Gauge != nil {
		j.opts.Gauge.Start()
	}
	j.mu.Unlock()

	// --- mutex released for the I/O / mempurge phase ---

	if triggeredByBufferFull := j.opts.Reason == eventlog.ReasonWriteBufferFull; triggeredByBufferFull {
		if mempurge.Decide(j.opts.CFOptions.MempurgePolicy, true, inputs) {
			result, err := j.runMempurge(inputs)
			switch {
			case err == nil && result != nil:
				return j.install(inputs, nil, result)
			case errors.Is(err, mempurge.ErrAborted):
				j.logMempurgeOutcome(false, err)
				// fall through to the disk path
			case err != nil:
				j.logMempurgeOutcome(false, err)
				// fall through to the disk path
			default:
				// result == nil, err == nil: nothing was emitted at all,
				// so the disk path runs instead. A capacity check here
				// would never fire in practice (an empty new memtable is
				// never at or over capacity), so it is recorded as a
				// debug diagnostic only, never an error.
				if j.opts.Logger != nil {
					_ = j.opts.Logger.Log(eventlog.Event{
						ColumnFamilyName: j.opts.ColumnFamilyName,
						Reason:           j.opts.Reason,
						ReasonName:       j.opts.Reason.String(),
						JobID:            j.opts.JobID,
						Mempurge:         true,
						Status:           "debug",
						Message:          "mempurge emitted zero entries",
					})
				}
			}
		}
	}

	diskResult, err := j.runDiskFlush(inputs)
	if err != nil {
		return j.finishFailure(inputs, classify(err), err)
	}
	return j.install(inputs, diskResult, nil)
}

func classify(err error) Status {
	switch {
	case errors.Is(err, compaction.ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, compaction.ErrCorruption), errors.Is(err, table.ErrVerifyMemtableCount):
		return StatusCorruption
	default:
		return StatusIOError
	}
}

func (j *Job) logMempurgeOutcome(ok bool, err error) {
	if j.opts.Logger == nil {
		return
	}
	msg := "mempurge ok"
	if !ok {
		msg = err.Error()
	}
	_ = j.opts.Logger.Log(eventlog.Event{
		ColumnFamilyName: j.opts.ColumnFamilyName,
		Reason:           j.opts.Reason,
		ReasonName:       j.opts.Reason.String(),
		JobID:            j.opts.JobID,
		Mempurge:         true,
		Status:           "info",
		Message:          msg,
	})
}

func (j *Job) runMempurge(inputs []*memtable.MemTable) (*mempurge.Result, error) {
	return mempurge.Run(
		j.cmp, inputs, j.opts.Snapshots, j.opts.EarliestWriteConflictSnapshot,
		j.opts.MergeOperator, j.opts.Filter, j.opts.CFOptions.WriteBufferSize,
	)
}

type diskFlushResult struct {
	tableResult *table.Result
	fragments   []rangedel.Fragment
}

func (j *Job) runDiskFlush(inputs []*memtable.MemTable) (*diskFlushResult, error) {
	pointInputs := make([]merge.PointIterator, len(inputs))
	var tombstones []rangedel.Tombstone
	entryCounts := make([]uint64, len(inputs))
	oldestKeyTimes := make([]int64, len(inputs))
	for i, m := range inputs {
		pointInputs[i] = m.NewIterator()
		tombstones = append(tombstones, m.RangeTombstones()...)
		entryCounts[i] = m.EntryCount()
		oldestKeyTimes[i] = m.OldestKeyTime()
	}

	agg := rangedel.NewAggregator(j.cmp, j.opts.Snapshots)
	fragments := agg.Fragment(tombstones)

	iter, err := compaction.New(
		j.cmp, pointInputs, j.opts.Snapshots, j.opts.EarliestWriteConflictSnapshot,
		j.opts.MergeOperator, j.opts.Filter, fragments, nil,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil && j.opts.Logger != nil {
			_ = j.opts.Logger.Log(eventlog.Event{
				ColumnFamilyName: j.opts.ColumnFamilyName,
				Reason:           j.opts.Reason,
				ReasonName:       j.opts.Reason.String(),
				JobID:            j.opts.JobID,
				Status:           "warn",
				Message:          "closing compaction iterator: " + cerr.Error(),
			})
		}
	}()

	fileNumber := j.opts.Versions.NewFileNumber()
	builder, err := j.opts.NewBuilder(fileNumber)
	if err != nil {
		return nil, err
	}

	var before stats.Snapshot
	if j.opts.MeasureIO && j.opts.IOStats != nil {
		before = j.opts.IOStats.Snapshot()
	}

	now := j.opts.Clock.Now
	result, err := table.Build(iter, fragments, builder, table.Options{
		ColumnFamilyID:      j.opts.ColumnFamilyID,
		FileNumber:          fileNumber,
		Compression:         j.opts.CFOptions.Compression,
		DBID:                j.opts.DBOptions.DBID,
		SessionID:           j.opts.DBOptions.SessionID,
		FIFORetention:       j.opts.CFOptions.FIFORetention,
		OldestKeyTimes:      oldestKeyTimes,
		VerifyMemtableCount: j.opts.DBOptions.FlushVerifyMemtableCount,
		InputEntryCounts:    entryCounts,
	}, now)
	if err != nil {
		return nil, err
	}

	if result != nil && j.opts.IOStats != nil {
		j.opts.IOStats.AddWrite(result.PayloadBytes)
	}

	if j.opts.OutputDirectory != nil && j.opts.DBOptions.SyncOutputDirectory {
		if err := j.opts.OutputDirectory.Sync(); err != nil {
			return nil, err
		}
		if j.opts.IOStats != nil {
			j.opts.IOStats.AddFsync()
		}
	}

	if j.opts.MeasureIO && j.opts.IOStats != nil {
		after := j.opts.IOStats.Snapshot()
		_ = stats.Delta(before, after)
	}

	return &diskFlushResult{tableResult: result, fragments: fragments}, nil
}

// install re-acquires the job's lock and performs the branch selection
// of spec §4.E: dropped / shutdown / success-with-edit / success-mempurge.
func (j *Job) install(inputs []*memtable.MemTable, disk *diskFlushResult, mp *mempurge.Result) Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = phaseTerminal

	if j.opts.Callbacks.ColumnFamilyDropped != nil && j.opts.Callbacks.ColumnFamilyDropped() {
		j.opts.List.Rollback(inputs, fileNumberOf(disk))
		return Result{Status: StatusColumnFamilyDropped, Err: ErrColumnFamilyDropped}
	}
	if j.opts.Callbacks.ShuttingDown != nil && j.opts.Callbacks.ShuttingDown() {
		j.opts.List.Rollback(inputs, fileNumberOf(disk))
		return Result{Status: StatusShutdownInProgress, Err: ErrShutdownInProgress}
	}

	if mp != nil {
		mp.NewMem.SetID(minID(mp.InputIDs))
		mp.NewMem.SetMempurgeOutput(true)
		err := j.opts.List.TryInstallResults(false, inputs, mp.NewMem, func() error { return nil })
		if err != nil {
			return Result{Status: StatusIOError, Err: err}
		}
		j.logMempurgeOutcome(true, nil)
		return Result{Status: StatusOK, Mempurged: true}
	}

	if disk.tableResult == nil {
		// Zero-size output: valid, nothing to add to the edit.
		err := j.opts.List.TryInstallResults(false, inputs, nil, func() error { return nil })
		if err != nil {
			return Result{Status: StatusIOError, Err: err}
		}
		return Result{Status: StatusOK}
	}

	edit := manifest.VersionEdit{
		ColumnFamilyID: j.opts.ColumnFamilyID,
		AddedFiles:     []manifest.FileMetaData{disk.tableResult.Meta},
		NextLogNumber:  maxNextLogNumber(inputs),
	}
	err := j.opts.List.TryInstallResults(true, inputs, nil, func() error {
		j.opts.Versions.LogAndApply(edit)
		return nil
	})
	if err != nil {
		// A failure here is a manifest-write failure, not a table-build
		// failure: the table itself was already durably written.
		return Result{Status: StatusIOError, Err: err, ManifestIOErr: err}
	}
	meta := disk.tableResult.Meta
	return Result{Status: StatusOK, File: &meta}
}

// finishFailure is only reached from the disk table-build path, so the
// failure is always attributable to the table build's own io-status rather
// than a later manifest write (spec §7's distinction between the two).
func (j *Job) finishFailure(inputs []*memtable.MemTable, status Status, err error) Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = phaseTerminal
	j.opts.List.Rollback(inputs, 0)
	return Result{Status: status, Err: err, TableIOErr: err}
}

func fileNumberOf(disk *diskFlushResult) uint64 {
	if disk == nil || disk.tableResult == nil {
		return 0
	}
	return disk.tableResult.Meta.FileNumber
}

func maxNextLogNumber(inputs []*memtable.MemTable) uint64 {
	var max uint64
	for _, m := range inputs {
		if n := m.NextLogNumber(); n > max {
			max = n
		}
	}
	return max
}

func minID(ids []uint64) uint64 {
	min := ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
	}
	return min
}
