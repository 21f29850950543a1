// Package engine is the database-level facade that owns the single,
// coarse-grained mutex spec §5 describes and uses it to coordinate flush
// jobs across column families: it holds the mutex around memtable selection
// (and cancellation) and releases it before the job's I/O phase. It does not
// re-acquire it for installation; a job installs under its own lock and its
// column family's immutable-list lock.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"basalt/internal/clock"
	"basalt/internal/compaction"
	"basalt/internal/compare"
	"basalt/internal/config"
	"basalt/internal/eventlog"
	"basalt/internal/flushjob"
	"basalt/internal/manifest"
	"basalt/internal/memtable"
	"basalt/internal/stats"
	"basalt/internal/storage"
)

var ErrUnknownColumnFamily = errors.New("engine: unknown column family")

// ColumnFamily is the engine's bookkeeping for one column family: its
// memtable index, its own version set, and the mutable options a flush job
// reads from. None of this is safe to mutate outside the engine's mutex.
type ColumnFamily struct {
	Name       string
	ID         uint32
	Comparator compare.Compare
	List       *memtable.ImmutableList
	Versions   *manifest.VersionSet
	Options    config.MutableCFOptions

	dropped atomic.Bool
}

// Engine coordinates flush jobs across every column family of one database.
type Engine struct {
	// mu protects column-family registration and the Pick/Cancel phase of
	// every flush job. It is released for the job's I/O or mempurge work and
	// is not held while the job installs its result.
	mu sync.Mutex

	dbOptions   config.DBOptions
	clock       clock.Clock
	logger      *eventlog.Logger
	ioStats     *stats.IOCounters
	newBuilder   flushjob.BuilderFactory
	outputDir    *storage.Directory
	mergeOp      compaction.MergeOperator
	filter       compaction.Filter
	gauge        stats.FlushGauge
	jobCounter   atomic.Uint64
	shuttingDown atomic.Bool

	cfs map[string]*ColumnFamily
}

// Options configures a new Engine. NewBuilder is required; a nil Clock
// defaults to clock.System, and everything else may be left zero for a
// minimal in-memory-only setup.
type Options struct {
	DBOptions  config.DBOptions
	Clock      clock.Clock
	Logger     *eventlog.Logger
	IOStats    *stats.IOCounters
	NewBuilder flushjob.BuilderFactory
	OutputDir  *storage.Directory
	MergeOp    compaction.MergeOperator
	Filter     compaction.Filter
}

// New creates an Engine with no column families registered.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Engine{
		dbOptions:  opts.DBOptions,
		clock:      opts.Clock,
		logger:     opts.Logger,
		ioStats:    opts.IOStats,
		newBuilder: opts.NewBuilder,
		outputDir:  opts.OutputDir,
		mergeOp:    opts.MergeOp,
		filter:     opts.Filter,
		cfs:        make(map[string]*ColumnFamily),
	}
}

// AddColumnFamily registers a column family under the engine's mutex.
func (e *Engine) AddColumnFamily(name string, id uint32, cmp compare.Compare, firstFileNumber uint64, cfOpts config.MutableCFOptions) *ColumnFamily {
	e.mu.Lock()
	defer e.mu.Unlock()
	cf := &ColumnFamily{
		Name:       name,
		ID:         id,
		Comparator: cmp,
		List:       memtable.NewImmutableList(),
		Versions:   manifest.NewVersionSet(firstFileNumber),
		Options:    cfOpts,
	}
	e.cfs[name] = cf
	return cf
}

// DropColumnFamily marks a column family dropped. Any flush job already
// past its Pick phase for this column family will observe the drop and
// roll back instead of installing (spec §5).
func (e *Engine) DropColumnFamily(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cf, ok := e.cfs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumnFamily, name)
	}
	cf.dropped.Store(true)
	return nil
}

// Shutdown marks the engine shutting down. Flush jobs still running observe
// this the same way they observe a column-family drop.
func (e *Engine) Shutdown() {
	e.shuttingDown.Store(true)
}

// TriggerFlush picks every memtable up to maxMemtableID from the named
// column family's immutable list and runs one flush job end to end. The
// engine mutex is held only around Pick (and Cancel when nothing was
// picked); it is released before Run and not taken again, so the job
// installs its result under its own lock and the immutable list's lock.
func (e *Engine) TriggerFlush(name string, maxMemtableID uint64, reason eventlog.FlushReason) (flushjob.Result, error) {
	e.mu.Lock()
	cf, ok := e.cfs[name]
	if !ok {
		e.mu.Unlock()
		return flushjob.Result{}, fmt.Errorf("%w: %s", ErrUnknownColumnFamily, name)
	}

	job := flushjob.New(cf.Comparator, flushjob.Options{
		ColumnFamilyName: cf.Name,
		ColumnFamilyID:   cf.ID,
		List:             cf.List,
		Versions:         cf.Versions,
		DBOptions:        e.dbOptions,
		CFOptions:        cf.Options,
		MergeOperator:    e.mergeOp,
		Filter:           e.filter,
		Reason:           reason,
		Clock:            e.clock,
		IOStats:          e.ioStats,
		Logger:           e.logger,
		OutputDirectory:  e.outputDir,
		NewBuilder:       e.newBuilder,
		JobID:            e.jobCounter.Add(1),
		MeasureIO:        e.ioStats != nil,
		Gauge:            &e.gauge,
		Callbacks: flushjob.Callbacks{
			ColumnFamilyDropped: cf.dropped.Load,
			ShuttingDown:        e.shuttingDown.Load,
		},
	})
	defer job.Close()

	picked, err := job.Pick(maxMemtableID)
	if err != nil {
		e.mu.Unlock()
		return flushjob.Result{}, err
	}
	if len(picked) == 0 {
		job.Cancel()
		e.mu.Unlock()
		return flushjob.Result{Status: flushjob.StatusOK}, nil
	}
	e.mu.Unlock()

	// --- engine mutex released for the job's I/O / mempurge phase ---
	return job.Run(), nil
}

// Close releases the engine's shared output directory handle, aggregating
// any close failure the way the teacher aggregates its own directory-close
// errors.
func (e *Engine) Close() error {
	if e.outputDir == nil {
		return nil
	}
	var merr *multierror.Error
	if err := e.outputDir.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
