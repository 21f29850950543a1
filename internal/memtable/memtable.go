// Package memtable adapts the teacher's skip-list-backed MemTable into the
// spec's memtable contract: an ordered collection of internal keys exposing
// an internal-key iterator, a range-tombstone iterator, and the identity
// fields the flush engine needs (id, next log number, sequence bounds,
// sizes, timestamps).
package memtable

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"basalt/internal/base"
	"basalt/internal/compare"
	"basalt/internal/rangedel"
	"basalt/internal/skiplist"
)

var (
	ErrInvalidSeqNum = errors.New("memtable: sequence number below memtable's earliest sequence")
	ErrSealed        = errors.New("memtable: memtable is sealed and no longer accepts writes")
)

// MemTable is an in-memory, sorted buffer of recent writes for one column
// family. It starts out mutable and is sealed (marked immutable) exactly
// once, at which point the flush engine may read it but nothing may write
// to it again.
type MemTable struct {
	// id uniquely identifies this memtable within its column family, in
	// creation order. The flush engine only ever picks memtables whose id is
	// <= the scheduler-provided upper bound.
	id uint64

	// nextLogNumber is the WAL log number beyond which recovery no longer
	// needs earlier WALs once this memtable (and anything older) is flushed.
	nextLogNumber uint64

	cmp      compare.Compare
	skl      *skiplist.Skiplist
	capacity uint64

	mu         sync.Mutex
	tombstones []rangedel.Tombstone

	earliestSeq   base.SeqNum
	firstSeq      atomic.Uint64 // base.SeqNum; set on first insert, or explicitly for mempurge output
	entryCount    atomic.Uint64
	deleteCount   atomic.Uint64
	dataSize      atomic.Uint64
	oldestKeyTime atomic.Uint64 // unix micros; 0 until the first insert

	sealed atomic.Bool
	// mempurgeOutput marks a memtable that itself was produced by a prior
	// mempurge, so the Alternate mempurge policy can refuse to re-pack it.
	mempurgeOutput atomic.Bool

	writers sync.WaitGroup
}

// New creates an empty, mutable memtable with the given id and capacity
// budget (in bytes, compared against approximate memory usage).
func New(id uint64, capacity uint64, cmp compare.Compare) *MemTable {
	return &MemTable{
		id:       id,
		cmp:      cmp,
		skl:      skiplist.NewWithArenaSize(cmp, capacity),
		capacity: capacity,
	}
}

// Close releases the memtable's backing arena. Callers own the memtable's
// lifetime (a flushed memtable may still be read from until its column
// family's superversion drops it) and must call this only once nothing can
// reach the memtable anymore.
func (m *MemTable) Close() error {
	return m.skl.Close()
}

func (m *MemTable) ID() uint64                  { return m.id }
// SetID reassigns the memtable's id. Only the mempurge install step calls
// this, to give a freshly built replacement memtable the minimum id among
// the inputs it replaces (spec §4.D).
func (m *MemTable) SetID(id uint64) { m.id = id }
func (m *MemTable) NextLogNumber() uint64       { return m.nextLogNumber }
func (m *MemTable) SetNextLogNumber(n uint64)   { m.nextLogNumber = n }
func (m *MemTable) EarliestSeqNum() base.SeqNum { return m.earliestSeq }
func (m *MemTable) SetEarliestSeqNum(s base.SeqNum) { m.earliestSeq = s }
func (m *MemTable) FirstSeqNum() base.SeqNum    { return base.SeqNum(m.firstSeq.Load()) }
func (m *MemTable) SetFirstSeqNum(s base.SeqNum) { m.firstSeq.Store(uint64(s)) }
func (m *MemTable) EntryCount() uint64          { return m.entryCount.Load() }
func (m *MemTable) DeleteCount() uint64         { return m.deleteCount.Load() }
func (m *MemTable) DataSize() uint64            { return m.dataSize.Load() }

// OldestKeyTime returns the wall-clock time (unix micros) the first record
// was inserted, or 0 if the memtable is empty.
func (m *MemTable) OldestKeyTime() int64 { return int64(m.oldestKeyTime.Load()) }

// IsMempurgeOutput reports whether this memtable was produced by a prior
// mempurge (§4.D's Alternate policy uses this to avoid infinite re-pack
// cycles).
func (m *MemTable) IsMempurgeOutput() bool   { return m.mempurgeOutput.Load() }
func (m *MemTable) SetMempurgeOutput(v bool) { m.mempurgeOutput.Store(v) }

// Comparator returns the user-key comparator this memtable was built with.
func (m *MemTable) Comparator() compare.Compare { return m.cmp }

// Insert adds an internal key/value pair. It is safe for concurrent callers
// until Seal is called, after which it always returns ErrSealed.
func (m *MemTable) Insert(kv base.InternalKV) error {
	if kv.SeqNum() < m.earliestSeq {
		return ErrInvalidSeqNum
	}
	if m.sealed.Load() {
		return ErrSealed
	}

	m.writers.Add(1)
	defer m.writers.Done()

	if m.sealed.Load() {
		return ErrSealed
	}

	if kv.Kind() == base.InternalKeyKindRangeDeletion {
		m.mu.Lock()
		m.tombstones = append(m.tombstones, rangedel.Tombstone{
			Start: append([]byte(nil), kv.Key.UserKey...),
			End:   append([]byte(nil), kv.Value...),
			Seq:   kv.SeqNum(),
		})
		m.mu.Unlock()
	} else {
		if err := m.skl.Add(kv.Key, kv.Value); err != nil {
			return err
		}
		// Range deletions are kept out of entryCount: they never pass
		// through the skip list's point iterator, so the table writer's
		// num_input_entries verification (which counts only what the
		// compaction iterator's merging cursor actually sees) would
		// otherwise always disagree with this count.
		m.entryCount.Add(1)
		if kv.Kind() == base.InternalKeyKindDelete || kv.Kind() == base.InternalKeyKindSingleDelete {
			m.deleteCount.Add(1)
		}
	}

	if m.firstSeq.Load() == 0 || kv.SeqNum() < base.SeqNum(m.firstSeq.Load()) {
		m.firstSeq.Store(uint64(kv.SeqNum()))
	}
	m.dataSize.Add(uint64(len(kv.Key.UserKey) + len(kv.Value) + 8))
	m.oldestKeyTime.CompareAndSwap(0, uint64(time.Now().UnixMicro()))

	return nil
}

// Seal marks the memtable immutable and waits for any in-flight Insert
// calls to finish before returning, matching the guarantee spec §3 needs:
// the flush engine never races a writer while merging the sealed set.
func (m *MemTable) Seal() {
	m.sealed.Store(true)
	m.writers.Wait()
}

func (m *MemTable) Sealed() bool { return m.sealed.Load() }

// ApproximateMemoryUsage returns the memtable's data size, which is what
// mempurge compares against write_buffer_size to detect overflow.
func (m *MemTable) ApproximateMemoryUsage() uint64 { return m.dataSize.Load() }

// ShouldFlushNow reports whether the memtable has grown enough past its
// capacity that it should be flushed rather than kept around (used by the
// mempurge path to decide whether its freshly-built output memtable is
// still small enough to keep in memory).
func (m *MemTable) ShouldFlushNow() bool {
	return m.ApproximateMemoryUsage() >= m.capacity
}

// Capacity returns the configured memory budget for this memtable.
func (m *MemTable) Capacity() uint64 { return m.capacity }

// NewIterator returns a total-order iterator over point keys. The flush
// engine always builds these with bloom-filter short-circuiting disabled —
// there is no bloom filter at the memtable layer, so this simply documents
// parity with the external MemTable contract in spec §4.A.
func (m *MemTable) NewIterator() *skiplist.Iterator { return m.skl.NewIterator() }

// HasRangeTombstones reports whether any range deletions were inserted.
func (m *MemTable) HasRangeTombstones() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tombstones) > 0
}

// RangeTombstones returns a copy of the memtable's range deletions. The
// aggregator is responsible for fragmenting/sorting them; the memtable makes
// no ordering guarantee of its own (spec §9.3).
func (m *MemTable) RangeTombstones() []rangedel.Tombstone {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rangedel.Tombstone, len(m.tombstones))
	copy(out, m.tombstones)
	return out
}

// AvailableBytes, UsedBytes, and TotalBytes implement the teacher's Flusher
// contract (internal/storage.Flusher), letting a scheduler budget
// write-buffer pressure across memtables uniformly with other flushable
// resources.
func (m *MemTable) AvailableBytes() uint {
	used := m.ApproximateMemoryUsage()
	if used >= m.capacity {
		return 0
	}
	return uint(m.capacity - used)
}

func (m *MemTable) UsedBytes() uint  { return uint(m.ApproximateMemoryUsage()) }
func (m *MemTable) TotalBytes() uint { return uint(m.capacity) }
