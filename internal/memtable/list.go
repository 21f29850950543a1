package memtable

import (
	"sync"

	"github.com/zhangyunhao116/skipmap"
)

// ImmutableList is the id-ordered index of sealed memtables a column
// family maintains once a memtable is full (spec §6). It arbitrates which
// memtables a flush job may pick, serializes installation across
// concurrently running jobs on overlapping ranges, and is the sole owner
// of retiring memtables once their flush is durably installed.
type ImmutableList struct {
	mu      sync.Mutex
	entries *skipmap.OrderedMap[uint64, *MemTable]
	picked  map[uint64]bool
}

// NewImmutableList creates an empty list.
func NewImmutableList() *ImmutableList {
	return &ImmutableList{
		entries: skipmap.New[uint64, *MemTable](),
		picked:  make(map[uint64]bool),
	}
}

// Add inserts a newly sealed memtable into the list.
func (l *ImmutableList) Add(m *MemTable) {
	l.entries.Store(m.ID(), m)
}

// Len returns the number of memtables currently in the list.
func (l *ImmutableList) Len() int { return l.entries.Len() }

// PickMemtablesToFlush returns, in ascending id order, every memtable with
// id <= upperID that is not already picked by another in-flight job, and
// marks them picked. Picking is a one-shot per memtable: a memtable stays
// picked until Rollback or TryInstallResults resolves it.
func (l *ImmutableList) PickMemtablesToFlush(upperID uint64) []*MemTable {
	l.mu.Lock()
	defer l.mu.Unlock()

	var picked []*MemTable
	l.entries.Range(func(id uint64, m *MemTable) bool {
		if id > upperID {
			return false
		}
		if l.picked[id] {
			return true
		}
		l.picked[id] = true
		picked = append(picked, m)
		return true
	})
	return picked
}

// Rollback un-picks memtables so a future Pick can select them again,
// discarding the output file number that would have referenced their
// (never durably installed) flush output.
func (l *ImmutableList) Rollback(memtables []*MemTable, outputFileNumber uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range memtables {
		delete(l.picked, m.ID())
	}
}

// TryInstallResults applies a completed flush's edit (when writeEdit is
// true) and retires the flushed memtables, optionally inserting a
// mempurge-produced replacement memtable in their place. apply is called
// under the list's lock with the caller-constructed edit, matching the
// "single manifest transaction" requirement in spec §4.E.
func (l *ImmutableList) TryInstallResults(
	writeEdit bool,
	flushed []*MemTable,
	newMem *MemTable,
	apply func() error,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writeEdit {
		if err := apply(); err != nil {
			return err
		}
	}

	for _, m := range flushed {
		l.entries.Delete(m.ID())
		delete(l.picked, m.ID())
	}
	if newMem != nil {
		l.entries.Store(newMem.ID(), newMem)
	}
	return nil
}
