// Package skiplist implements the ordered, sorted container backing a
// memtable. Unlike the teacher prototype this package was adapted from (an
// arena/CAS-based skip list whose node linkage used unsafe.Pointer offsets
// into the arena), this version keeps node linkage as plain RWMutex-guarded
// Go pointers — a flush-stage memtable is read by exactly one goroutine at a
// time under the "writers drained" guarantee MemTable.Seal provides, so the
// mutex is never contended during a flush and the CAS machinery bought
// nothing. The arena survives in a different role: every node's key and
// value bytes are copied out of an internal/arena.Arena sized to the
// memtable's write-buffer budget rather than out of the heap, so a flush's
// record bytes live in one contiguous region the allocator can hand back in
// a single Close/Reset instead of scattering GC pressure across one
// allocation per record.
package skiplist

import (
	"errors"
	"math"
	"sync"

	"github.com/zhangyunhao116/fastrand"

	"basalt/internal/arena"
	"basalt/internal/base"
	"basalt/internal/compare"
)

const (
	MaxHeight = 20
	pValue    = 1 / math.E
)

var probabilities [MaxHeight]uint32

func init() {
	p := 1.0
	for i := 0; i < MaxHeight; i++ {
		probabilities[i] = uint32(float64(math.MaxUint32) * p)
		p *= pValue
	}
}

func randomHeight() int {
	h := 1
	for h < MaxHeight && fastrand.Uint32() <= probabilities[h] {
		h++
	}
	return h
}

var (
	// ErrRecordExists is returned by Add when an identical internal key (same
	// user key, sequence and kind) is already present.
	ErrRecordExists = errors.New("skiplist: record with this key already exists")
)

type node struct {
	key   base.InternalKey
	value []byte
	next  []*node
	prev  []*node
}

// Skiplist is an ordered collection of internal keys and values. Keys are
// immutable once added; deletion is represented by tombstone kinds rather
// than removal, matching the memtable's append-only write model.
type Skiplist struct {
	cmp    compare.Compare
	mu     sync.RWMutex
	head   *node
	tail   *node
	height int
	length int
	memSz  uint64
	arena  *arena.Arena
}

// DefaultArenaSize is used by New for callers with no memtable-sized write
// buffer budget in mind (direct skip-list construction in tests, mostly).
const DefaultArenaSize = 4 << 20

// arenaOverflow pads the arena so a record landing exactly at capacity never
// trips ErrArenaFull over a few bytes of rounding.
const arenaOverflow = 64

// New creates an empty skip list ordered by cmp (applied to user keys),
// backed by a DefaultArenaSize arena.
func New(cmp compare.Compare) *Skiplist {
	return NewWithArenaSize(cmp, DefaultArenaSize)
}

// NewWithArenaSize creates an empty skip list whose node key/value bytes are
// drawn from an arena sized to size bytes. internal/memtable.New passes its
// own write-buffer capacity through here, so a memtable's arena and its
// ApproximateMemoryUsage budget track the same number.
func NewWithArenaSize(cmp compare.Compare, size uint64) *Skiplist {
	s := &Skiplist{cmp: cmp, height: 1, arena: arena.WithOverflow(uint(size), arenaOverflow)}
	s.head = &node{next: make([]*node, MaxHeight), prev: make([]*node, MaxHeight)}
	s.tail = &node{next: make([]*node, MaxHeight), prev: make([]*node, MaxHeight)}
	for i := 0; i < MaxHeight; i++ {
		s.head.next[i] = s.tail
		s.tail.prev[i] = s.head
	}
	return s
}

// Close releases the skip list's backing arena.
func (s *Skiplist) Close() error {
	return s.arena.Close()
}

// copyToArena copies b into the skip list's arena and returns the arena-
// backed slice. A record that no longer fits (the memtable is already at or
// past its capacity by the time this runs, which ShouldFlushNow exists to
// prevent) falls back to a heap copy rather than fail the insert — capacity
// enforcement is the memtable's job, not the arena's.
func (s *Skiplist) copyToArena(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	off, err := s.arena.Allocate(uint(len(b)), 1)
	if err != nil {
		return append([]byte(nil), b...)
	}
	dst := s.arena.GetBytes(off, uint(len(b)))
	copy(dst, b)
	return dst
}

// Add inserts key/value. It returns ErrRecordExists if an entry with an
// identical internal key is already present, matching the teacher's
// contract that callers bump the sequence number and retry.
func (s *Skiplist) Add(key base.InternalKey, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevs, nexts := s.search(key)
	if nexts[0] != s.tail && compare.Internal(s.cmp, nexts[0].key, key) == 0 {
		return ErrRecordExists
	}

	height := randomHeight()
	if height > s.height {
		for i := s.height; i < height; i++ {
			prevs[i] = s.head
			nexts[i] = s.tail
		}
		s.height = height
	}

	storedKey := base.InternalKey{UserKey: s.copyToArena(key.UserKey), Trailer: key.Trailer}
	n := &node{key: storedKey, value: s.copyToArena(value), next: make([]*node, height), prev: make([]*node, height)}
	for i := 0; i < height; i++ {
		n.next[i] = nexts[i]
		n.prev[i] = prevs[i]
		prevs[i].next[i] = n
		nexts[i].prev[i] = n
	}

	s.length++
	s.memSz += uint64(len(key.UserKey)) + 8 + uint64(len(value))
	return nil
}

// search returns, for every level, the node immediately before and
// immediately at-or-after key.
func (s *Skiplist) search(key base.InternalKey) (prevs, nexts [MaxHeight]*node) {
	cur := s.head
	for level := MaxHeight - 1; level >= 0; level-- {
		next := cur.next[level]
		for next != s.tail && compare.Internal(s.cmp, next.key, key) < 0 {
			cur = next
			next = cur.next[level]
		}
		prevs[level] = cur
		nexts[level] = next
	}
	return prevs, nexts
}

// Len returns the number of entries in the skip list.
func (s *Skiplist) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// MemSize returns the approximate number of bytes of key/value data held by
// the skip list (excluding pointer/bookkeeping overhead).
func (s *Skiplist) MemSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memSz
}

// Iterator walks the skip list in ascending internal-key order.
type Iterator struct {
	s   *Skiplist
	cur *node
}

// NewIterator returns an iterator positioned before the first entry.
func (s *Skiplist) NewIterator() *Iterator {
	return &Iterator{s: s, cur: s.head}
}

func (it *Iterator) First() *base.InternalKV {
	it.cur = it.s.head.next[0]
	return it.kv()
}

func (it *Iterator) Last() *base.InternalKV {
	it.cur = it.s.tail.prev[0]
	return it.kv()
}

func (it *Iterator) Next() *base.InternalKV {
	if it.cur == nil {
		return nil
	}
	it.cur = it.cur.next[0]
	return it.kv()
}

func (it *Iterator) Prev() *base.InternalKV {
	if it.cur == nil {
		return nil
	}
	it.cur = it.cur.prev[0]
	return it.kv()
}

func (it *Iterator) Valid() bool {
	return it.cur != nil && it.cur != it.s.head && it.cur != it.s.tail
}

func (it *Iterator) kv() *base.InternalKV {
	if !it.Valid() {
		return nil
	}
	return &base.InternalKV{Key: it.cur.key, Value: it.cur.value}
}

func (it *Iterator) Close() error { return nil }
