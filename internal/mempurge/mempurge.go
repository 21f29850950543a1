// Package mempurge implements the in-memory re-compaction path of spec
// §4.D: re-packing a set of sealed memtables into a single new memtable
// without touching disk, falling back to the normal flush path on
// overflow.
package mempurge

import (
	"errors"

	"basalt/internal/base"
	"basalt/internal/compaction"
	"basalt/internal/compare"
	"basalt/internal/memtable"
	"basalt/internal/merge"
	"basalt/internal/rangedel"
)

// ErrAborted is the overflow error: the re-packed data didn't fit in one
// memtable, so the caller must fall back to the disk flush path.
var ErrAborted = errors.New("mempurge: Mempurge filled more than one memtable.")

// Policy decides whether a mempurge attempt is worth making.
type Policy int

const (
	// Disabled never attempts a mempurge; it is the default (spec §4.D).
	Disabled Policy = iota
	// Always attempts a mempurge whenever the entry predicate holds.
	Always
	// Alternate attempts a mempurge unless any input was itself produced by
	// a previous mempurge, which would otherwise allow unbounded re-pack
	// cycles on a workload that never actually shrinks.
	Alternate
)

// Decide reports whether a mempurge should be attempted given the policy,
// whether this flush was triggered by write-buffer fullness, and the set of
// memtables being flushed.
func Decide(policy Policy, triggeredByWriteBufferFull bool, inputs []*memtable.MemTable) bool {
	if !triggeredByWriteBufferFull || len(inputs) == 0 {
		return false
	}
	switch policy {
	case Always:
		return true
	case Alternate:
		for _, m := range inputs {
			if m.IsMempurgeOutput() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Result carries the mempurge's new memtable and the metadata the install
// step needs: the ids of the inputs it replaces (the install step gives the
// new memtable the smallest of them) and the new memtable's first sequence.
type Result struct {
	NewMem         *memtable.MemTable
	InputIDs       []uint64
	NewFirstSeqNum base.SeqNum
}

// Run performs the re-pack procedure: merge every input's point iterator
// and range tombstones through the same merging cursor and compaction
// iterator the disk path uses, inserting every emitted record into a fresh
// memtable. It aborts with ErrAborted the moment the new memtable's memory
// usage exceeds writeBufferSize.
func Run(
	cmp compare.Compare,
	inputs []*memtable.MemTable,
	snapshots []base.SeqNum,
	earliestWriteConflictSnapshot base.SeqNum,
	mergeOp compaction.MergeOperator,
	filter compaction.Filter,
	writeBufferSize uint64,
) (*Result, error) {
	pointInputs := make([]merge.PointIterator, len(inputs))
	var tombstones []rangedel.Tombstone
	earliestSeq := base.SeqNumMax
	for i, m := range inputs {
		pointInputs[i] = m.NewIterator()
		tombstones = append(tombstones, m.RangeTombstones()...)
		if m.EarliestSeqNum() < earliestSeq {
			earliestSeq = m.EarliestSeqNum()
		}
	}

	agg := rangedel.NewAggregator(cmp, snapshots)
	fragments := agg.Fragment(tombstones)

	iter, err := compaction.New(cmp, pointInputs, snapshots, earliestWriteConflictSnapshot, mergeOp, filter, fragments, nil)
	if err != nil {
		return nil, err
	}

	newMem := memtable.New(0, writeBufferSize, cmp)
	newMem.SetEarliestSeqNum(earliestSeq)

	newFirstSeq := base.SeqNumMax
	numEmitted := 0

	for kv := iter.Next(); kv != nil; kv = iter.Next() {
		if err := newMem.Insert(*kv); err != nil {
			return nil, err
		}
		if kv.SeqNum() < newFirstSeq {
			newFirstSeq = kv.SeqNum()
		}
		numEmitted++
		if newMem.ApproximateMemoryUsage() > writeBufferSize {
			return nil, ErrAborted
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	for _, f := range fragments {
		var maxSeq base.SeqNum
		for _, s := range f.SeqByStripe {
			if s > maxSeq {
				maxSeq = s
			}
		}
		tombstoneKV := base.InternalKV{
			Key:   base.MakeInternalKey(f.Start, maxSeq, base.InternalKeyKindRangeDeletion),
			Value: f.End,
		}
		if err := newMem.Insert(tombstoneKV); err != nil {
			return nil, err
		}
		if maxSeq < newFirstSeq {
			newFirstSeq = maxSeq
		}
		numEmitted++
		if newMem.ApproximateMemoryUsage() > writeBufferSize {
			return nil, ErrAborted
		}
	}

	if numEmitted == 0 {
		return nil, nil
	}

	if newMem.ShouldFlushNow() {
		return nil, ErrAborted
	}

	newMem.SetFirstSeqNum(newFirstSeq)

	inputIDs := make([]uint64, len(inputs))
	for i, m := range inputs {
		inputIDs[i] = m.ID()
	}

	return &Result{NewMem: newMem, InputIDs: inputIDs, NewFirstSeqNum: newFirstSeq}, nil
}
