// Package compaction implements the snapshot-aware compaction iterator of
// spec §4.B: it wraps the merging cursor, resolves which version of a user
// key survives for which snapshot stripe, folds merge operands, applies an
// optional flush-stage compaction filter, and drops point keys shadowed by a
// surviving range tombstone.
package compaction

import (
	"errors"
	"fmt"

	"basalt/internal/base"
	"basalt/internal/compare"
	"basalt/internal/merge"
	"basalt/internal/rangedel"
)

var (
	// ErrNotSupported is returned when a compaction filter cannot ignore
	// snapshots; flush can never honor that constraint because it has no
	// "bottommost level" guarantee to fall back on.
	ErrNotSupported = errors.New("compaction: filter declares it cannot ignore snapshots")
	// ErrCorruption flags an internal key whose kind is not one the flush
	// engine understands; flush never silently drops a corrupt key.
	ErrCorruption = errors.New("compaction: corrupt internal key")
)

// MergeOperator folds a sequence of Merge records (and, optionally, a base
// Put value) into a single resolved value.
type MergeOperator interface {
	FullMerge(userKey []byte, operands [][]byte) ([]byte, error)
}

// FilterDecision is the result of running a compaction filter over a
// candidate record.
type FilterDecision int

const (
	FilterKeep FilterDecision = iota
	FilterDrop
	FilterChangeValue
)

// Filter is the flush-stage compaction filter hook. IgnoresSnapshots must
// return true for a filter to be usable during flush (spec §4.B) — flush has
// no bottommost-level guarantee to fall back on, so a filter that needs
// snapshot awareness can never run safely here.
type Filter interface {
	Filter(userKey, value []byte) (FilterDecision, []byte, error)
	IgnoresSnapshots() bool
}

// Iterator wraps a merging point-key cursor with snapshot-aware version
// resolution and surfaces a monotonic stream of emittable records.
type Iterator struct {
	cmp                       compare.Compare
	merged                    *merge.MergingIter
	snapshots                 []base.SeqNum // ascending
	earliestWriteConflictSnap base.SeqNum
	mergeOp                   MergeOperator
	filter                    Filter
	fragments                 []rangedel.Fragment
	fullHistoryTsLow          []byte

	// pending holds a record already pulled from the merging cursor that
	// belongs to the *next* group, because MergingIter has no peek operation.
	pending *base.InternalKV

	queue []base.InternalKV
	err   error

	numInputEntries  int
	numEmittedPoints int
	numDropped       int
}

// New constructs a compaction iterator. fragments is the already-aggregated,
// non-overlapping range-tombstone view from internal/rangedel for this
// flush; it is consulted to drop point keys a surviving tombstone shadows,
// but is never itself rewritten — range tombstones flow to the table writer
// through the aggregator, not through this iterator (spec §4.B).
func New(
	cmp compare.Compare,
	inputs []merge.PointIterator,
	snapshots []base.SeqNum,
	earliestWriteConflictSnapshot base.SeqNum,
	mergeOp MergeOperator,
	filter Filter,
	fragments []rangedel.Fragment,
	fullHistoryTsLow []byte,
) (*Iterator, error) {
	if filter != nil && !filter.IgnoresSnapshots() {
		return nil, ErrNotSupported
	}
	return &Iterator{
		cmp:                       cmp,
		merged:                    merge.NewMergingIter(cmp, inputs),
		snapshots:                 snapshots,
		earliestWriteConflictSnap: earliestWriteConflictSnapshot,
		mergeOp:                   mergeOp,
		filter:                    filter,
		fragments:                 fragments,
		fullHistoryTsLow:          fullHistoryTsLow,
	}, nil
}

// Next returns the next emittable internal key/value, or nil when the
// stream is exhausted. Call Err after Next returns nil to distinguish a
// clean end-of-stream from a hard failure (corruption, merge operator error).
func (c *Iterator) Next() *base.InternalKV {
	for len(c.queue) == 0 {
		if c.err != nil {
			return nil
		}
		if !c.fillGroup() {
			return nil
		}
	}
	kv := c.queue[0]
	c.queue = c.queue[1:]
	c.numEmittedPoints++
	return &kv
}

func (c *Iterator) Err() error { return c.err }

// Close closes the underlying merging cursor, which in turn closes every
// input point iterator. Callers should close the iterator once they are
// done draining it, win or lose.
func (c *Iterator) Close() error {
	return c.merged.Close()
}

// NumInputEntries returns the number of point entries pulled from the
// merging cursor so far, for the §4.C entry-count verification.
func (c *Iterator) NumInputEntries() int { return c.numInputEntries }

// NumDropped returns the number of point entries resolved (shadowed or
// tombstoned) rather than emitted.
func (c *Iterator) NumDropped() int { return c.numDropped }

func isKnownKind(k base.InternalKeyKind) bool {
	switch k {
	case base.InternalKeyKindPut, base.InternalKeyKindDelete, base.InternalKeyKindSingleDelete,
		base.InternalKeyKindMerge, base.InternalKeyKindRangeDeletion:
		return true
	default:
		return false
	}
}

func (c *Iterator) next() *base.InternalKV {
	if c.pending != nil {
		kv := c.pending
		c.pending = nil
		return kv
	}
	kv := c.merged.Next()
	if kv != nil {
		c.numInputEntries++
	}
	return kv
}

// fillGroup pulls one user-key group from the merging cursor, resolves
// visibility per snapshot stripe, folds merge operands, applies the filter,
// and pushes surviving records onto the emit queue. It returns false once
// the merging cursor is exhausted (or a hard error occurred, via c.err).
func (c *Iterator) fillGroup() bool {
	first := c.next()
	if first == nil {
		return false
	}
	if !isKnownKind(first.Kind()) {
		c.err = fmt.Errorf("%w: key %s has unknown kind", ErrCorruption, first.Key.String())
		return false
	}

	group := []base.InternalKV{*first}
	for {
		peeked := c.next()
		if peeked == nil {
			break
		}
		if !isKnownKind(peeked.Kind()) {
			c.err = fmt.Errorf("%w: key %s has unknown kind", ErrCorruption, peeked.Key.String())
			return false
		}
		if !compare.Equal(c.cmp, peeked.Key.UserKey, first.Key.UserKey) {
			c.pending = peeked
			break
		}
		group = append(group, *peeked)
	}

	return c.resolveGroup(group)
}

// resolveGroup walks one user key's entries from newest to oldest sequence,
// keeping exactly one visible version per snapshot stripe, folding Merge
// runs via the merge operator, applying the compaction filter to the
// surviving value, and dropping anything a surviving range tombstone
// shadows. It returns false (setting c.err) only on a hard failure.
func (c *Iterator) resolveGroup(group []base.InternalKV) bool {
	userKey := group[0].Key.UserKey
	deletingSeq := rangedel.MaxDeletingSeq(c.cmp, c.fragments, userKey)

	lastStripe := -1      // stripe of the previously seen entry, to detect a stripe boundary
	finalizedStripe := -1 // stripe that has already produced its visible value
	var pendingMergeOperands [][]byte
	var pendingMergeSeq base.SeqNum

	// flushMerge resolves any accumulated merge chain. It reports folded=true
	// when baseValue was consumed into the resolved result, telling the
	// caller not to additionally emit the base record itself.
	flushMerge := func(baseValue []byte, haveBase bool) (folded bool, err error) {
		if len(pendingMergeOperands) == 0 {
			return false, nil
		}
		if c.mergeOp == nil {
			// No merge operator configured: surface the most recent operand
			// unresolved rather than silently dropping the merge chain.
			c.emit(base.InternalKV{
				Key:   base.MakeInternalKey(userKey, pendingMergeSeq, base.InternalKeyKindMerge),
				Value: pendingMergeOperands[0],
			})
			pendingMergeOperands = nil
			return false, nil
		}
		operands := pendingMergeOperands
		if haveBase {
			operands = append(append([][]byte(nil), pendingMergeOperands...), baseValue)
		}
		resolved, err := c.mergeOp.FullMerge(userKey, operands)
		if err != nil {
			return false, fmt.Errorf("compaction: merge operator: %w", err)
		}
		c.emit(base.InternalKV{
			Key:   base.MakeInternalKey(userKey, pendingMergeSeq, base.InternalKeyKindPut),
			Value: resolved,
		})
		pendingMergeOperands = nil
		return haveBase, nil
	}

	for _, kv := range group {
		seq := kv.SeqNum()
		stripe := c.stripeOf(seq)

		if stripe != lastStripe {
			// Crossing into an older stripe: any merge operands collected for
			// the previous stripe never found a base value in this group, so
			// resolve them on their own.
			if _, err := flushMerge(nil, false); err != nil {
				c.err = err
				return false
			}
			lastStripe = stripe
		}

		forceKeep := c.earliestWriteConflictSnap != 0 && seq >= c.earliestWriteConflictSnap
		if stripe == finalizedStripe && !forceKeep {
			c.numDropped++
			continue
		}

		if deletingSeq > seq {
			// A surviving range tombstone written after this entry shadows
			// it entirely; only the tombstone itself needs to remain in the
			// output (spec §9, scenario 3). Merge operands newer than the
			// tombstone are resolved on their own, without this entry.
			if _, err := flushMerge(nil, false); err != nil {
				c.err = err
				return false
			}
			c.numDropped++
			continue
		}

		if kv.Kind() == base.InternalKeyKindMerge {
			if pendingMergeOperands == nil {
				pendingMergeSeq = seq
			}
			pendingMergeOperands = append(pendingMergeOperands, kv.Value)
			continue
		}

		isBase := kv.Kind() == base.InternalKeyKindPut
		folded, err := flushMerge(kv.Value, isBase)
		if err != nil {
			c.err = err
			return false
		}
		finalizedStripe = stripe

		if folded {
			// kv's value was absorbed as the merge chain's base; the chain
			// already emitted the resolved record in its place.
			continue
		}

		if err := c.emitFiltered(kv); err != nil {
			c.err = err
			return false
		}
	}

	if _, err := flushMerge(nil, false); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *Iterator) stripeOf(seq base.SeqNum) int {
	lo, hi := 0, len(c.snapshots)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.snapshots[mid] >= seq {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func (c *Iterator) emit(kv base.InternalKV) { c.queue = append(c.queue, kv) }

func (c *Iterator) emitFiltered(kv base.InternalKV) error {
	if c.filter == nil || kv.Kind() != base.InternalKeyKindPut {
		c.emit(kv)
		return nil
	}
	decision, newValue, err := c.filter.Filter(kv.Key.UserKey, kv.Value)
	if err != nil {
		return fmt.Errorf("compaction: filter: %w", err)
	}
	switch decision {
	case FilterDrop:
		c.numDropped++
	case FilterChangeValue:
		kv.Value = newValue
		c.emit(kv)
	default:
		c.emit(kv)
	}
	return nil
}
