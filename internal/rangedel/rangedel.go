// Package rangedel implements the range-tombstone fragmentation and
// aggregation described in spec §4.A: turning possibly-overlapping range
// deletions collected from several memtables into a set of non-overlapping
// spans, each carrying the strongest (maximum) deleting sequence per
// snapshot stripe.
package rangedel

import (
	"sort"

	"basalt/internal/base"
	"basalt/internal/compare"
)

// Tombstone is a single range-deletion record covering [Start, End) at Seq.
type Tombstone struct {
	Start []byte
	End   []byte
	Seq   base.SeqNum
}

// Fragment is a non-overlapping span of the keyspace. SeqByStripe[i] is the
// maximum deleting sequence visible within snapshot stripe i (stripe 0 is
// "below the oldest snapshot", the last stripe is "above the newest
// snapshot").
type Fragment struct {
	Start       []byte
	End         []byte
	SeqByStripe []base.SeqNum
}

// boundary is one endpoint of a tombstone span, used only while sorting and
// deduping the fragment boundaries in Fragment below.
type boundary struct {
	key   []byte
	start bool
	seq   base.SeqNum
}

// Aggregator fragments the range tombstones collected across the memtables
// being flushed into non-overlapping spans, stratified by the existing
// snapshot sequence numbers.
type Aggregator struct {
	cmp       compare.Compare
	snapshots []base.SeqNum // ascending
}

// NewAggregator builds an aggregator parameterized by the sorted, ascending
// list of live snapshot sequence numbers visible during this flush.
func NewAggregator(cmp compare.Compare, snapshots []base.SeqNum) *Aggregator {
	return &Aggregator{cmp: cmp, snapshots: snapshots}
}

// stripeOf returns the index of the snapshot stripe a sequence number falls
// into: stripe i means seq is visible to readers pinned at snapshots[i] but
// not at any earlier, live snapshot.
func (a *Aggregator) stripeOf(seq base.SeqNum) int {
	return sort.Search(len(a.snapshots), func(i int) bool { return a.snapshots[i] >= seq })
}

// Fragment merges every input tombstone into a sorted set of non-overlapping
// fragments. It does not discard anything, and nothing downstream collapses
// fragments below a snapshot boundary either: the compaction iterator only
// reads them to drop shadowed point keys, and table.Build writes each one
// with its maximum sequence.
func (a *Aggregator) Fragment(tombstones []Tombstone) []Fragment {
	if len(tombstones) == 0 {
		return nil
	}

	bounds := make([]boundary, 0, len(tombstones)*2)
	for _, t := range tombstones {
		bounds = append(bounds,
			boundary{key: t.Start, start: true, seq: t.Seq},
			boundary{key: t.End, start: false, seq: t.Seq},
		)
	}

	keys := make([][]byte, len(bounds))
	for i, b := range bounds {
		keys[i] = b.key
	}
	points := dedupeSortedKeys(a.cmp, keys)
	if len(points) < 2 {
		return nil
	}

	numStripes := len(a.snapshots) + 1
	fragments := make([]Fragment, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		start, end := points[i], points[i+1]

		byStripe := make([]base.SeqNum, numStripes)
		for _, t := range tombstones {
			if a.cmp(t.Start, start) <= 0 && a.cmp(end, t.End) <= 0 {
				stripe := a.stripeOf(t.Seq)
				if t.Seq > byStripe[stripe] {
					byStripe[stripe] = t.Seq
				}
			}
		}

		covered := false
		for _, s := range byStripe {
			if s != 0 {
				covered = true
				break
			}
		}
		if !covered {
			continue
		}

		fragments = append(fragments, Fragment{Start: start, End: end, SeqByStripe: byStripe})
	}

	return fragments
}

// MaxDeletingSeq returns the strongest (maximum) deleting sequence number
// among fragments that cover userKey, or 0 if none does. A range tombstone
// only shadows a point key with a strictly smaller sequence number, so the
// compaction iterator compares the result against the point key's own
// sequence before dropping it.
func MaxDeletingSeq(cmp compare.Compare, fragments []Fragment, userKey []byte) base.SeqNum {
	for _, f := range fragments {
		if cmp(userKey, f.Start) >= 0 && cmp(userKey, f.End) < 0 {
			var best base.SeqNum
			for _, s := range f.SeqByStripe {
				if s > best {
					best = s
				}
			}
			return best
		}
	}
	return 0
}

// dedupeSortedKeys sorts keys in place and removes adjacent duplicates,
// returning the distinct fragment boundary points in ascending order.
func dedupeSortedKeys(cmp compare.Compare, keys [][]byte) [][]byte {
	sort.Slice(keys, func(i, j int) bool { return cmp(keys[i], keys[j]) < 0 })

	out := keys[:0:0]
	for i, k := range keys {
		if i == 0 || cmp(k, out[len(out)-1]) != 0 {
			out = append(out, k)
		}
	}
	return out
}
