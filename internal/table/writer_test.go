package table

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/base"
	"basalt/internal/compaction"
	"basalt/internal/compare"
	"basalt/internal/merge"
	"basalt/internal/rangedel"
	"basalt/internal/skiplist"
)

type fakeBuilder struct {
	added       []base.InternalKV
	tombstones  []rangedel.Tombstone
	finishSize  int64
	finishErr   error
}

func (f *fakeBuilder) Add(kv base.InternalKV) error {
	f.added = append(f.added, kv)
	return nil
}

func (f *fakeBuilder) AddRangeTombstone(start, end []byte, seq base.SeqNum) error {
	f.tombstones = append(f.tombstones, rangedel.Tombstone{Start: start, End: end, Seq: seq})
	return nil
}

func (f *fakeBuilder) Finish() (int64, error) { return f.finishSize, f.finishErr }

func newCompactionIter(t *testing.T, cmp compare.Compare, kvs ...base.InternalKV) *compaction.Iterator {
	t.Helper()
	skl := skiplist.New(cmp)
	for _, kv := range kvs {
		require.NoError(t, skl.Add(kv.Key, kv.Value))
	}
	it, err := compaction.New(cmp, []merge.PointIterator{skl.NewIterator()}, nil, 0, nil, nil, nil, nil)
	require.NoError(t, err)
	return it
}

func fixedNow(ts int64) NowFunc { return func() int64 { return ts } }

func TestBuildProducesFileMetaData(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), Value: []byte("1")},
		base.InternalKV{Key: base.MakeInternalKey([]byte("b"), 2, base.InternalKeyKindPut), Value: []byte("2")},
	)
	builder := &fakeBuilder{finishSize: 128}

	result, err := Build(it, nil, builder, Options{FileNumber: 7}, fixedNow(1000))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, uint64(7), result.Meta.FileNumber)
	require.Equal(t, int64(128), result.Meta.FileSize)
	require.Equal(t, ChecksumFuncName, result.Meta.ChecksumFuncName)
	require.Equal(t, []byte("a"), result.Meta.SmallestKey.UserKey)
	require.Equal(t, []byte("b"), result.Meta.LargestKey.UserKey)
	require.Equal(t, base.SeqNum(1), result.Meta.SmallestSeq)
	require.Equal(t, base.SeqNum(2), result.Meta.LargestSeq)
	require.Len(t, builder.added, 2)
}

// TestBuildSeqBoundsIndependentOfKeyOrder covers a case the teacher's
// original implementation got wrong: the compaction stream is ordered by
// user key, not by sequence, so a#12,b#11,c#10 must still report
// SmallestSeq=10, LargestSeq=12 — not the seqnums of the first/last emitted
// keys (which would invert the range to SmallestSeq=12, LargestSeq=10).
func TestBuildSeqBoundsIndependentOfKeyOrder(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 12, base.InternalKeyKindPut), Value: []byte("1")},
		base.InternalKV{Key: base.MakeInternalKey([]byte("b"), 11, base.InternalKeyKindPut), Value: []byte("2")},
		base.InternalKV{Key: base.MakeInternalKey([]byte("c"), 10, base.InternalKeyKindPut), Value: []byte("3")},
	)
	builder := &fakeBuilder{finishSize: 128}

	result, err := Build(it, nil, builder, Options{FileNumber: 8}, fixedNow(1000))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, []byte("a"), result.Meta.SmallestKey.UserKey)
	require.Equal(t, []byte("c"), result.Meta.LargestKey.UserKey)
	require.Equal(t, base.SeqNum(10), result.Meta.SmallestSeq)
	require.Equal(t, base.SeqNum(12), result.Meta.LargestSeq)
}

// TestBuildTombstoneSeqFoldedIntoBounds covers the tombstone arm of the same
// defect: a range tombstone's sequence number must widen the file's seq
// bounds exactly like a point key's does, even though tombstones are
// supplied out-of-band from fragments rather than through the compaction
// iterator.
func TestBuildTombstoneSeqFoldedIntoBounds(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 5, base.InternalKeyKindPut), Value: []byte("1")},
	)
	agg := rangedel.NewAggregator(cmp, nil)
	fragments := agg.Fragment([]rangedel.Tombstone{{Start: []byte("m"), End: []byte("z"), Seq: 100}})
	builder := &fakeBuilder{finishSize: 64}

	result, err := Build(it, fragments, builder, Options{FileNumber: 9}, fixedNow(1))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, base.SeqNum(5), result.Meta.SmallestSeq)
	require.Equal(t, base.SeqNum(100), result.Meta.LargestSeq,
		"the tombstone's seq must widen LargestSeq even though it never passes through the compaction iterator")
}

func TestBuildEmptyOutputNotAdded(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp)
	builder := &fakeBuilder{finishSize: 0}

	result, err := Build(it, nil, builder, Options{FileNumber: 1}, fixedNow(1))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestBuildRangeTombstoneOnlyFile(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp)
	agg := rangedel.NewAggregator(cmp, nil)
	fragments := agg.Fragment([]rangedel.Tombstone{{Start: []byte("a"), End: []byte("z"), Seq: 5}})
	builder := &fakeBuilder{finishSize: 64}

	result, err := Build(it, fragments, builder, Options{FileNumber: 2}, fixedNow(1))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, builder.tombstones, 1)
	require.Equal(t, []byte("a"), result.Meta.SmallestKey.UserKey)
}

func TestBuildVerifyMemtableCountMismatch(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), Value: []byte("1")},
	)
	builder := &fakeBuilder{finishSize: 10}

	_, err := Build(it, nil, builder, Options{
		FileNumber:          3,
		VerifyMemtableCount: true,
		InputEntryCounts:    []uint64{5},
	}, fixedNow(1))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrVerifyMemtableCount))
}

func TestBuildCreationTimeUsesOldestKeyTimeByDefault(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), Value: []byte("1")},
	)
	builder := &fakeBuilder{finishSize: 10}

	result, err := Build(it, nil, builder, Options{
		FileNumber:     4,
		OldestKeyTimes: []int64{500},
	}, fixedNow(1000))
	require.NoError(t, err)
	require.Equal(t, int64(500), result.Meta.OldestAncesterTime)
	require.Equal(t, int64(500), result.Meta.FileCreationTime)
}

func TestBuildFIFORetentionUsesCurrentTime(t *testing.T) {
	cmp := compare.Default
	it := newCompactionIter(t, cmp,
		base.InternalKV{Key: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), Value: []byte("1")},
	)
	builder := &fakeBuilder{finishSize: 10}

	result, err := Build(it, nil, builder, Options{
		FileNumber:     5,
		OldestKeyTimes: []int64{500},
		FIFORetention:  true,
	}, fixedNow(1000))
	require.NoError(t, err)
	require.Equal(t, int64(500), result.Meta.OldestAncesterTime)
	require.Equal(t, int64(1000), result.Meta.FileCreationTime)
}
