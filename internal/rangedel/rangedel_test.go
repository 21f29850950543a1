package rangedel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/base"
	"basalt/internal/compare"
)

func TestAggregatorFragmentsNonOverlapping(t *testing.T) {
	agg := NewAggregator(compare.Default, nil)
	fragments := agg.Fragment([]Tombstone{
		{Start: []byte("a"), End: []byte("m"), Seq: 5},
		{Start: []byte("g"), End: []byte("z"), Seq: 7},
	})

	require.NotEmpty(t, fragments)
	for i := 1; i < len(fragments); i++ {
		require.True(t, compare.Default(fragments[i-1].End, fragments[i].Start) <= 0)
	}

	// The overlap region [g, m) should carry the max of both tombstones (7).
	for _, f := range fragments {
		if compare.Default(f.Start, []byte("g")) >= 0 && compare.Default(f.End, []byte("m")) <= 0 {
			require.Equal(t, base.SeqNum(7), f.SeqByStripe[0])
		}
	}
}

func TestAggregatorEmptyInput(t *testing.T) {
	agg := NewAggregator(compare.Default, nil)
	require.Nil(t, agg.Fragment(nil))
}

func TestAggregatorStratifiesBySnapshot(t *testing.T) {
	agg := NewAggregator(compare.Default, []base.SeqNum{10})
	fragments := agg.Fragment([]Tombstone{
		{Start: []byte("a"), End: []byte("z"), Seq: 5},
	})
	require.Len(t, fragments, 1)
	// seq 5 <= snapshot 10, so it lands in stripe 0, not stripe 1.
	require.Equal(t, base.SeqNum(5), fragments[0].SeqByStripe[0])
	require.Equal(t, base.SeqNum(0), fragments[0].SeqByStripe[1])
}

func TestMaxDeletingSeqOutsideRange(t *testing.T) {
	agg := NewAggregator(compare.Default, nil)
	fragments := agg.Fragment([]Tombstone{{Start: []byte("a"), End: []byte("m"), Seq: 5}})
	require.Equal(t, base.SeqNum(0), MaxDeletingSeq(compare.Default, fragments, []byte("z")))
	require.Equal(t, base.SeqNum(5), MaxDeletingSeq(compare.Default, fragments, []byte("b")))
}
