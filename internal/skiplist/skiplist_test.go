package skiplist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/base"
	"basalt/internal/compare"
)

func TestAddAndIterateInOrder(t *testing.T) {
	s := New(compare.Default)
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindPut), []byte("2")))
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), []byte("1")))
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("c"), 1, base.InternalKeyKindPut), []byte("3")))
	require.Equal(t, 3, s.Len())

	it := s.NewIterator()
	var keys []string
	for kv := it.First(); kv != nil; kv = it.Next() {
		keys = append(keys, string(kv.Key.UserKey))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestAddDuplicateInternalKeyErrors(t *testing.T) {
	s := New(compare.Default)
	key := base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut)
	require.NoError(t, s.Add(key, []byte("1")))
	require.ErrorIs(t, s.Add(key, []byte("2")), ErrRecordExists)
}

func TestAddSameUserKeyDifferentSeqBothSurvive(t *testing.T) {
	s := New(compare.Default)
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), []byte("old")))
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindPut), []byte("new")))
	require.Equal(t, 2, s.Len())

	it := s.NewIterator()
	kv := it.First()
	require.Equal(t, base.SeqNum(2), kv.Key.SeqNum(), "higher sequence sorts first")
}

func TestMemSizeAccumulates(t *testing.T) {
	s := New(compare.Default)
	require.Zero(t, s.MemSize())
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("ab"), 1, base.InternalKeyKindPut), []byte("xyz")))
	require.EqualValues(t, 2+8+3, s.MemSize())
}

func TestAddDrawsKeyValueBytesFromArena(t *testing.T) {
	s := NewWithArenaSize(compare.Default, 1<<16)
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), []byte("v")))
	require.Positive(t, s.arena.Len(), "the inserted key/value bytes should have been carved out of the arena")
	require.NoError(t, s.Close())
}

func TestAddFallsBackToHeapOnceArenaIsFull(t *testing.T) {
	s := NewWithArenaSize(compare.Default, 8)
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), []byte("0123456789")))

	it := s.NewIterator()
	kv := it.First()
	require.Equal(t, "a", string(kv.Key.UserKey))
	require.Equal(t, "0123456789", string(kv.Value), "a record too big for the arena still gets inserted, via a heap copy")
}

func TestIteratorReverse(t *testing.T) {
	s := New(compare.Default)
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut), nil))
	require.NoError(t, s.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindPut), nil))

	it := s.NewIterator()
	kv := it.Last()
	require.Equal(t, "b", string(kv.Key.UserKey))
	kv = it.Prev()
	require.Equal(t, "a", string(kv.Key.UserKey))
	require.Nil(t, it.Prev())
	require.False(t, it.Valid())
}
