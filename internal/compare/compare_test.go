package compare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/base"
)

func TestDefaultIsBytewise(t *testing.T) {
	require.Negative(t, Default([]byte("a"), []byte("b")))
	require.Zero(t, Default([]byte("a"), []byte("a")))
	require.Positive(t, Default([]byte("b"), []byte("a")))
}

func TestInternalOrdersByUserKeyThenSeqDescThenKindDesc(t *testing.T) {
	a := base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindPut)
	b := base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindPut)
	require.Negative(t, Internal(Default, a, b))

	newer := base.MakeInternalKey([]byte("k"), 5, base.InternalKeyKindPut)
	older := base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindPut)
	require.Negative(t, Internal(Default, newer, older), "higher seq sorts first")

	del := base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindDelete)
	put := base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindPut)
	require.Negative(t, Internal(Default, del, put), "higher kind sorts first for ties")

	require.Zero(t, Internal(Default, newer, newer))
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(Default, []byte("a"), []byte("a")))
	require.False(t, Equal(Default, []byte("a"), []byte("b")))
}
