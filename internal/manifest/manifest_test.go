package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionSetAllocatesMonotoneFileNumbers(t *testing.T) {
	vs := NewVersionSet(5)
	require.EqualValues(t, 5, vs.NewFileNumber())
	require.EqualValues(t, 6, vs.NewFileNumber())
	require.EqualValues(t, 7, vs.NewFileNumber())
}

func TestLogAndApplyAppendsFiles(t *testing.T) {
	vs := NewVersionSet(1)
	require.Empty(t, vs.Current().Files)

	v1 := vs.LogAndApply(VersionEdit{AddedFiles: []FileMetaData{{FileNumber: 1}}})
	require.Len(t, v1.Files, 1)
	require.Same(t, v1, vs.Current())

	v2 := vs.LogAndApply(VersionEdit{AddedFiles: []FileMetaData{{FileNumber: 2}}})
	require.Len(t, v2.Files, 2)
	require.Len(t, v1.Files, 1, "earlier Version snapshot must stay immutable")
}

func TestVersionRefUnref(t *testing.T) {
	v := &Version{}
	v.Unref() // no-op below zero, must not panic
	v.Ref()
	v.Ref()
	v.Unref()
	v.Unref()
	v.Unref() // no-op again once back at zero
}

func TestVersionEditEncodeRoundTripsYAML(t *testing.T) {
	edit := VersionEdit{
		ColumnFamilyID: 3,
		AddedFiles:     []FileMetaData{{FileNumber: 7, FileSize: 1024, ChecksumFuncName: "xxHash64"}},
		NextLogNumber:  42,
	}
	data, err := edit.Encode()
	require.NoError(t, err)
	require.Contains(t, string(data), "next_log_number: 42")
}
