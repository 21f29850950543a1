package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeFlusher struct {
	avail, used, total uint
}

func (f fakeFlusher) AvailableBytes() uint { return f.avail }
func (f fakeFlusher) UsedBytes() uint      { return f.used }
func (f fakeFlusher) TotalBytes() uint     { return f.total }

func TestFlusherInterfaceSatisfiedByPlainStruct(t *testing.T) {
	var f Flusher = fakeFlusher{avail: 10, used: 90, total: 100}
	require.Equal(t, uint(10), f.AvailableBytes())
	require.Equal(t, uint(90), f.UsedBytes())
	require.Equal(t, uint(100), f.TotalBytes())
}

func TestOpenDirectoryMissingPath(t *testing.T) {
	_, err := OpenDirectory("/nonexistent/path/that/should/not/exist")
	require.Error(t, err)
}
