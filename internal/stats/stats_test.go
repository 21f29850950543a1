package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaComputesDifference(t *testing.T) {
	c := &IOCounters{}
	before := c.Snapshot()

	c.AddWrite(100)
	c.AddWrite(50)
	c.AddFsync()

	after := c.Snapshot()
	d := Delta(before, after)

	require.EqualValues(t, 150, d.BytesWritten)
	require.EqualValues(t, 2, d.WriteOps)
	require.EqualValues(t, 1, d.FsyncOps)
}

func TestFlushGaugeStartStop(t *testing.T) {
	var g FlushGauge
	require.False(t, g.Active())

	g.Start()
	require.True(t, g.Active())

	g.Stop()
	require.False(t, g.Active())

	// Stop is idempotent.
	g.Stop()
	require.False(t, g.Active())
}
