package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManualClockSetAndAdvance(t *testing.T) {
	c := NewManual(100)
	require.EqualValues(t, 100, c.Now())

	require.EqualValues(t, 150, c.Advance(50))
	require.EqualValues(t, 150, c.Now())

	c.Set(0)
	require.EqualValues(t, 0, c.Now())
}

func TestSystemClockAdvances(t *testing.T) {
	var c System
	a := c.Now()
	require.Greater(t, a, int64(0))
}
