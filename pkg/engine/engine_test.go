package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/base"
	"basalt/internal/clock"
	"basalt/internal/compare"
	"basalt/internal/config"
	"basalt/internal/eventlog"
	"basalt/internal/flushjob"
	"basalt/internal/memtable"
	"basalt/internal/table"
)

type fakeBuilder struct{}

func (fakeBuilder) Add(kv base.InternalKV) error                             { return nil }
func (fakeBuilder) AddRangeTombstone(start, end []byte, seq base.SeqNum) error { return nil }
func (fakeBuilder) Finish() (int64, error)                                    { return 64, nil }

func newTestEngine() *Engine {
	return New(Options{
		Clock: clock.NewManual(1000),
		NewBuilder: func(fileNumber uint64) (table.Builder, error) {
			return fakeBuilder{}, nil
		},
	})
}

func seed(t *testing.T, cf *ColumnFamily, id uint64) {
	t.Helper()
	m := memtable.New(id, 1<<20, compare.Default)
	require.NoError(t, m.Insert(base.InternalKV{
		Key:   base.MakeInternalKey([]byte("k"), base.SeqNum(id), base.InternalKeyKindPut),
		Value: []byte("v"),
	}))
	m.Seal()
	cf.List.Add(m)
}

func TestEngineTriggerFlushInstallsFile(t *testing.T) {
	e := newTestEngine()
	cf := e.AddColumnFamily("default", 0, compare.Default, 1, config.DefaultMutableCFOptions())
	seed(t, cf, 1)

	result, err := e.TriggerFlush("default", 1, eventlog.ReasonManualFlush)
	require.NoError(t, err)
	require.Equal(t, flushjob.StatusOK, result.Status)
	require.NotNil(t, result.File)
	require.Equal(t, 0, cf.List.Len())
}

func TestEngineTriggerFlushUnknownColumnFamily(t *testing.T) {
	e := newTestEngine()
	_, err := e.TriggerFlush("missing", 1, eventlog.ReasonManualFlush)
	require.ErrorIs(t, err, ErrUnknownColumnFamily)
}

func TestEngineTriggerFlushNothingToPick(t *testing.T) {
	e := newTestEngine()
	e.AddColumnFamily("default", 0, compare.Default, 1, config.DefaultMutableCFOptions())

	result, err := e.TriggerFlush("default", 1, eventlog.ReasonManualFlush)
	require.NoError(t, err)
	require.Equal(t, flushjob.StatusOK, result.Status)
	require.Nil(t, result.File)
}

func TestEngineDropColumnFamilyRollsBackInFlightJob(t *testing.T) {
	e := newTestEngine()
	cf := e.AddColumnFamily("default", 0, compare.Default, 1, config.DefaultMutableCFOptions())
	seed(t, cf, 1)

	require.NoError(t, e.DropColumnFamily("default"))

	result, err := e.TriggerFlush("default", 1, eventlog.ReasonManualFlush)
	require.NoError(t, err)
	require.Equal(t, flushjob.StatusColumnFamilyDropped, result.Status)
	require.Equal(t, 1, cf.List.Len())
}

func TestEngineShutdownRollsBackInFlightJob(t *testing.T) {
	e := newTestEngine()
	cf := e.AddColumnFamily("default", 0, compare.Default, 1, config.DefaultMutableCFOptions())
	seed(t, cf, 1)

	e.Shutdown()

	result, err := e.TriggerFlush("default", 1, eventlog.ReasonManualFlush)
	require.NoError(t, err)
	require.Equal(t, flushjob.StatusShutdownInProgress, result.Status)
}

func TestEngineCloseWithNoOutputDirectory(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Close())
}
