package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"basalt/internal/mempurge"
)

func TestLoadMutableCFOptionsResolvesPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("write_buffer_size: 1048576\nmempurge_policy: alternate\ncompression: snappy\n"), 0644))

	opts, err := LoadMutableCFOptions(path)
	require.NoError(t, err)
	require.EqualValues(t, 1048576, opts.WriteBufferSize)
	require.Equal(t, mempurge.Alternate, opts.MempurgePolicy)
	require.Equal(t, "snappy", opts.Compression)
}

func TestDefaultMutableCFOptions(t *testing.T) {
	opts := DefaultMutableCFOptions()
	require.Equal(t, mempurge.Disabled, opts.MempurgePolicy)
	require.Greater(t, opts.WriteBufferSize, uint64(0))
}

func TestLoadDBOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_id: test-db\nsync_output_directory: true\nflush_verify_memtable_count: true\n"), 0644))

	opts, err := LoadDBOptions(path)
	require.NoError(t, err)
	require.Equal(t, "test-db", opts.DBID)
	require.True(t, opts.SyncOutputDirectory)
	require.True(t, opts.FlushVerifyMemtableCount)
}
