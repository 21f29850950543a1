// Package config loads the YAML-encoded options the flush engine reads:
// per-database options and per-column-family mutable options, matching
// the teacher's yaml.v3-based configuration style.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"basalt/internal/eventlog"
	"basalt/internal/mempurge"
)

// DBOptions are options shared across every column family in a database.
type DBOptions struct {
	DBID                     string `yaml:"db_id"`
	SessionID                string `yaml:"session_id"`
	SyncOutputDirectory      bool   `yaml:"sync_output_directory"`
	FlushVerifyMemtableCount bool   `yaml:"flush_verify_memtable_count"`
}

// MutableCFOptions are the per-column-family options a flush job
// consults; they may change between flushes of the same column family.
type MutableCFOptions struct {
	WriteBufferSize    uint64               `yaml:"write_buffer_size"`
	Compression        string               `yaml:"compression"`
	MempurgePolicy     mempurge.Policy      `yaml:"-"`
	MempurgePolicyName string               `yaml:"mempurge_policy"`
	FIFORetention      bool                 `yaml:"fifo_retention"`
	DefaultFlushReason eventlog.FlushReason `yaml:"-"`
}

func policyFromName(name string) mempurge.Policy {
	switch name {
	case "always":
		return mempurge.Always
	case "alternate":
		return mempurge.Alternate
	default:
		return mempurge.Disabled
	}
}

// LoadDBOptions reads and parses DBOptions from a YAML file.
func LoadDBOptions(path string) (DBOptions, error) {
	var opts DBOptions
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// LoadMutableCFOptions reads and parses MutableCFOptions from a YAML file,
// resolving the string mempurge policy name into its typed enum value.
func LoadMutableCFOptions(path string) (MutableCFOptions, error) {
	var opts MutableCFOptions
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	opts.MempurgePolicy = policyFromName(opts.MempurgePolicyName)
	return opts, nil
}

// DefaultMutableCFOptions returns reasonable defaults for a column family
// that supplies no configuration file.
func DefaultMutableCFOptions() MutableCFOptions {
	return MutableCFOptions{
		WriteBufferSize: 64 << 20,
		Compression:     "none",
		MempurgePolicy:  mempurge.Disabled,
	}
}
