// Package manifest models the persistent version state a flush installs
// into: FileMetaData for newly written tables, the VersionEdit journal
// record describing a transition, and a VersionSet that hands out file
// numbers and tracks the current Version.
package manifest

import (
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"basalt/internal/base"
)

// FileMetaData describes one on-disk L0 table produced by a flush.
type FileMetaData struct {
	FileNumber  uint64           `yaml:"file_number"`
	PathID      int              `yaml:"path_id"`
	Level       int              `yaml:"level"`
	SmallestKey base.InternalKey `yaml:"-"`
	LargestKey  base.InternalKey `yaml:"-"`
	SmallestSeq base.SeqNum      `yaml:"smallest_seq"`
	LargestSeq  base.SeqNum      `yaml:"largest_seq"`
	FileSize    int64            `yaml:"file_size"`

	OldestAncesterTime int64 `yaml:"oldest_ancester_time"`
	FileCreationTime   int64 `yaml:"file_creation_time"`

	MarkedForCompaction  bool    `yaml:"marked_for_compaction"`
	OldestBlobFileNumber *uint64 `yaml:"oldest_blob_file_number,omitempty"`

	ChecksumFuncName string `yaml:"checksum_func_name"`
	Checksum         uint64 `yaml:"checksum"`
}

// BlobFileAddition records a blob file registered alongside a table during
// installation. The flush engine itself never writes blob payloads; it only
// threads through whatever the table builder reports.
type BlobFileAddition struct {
	BlobFileNumber uint64 `yaml:"blob_file_number"`
	TotalBlobBytes int64  `yaml:"total_blob_bytes"`
}

// VersionEdit is the journal record describing one transition of the
// persistent state: files added, blob files added, and the log-number
// bookkeeping a flush advances.
type VersionEdit struct {
	ColumnFamilyID uint32             `yaml:"column_family_id"`
	AddedFiles     []FileMetaData     `yaml:"added_files"`
	AddedBlobFiles []BlobFileAddition `yaml:"added_blob_files,omitempty"`
	PrevLogNumber  uint64             `yaml:"prev_log_number"`
	NextLogNumber  uint64             `yaml:"next_log_number"`
}

// Encode serializes the edit the way it is appended to the manifest log —
// one YAML document per record, matching the teacher's config conventions
// (spec §1 ambient stack: yaml.v3 promoted to direct use for exactly this
// kind of structured, human-diffable persisted record).
func (e VersionEdit) Encode() ([]byte, error) { return yaml.Marshal(e) }

// Version is an immutable snapshot of the table files that make up a
// column family's persistent state.
type Version struct {
	Files []FileMetaData

	// refs counts outstanding holders of this version, e.g. a flush job
	// between Pick and Run/Cancel. Nothing in this engine actually reads
	// the count to decide when a version's files may be deleted yet — the
	// plumbing exists so that invariant isn't silently dropped once a
	// garbage collector is layered on top.
	refs atomic.Int32
}

// Ref increments the version's reference count.
func (v *Version) Ref() { v.refs.Add(1) }

// Unref decrements the version's reference count. It is a no-op below
// zero rather than a panic, since a job that never successfully picked
// anything may still call Unref on Cancel.
func (v *Version) Unref() {
	for {
		cur := v.refs.Load()
		if cur <= 0 {
			return
		}
		if v.refs.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// VersionSet owns file-number allocation and the current Version pointer
// for a column family. The flush engine draws file numbers from it during
// the disk flush with no database mutex held (NewFileNumber takes the set's
// own lock) and reads Current() to decide file layout.
type VersionSet struct {
	mu          sync.Mutex
	nextFileNum uint64
	current     atomic.Pointer[Version]
}

// NewVersionSet creates a version set whose first allocated file number is
// firstFileNumber.
func NewVersionSet(firstFileNumber uint64) *VersionSet {
	vs := &VersionSet{nextFileNum: firstFileNumber}
	vs.current.Store(&Version{})
	return vs
}

// NewFileNumber hands out the next monotone file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.nextFileNum
	vs.nextFileNum++
	return n
}

// Current returns the version set's current version.
func (vs *VersionSet) Current() *Version { return vs.current.Load() }

// LogAndApply installs edit as the new current version, appending its added
// files to the existing set. The flush engine's installation phase calls it
// under the immutable list's lock (memtable.ImmutableList.TryInstallResults);
// no database mutex is held at that point.
func (vs *VersionSet) LogAndApply(edit VersionEdit) *Version {
	prev := vs.Current()
	next := &Version{Files: append(append([]FileMetaData(nil), prev.Files...), edit.AddedFiles...)}
	vs.current.Store(next)
	return next
}
