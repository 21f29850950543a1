package storage

import "os"

// Directory represents an open output directory whose fsync durably
// persists the directory entry for a newly created file — the
// FSDirectory.fsync() step spec §6 requires between writing a table and
// appending the VersionEdit that references it, so a crash can never leave
// a manifest pointing at a file the directory doesn't yet know about.
type Directory struct {
	f *os.File
}

// OpenDirectory opens path for fsync-only use; it is never read from or
// written to directly.
func OpenDirectory(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Directory{f: f}, nil
}

// Sync fsyncs the directory, durably persisting every file creation and
// rename that happened within it since the last Sync.
func (d *Directory) Sync() error { return d.f.Sync() }

func (d *Directory) Close() error { return d.f.Close() }

// Flusher is the resource-budget contract a schedulable memtable exposes:
// how much of its capacity remains, how much it has used, and its total
// budget. internal/memtable.MemTable implements it; pkg/engine does not
// consult it.
type Flusher interface {
	AvailableBytes() uint
	UsedBytes() uint
	TotalBytes() uint
}
