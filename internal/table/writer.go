// Package table implements the table writer driver of spec §4.C: it pulls
// the compaction iterator's emittable stream and the surviving
// range-tombstone view, hands them to an external table builder, and
// assembles the resulting FileMetaData with its creation-time stamps.
package table

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"basalt/internal/base"
	"basalt/internal/compaction"
	"basalt/internal/manifest"
	"basalt/internal/rangedel"
)

// ErrVerifyMemtableCount is returned when the builder's reported entry
// count disagrees with the sum of input memtables' entry counts and
// flush_verify_memtable_count is enabled.
var ErrVerifyMemtableCount = errors.New("table: num_input_entries disagrees with input memtable counts")

// ChecksumFuncName is recorded on every FileMetaData this package produces.
const ChecksumFuncName = "xxHash64"

// Builder is the external table-builder collaborator: it receives a
// pre-sorted stream of internal keys/values plus the surviving range
// tombstones and produces one on-disk sorted table.
type Builder interface {
	Add(kv base.InternalKV) error
	AddRangeTombstone(start, end []byte, seq base.SeqNum) error
	// Finish flushes and closes the table, returning its size in bytes.
	Finish() (size int64, err error)
}

// Options parameterizes one call to Build.
type Options struct {
	ColumnFamilyID      uint32
	FileNumber          uint64
	Compression         string
	DBID, SessionID     string
	FIFORetention       bool // table style uses FIFO retention semantics
	OldestKeyTimes      []int64
	VerifyMemtableCount bool
	InputEntryCounts    []uint64 // per input memtable, for verification
}

// Result carries everything the installer needs after a successful build.
type Result struct {
	Meta             manifest.FileMetaData
	NumInputEntries  int
	NumOutputEntries int
	PayloadBytes     int64
	GarbageBytes     int64
}

// NowFunc returns the current time in unix micros. Build takes it as a
// parameter so tests can pin the time; flushjob passes its clock.Clock's Now.
type NowFunc func() int64

// Build drains iter (and the fragments it was constructed with) into
// builder, computing the output FileMetaData. It returns (nil, nil) when
// the output is empty — spec §4.C says a zero-size file is valid but must
// not be added to the edit.
func Build(
	iter *compaction.Iterator,
	fragments []rangedel.Fragment,
	builder Builder,
	opts Options,
	now NowFunc,
) (*Result, error) {
	var (
		smallest, largest       base.InternalKey
		haveKey                 bool
		numOut                  int
		checksum                = xxhash.New()
		smallestSeq, largestSeq base.SeqNum
		haveSeq                 bool
	)

	// updateSeqBounds folds a seqnum into the running min/max, independent of
	// user-key order — the compaction stream is ordered by user key, not by
	// sequence, so the first/last emitted entries say nothing about which
	// entry carries the smallest or largest sequence number (RocksDB's
	// FileMetaData::UpdateBoundaries does the same fold as entries arrive).
	updateSeqBounds := func(seq base.SeqNum) {
		if !haveSeq || seq < smallestSeq {
			smallestSeq = seq
		}
		if !haveSeq || seq > largestSeq {
			largestSeq = seq
		}
		haveSeq = true
	}

	for kv := iter.Next(); kv != nil; kv = iter.Next() {
		if err := builder.Add(*kv); err != nil {
			return nil, errors.Wrap(err, "table: builder.Add")
		}
		checksum.Write(kv.Key.UserKey)
		checksum.Write(kv.Value)

		if !haveKey {
			smallest = kv.Key.Clone()
			haveKey = true
		}
		largest = kv.Key.Clone()
		updateSeqBounds(kv.SeqNum())
		numOut++
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "table: compaction iterator")
	}

	for _, f := range fragments {
		var maxSeq base.SeqNum
		for _, s := range f.SeqByStripe {
			if s > maxSeq {
				maxSeq = s
			}
		}
		if err := builder.AddRangeTombstone(f.Start, f.End, maxSeq); err != nil {
			return nil, errors.Wrap(err, "table: builder.AddRangeTombstone")
		}
		updateSeqBounds(maxSeq)
		if !haveKey {
			// No surviving point keys: the tombstone span alone defines the
			// file's key range (spec §9, scenario 3).
			smallest = base.MakeInternalKey(f.Start, maxSeq, base.InternalKeyKindRangeDeletion)
			largest = base.MakeInternalKey(f.End, maxSeq, base.InternalKeyKindRangeDeletion)
			haveKey = true
		}
	}

	if opts.VerifyMemtableCount {
		var sum uint64
		for _, c := range opts.InputEntryCounts {
			sum += c
		}
		if uint64(iter.NumInputEntries()) != sum {
			return nil, errors.Wrapf(ErrVerifyMemtableCount, "builder saw %d, memtables report %d",
				iter.NumInputEntries(), sum)
		}
	}

	if !haveKey {
		// Nothing survived at all: valid, but no file to add.
		if _, err := builder.Finish(); err != nil {
			return nil, errors.Wrap(err, "table: builder.Finish")
		}
		return nil, nil
	}

	size, err := builder.Finish()
	if err != nil {
		return nil, errors.Wrap(err, "table: builder.Finish")
	}
	if size == 0 {
		return nil, nil
	}

	currentTime := now()
	oldestKeyTime := currentTime
	for _, t := range opts.OldestKeyTimes {
		if t > 0 && t < oldestKeyTime {
			oldestKeyTime = t
		}
	}
	oldestAncesterTime := currentTime
	if oldestKeyTime < oldestAncesterTime {
		oldestAncesterTime = oldestKeyTime
	}
	creationTime := oldestAncesterTime
	if opts.FIFORetention {
		creationTime = currentTime
	}

	meta := manifest.FileMetaData{
		FileNumber:          opts.FileNumber,
		Level:               0,
		SmallestKey:         smallest,
		LargestKey:          largest,
		FileSize:            size,
		OldestAncesterTime:  oldestAncesterTime,
		FileCreationTime:    creationTime,
		ChecksumFuncName:    ChecksumFuncName,
		Checksum:            checksum.Sum64(),
	}
	if haveSeq {
		meta.SmallestSeq = smallestSeq
		meta.LargestSeq = largestSeq
	}

	return &Result{
		Meta:             meta,
		NumInputEntries:  iter.NumInputEntries(),
		NumOutputEntries: numOut,
		PayloadBytes:     size,
	}, nil
}
