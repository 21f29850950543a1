// Command basalt-flush is a manual-flush demo and debug tool: it loads a
// handful of key=value writes from the command line into one memtable and
// drives a single flush job through pkg/engine, printing the resulting
// event record to stdout. It exists to exercise the flush engine end to
// end without a full database on top of it.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"basalt/internal/base"
	"basalt/internal/clock"
	"basalt/internal/compare"
	"basalt/internal/config"
	"basalt/internal/eventlog"
	"basalt/internal/memtable"
	"basalt/internal/storage"
	"basalt/internal/table"
	"basalt/pkg/engine"
)

func main() {
	dir := flag.String("dir", ".", "output directory for the flushed table")
	cfName := flag.String("cf", "default", "column family name")
	reason := flag.String("reason", "manual", "flush reason: manual or buffer-full")
	flag.Parse()

	if err := run(*dir, *cfName, *reason, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "basalt-flush:", err)
		os.Exit(1)
	}
}

func run(dir, cfName, reasonFlag string, writes []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	logger := eventlog.NewLogger(os.Stdout)

	e := engine.New(engine.Options{
		Clock:  clock.System{},
		Logger: logger,
		NewBuilder: func(fileNumber uint64) (table.Builder, error) {
			name := filepath.Join(dir, fmt.Sprintf("%06d.sst", fileNumber))
			w, err := storage.NewWriter(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
			if err != nil {
				return nil, fmt.Errorf("opening table file: %w", err)
			}
			return &recordBuilder{w: w}, nil
		},
	})

	cf := e.AddColumnFamily(cfName, 0, compare.Default, 1, config.DefaultMutableCFOptions())

	m := memtable.New(1, 64<<20, compare.Default)
	var seq base.SeqNum = 1
	for _, kv := range writes {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid write %q, want key=value", kv)
		}
		seq++
		if err := m.Insert(base.InternalKV{
			Key:   base.MakeInternalKey([]byte(parts[0]), seq, base.InternalKeyKindPut),
			Value: []byte(parts[1]),
		}); err != nil {
			return fmt.Errorf("inserting %q: %w", kv, err)
		}
	}
	m.Seal()
	cf.List.Add(m)

	flushReason := eventlog.ReasonManualFlush
	if reasonFlag == "buffer-full" {
		flushReason = eventlog.ReasonWriteBufferFull
	}

	result, err := e.TriggerFlush(cfName, m.ID(), flushReason)
	if err != nil {
		return fmt.Errorf("triggering flush: %w", err)
	}

	ev := eventlog.Event{
		ColumnFamilyName: cfName,
		Reason:           flushReason,
		ReasonName:       flushReason.String(),
		NumMemtables:     1,
		Mempurge:         result.Mempurged,
		Status:           result.Status.String(),
	}
	if result.File != nil {
		ev.FileNumber = result.File.FileNumber
		ev.FileSize = result.File.FileSize
	}
	return logger.Log(ev)
}

// recordBuilder is a minimal table.Builder writing a length-prefixed record
// stream through storage.Writer's direct-I/O path: one demo on-disk format,
// not a real table format. Each point record is
// [1-byte kind][uvarint keylen][key][uvarint vallen][value]; each range
// tombstone is the same with kind InternalKeyKindRangeDeletion and
// value=end.
type recordBuilder struct {
	w   *storage.Writer
	buf []byte
}

func (b *recordBuilder) Add(kv base.InternalKV) error {
	return b.writeRecord(byte(kv.Kind()), kv.Key.UserKey, kv.Value)
}

func (b *recordBuilder) AddRangeTombstone(start, end []byte, seq base.SeqNum) error {
	return b.writeRecord(byte(base.InternalKeyKindRangeDeletion), start, end)
}

func (b *recordBuilder) writeRecord(kind byte, key, value []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	b.buf = append(b.buf[:0], kind)
	n := binary.PutUvarint(lenBuf[:], uint64(len(key)))
	b.buf = append(b.buf, lenBuf[:n]...)
	b.buf = append(b.buf, key...)
	n = binary.PutUvarint(lenBuf[:], uint64(len(value)))
	b.buf = append(b.buf, lenBuf[:n]...)
	b.buf = append(b.buf, value...)
	_, err := b.w.Write(b.buf)
	return err
}

func (b *recordBuilder) Finish() (int64, error) {
	if err := b.w.Sync(); err != nil {
		return 0, err
	}
	size := b.w.Written()
	if err := b.w.Close(); err != nil {
		return 0, err
	}
	return size, nil
}
