// Package storage owns the direct-I/O output path for flushed tables and
// the output-directory fsync the install step needs before a VersionEdit
// can be considered durable (spec §6, FSDirectory.fsync()).
package storage

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// Writer wraps a direct-I/O file handle, padding every write out to a
// multiple of the platform's direct-I/O block size. cmd/basalt-flush's
// recordBuilder is its only caller; nothing in this module writes a WAL or
// manifest file.
type Writer struct {
	file  *os.File
	block int

	mu      sync.Mutex
	written int64 // bytes written, excluding block padding
}

var blockSizeOnce sync.Once
var blockSize int

func alignedBlockSize() int {
	blockSizeOnce.Do(func() {
		blockSize = len(directio.AlignedBlock(directio.BlockSize))
	})
	return blockSize
}

// NewWriter opens name for direct, unbuffered, append-style writing.
func NewWriter(name string, flag int) (*Writer, error) {
	file, err := directio.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: file, block: alignedBlockSize()}, nil
}

var _ io.WriteCloser = (*Writer)(nil)

// Write writes buf to the file, padding the final partial block with zeroes
// so every write lands on a direct-I/O block boundary. It returns the
// number of logical (unpadded) bytes written, satisfying io.Writer.
func (f *Writer) Write(buf []byte) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rem := len(buf) % f.block
	if rem == 0 {
		if _, err := f.file.Write(buf); err != nil {
			return 0, err
		}
		f.written += int64(len(buf))
		return len(buf), nil
	}

	whole := buf[:len(buf)-rem]
	if len(whole) > 0 {
		if _, err := f.file.Write(whole); err != nil {
			return 0, err
		}
	}

	padded := make([]byte, f.block)
	copy(padded, buf[len(buf)-rem:])
	if _, err := f.file.Write(padded); err != nil {
		return len(whole), err
	}

	f.written += int64(len(buf))
	return len(buf), nil
}

// Written returns the number of logical bytes written so far, excluding
// block padding — this is what the table writer records as the file size
// in FileMetaData, not the padded on-disk length.
func (f *Writer) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *Writer) Sync() error { return f.file.Sync() }

func (f *Writer) Close() error { return f.file.Close() }
