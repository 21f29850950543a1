// Package arena implements a bump allocator over one large pre-sized byte
// buffer. internal/skiplist carves every node's key and value bytes out of
// an arena sized to the memtable's write-buffer budget.
package arena

import (
	"errors"
	"sync"

	"basalt/internal/arch"
	"basalt/internal/mmap"
)

var ErrArenaFull = errors.New("arena: allocation failed because arena is full")

// Arena is a lock-free bump allocator over a fixed-size buffer.
type Arena struct {
	position arch.AtomicUint
	buffer   []byte
	overflow uint
	mmapped  bool
	closed   sync.Once
}

// New allocates a new arena backed by an anonymous mmap of size bytes,
// falling back to a heap-allocated slice if the mmap syscall fails (e.g. the
// platform doesn't support it, or the process is memory constrained).
func New(size uint) *Arena {
	a := &Arena{mmapped: true}

	// Position/offset 0 is reserved as the arena's nil pointer.
	a.position.Store(1)

	buf, err := mmap.New(int(size))
	if err != nil {
		buf = make([]byte, size)
		a.mmapped = false
	}
	a.buffer = buf

	return a
}

// WithOverflow reserves extra trailing space so that a caller who rounds an
// allocation up to some alignment never reads past the end of the buffer
// even when the arena reports itself full.
func WithOverflow(size, overflow uint) *Arena {
	a := New(size + overflow)
	a.overflow = overflow
	return a
}

// Allocate reserves size bytes aligned to alignment (which must be a power
// of two) and returns the offset of the aligned region. It returns
// ErrArenaFull once the arena cannot satisfy the request.
func (a *Arena) Allocate(size, alignment uint) (offset uint, err error) {
	if alignment == 0 {
		alignment = 1
	}

	position := a.position.Load()
	if uint(position) > uint(len(a.buffer))-a.overflow {
		return 0, ErrArenaFull
	}

	padded := size + alignment - 1
	newPosition := uint(a.position.Add(arch.UintToArchSize(padded)))
	if newPosition > uint(len(a.buffer))-a.overflow {
		return 0, ErrArenaFull
	}

	offset = (newPosition - padded + alignment) & ^(alignment - 1)
	return offset, nil
}

// GetBytes returns the slice backing an allocation made with Allocate. The
// returned slice's capacity is pinned to size so a caller can't accidentally
// write past its own allocation.
func (a *Arena) GetBytes(offset, size uint) []byte {
	if offset == 0 {
		return nil
	}
	return a.buffer[offset : offset+size : offset+size]
}

// Len returns the number of bytes allocated so far, excluding the reserved
// nil offset.
func (a *Arena) Len() uint {
	return uint(a.position.Load()) - 1
}

// Cap returns the usable capacity of the arena.
func (a *Arena) Cap() uint {
	return uint(len(a.buffer)) - a.overflow - 1
}

// Reset rewinds the arena to empty without releasing the backing buffer, so
// it can be recycled by a fresh memtable.
func (a *Arena) Reset() {
	a.position.Store(1)
}

// Close releases the backing mmap, if one was used.
func (a *Arena) Close() error {
	var err error
	a.closed.Do(func() {
		if a.mmapped {
			err = mmap.Free(a.buffer)
		}
	})
	return err
}
