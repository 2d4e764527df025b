// Package arena implements a compact binary store for OSM entities.
//
// A Buffer is a contiguous byte region holding variable-length items. Every
// item starts with an 8 byte header (size uint32, type uint16, flags uint16,
// little endian) and is padded with zeros to a multiple of 8 bytes. Items
// may nest sub-items (tag lists, node lists, rings) inside their payload.
//
// Writes go through a Builder and become visible only after Commit. Readers
// work on a View, an immutable snapshot of the committed prefix, and walk
// it with Item cursors that reference the bytes directly.
//
// Cursor validity: for heap buffers, growth copies into a new array and never
// rewrites committed bytes, so existing Views stay valid until Clear. For
// memory-mapped buffers, growth remaps the file and Close unmaps it; both
// invalidate every View taken earlier.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of every item header.
	HeaderSize = 8
	// Alignment is the boundary every item is padded to.
	Alignment = 8

	minGrowth = 64 * 1024
)

var (
	ErrCapacityExceeded = errors.New("arena: capacity exceeded")
	ErrInvalidItem      = errors.New("arena: invalid item")
	ErrBuilderActive    = errors.New("arena: builder already active")
	ErrBuilderClosed    = errors.New("arena: builder closed")
	ErrReadOnly         = errors.New("arena: buffer is read-only")
)

var le = binary.LittleEndian

// PaddedLen rounds n up to the item alignment.
func PaddedLen(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Buffer is an append-only arena of items.
type Buffer struct {
	data      []byte
	written   int
	committed int

	growable bool
	readOnly bool
	mapped   *mappedFile

	active *Builder
}

// New returns a heap-backed buffer that grows on demand.
func New(capacity int) *Buffer {
	return &Buffer{
		data:     make([]byte, PaddedLen(capacity)),
		growable: true,
	}
}

// NewFixed returns a buffer over a caller-supplied region. It never grows;
// writes that do not fit fail with ErrCapacityExceeded.
func NewFixed(region []byte) *Buffer {
	n := len(region) &^ (Alignment - 1)
	return &Buffer{data: region[:n:n]}
}

// FromBytes wraps already committed arena data for reading. The bytes are
// not copied and must not be modified while the buffer is in use.
func FromBytes(data []byte) (*Buffer, error) {
	if len(data)%Alignment != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidItem, len(data), Alignment)
	}
	return &Buffer{
		data:      data,
		written:   len(data),
		committed: len(data),
		readOnly:  true,
	}, nil
}

// Capacity returns the size of the backing region.
func (b *Buffer) Capacity() int { return len(b.data) }

// Committed returns the number of committed bytes.
func (b *Buffer) Committed() int { return b.committed }

// Pending returns the number of bytes written since the last commit.
func (b *Buffer) Pending() int { return b.written - b.committed }

// Reserve makes sure the buffer can hold at least capacity bytes.
func (b *Buffer) Reserve(capacity int) error {
	if b.readOnly {
		return ErrReadOnly
	}
	return b.ensureCapacity(PaddedLen(capacity))
}

// ensure reserves room for n more bytes plus the padding that may follow.
func (b *Buffer) ensure(n int) error {
	return b.ensureCapacity(PaddedLen(b.written + n))
}

func (b *Buffer) ensureCapacity(need int) error {
	if need <= len(b.data) {
		return nil
	}
	if !b.growable {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrCapacityExceeded, need, len(b.data))
	}
	newCap := max(2*len(b.data), need, minGrowth)
	if b.mapped != nil {
		return b.growMapped(newCap)
	}
	data := make([]byte, newCap)
	copy(data, b.data[:b.written])
	b.data = data
	return nil
}

// Begin opens a new top-level item of type t. Only one top-level builder
// may be open at a time.
func (b *Buffer) Begin(t ItemType) (*Builder, error) {
	if b.readOnly {
		return nil, ErrReadOnly
	}
	if b.active != nil {
		return nil, ErrBuilderActive
	}
	bl := &Builder{buf: b, start: b.written}
	if err := bl.writeHeader(t); err != nil {
		b.written = b.committed
		return nil, err
	}
	b.active = bl
	return bl, nil
}

// Commit finishes the open item, pads it and makes it visible to View.
// It does nothing when no bytes are pending.
func (b *Buffer) Commit() {
	if b.written == b.committed {
		return
	}
	if b.active != nil {
		b.active.closeChildren()
		b.active.closed = true
		b.active = nil
	}
	b.pad()
	b.committed = b.written
}

// Rollback discards every byte written since the last commit.
func (b *Buffer) Rollback() {
	if b.active != nil {
		b.active.closeChildren()
		b.active.closed = true
		b.active = nil
	}
	b.written = b.committed
}

// Clear drops all items. Views taken before Clear must not be used after
// new items are written.
func (b *Buffer) Clear() {
	b.Rollback()
	b.written = 0
	b.committed = 0
}

// View returns a snapshot of the committed items.
func (b *Buffer) View() View {
	return View{data: b.data[:b.committed:b.committed]}
}

// pad zero-fills up to the next alignment boundary. Capacity for the
// padding is reserved by ensure.
func (b *Buffer) pad() int {
	end := PaddedLen(b.written)
	n := end - b.written
	clear(b.data[b.written:end])
	b.written = end
	return n
}

// Close releases a mapped buffer. Heap buffers need no cleanup.
func (b *Buffer) Close() error {
	if b.mapped == nil {
		return nil
	}
	return b.closeMapped()
}
