package arena

import (
	"math"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// Builder writes one item into a Buffer. Sub-items are written through
// nested builders; their sizes are added to every enclosing item.
type Builder struct {
	buf    *Buffer
	start  int
	parent *Builder
	child  *Builder
	closed bool
}

func (bl *Builder) writeHeader(t ItemType) error {
	if err := bl.buf.ensure(HeaderSize); err != nil {
		return err
	}
	h := bl.buf.data[bl.start : bl.start+HeaderSize]
	le.PutUint32(h[0:], 0)
	le.PutUint16(h[4:], uint16(t))
	le.PutUint16(h[6:], 0)
	bl.buf.written += HeaderSize
	bl.addSize(HeaderSize, bl)
	return nil
}

// addSize grows the recorded size of from and all its ancestors.
func (bl *Builder) addSize(n int, from *Builder) {
	for p := from; p != nil; p = p.parent {
		h := bl.buf.data[p.start:]
		le.PutUint32(h, le.Uint32(h)+uint32(n))
	}
}

func (bl *Builder) usable() error {
	if bl.closed {
		return ErrBuilderClosed
	}
	if bl.child != nil {
		return ErrBuilderActive
	}
	return nil
}

// Size returns the unpadded size written so far, header included.
func (bl *Builder) Size() int {
	return int(le.Uint32(bl.buf.data[bl.start:]))
}

// SetFlags stores item specific flags in the header.
func (bl *Builder) SetFlags(flags uint16) {
	le.PutUint16(bl.buf.data[bl.start+6:], flags)
}

// Append writes raw payload bytes.
func (bl *Builder) Append(p []byte) error {
	if err := bl.usable(); err != nil {
		return err
	}
	if uint64(len(p))+uint64(bl.Size()) > math.MaxUint32 {
		return ErrCapacityExceeded
	}
	if err := bl.buf.ensure(len(p)); err != nil {
		return err
	}
	copy(bl.buf.data[bl.buf.written:], p)
	bl.buf.written += len(p)
	bl.addSize(len(p), bl)
	return nil
}

func (bl *Builder) AppendUint16(v uint16) error {
	var b [2]byte
	le.PutUint16(b[:], v)
	return bl.Append(b[:])
}

func (bl *Builder) AppendUint32(v uint32) error {
	var b [4]byte
	le.PutUint32(b[:], v)
	return bl.Append(b[:])
}

func (bl *Builder) AppendInt64(v int64) error {
	var b [8]byte
	le.PutUint64(b[:], uint64(v))
	return bl.Append(b[:])
}

// AppendLocation writes x and y as two int32 values.
func (bl *Builder) AppendLocation(l geom.Location) error {
	var b [8]byte
	putLocation(b[:], l)
	return bl.Append(b[:])
}

// AppendNodeRef writes a 16 byte node ref entry.
func (bl *Builder) AppendNodeRef(n geom.NodeRef) error {
	var b [nodeRefSize]byte
	putNodeRef(b[:], n)
	return bl.Append(b[:])
}

// AppendString writes s followed by a zero byte.
func (bl *Builder) AppendString(s string) error {
	if err := bl.usable(); err != nil {
		return err
	}
	n := len(s) + 1
	if err := bl.buf.ensure(n); err != nil {
		return err
	}
	w := bl.buf.written
	copy(bl.buf.data[w:], s)
	bl.buf.data[w+len(s)] = 0
	bl.buf.written += n
	bl.addSize(n, bl)
	return nil
}

// Pad zero-fills the payload up to the next alignment boundary.
func (bl *Builder) Pad() error {
	if err := bl.usable(); err != nil {
		return err
	}
	if n := bl.buf.pad(); n > 0 {
		bl.addSize(n, bl)
	}
	return nil
}

// Begin opens a sub-item. The parent cannot be written to until the
// sub-item is ended.
func (bl *Builder) Begin(t ItemType) (*Builder, error) {
	if err := bl.usable(); err != nil {
		return nil, err
	}
	child := &Builder{buf: bl.buf, start: bl.buf.written, parent: bl}
	if err := child.writeHeader(t); err != nil {
		return nil, err
	}
	bl.child = child
	return child, nil
}

// End closes a sub-item and pads it. The padding counts toward the parents
// but not toward the sub-item itself.
func (bl *Builder) End() error {
	if bl.parent == nil {
		return ErrBuilderActive
	}
	if bl.closed {
		return ErrBuilderClosed
	}
	bl.closeChildren()
	bl.end()
	return nil
}

func (bl *Builder) end() {
	if n := bl.buf.pad(); n > 0 {
		bl.addSize(n, bl.parent)
	}
	bl.closed = true
	bl.parent.child = nil
}

func (bl *Builder) closeChildren() {
	if bl.child == nil {
		return
	}
	bl.child.closeChildren()
	bl.child.end()
}
