package arena

import (
	"fmt"
	"iter"

	"github.com/wegman-software/osm2area-go/internal/entity"
)

// ItemType identifies the layout of an item.
type ItemType uint16

const (
	TypeUndefined ItemType = 0

	TypeNode      ItemType = 0x01
	TypeWay       ItemType = 0x02
	TypeRelation  ItemType = 0x03
	TypeArea      ItemType = 0x04
	TypeChangeset ItemType = 0x05

	TypeTagList            ItemType = 0x11
	TypeWayNodeList        ItemType = 0x12
	TypeRelationMemberList ItemType = 0x13
	TypeOuterRing          ItemType = 0x14
	TypeInnerRing          ItemType = 0x15

	TypeProblem ItemType = 0x21
	TypeBlob    ItemType = 0x22
)

func (t ItemType) String() string {
	switch t {
	case TypeNode:
		return "node"
	case TypeWay:
		return "way"
	case TypeRelation:
		return "relation"
	case TypeArea:
		return "area"
	case TypeChangeset:
		return "changeset"
	case TypeTagList:
		return "tag_list"
	case TypeWayNodeList:
		return "way_node_list"
	case TypeRelationMemberList:
		return "relation_member_list"
	case TypeOuterRing:
		return "outer_ring"
	case TypeInnerRing:
		return "inner_ring"
	case TypeProblem:
		return "problem"
	case TypeBlob:
		return "blob"
	}
	return fmt.Sprintf("type(0x%02x)", uint16(t))
}

// Kind maps entity item types to their entity kind.
func (t ItemType) Kind() (entity.Kind, bool) {
	switch t {
	case TypeNode:
		return entity.KindNode, true
	case TypeWay:
		return entity.KindWay, true
	case TypeRelation:
		return entity.KindRelation, true
	case TypeArea:
		return entity.KindArea, true
	case TypeChangeset:
		return entity.KindChangeset, true
	}
	return 0, false
}

// fixedSize is the payload that precedes the sub-items of an item type.
func (t ItemType) fixedSize() int {
	switch t {
	case TypeNode:
		return 16
	case TypeWay, TypeRelation, TypeArea, TypeChangeset:
		return 8
	case TypeOuterRing, TypeInnerRing:
		return 8
	}
	return -1
}

// Item is a cursor over one item in a View. It references the arena bytes
// and decodes fields on access.
type Item struct {
	data []byte
}

// Size returns the unpadded size including the header.
func (i Item) Size() int { return len(i.data) }

// PaddedSize returns the size the item occupies in the arena.
func (i Item) PaddedSize() int { return PaddedLen(len(i.data)) }

func (i Item) Type() ItemType { return ItemType(le.Uint16(i.data[4:])) }

func (i Item) Flags() uint16 { return le.Uint16(i.data[6:]) }

// Payload returns the bytes following the header.
func (i Item) Payload() []byte { return i.data[HeaderSize:] }

// Bytes returns the raw item bytes, header included.
func (i Item) Bytes() []byte { return i.data }

// Children iterates the sub-items that follow the fixed part of the item.
// Items without sub-items yield nothing.
func (i Item) Children() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		fixed := i.Type().fixedSize()
		if fixed < 0 {
			return
		}
		off := HeaderSize + fixed
		for off < len(i.data) {
			child, n, err := readItem(i.data, off)
			if err != nil || !yield(child) {
				return
			}
			off += n
		}
	}
}

func (i Item) child(t ItemType) (Item, bool) {
	for c := range i.Children() {
		if c.Type() == t {
			return c, true
		}
	}
	return Item{}, false
}

// readItem decodes the item at off and returns it with its padded length.
func readItem(data []byte, off int) (Item, int, error) {
	if off+HeaderSize > len(data) {
		return Item{}, 0, fmt.Errorf("%w: truncated header at offset %d", ErrInvalidItem, off)
	}
	size := int(le.Uint32(data[off:]))
	if size < HeaderSize || off+size > len(data) {
		return Item{}, 0, fmt.Errorf("%w: bad size %d at offset %d", ErrInvalidItem, size, off)
	}
	n := PaddedLen(size)
	if off+n > len(data) {
		n = len(data) - off
	}
	return Item{data: data[off : off+size : off+n]}, n, nil
}

// View is an immutable snapshot of committed arena items.
type View struct {
	data []byte
}

// NewView wraps committed arena bytes without copying them.
func NewView(data []byte) View {
	return View{data: data}
}

// Len returns the number of bytes in the view.
func (v View) Len() int { return len(v.data) }

// Bytes returns the raw view bytes.
func (v View) Bytes() []byte { return v.data }

// Items iterates the top-level items. Iteration stops at the first
// malformed item; use Iterator to observe the error.
func (v View) Items() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		it := v.Iterator()
		for it.Next() {
			if !yield(it.Item()) {
				return
			}
		}
	}
}

// Count returns the number of top-level items.
func (v View) Count() int {
	n := 0
	for range v.Items() {
		n++
	}
	return n
}

// Iterator returns an explicit iterator over the top-level items.
func (v View) Iterator() *Iterator {
	return &Iterator{data: v.data}
}

// Iterator walks the top-level items of a View.
type Iterator struct {
	data []byte
	off  int
	cur  Item
	err  error
}

// Next advances to the next item.
func (it *Iterator) Next() bool {
	if it.err != nil || it.off >= len(it.data) {
		return false
	}
	item, n, err := readItem(it.data, it.off)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = item
	it.off += n
	return true
}

// Item returns the current item.
func (it *Iterator) Item() Item { return it.cur }

// Offset returns the byte offset of the next item.
func (it *Iterator) Offset() int { return it.off }

// Err returns the decoding error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }
