package arena

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/geom"
)

const (
	nodeRefSize     = 16
	memberFixedSize = 16
	segmentSize     = 2*nodeRefSize + 8
	problemFixed    = 8 + 8 + nodeRefSize + 8 + 2*segmentSize
)

// Area item flags.
const (
	// FlagPartial marks an area emitted although some rings were not closed.
	FlagPartial uint16 = 1 << iota
)

func putLocation(b []byte, l geom.Location) {
	le.PutUint32(b[0:], uint32(l.X))
	le.PutUint32(b[4:], uint32(l.Y))
}

func getLocation(b []byte) geom.Location {
	return geom.Location{X: int32(le.Uint32(b[0:])), Y: int32(le.Uint32(b[4:]))}
}

func putNodeRef(b []byte, n geom.NodeRef) {
	le.PutUint64(b[0:], uint64(n.ID))
	putLocation(b[8:], n.Loc)
}

func getNodeRef(b []byte) geom.NodeRef {
	return geom.NodeRef{ID: int64(le.Uint64(b[0:])), Loc: getLocation(b[8:])}
}

// Tag is a key/value pair used when encoding records.
type Tag struct {
	Key, Value string
}

// Member is a relation member used when encoding records.
type Member struct {
	Type entity.Kind
	Ref  int64
	Role string
}

// NodeRecord is the input for AppendNode.
type NodeRecord struct {
	ID   int64
	Loc  geom.Location
	Tags []Tag
}

type WayRecord struct {
	ID    int64
	Tags  []Tag
	Nodes []geom.NodeRef
}

type RelationRecord struct {
	ID      int64
	Tags    []Tag
	Members []Member
}

type ChangesetRecord struct {
	ID   int64
	Tags []Tag
}

// RingRecord is one ring of an area. OuterIndex is the index of the
// enclosing outer ring among the area's rings; outer rings carry their own
// index.
type RingRecord struct {
	Outer      bool
	OuterIndex uint32
	Nodes      []geom.NodeRef
}

type AreaRecord struct {
	ID    int64
	Flags uint16
	Tags  []Tag
	Rings []RingRecord
}

// ProblemRecord is the persisted form of an assembly problem.
type ProblemRecord struct {
	Kind     uint16
	AreaID   int64
	Node     geom.NodeRef
	Loc      geom.Location
	Segments []geom.Segment
}

// AppendNode writes and commits a node record.
func AppendNode(b *Buffer, n NodeRecord) error {
	return appendRecord(b, TypeNode, func(bl *Builder) error {
		if err := bl.AppendInt64(n.ID); err != nil {
			return err
		}
		if err := bl.AppendLocation(n.Loc); err != nil {
			return err
		}
		return appendTags(bl, n.Tags)
	})
}

// AppendWay writes and commits a way record.
func AppendWay(b *Buffer, w WayRecord) error {
	return appendRecord(b, TypeWay, func(bl *Builder) error {
		if err := bl.AppendInt64(w.ID); err != nil {
			return err
		}
		if err := appendTags(bl, w.Tags); err != nil {
			return err
		}
		return appendNodeRefs(bl, TypeWayNodeList, w.Nodes)
	})
}

// AppendRelation writes and commits a relation record.
func AppendRelation(b *Buffer, r RelationRecord) error {
	return appendRecord(b, TypeRelation, func(bl *Builder) error {
		if err := bl.AppendInt64(r.ID); err != nil {
			return err
		}
		if err := appendTags(bl, r.Tags); err != nil {
			return err
		}
		ml, err := bl.Begin(TypeRelationMemberList)
		if err != nil {
			return err
		}
		for _, m := range r.Members {
			var fixed [memberFixedSize]byte
			le.PutUint64(fixed[0:], uint64(m.Ref))
			le.PutUint16(fixed[8:], uint16(m.Type))
			le.PutUint16(fixed[10:], uint16(len(m.Role)))
			if err := ml.Append(fixed[:]); err != nil {
				return err
			}
			if err := ml.AppendString(m.Role); err != nil {
				return err
			}
			if err := ml.Pad(); err != nil {
				return err
			}
		}
		return ml.End()
	})
}

// AppendChangeset writes and commits a changeset record.
func AppendChangeset(b *Buffer, c ChangesetRecord) error {
	return appendRecord(b, TypeChangeset, func(bl *Builder) error {
		if err := bl.AppendInt64(c.ID); err != nil {
			return err
		}
		return appendTags(bl, c.Tags)
	})
}

// AppendArea writes and commits an area record with its rings in order.
func AppendArea(b *Buffer, a AreaRecord) error {
	return appendRecord(b, TypeArea, func(bl *Builder) error {
		bl.SetFlags(a.Flags)
		if err := bl.AppendInt64(a.ID); err != nil {
			return err
		}
		if err := appendTags(bl, a.Tags); err != nil {
			return err
		}
		for _, r := range a.Rings {
			t := TypeInnerRing
			if r.Outer {
				t = TypeOuterRing
			}
			rb, err := bl.Begin(t)
			if err != nil {
				return err
			}
			if err := rb.AppendUint32(r.OuterIndex); err != nil {
				return err
			}
			if err := rb.AppendUint32(0); err != nil {
				return err
			}
			for _, n := range r.Nodes {
				if err := rb.AppendNodeRef(n); err != nil {
					return err
				}
			}
			if err := rb.End(); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendProblem writes and commits a problem record. At most two segments
// are stored.
func AppendProblem(b *Buffer, p ProblemRecord) error {
	return appendRecord(b, TypeProblem, func(bl *Builder) error {
		var buf [problemFixed]byte
		nseg := min(len(p.Segments), 2)
		le.PutUint16(buf[0:], p.Kind)
		le.PutUint16(buf[2:], uint16(nseg))
		le.PutUint64(buf[8:], uint64(p.AreaID))
		putNodeRef(buf[16:], p.Node)
		putLocation(buf[32:], p.Loc)
		for i := 0; i < nseg; i++ {
			s := p.Segments[i]
			off := 40 + i*segmentSize
			putNodeRef(buf[off:], s.Start())
			putNodeRef(buf[off+nodeRefSize:], s.End())
			le.PutUint64(buf[off+2*nodeRefSize:], uint64(s.WayID()))
		}
		return bl.Append(buf[:])
	})
}

// AppendBlob writes and commits an opaque payload.
func AppendBlob(b *Buffer, payload []byte) error {
	return appendRecord(b, TypeBlob, func(bl *Builder) error {
		return bl.Append(payload)
	})
}

func appendRecord(b *Buffer, t ItemType, fill func(*Builder) error) error {
	bl, err := b.Begin(t)
	if err != nil {
		return err
	}
	if err := fill(bl); err != nil {
		b.Rollback()
		return err
	}
	b.Commit()
	return nil
}

func appendTags(bl *Builder, tags []Tag) error {
	tb, err := bl.Begin(TypeTagList)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if err := tb.AppendString(t.Key); err != nil {
			return err
		}
		if err := tb.AppendString(t.Value); err != nil {
			return err
		}
	}
	return tb.End()
}

func appendNodeRefs(bl *Builder, t ItemType, nodes []geom.NodeRef) error {
	nb, err := bl.Begin(t)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := nb.AppendNodeRef(n); err != nil {
			return err
		}
	}
	return nb.End()
}

func (i Item) checkType(t ItemType) error {
	if i.Type() != t {
		return fmt.Errorf("%w: item is %s, not %s", ErrInvalidItem, i.Type(), t)
	}
	if fixed := t.fixedSize(); fixed > 0 && len(i.data) < HeaderSize+fixed {
		return fmt.Errorf("%w: %s item too short", ErrInvalidItem, t)
	}
	return nil
}

// TagList is a view over a tag list sub-item.
type TagList struct {
	data []byte
}

// Len returns the number of tags.
func (tl TagList) Len() int {
	return bytes.Count(tl.data, []byte{0}) / 2
}

// All iterates key/value pairs in stored order.
func (tl TagList) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		data := tl.data
		for len(data) > 0 {
			k := bytes.IndexByte(data, 0)
			if k < 0 {
				return
			}
			v := bytes.IndexByte(data[k+1:], 0)
			if v < 0 {
				return
			}
			if !yield(string(data[:k]), string(data[k+1:k+1+v])) {
				return
			}
			data = data[k+v+2:]
		}
	}
}

// Get returns the value stored for key.
func (tl TagList) Get(key string) (string, bool) {
	for k, v := range tl.All() {
		if k == key {
			return v, true
		}
	}
	return "", false
}

// Tags copies the tag list into a slice.
func (tl TagList) Tags() []Tag {
	tags := make([]Tag, 0, tl.Len())
	for k, v := range tl.All() {
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return tags
}

// Map copies the tag list into a map.
func (tl TagList) Map() map[string]string {
	m := make(map[string]string, tl.Len())
	for k, v := range tl.All() {
		m[k] = v
	}
	return m
}

func tagListOf(i Item) TagList {
	if c, ok := i.child(TypeTagList); ok {
		return TagList{data: c.Payload()}
	}
	return TagList{}
}

// NodeRefList is a view over a list of 16 byte node ref entries.
type NodeRefList struct {
	data []byte
}

func (nl NodeRefList) Len() int { return len(nl.data) / nodeRefSize }

// At returns the i-th node ref.
func (nl NodeRefList) At(i int) geom.NodeRef {
	return getNodeRef(nl.data[i*nodeRefSize:])
}

// All iterates the node refs with their index.
func (nl NodeRefList) All() iter.Seq2[int, geom.NodeRef] {
	return func(yield func(int, geom.NodeRef) bool) {
		for i := 0; i < nl.Len(); i++ {
			if !yield(i, nl.At(i)) {
				return
			}
		}
	}
}

// Node is a view over a node item.
type Node struct{ item Item }

// AsNode returns the node view of i.
func (i Item) AsNode() (Node, error) {
	if err := i.checkType(TypeNode); err != nil {
		return Node{}, err
	}
	return Node{item: i}, nil
}

func (n Node) ID() int64 { return int64(le.Uint64(n.item.data[HeaderSize:])) }
func (n Node) Location() geom.Location { return getLocation(n.item.data[HeaderSize+8:]) }
func (n Node) Tags() TagList { return tagListOf(n.item) }

// Way is a view over a way item.
type Way struct{ item Item }

// AsWay returns the way view of i.
func (i Item) AsWay() (Way, error) {
	if err := i.checkType(TypeWay); err != nil {
		return Way{}, err
	}
	return Way{item: i}, nil
}

func (w Way) ID() int64 { return int64(le.Uint64(w.item.data[HeaderSize:])) }
func (w Way) Tags() TagList { return tagListOf(w.item) }

// Nodes returns the way's node list. Locations are undefined unless the
// reader resolved them.
func (w Way) Nodes() NodeRefList {
	if c, ok := w.item.child(TypeWayNodeList); ok {
		return NodeRefList{data: c.Payload()}
	}
	return NodeRefList{}
}

// IsClosed reports whether the first and last node ids match.
func (w Way) IsClosed() bool {
	nodes := w.Nodes()
	n := nodes.Len()
	return n > 1 && nodes.At(0).ID == nodes.At(n-1).ID
}

// Relation is a view over a relation item.
type Relation struct{ item Item }

// AsRelation returns the relation view of i.
func (i Item) AsRelation() (Relation, error) {
	if err := i.checkType(TypeRelation); err != nil {
		return Relation{}, err
	}
	return Relation{item: i}, nil
}

func (r Relation) ID() int64 { return int64(le.Uint64(r.item.data[HeaderSize:])) }
func (r Relation) Tags() TagList { return tagListOf(r.item) }

// Members iterates the relation members.
func (r Relation) Members() iter.Seq[Member] {
	return func(yield func(Member) bool) {
		c, ok := r.item.child(TypeRelationMemberList)
		if !ok {
			return
		}
		data := c.Payload()
		for len(data) >= memberFixedSize {
			roleLen := int(le.Uint16(data[10:]))
			n := PaddedLen(memberFixedSize + roleLen + 1)
			if memberFixedSize+roleLen > len(data) {
				return
			}
			m := Member{
				Ref:  int64(le.Uint64(data[0:])),
				Type: entity.Kind(le.Uint16(data[8:])),
				Role: string(data[memberFixedSize : memberFixedSize+roleLen]),
			}
			if !yield(m) {
				return
			}
			if n > len(data) {
				return
			}
			data = data[n:]
		}
	}
}

// Changeset is a view over a changeset item.
type Changeset struct{ item Item }

// AsChangeset returns the changeset view of i.
func (i Item) AsChangeset() (Changeset, error) {
	if err := i.checkType(TypeChangeset); err != nil {
		return Changeset{}, err
	}
	return Changeset{item: i}, nil
}

func (c Changeset) ID() int64 { return int64(le.Uint64(c.item.data[HeaderSize:])) }
func (c Changeset) Tags() TagList { return tagListOf(c.item) }

// Area is a view over an area item.
type Area struct{ item Item }

// AsArea returns the area view of i.
func (i Item) AsArea() (Area, error) {
	if err := i.checkType(TypeArea); err != nil {
		return Area{}, err
	}
	return Area{item: i}, nil
}

// ID returns the area id.
func (a Area) ID() int64 { return int64(le.Uint64(a.item.data[HeaderSize:])) }
func (a Area) Tags() TagList { return tagListOf(a.item) }
func (a Area) Partial() bool { return a.item.Flags()&FlagPartial != 0 }

// Rings iterates the rings in stored order: each outer ring followed by
// its inner rings.
func (a Area) Rings() iter.Seq[Ring] {
	return func(yield func(Ring) bool) {
		for c := range a.item.Children() {
			t := c.Type()
			if t != TypeOuterRing && t != TypeInnerRing {
				continue
			}
			if len(c.data) < HeaderSize+8 {
				return
			}
			if !yield(Ring{item: c}) {
				return
			}
		}
	}
}

// NumRings returns the number of outer and inner rings.
func (a Area) NumRings() (outer, inner int) {
	for r := range a.Rings() {
		if r.IsOuter() {
			outer++
		} else {
			inner++
		}
	}
	return outer, inner
}

// Ring is a view over an outer or inner ring sub-item.
type Ring struct{ item Item }

func (r Ring) IsOuter() bool { return r.item.Type() == TypeOuterRing }

// OuterIndex is the index of the ring's outer ring within the area.
func (r Ring) OuterIndex() int { return int(le.Uint32(r.item.data[HeaderSize:])) }

// Nodes returns the closed node list of the ring.
func (r Ring) Nodes() NodeRefList {
	return NodeRefList{data: r.item.data[HeaderSize+8:]}
}

// Problem is a view over a problem item.
type Problem struct{ item Item }

// AsProblem returns the problem view of i.
func (i Item) AsProblem() (Problem, error) {
	if i.Type() != TypeProblem || len(i.data) < HeaderSize+problemFixed {
		return Problem{}, fmt.Errorf("%w: not a problem item", ErrInvalidItem)
	}
	return Problem{item: i}, nil
}

// Record decodes the problem into a ProblemRecord.
func (p Problem) Record() ProblemRecord {
	b := p.item.data[HeaderSize:]
	r := ProblemRecord{
		Kind:   le.Uint16(b[0:]),
		AreaID: int64(le.Uint64(b[8:])),
		Node:   getNodeRef(b[16:]),
		Loc:    getLocation(b[32:]),
	}
	nseg := min(int(le.Uint16(b[2:])), 2)
	for i := 0; i < nseg; i++ {
		off := 40 + i*segmentSize
		start := getNodeRef(b[off:])
		end := getNodeRef(b[off+nodeRefSize:])
		way := int64(le.Uint64(b[off+2*nodeRefSize:]))
		r.Segments = append(r.Segments, geom.NewSegment(start, end, geom.RoleUnknown, way))
	}
	return r
}
