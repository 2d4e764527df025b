package arena

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/geom"
)

func TestBlobRoundTrip(t *testing.T) {
	b := New(128)
	var payloads [][]byte
	for i := 0; i < 100; i++ {
		p := bytes.Repeat([]byte{byte(i + 1)}, i%13)
		payloads = append(payloads, p)
		if err := AppendBlob(b, p); err != nil {
			t.Fatalf("AppendBlob(%d): %v", i, err)
		}
	}

	it := b.View().Iterator()
	i := 0
	for it.Next() {
		item := it.Item()
		if item.Type() != TypeBlob {
			t.Fatalf("item %d type = %v, want blob", i, item.Type())
		}
		if item.Size() != HeaderSize+len(payloads[i]) {
			t.Errorf("item %d size = %d, want %d", i, item.Size(), HeaderSize+len(payloads[i]))
		}
		if item.PaddedSize()%Alignment != 0 {
			t.Errorf("item %d padded size %d not aligned", i, item.PaddedSize())
		}
		if !bytes.Equal(item.Payload(), payloads[i]) {
			t.Errorf("item %d payload mismatch", i)
		}
		i++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if i != len(payloads) {
		t.Errorf("iterated %d items, want %d", i, len(payloads))
	}
	if b.Committed()%Alignment != 0 {
		t.Errorf("committed = %d, not aligned", b.Committed())
	}
}

func TestPaddingIsZeroFilled(t *testing.T) {
	region := bytes.Repeat([]byte{0xff}, 64)
	b := NewFixed(region)
	if err := AppendBlob(b, []byte{1, 2, 3}); err != nil {
		t.Fatalf("AppendBlob: %v", err)
	}
	if b.Committed() != 16 {
		t.Fatalf("committed = %d, want 16", b.Committed())
	}
	for i := HeaderSize + 3; i < 16; i++ {
		if region[i] != 0 {
			t.Errorf("padding byte %d = %#x, want 0", i, region[i])
		}
	}
}

func TestFixedCapacityExceeded(t *testing.T) {
	b := NewFixed(make([]byte, 32))
	if err := AppendBlob(b, make([]byte, 8)); err != nil {
		t.Fatalf("first AppendBlob: %v", err)
	}
	err := AppendBlob(b, make([]byte, 17))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("AppendBlob err = %v, want ErrCapacityExceeded", err)
	}
	if b.Committed() != 16 || b.Pending() != 0 {
		t.Errorf("committed=%d pending=%d after failed append", b.Committed(), b.Pending())
	}
	if n := b.View().Count(); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestCommitIdempotentAndRollback(t *testing.T) {
	b := New(64)
	b.Commit()
	if b.Committed() != 0 {
		t.Fatalf("empty commit changed committed to %d", b.Committed())
	}

	bl, err := b.Begin(TypeBlob)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := b.Begin(TypeBlob); !errors.Is(err, ErrBuilderActive) {
		t.Errorf("second Begin err = %v, want ErrBuilderActive", err)
	}
	if err := bl.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.View().Len() != 0 {
		t.Error("pending bytes visible before commit")
	}
	b.Rollback()
	if b.Pending() != 0 || b.View().Len() != 0 {
		t.Error("rollback left data behind")
	}
	if err := bl.Append([]byte("x")); !errors.Is(err, ErrBuilderClosed) {
		t.Errorf("Append after rollback err = %v, want ErrBuilderClosed", err)
	}

	if err := AppendBlob(b, []byte("hello")); err != nil {
		t.Fatalf("AppendBlob: %v", err)
	}
	committed := b.Committed()
	b.Commit()
	b.Commit()
	if b.Committed() != committed {
		t.Errorf("repeated commit moved committed from %d to %d", committed, b.Committed())
	}
}

func TestGrowthKeepsEarlierViews(t *testing.T) {
	b := New(16)
	if err := AppendBlob(b, []byte("first")); err != nil {
		t.Fatal(err)
	}
	before := b.View()
	for i := 0; i < 1000; i++ {
		if err := AppendBlob(b, []byte(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if b.Capacity() <= 16 {
		t.Errorf("capacity = %d, expected growth", b.Capacity())
	}
	if before.Count() != 1 {
		t.Fatalf("old view count = %d, want 1", before.Count())
	}
	for item := range before.Items() {
		if string(item.Payload()) != "first" {
			t.Errorf("old view payload = %q", item.Payload())
		}
	}
	if got := b.View().Count(); got != 1001 {
		t.Errorf("count = %d, want 1001", got)
	}
}

func TestNestedSizes(t *testing.T) {
	b := New(64)
	bl, err := b.Begin(TypeWay)
	if err != nil {
		t.Fatal(err)
	}
	if err := bl.AppendInt64(7); err != nil {
		t.Fatal(err)
	}
	tl, err := bl.Begin(TypeTagList)
	if err != nil {
		t.Fatal(err)
	}
	if err := bl.AppendInt64(1); !errors.Is(err, ErrBuilderActive) {
		t.Errorf("parent append with open child err = %v, want ErrBuilderActive", err)
	}
	if err := tl.AppendString("a"); err != nil {
		t.Fatal(err)
	}
	if err := tl.AppendString("b"); err != nil {
		t.Fatal(err)
	}
	if tl.Size() != HeaderSize+4 {
		t.Errorf("child size = %d, want %d", tl.Size(), HeaderSize+4)
	}
	if err := tl.End(); err != nil {
		t.Fatal(err)
	}
	if bl.Size() != HeaderSize+8+16 {
		t.Errorf("parent size = %d, want %d", bl.Size(), HeaderSize+8+16)
	}
	b.Commit()

	item := first(t, b.View())
	w, err := item.AsWay()
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := w.Tags().Get("a"); !ok || v != "b" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
}

func TestEntityRecords(t *testing.T) {
	b := New(256)
	loc := geom.FromDegrees(13.4, 52.5)
	nodes := []geom.NodeRef{
		{ID: 1, Loc: geom.FromDegrees(0, 0)},
		{ID: 2, Loc: geom.FromDegrees(1, 0)},
		{ID: 3, Loc: geom.FromDegrees(1, 1)},
		{ID: 1, Loc: geom.FromDegrees(0, 0)},
	}
	members := []Member{
		{Type: entity.KindWay, Ref: 10, Role: "outer"},
		{Type: entity.KindWay, Ref: 11, Role: "inner"},
		{Type: entity.KindNode, Ref: 12, Role: ""},
		{Type: entity.KindRelation, Ref: 13, Role: "subarea-with-a-long-role"},
	}

	mustAppend(t, AppendNode(b, NodeRecord{ID: 42, Loc: loc, Tags: []Tag{{"amenity", "cafe"}}}))
	mustAppend(t, AppendWay(b, WayRecord{ID: 43, Tags: []Tag{{"building", "yes"}, {"name", "x"}}, Nodes: nodes}))
	mustAppend(t, AppendRelation(b, RelationRecord{ID: 44, Tags: []Tag{{"type", "multipolygon"}}, Members: members}))
	mustAppend(t, AppendChangeset(b, ChangesetRecord{ID: 45}))

	var types []ItemType
	for item := range b.View().Items() {
		types = append(types, item.Type())
		switch item.Type() {
		case TypeNode:
			n, err := item.AsNode()
			if err != nil {
				t.Fatal(err)
			}
			if n.ID() != 42 || n.Location() != loc {
				t.Errorf("node = %d %v", n.ID(), n.Location())
			}
			if v, _ := n.Tags().Get("amenity"); v != "cafe" {
				t.Errorf("amenity = %q", v)
			}
		case TypeWay:
			w, err := item.AsWay()
			if err != nil {
				t.Fatal(err)
			}
			if w.ID() != 43 || w.Tags().Len() != 2 {
				t.Errorf("way id=%d tags=%d", w.ID(), w.Tags().Len())
			}
			if !w.IsClosed() {
				t.Error("way should be closed")
			}
			for i, n := range w.Nodes().All() {
				if n != nodes[i] {
					t.Errorf("node %d = %v, want %v", i, n, nodes[i])
				}
			}
		case TypeRelation:
			r, err := item.AsRelation()
			if err != nil {
				t.Fatal(err)
			}
			var got []Member
			for m := range r.Members() {
				got = append(got, m)
			}
			if len(got) != len(members) {
				t.Fatalf("members = %d, want %d", len(got), len(members))
			}
			for i := range got {
				if got[i] != members[i] {
					t.Errorf("member %d = %+v, want %+v", i, got[i], members[i])
				}
			}
		case TypeChangeset:
			c, err := item.AsChangeset()
			if err != nil {
				t.Fatal(err)
			}
			if c.ID() != 45 || c.Tags().Len() != 0 {
				t.Errorf("changeset = %d, %d tags", c.ID(), c.Tags().Len())
			}
		}
	}
	want := []ItemType{TypeNode, TypeWay, TypeRelation, TypeChangeset}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("types = %v, want %v", types, want)
	}

	if _, err := first(t, b.View()).AsWay(); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("AsWay on node err = %v, want ErrInvalidItem", err)
	}
}

func TestAreaAndProblemRecords(t *testing.T) {
	b := New(0)
	outer := []geom.NodeRef{
		{ID: 1, Loc: geom.FromDegrees(0, 0)},
		{ID: 2, Loc: geom.FromDegrees(4, 0)},
		{ID: 3, Loc: geom.FromDegrees(4, 4)},
		{ID: 1, Loc: geom.FromDegrees(0, 0)},
	}
	inner := []geom.NodeRef{
		{ID: 5, Loc: geom.FromDegrees(1, 1)},
		{ID: 6, Loc: geom.FromDegrees(2, 2)},
		{ID: 7, Loc: geom.FromDegrees(2, 1)},
		{ID: 5, Loc: geom.FromDegrees(1, 1)},
	}
	mustAppend(t, AppendArea(b, AreaRecord{
		ID:    47,
		Flags: FlagPartial,
		Tags:  []Tag{{"landuse", "forest"}},
		Rings: []RingRecord{
			{Outer: true, OuterIndex: 0, Nodes: outer},
			{Outer: false, OuterIndex: 0, Nodes: inner},
		},
	}))
	seg := geom.NewSegment(outer[1], outer[0], geom.RoleOuter, 9)
	mustAppend(t, AppendProblem(b, ProblemRecord{
		Kind:     3,
		AreaID:   47,
		Node:     outer[2],
		Loc:      geom.FromDegrees(0.5, 0.5),
		Segments: []geom.Segment{seg},
	}))

	it := b.View().Iterator()
	if !it.Next() {
		t.Fatal("missing area")
	}
	a, err := it.Item().AsArea()
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != 47 || !a.Partial() {
		t.Errorf("area id=%d partial=%v", a.ID(), a.Partial())
	}
	if o, i := a.NumRings(); o != 1 || i != 1 {
		t.Errorf("rings = %d outer %d inner, want 1/1", o, i)
	}
	idx := 0
	for r := range a.Rings() {
		want := outer
		if idx == 1 {
			want = inner
		}
		if r.IsOuter() != (idx == 0) || r.OuterIndex() != 0 {
			t.Errorf("ring %d outer=%v index=%d", idx, r.IsOuter(), r.OuterIndex())
		}
		if r.Nodes().Len() != len(want) {
			t.Fatalf("ring %d has %d nodes", idx, r.Nodes().Len())
		}
		for j, n := range r.Nodes().All() {
			if n != want[j] {
				t.Errorf("ring %d node %d = %v, want %v", idx, j, n, want[j])
			}
		}
		idx++
	}

	if !it.Next() {
		t.Fatal("missing problem")
	}
	p, err := it.Item().AsProblem()
	if err != nil {
		t.Fatal(err)
	}
	rec := p.Record()
	if rec.Kind != 3 || rec.AreaID != 47 || rec.Node != outer[2] || rec.Loc != geom.FromDegrees(0.5, 0.5) {
		t.Errorf("problem = %+v", rec)
	}
	if len(rec.Segments) != 1 || rec.Segments[0].Start() != outer[1] || rec.Segments[0].WayID() != 9 {
		t.Errorf("problem segments = %v", rec.Segments)
	}
	if it.Next() || it.Err() != nil {
		t.Errorf("unexpected trailing item or error %v", it.Err())
	}
}

func TestMalformedData(t *testing.T) {
	data := make([]byte, 16)
	le.PutUint32(data, 40)
	le.PutUint16(data[4:], uint16(TypeBlob))
	it := NewView(data).Iterator()
	if it.Next() {
		t.Fatal("Next() = true on truncated item")
	}
	if !errors.Is(it.Err(), ErrInvalidItem) {
		t.Errorf("Err() = %v, want ErrInvalidItem", it.Err())
	}
	if _, err := FromBytes(make([]byte, 12)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("FromBytes err = %v, want ErrInvalidItem", err)
	}
}

func TestFromBytesIsReadOnly(t *testing.T) {
	src := New(64)
	mustAppend(t, AppendBlob(src, []byte("abc")))
	b, err := FromBytes(src.View().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if b.View().Count() != 1 {
		t.Errorf("count = %d, want 1", b.View().Count())
	}
	if _, err := b.Begin(TypeBlob); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Begin err = %v, want ErrReadOnly", err)
	}
}

func TestMappedBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "areas.arena")
	b, err := NewMapped(path, 64)
	if err != nil {
		t.Fatalf("NewMapped: %v", err)
	}
	for i := 0; i < 500; i++ {
		if err := AppendWay(b, WayRecord{ID: int64(i), Tags: []Tag{{"k", fmt.Sprint(i)}}}); err != nil {
			t.Fatalf("AppendWay(%d): %v", i, err)
		}
	}
	committed := b.Committed()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenMapped(path)
	if err != nil {
		t.Fatalf("OpenMapped: %v", err)
	}
	defer r.Close()
	if r.Committed() != committed {
		t.Errorf("reopened size = %d, want %d", r.Committed(), committed)
	}
	var id int64
	for item := range r.View().Items() {
		w, err := item.AsWay()
		if err != nil {
			t.Fatal(err)
		}
		if w.ID() != id {
			t.Fatalf("way id = %d, want %d", w.ID(), id)
		}
		if v, _ := w.Tags().Get("k"); v != fmt.Sprint(id) {
			t.Errorf("way %d tag = %q", id, v)
		}
		id++
	}
	if id != 500 {
		t.Errorf("read %d ways, want 500", id)
	}
}

func mustAppend(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func first(t *testing.T, v View) Item {
	t.Helper()
	for item := range v.Items() {
		return item
	}
	t.Fatal("view is empty")
	return Item{}
}
