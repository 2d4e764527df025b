package area

import (
	"slices"
	"testing"

	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/geom"
)

type pt struct {
	id   int64
	x, y float64
}

func (p pt) ref() geom.NodeRef {
	return geom.NodeRef{ID: p.id, Loc: geom.FromDegrees(p.x, p.y)}
}

func way(id int64, role geom.Role, pts ...pt) []geom.Segment {
	var segs []geom.Segment
	for i := 0; i+1 < len(pts); i++ {
		segs = append(segs, geom.NewSegment(pts[i].ref(), pts[i+1].ref(), role, id))
	}
	return segs
}

func square(firstID int64, x0, y0, x1, y1 float64) []pt {
	return []pt{
		{firstID, x0, y0},
		{firstID + 1, x1, y0},
		{firstID + 2, x1, y1},
		{firstID + 3, x0, y1},
		{firstID, x0, y0},
	}
}

func join(parts ...[]geom.Segment) []geom.Segment {
	var out []geom.Segment
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func ringIDs(r *Ring) []int64 {
	ids := make([]int64, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func countKind(problems []Problem, kind ProblemKind) int {
	n := 0
	for _, p := range problems {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func TestAreaIDConversion(t *testing.T) {
	tests := []struct {
		id     int64
		kind   entity.Kind
		areaID int64
	}{
		{23, entity.KindWay, 46},
		{23, entity.KindRelation, 47},
		{0, entity.KindWay, 0},
		{0, entity.KindRelation, 1},
		{-12, entity.KindWay, -24},
		{-12, entity.KindRelation, -25},
	}
	for _, tt := range tests {
		if got := ObjectIDToAreaID(tt.id, tt.kind); got != tt.areaID {
			t.Errorf("ObjectIDToAreaID(%d, %v) = %d, want %d", tt.id, tt.kind, got, tt.areaID)
		}
		if got := AreaIDToObjectID(tt.areaID); got != tt.id {
			t.Errorf("AreaIDToObjectID(%d) = %d, want %d", tt.areaID, got, tt.id)
		}
	}
	if AreaIDKind(46) != entity.KindWay || AreaIDKind(47) != entity.KindRelation || AreaIDKind(-25) != entity.KindRelation {
		t.Error("AreaIDKind mismatch")
	}
}

func TestAssembleClosedWay(t *testing.T) {
	res := Assemble(way(1, geom.RoleUnknown, square(1, 0, 0, 1, 1)...))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(res.Rings))
	}
	r := res.Rings[0]
	if !r.Outer || r.OuterIndex != 0 {
		t.Errorf("outer=%v index=%d", r.Outer, r.OuterIndex)
	}
	if r.Len() != 5 {
		t.Fatalf("ring has %d nodes, want 5", r.Len())
	}
	for i, want := range []int64{1, 2, 3, 4, 1} {
		if r.Nodes[i].ID != want {
			t.Errorf("ring ids = %v, want the way's node sequence 1 2 3 4 1", ringIDs(&r))
			break
		}
	}
	if a := r.SignedArea(); a <= 0 {
		t.Errorf("outer ring area = %v, want counter-clockwise", a)
	}
}

func TestAssembleOpenWay(t *testing.T) {
	res := Assemble(way(1, geom.RoleUnknown, pt{1, 0, 0}, pt{2, 1, 0}, pt{3, 1, 1}))
	if len(res.Rings) != 0 {
		t.Errorf("rings = %d, want 0", len(res.Rings))
	}
	if len(res.Problems) != 1 {
		t.Fatalf("problems = %v, want one", res.Problems)
	}
	p := res.Problems[0]
	if p.Kind != ProblemRingNotClosed || p.Node.ID != 3 {
		t.Errorf("problem = %v, want ring_not_closed at node 3", p)
	}
	if p.Loc != geom.FromDegrees(0, 0) {
		t.Errorf("other open end = %v, want (0,0)", p.Loc)
	}
	if res.Complete() {
		t.Error("Complete() = true")
	}
}

func TestAssembleTwoWaysOneRing(t *testing.T) {
	a := way(10, geom.RoleOuter, pt{1, 0, 0}, pt{2, 2, 0}, pt{3, 2, 2})
	b := way(11, geom.RoleOuter, pt{3, 2, 2}, pt{4, 0, 2}, pt{1, 0, 0})
	res := Assemble(join(a, b))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 1 || res.Rings[0].Len() != 5 {
		t.Fatalf("rings = %+v", res.Rings)
	}
}

func TestAssembleDuplicateWay(t *testing.T) {
	sq := way(1, geom.RoleOuter, square(1, 0, 0, 1, 1)...)
	res := Assemble(join(sq, sq))
	if len(res.Problems) != 0 || len(res.Rings) != 1 {
		t.Errorf("rings=%d problems=%v, want 1 ring and no problems", len(res.Rings), res.Problems)
	}
}

func TestAssembleHole(t *testing.T) {
	outer := way(1, geom.RoleOuter, square(1, 0, 0, 4, 4)...)
	inner := way(2, geom.RoleInner, square(11, 1, 1, 3, 3)...)
	res := Assemble(join(inner, outer))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 2 {
		t.Fatalf("rings = %d, want 2", len(res.Rings))
	}
	if !res.Rings[0].Outer || res.Rings[1].Outer {
		t.Fatalf("ring order wrong: %v %v", res.Rings[0].Outer, res.Rings[1].Outer)
	}
	if res.Rings[0].Nodes[0].ID >= 11 {
		t.Error("first ring should be the outer square")
	}
	if res.Rings[1].OuterIndex != 0 {
		t.Errorf("inner OuterIndex = %d, want 0", res.Rings[1].OuterIndex)
	}
	if a := res.Rings[1].SignedArea(); a >= 0 {
		t.Errorf("inner ring area = %v, want clockwise", a)
	}
}

func TestAssembleIslandInHole(t *testing.T) {
	outer := way(1, geom.RoleOuter, square(1, 0, 0, 10, 10)...)
	hole := way(2, geom.RoleInner, square(11, 2, 2, 8, 8)...)
	island := way(3, geom.RoleOuter, square(21, 4, 4, 6, 6)...)
	res := Assemble(join(island, hole, outer))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 3 || res.NumOuter() != 2 {
		t.Fatalf("rings = %d outer = %d, want 3 and 2", len(res.Rings), res.NumOuter())
	}
	wantOuter := []bool{true, false, true}
	wantIndex := []int{0, 0, 2}
	wantFirstID := []int64{1, 11, 21}
	for i, r := range res.Rings {
		if r.Outer != wantOuter[i] || r.OuterIndex != wantIndex[i] {
			t.Errorf("ring %d outer=%v index=%d, want %v %d", i, r.Outer, r.OuterIndex, wantOuter[i], wantIndex[i])
		}
		if r.Nodes[0].ID/10 != wantFirstID[i]/10 {
			t.Errorf("ring %d starts at node %d", i, r.Nodes[0].ID)
		}
	}
}

func TestAssembleTouchingRings(t *testing.T) {
	a := way(10, geom.RoleUnknown, pt{1, 0, 0}, pt{2, 2, 0}, pt{3, 2, 2}, pt{4, 0, 2}, pt{1, 0, 0})
	b := way(11, geom.RoleUnknown, pt{3, 2, 2}, pt{5, 4, 2}, pt{6, 4, 4}, pt{7, 2, 4}, pt{3, 2, 2})
	res := Assemble(join(a, b))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 2 || res.NumOuter() != 2 {
		t.Fatalf("rings = %d outer = %d, want two outer rings", len(res.Rings), res.NumOuter())
	}
	for i, r := range res.Rings {
		if r.Len() != 5 || r.OuterIndex != i {
			t.Errorf("ring %d len=%d index=%d", i, r.Len(), r.OuterIndex)
		}
	}
}

func TestAssembleSelfIntersection(t *testing.T) {
	bowtie := way(1, geom.RoleUnknown, pt{1, 0, 0}, pt{2, 2, 2}, pt{3, 2, 0}, pt{4, 0, 2}, pt{1, 0, 0})
	res := Assemble(bowtie)
	if len(res.Rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(res.Rings))
	}
	if n := countKind(res.Problems, ProblemIntersection); n != 1 {
		t.Fatalf("intersections = %d, want 1 (%v)", n, res.Problems)
	}
	for _, p := range res.Problems {
		if p.Kind == ProblemIntersection {
			if p.Loc != geom.FromDegrees(1, 1) {
				t.Errorf("intersection at %v, want (1,1)", p.Loc)
			}
			if len(p.Segments) != 2 {
				t.Errorf("intersection segments = %d, want 2", len(p.Segments))
			}
		}
	}
}

func TestAssembleInnerWithoutOuter(t *testing.T) {
	res := Assemble(way(2, geom.RoleInner, square(1, 0, 0, 1, 1)...))
	if len(res.Rings) != 0 {
		t.Errorf("rings = %d, want 0", len(res.Rings))
	}
	if n := countKind(res.Problems, ProblemInnerRingWithoutOuter); n != 1 {
		t.Errorf("inner_ring_without_outer = %d, want 1", n)
	}
}

func TestAssembleRoleMismatch(t *testing.T) {
	outer := way(1, geom.RoleOuter, square(1, 0, 0, 4, 4)...)
	wrong := way(2, geom.RoleOuter, square(11, 1, 1, 3, 3)...)
	res := Assemble(join(outer, wrong))
	if len(res.Rings) != 2 || res.Rings[1].Outer {
		t.Fatalf("expected outer with one inner, got %d rings", len(res.Rings))
	}
	if n := countKind(res.Problems, ProblemRoleMismatch); n != 1 {
		t.Errorf("role_mismatch = %d, want 1", n)
	}
}

func TestAssembleZeroLengthSegment(t *testing.T) {
	w := way(1, geom.RoleUnknown, pt{1, 0, 0}, pt{2, 1, 0}, pt{5, 1, 0}, pt{3, 1, 1}, pt{4, 0, 1}, pt{1, 0, 0})
	res := Assemble(w)
	if len(res.Rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(res.Rings))
	}
	if n := countKind(res.Problems, ProblemZeroLengthSegment); n != 1 {
		t.Errorf("zero_length_segment = %d, want 1", n)
	}
}

func TestClockwiseOuterIsReversed(t *testing.T) {
	cw := []pt{{1, 0, 0}, {2, 0, 1}, {3, 1, 1}, {4, 1, 0}, {1, 0, 0}}
	res := Assemble(way(1, geom.RoleUnknown, cw...))
	if len(res.Rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(res.Rings))
	}
	if a := res.Rings[0].SignedArea(); a <= 0 {
		t.Errorf("area = %v, want positive", a)
	}
	got := ringIDs(&res.Rings[0])
	want := []int64{1, 4, 3, 2, 1}
	if !slices.Equal(got, want) {
		t.Errorf("ring ids = %v, want %v", got, want)
	}
}

func TestAssembleRingStartsAtWayStart(t *testing.T) {
	// the way starts at the corner with the largest location
	w := way(1, geom.RoleUnknown, pt{3, 1, 1}, pt{4, 0, 1}, pt{1, 0, 0}, pt{2, 1, 0}, pt{3, 1, 1})
	res := Assemble(w)
	if len(res.Rings) != 1 {
		t.Fatalf("rings = %d, want 1", len(res.Rings))
	}
	got := ringIDs(&res.Rings[0])
	want := []int64{3, 4, 1, 2, 3}
	if !slices.Equal(got, want) {
		t.Errorf("ring ids = %v, want %v", got, want)
	}
}

func TestInnerTieGoesToLowerIndex(t *testing.T) {
	a := way(1, geom.RoleOuter, square(1, 0, 0, 4, 4)...)
	b := way(2, geom.RoleOuter, square(11, 1, 1, 5, 5)...)
	hole := way(3, geom.RoleInner, square(21, 2, 2, 3, 3)...)
	res := Assemble(join(hole, b, a))
	if len(res.Rings) != 3 || res.NumOuter() != 2 {
		t.Fatalf("rings = %d outer = %d, want 3 and 2", len(res.Rings), res.NumOuter())
	}
	wantOuter := []bool{true, false, true}
	wantIndex := []int{0, 0, 2}
	wantFirstID := []int64{1, 21, 11}
	for i, r := range res.Rings {
		if r.Outer != wantOuter[i] || r.OuterIndex != wantIndex[i] {
			t.Errorf("ring %d outer=%v index=%d, want %v %d", i, r.Outer, r.OuterIndex, wantOuter[i], wantIndex[i])
		}
		if r.Nodes[0].ID/10 != wantFirstID[i]/10 {
			t.Errorf("ring %d starts at node %d", i, r.Nodes[0].ID)
		}
	}
	if n := countKind(res.Problems, ProblemIntersection); n != 2 {
		t.Errorf("intersections = %d, want 2 (%v)", n, res.Problems)
	}
	if n := countKind(res.Problems, ProblemRoleMismatch); n != 0 {
		t.Errorf("role_mismatch = %d, want 0", n)
	}
}

func TestInnerTouchingOuterBBox(t *testing.T) {
	outer := way(1, geom.RoleOuter, square(1, 0, 0, 4, 4)...)
	inner := way(2, geom.RoleInner, pt{1, 0, 0}, pt{11, 2, 1}, pt{12, 1, 2}, pt{1, 0, 0})
	res := Assemble(join(outer, inner))
	if len(res.Problems) != 0 {
		t.Fatalf("problems = %v", res.Problems)
	}
	if len(res.Rings) != 2 || !res.Rings[0].Outer || res.Rings[1].Outer {
		t.Fatalf("rings = %+v, want one outer with one inner", res.Rings)
	}
	if res.Rings[1].OuterIndex != 0 {
		t.Errorf("inner OuterIndex = %d, want 0", res.Rings[1].OuterIndex)
	}
	if a := res.Rings[1].SignedArea(); a >= 0 {
		t.Errorf("inner ring area = %v, want clockwise", a)
	}
}

func TestAssembleTwoOpenChains(t *testing.T) {
	a := way(1, geom.RoleOuter, pt{1, 0, 0}, pt{2, 1, 0})
	b := way(2, geom.RoleOuter, pt{3, 5, 5}, pt{4, 6, 5}, pt{5, 6, 6})
	res := Assemble(join(a, b))
	if n := countKind(res.Problems, ProblemRingNotClosed); n != 2 {
		t.Errorf("ring_not_closed = %d, want 2 (%v)", n, res.Problems)
	}
}
