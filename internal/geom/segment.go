package geom

import (
	"fmt"
	"math"
)

// Role is the member role a segment inherited from its relation.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleOuter
	RoleInner
)

// ParseRole maps an OSM member role string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "outer":
		return RoleOuter
	case "inner":
		return RoleInner
	}
	return RoleUnknown
}

func (r Role) String() string {
	switch r {
	case RoleOuter:
		return "outer"
	case RoleInner:
		return "inner"
	}
	return ""
}

// Segment is an undirected edge between two node refs. The endpoints are
// stored in location order; Reversed records whether that is the opposite
// of the direction of the source way.
type Segment struct {
	first, second NodeRef
	reversed      bool
	role          Role
	wayID         int64
}

// NewSegment builds the segment from a to b as they appear in way wayID.
func NewSegment(a, b NodeRef, role Role, wayID int64) Segment {
	s := Segment{first: a, second: b, role: role, wayID: wayID}
	if b.Loc.Less(a.Loc) {
		s.first, s.second = b, a
		s.reversed = true
	}
	return s
}

func (s Segment) First() NodeRef { return s.first }
func (s Segment) Second() NodeRef { return s.second }
func (s Segment) Reversed() bool { return s.reversed }
func (s Segment) Role() Role { return s.role }
func (s Segment) WayID() int64 { return s.wayID }

// Start returns the endpoint that comes first in way direction.
func (s Segment) Start() NodeRef {
	if s.reversed {
		return s.second
	}
	return s.first
}

// End returns the endpoint that comes last in way direction.
func (s Segment) End() NodeRef {
	if s.reversed {
		return s.first
	}
	return s.second
}

// IsDegenerate reports whether both endpoints share a location.
func (s Segment) IsDegenerate() bool {
	return s.first.Loc == s.second.Loc
}

// SameEdge reports whether both segments connect the same two locations.
func (s Segment) SameEdge(o Segment) bool {
	return s.first.Loc == o.first.Loc && s.second.Loc == o.second.Loc
}

// Less orders segments by first location, then second location, then way id.
func (s Segment) Less(o Segment) bool {
	if c := s.first.Loc.Compare(o.first.Loc); c != 0 {
		return c < 0
	}
	if c := s.second.Loc.Compare(o.second.Loc); c != 0 {
		return c < 0
	}
	return s.wayID < o.wayID
}

// BBox returns the bounding box of the segment.
func (s Segment) BBox() BBox {
	b := EmptyBBox()
	b.Extend(s.first.Loc)
	b.Extend(s.second.Loc)
	return b
}

// ToLeftOf reports whether the segment crosses the horizontal ray going
// left from loc. Segments touching the ray at their lower end are
// counted, those ending at it are not, so a ray through a vertex is
// counted once.
func (s Segment) ToLeftOf(loc Location) bool {
	if s.first.Loc == loc || s.second.Loc == loc {
		return false
	}
	lo, hi := s.first.Loc, s.second.Loc
	if hi.Y < lo.Y {
		lo, hi = hi, lo
	}
	if lo.Y >= loc.Y || hi.Y < loc.Y || s.first.Loc.X > loc.X {
		return false
	}
	ax, ay := int64(lo.X), int64(lo.Y)
	bx, by := int64(hi.X), int64(hi.Y)
	lx, ly := int64(loc.X), int64(loc.Y)
	// compared, not subtracted: each product fits in int64 for valid
	// locations, their difference may not
	return (bx-ax)*(ly-ay) <= (by-ay)*(lx-ax)
}

func (s Segment) String() string {
	return fmt.Sprintf("%s--%s", s.first, s.second)
}

// Intersection returns the point where s1 and s2 cross. Segments that share
// an endpoint location, parallel and collinear segments never intersect.
func Intersection(s1, s2 Segment) (Location, bool) {
	if s1.first.Loc == s2.first.Loc || s1.first.Loc == s2.second.Loc ||
		s1.second.Loc == s2.first.Loc || s1.second.Loc == s2.second.Loc {
		return Undefined, false
	}
	if !s1.BBox().Intersects(s2.BBox()) {
		return Undefined, false
	}

	x1, y1 := int64(s1.first.Loc.X), int64(s1.first.Loc.Y)
	x2, y2 := int64(s1.second.Loc.X), int64(s1.second.Loc.Y)
	x3, y3 := int64(s2.first.Loc.X), int64(s2.first.Loc.Y)
	x4, y4 := int64(s2.second.Loc.X), int64(s2.second.Loc.Y)

	// parallel
	if (y4-y3)*(x2-x1) == (x4-x3)*(y2-y1) {
		return Undefined, false
	}

	fx1, fy1 := float64(x1), float64(y1)
	fx2, fy2 := float64(x2), float64(y2)
	fx3, fy3 := float64(x3), float64(y3)
	fx4, fy4 := float64(x4), float64(y4)

	denom := (fy4-fy3)*(fx2-fx1) - (fx4-fx3)*(fy2-fy1)
	numeA := (fx4-fx3)*(fy1-fy3) - (fy4-fy3)*(fx1-fx3)
	numeB := (fx2-fx1)*(fy1-fy3) - (fy2-fy1)*(fx1-fx3)

	if (denom > 0 && numeA >= 0 && numeA <= denom && numeB >= 0 && numeB <= denom) ||
		(denom < 0 && numeA <= 0 && numeA >= denom && numeB <= 0 && numeB >= denom) {
		ua := numeA / denom
		return Location{
			X: int32(math.Round(fx1 + ua*(fx2-fx1))),
			Y: int32(math.Round(fy1 + ua*(fy2-fy1))),
		}, true
	}
	return Undefined, false
}
