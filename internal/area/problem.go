package area

import (
	"fmt"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// ProblemKind classifies a geometry anomaly found while assembling.
type ProblemKind uint16

const (
	ProblemIntersection ProblemKind = iota + 1
	ProblemRingNotClosed
	ProblemInnerRingWithoutOuter
	ProblemZeroLengthSegment
	ProblemMissingMember
	ProblemTooFewNodes
	ProblemMissingLocation
	ProblemRoleMismatch
)

var problemNames = map[ProblemKind]string{
	ProblemIntersection:          "intersection",
	ProblemRingNotClosed:         "ring_not_closed",
	ProblemInnerRingWithoutOuter: "inner_ring_without_outer",
	ProblemZeroLengthSegment:     "zero_length_segment",
	ProblemMissingMember:         "missing_member",
	ProblemTooFewNodes:           "too_few_nodes",
	ProblemMissingLocation:       "missing_location",
	ProblemRoleMismatch:          "role_mismatch",
}

func (k ProblemKind) String() string {
	if name, ok := problemNames[k]; ok {
		return name
	}
	return fmt.Sprintf("problem(%d)", uint16(k))
}

// ProblemKinds lists every kind in declaration order.
func ProblemKinds() []ProblemKind {
	return []ProblemKind{
		ProblemIntersection,
		ProblemRingNotClosed,
		ProblemInnerRingWithoutOuter,
		ProblemZeroLengthSegment,
		ProblemMissingMember,
		ProblemTooFewNodes,
		ProblemMissingLocation,
		ProblemRoleMismatch,
	}
}

// Problem is a diagnostic record. Problems are data, not errors: an area
// may still be emitted when problems were found.
//
// Node is the node the problem is reported at. Loc holds the intersection
// point for intersections and the opposite open end for unclosed rings.
type Problem struct {
	Kind     ProblemKind
	AreaID   int64
	Node     geom.NodeRef
	Loc      geom.Location
	Segments []geom.Segment
}

func (p Problem) String() string {
	return fmt.Sprintf("%s at node %s (area %d)", p.Kind, p.Node, p.AreaID)
}
