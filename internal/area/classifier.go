package area

import (
	"math"
	"slices"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// Result is the output of Assemble. Rings are in export order: every outer
// ring is followed by its inner rings.
type Result struct {
	Rings    []Ring
	Problems []Problem
}

// Complete reports whether every chain closed into a ring.
func (r *Result) Complete() bool {
	for _, p := range r.Problems {
		if p.Kind == ProblemRingNotClosed {
			return false
		}
	}
	return true
}

// NumOuter returns the number of outer rings.
func (r *Result) NumOuter() int {
	n := 0
	for i := range r.Rings {
		if r.Rings[i].Outer {
			n++
		}
	}
	return n
}

// Assemble builds rings from segments, classifies them and checks the
// segments for crossings.
func Assemble(segments []geom.Segment) Result {
	rings, problems := AssembleRings(segments)
	classified, more := Classify(rings)
	problems = append(problems, more...)
	problems = append(problems, FindIntersections(segments)...)
	return Result{Rings: classified, Problems: problems}
}

type ringInfo struct {
	ring     *Ring
	bbox     geom.BBox
	area     float64
	segs     []geom.Segment
	vertices map[geom.Location]struct{}
}

// contains reports whether ring b lies inside ring a. The test point is the
// first vertex of b that is not also a vertex of a.
func (a *ringInfo) contains(b *ringInfo) bool {
	if !a.bbox.Contains(b.bbox) {
		return false
	}
	for _, n := range b.ring.Nodes {
		if _, shared := a.vertices[n.Loc]; shared {
			continue
		}
		crossings := 0
		for _, s := range a.segs {
			if s.ToLeftOf(n.Loc) {
				crossings++
			}
		}
		return crossings%2 == 1
	}
	return false
}

// Classify decides which rings are outer and which inner, assigns every
// inner ring to its outer ring and normalizes orientation: outer rings
// counter-clockwise, inner rings clockwise.
//
// Every ring hangs off its smallest container. A ring whose chain of
// containers has odd length is inner. Rings that only carry inner roles
// but lie inside no other ring are dropped and reported.
func Classify(rings []Ring) ([]Ring, []Problem) {
	infos := make([]ringInfo, len(rings))
	for i := range rings {
		r := &rings[i]
		info := ringInfo{
			ring:     r,
			bbox:     r.bbox(),
			area:     r.SignedArea(),
			segs:     r.segments(),
			vertices: make(map[geom.Location]struct{}, len(r.Nodes)),
		}
		for _, n := range r.Nodes {
			info.vertices[n.Loc] = struct{}{}
		}
		infos[i] = info
	}

	containers := make([][]int, len(infos))
	for i := range infos {
		for j := range infos {
			if i != j && infos[j].contains(&infos[i]) {
				containers[i] = append(containers[i], j)
			}
		}
	}

	var problems []Problem
	dropped := make([]bool, len(infos))
	for i := range infos {
		r := infos[i].ring
		if len(containers[i]) == 0 && r.innerRoles > 0 && r.outerRoles == 0 {
			dropped[i] = true
			problems = append(problems, Problem{
				Kind: ProblemInnerRingWithoutOuter,
				Node: r.Nodes[0],
				Loc:  r.Nodes[0].Loc,
			})
		}
	}

	// parent is the smallest container, ties going to the lower ring index
	parent := make([]int, len(infos))
	for i := range infos {
		parent[i] = -1
		if dropped[i] {
			continue
		}
		best := math.Inf(1)
		for _, j := range containers[i] {
			if dropped[j] {
				continue
			}
			if a := math.Abs(infos[j].area); a < best {
				best = a
				parent[i] = j
			}
		}
	}

	for i := range infos {
		if dropped[i] {
			continue
		}
		depth := 0
		for p := parent[i]; p >= 0 && depth < len(infos); p = parent[p] {
			depth++
		}
		r := infos[i].ring
		r.Outer = depth%2 == 0
		if !r.Outer && r.outerRoles > 0 && r.innerRoles == 0 ||
			r.Outer && depth > 0 && r.innerRoles > 0 && r.outerRoles == 0 {
			problems = append(problems, Problem{
				Kind: ProblemRoleMismatch,
				Node: r.Nodes[0],
				Loc:  r.Nodes[0].Loc,
			})
		}
		if r.Outer == (infos[i].area < 0) {
			r.reverse()
		}
	}

	out := make([]Ring, 0, len(rings))
	for i := range infos {
		if dropped[i] || !infos[i].ring.Outer {
			continue
		}
		outerIndex := len(out)
		outer := *infos[i].ring
		outer.OuterIndex = outerIndex
		out = append(out, outer)
		for j := range infos {
			if !dropped[j] && !infos[j].ring.Outer && parent[j] == i {
				inner := *infos[j].ring
				inner.OuterIndex = outerIndex
				out = append(out, inner)
			}
		}
	}
	return out, problems
}

// FindIntersections reports every pair of segments that cross away from
// their endpoints. Segments are swept in order of their smaller x.
func FindIntersections(in []geom.Segment) []Problem {
	segs := make([]geom.Segment, 0, len(in))
	for _, s := range in {
		if !s.IsDegenerate() {
			segs = append(segs, s)
		}
	}
	slices.SortFunc(segs, compareSegments)
	segs = slices.CompactFunc(segs, geom.Segment.SameEdge)

	var problems []Problem
	for i := range segs {
		maxX := segs[i].Second().Loc.X
		for j := i + 1; j < len(segs) && segs[j].First().Loc.X <= maxX; j++ {
			if loc, ok := geom.Intersection(segs[i], segs[j]); ok {
				problems = append(problems, Problem{
					Kind:     ProblemIntersection,
					Node:     segs[i].First(),
					Loc:      loc,
					Segments: []geom.Segment{segs[i], segs[j]},
				})
			}
		}
	}
	return problems
}
