package area

import (
	"slices"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// Ring is a closed sequence of node refs. The first and last node refs
// share a location.
type Ring struct {
	Nodes []geom.NodeRef
	// Outer is set by the classifier.
	Outer bool
	// OuterIndex is the index of the enclosing outer ring in Result.Rings.
	// Outer rings hold their own index.
	OuterIndex int

	outerRoles int
	innerRoles int
}

// Len returns the number of node refs including the closing one.
func (r *Ring) Len() int { return len(r.Nodes) }

func (r *Ring) segments() []geom.Segment {
	segs := make([]geom.Segment, 0, len(r.Nodes)-1)
	for i := 0; i+1 < len(r.Nodes); i++ {
		segs = append(segs, geom.NewSegment(r.Nodes[i], r.Nodes[i+1], geom.RoleUnknown, 0))
	}
	return segs
}

func (r *Ring) bbox() geom.BBox {
	b := geom.EmptyBBox()
	for _, n := range r.Nodes {
		b.Extend(n.Loc)
	}
	return b
}

// SignedArea returns the shoelace area in square degrees. Counter-clockwise
// rings are positive.
func (r *Ring) SignedArea() float64 {
	var sum float64
	for i := 0; i+1 < len(r.Nodes); i++ {
		a, b := r.Nodes[i].Loc, r.Nodes[i+1].Loc
		sum += a.Lon()*b.Lat() - b.Lon()*a.Lat()
	}
	return sum / 2
}

func (r *Ring) reverse() {
	slices.Reverse(r.Nodes)
}

func (r *Ring) addRole(role geom.Role) {
	switch role {
	case geom.RoleOuter:
		r.outerRoles++
	case geom.RoleInner:
		r.innerRoles++
	}
}

// compareSegments orders segments for assembly; it matches Segment.Less.
func compareSegments(a, b geom.Segment) int {
	if a.Less(b) {
		return -1
	}
	if b.Less(a) {
		return 1
	}
	return 0
}

// prepareSegments sorts the segments, drops zero-length ones and collapses
// repeated edges into a single copy. order[i] is the input position of
// segs[i]; a collapsed edge keeps its earliest position.
func prepareSegments(in []geom.Segment) (segs []geom.Segment, order []int, problems []Problem) {
	idx := make([]int, 0, len(in))
	for i, s := range in {
		if s.IsDegenerate() {
			problems = append(problems, Problem{
				Kind:     ProblemZeroLengthSegment,
				Node:     s.First(),
				Loc:      s.First().Loc,
				Segments: []geom.Segment{s},
			})
			continue
		}
		idx = append(idx, i)
	}
	slices.SortStableFunc(idx, func(a, b int) int { return compareSegments(in[a], in[b]) })

	for _, j := range idx {
		if n := len(segs); n > 0 && segs[n-1].SameEdge(in[j]) {
			order[n-1] = min(order[n-1], j)
			continue
		}
		segs = append(segs, in[j])
		order = append(order, j)
	}
	return segs, order, problems
}

type chainStep struct {
	node geom.NodeRef
	seg  int
}

// AssembleRings links segments that share endpoint locations into closed
// rings. Chains that cannot be closed are reported once as
// ProblemRingNotClosed and produce no ring.
//
// Rings are seeded in input order, so a ring starts at the way-direction
// start of its earliest input segment and a closed way comes back as its
// own node sequence.
func AssembleRings(in []geom.Segment) ([]Ring, []Problem) {
	segs, order, problems := prepareSegments(in)

	adjacent := make(map[geom.Location][]int, 2*len(segs))
	for i, s := range segs {
		adjacent[s.First().Loc] = append(adjacent[s.First().Loc], i)
		adjacent[s.Second().Loc] = append(adjacent[s.Second().Loc], i)
	}

	visited := make([]bool, len(segs))
	other := func(i int, at geom.Location) geom.NodeRef {
		if segs[i].First().Loc == at {
			return segs[i].Second()
		}
		return segs[i].First()
	}
	next := func(at, closing geom.Location) (int, bool) {
		found := -1
		for _, i := range adjacent[at] {
			if visited[i] {
				continue
			}
			if other(i, at).Loc == closing {
				return i, true
			}
			if found < 0 {
				found = i
			}
		}
		return found, found >= 0
	}

	seeds := make([]int, len(segs))
	for i := range seeds {
		seeds[i] = i
	}
	slices.SortFunc(seeds, func(a, b int) int { return order[a] - order[b] })

	var rings []Ring
	var first []int // smallest sorted segment index per ring
	for _, seed := range seeds {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		start := segs[seed].Start()
		forward := []chainStep{{node: start, seg: seed}, {node: segs[seed].End(), seg: seed}}

		closed := false
		for {
			at := forward[len(forward)-1].node.Loc
			if at == start.Loc {
				closed = true
				break
			}
			i, ok := next(at, start.Loc)
			if !ok {
				break
			}
			visited[i] = true
			forward = append(forward, chainStep{node: other(i, at), seg: i})
		}

		if closed {
			ring := Ring{Nodes: make([]geom.NodeRef, len(forward))}
			for j, step := range forward {
				ring.Nodes[j] = step.node
			}
			ring.Nodes[len(ring.Nodes)-1] = start
			low := seed
			for _, step := range forward[1:] {
				ring.addRole(segs[step.seg].Role())
				low = min(low, step.seg)
			}
			rings = append(rings, ring)
			first = append(first, low)
			continue
		}

		end := forward[len(forward)-1]
		back := start
		for {
			i, ok := next(back.Loc, end.node.Loc)
			if !ok {
				break
			}
			visited[i] = true
			back = other(i, back.Loc)
		}
		problems = append(problems, Problem{
			Kind:     ProblemRingNotClosed,
			Node:     end.node,
			Loc:      back.Loc,
			Segments: []geom.Segment{segs[end.seg]},
		})
	}

	// ring order follows the segment order so it does not depend on the
	// order of the input
	perm := make([]int, len(rings))
	for i := range perm {
		perm[i] = i
	}
	slices.SortFunc(perm, func(a, b int) int { return first[a] - first[b] })
	sorted := make([]Ring, len(rings))
	for i, j := range perm {
		sorted[i] = rings[j]
	}
	return sorted, problems
}
