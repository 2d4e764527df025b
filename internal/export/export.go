// Package export converts area and problem items into the geometry forms
// used by the sinks.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/geom"
)

// Polygons groups the rings of an area into polygons. Each polygon starts
// with its outer ring followed by the inner rings that reference it.
func Polygons(a arena.Area) [][][]geom.NodeRef {
	var polys [][][]geom.NodeRef
	byRing := make(map[int]int)
	i := 0
	for r := range a.Rings() {
		nodes := make([]geom.NodeRef, 0, r.Nodes().Len())
		for _, n := range r.Nodes().All() {
			nodes = append(nodes, n)
		}
		if r.IsOuter() {
			byRing[i] = len(polys)
			polys = append(polys, [][]geom.NodeRef{nodes})
		} else if p, ok := byRing[r.OuterIndex()]; ok {
			polys[p] = append(polys[p], nodes)
		}
		i++
	}
	return polys
}

func point(l geom.Location) orb.Point {
	return orb.Point{l.Lon(), l.Lat()}
}

// MultiPolygon converts an area to an orb geometry.
func MultiPolygon(a arena.Area) orb.MultiPolygon {
	polys := Polygons(a)
	mp := make(orb.MultiPolygon, len(polys))
	for i, poly := range polys {
		mp[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, n := range ring {
				r[k] = point(n.Loc)
			}
			mp[i][j] = r
		}
	}
	return mp
}

// AreaSize returns the geodesic area in square meters.
func AreaSize(mp orb.MultiPolygon) float64 {
	return geo.Area(mp)
}

// TagsJSON encodes tags as a JSON object.
func TagsJSON(tags arena.TagList) string {
	if tags.Len() == 0 {
		return "{}"
	}
	data, err := json.Marshal(tags.Map())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ProblemLocation returns where a problem is reported: the problem point
// when known, else the node location.
func ProblemLocation(p arena.ProblemRecord) geom.Location {
	if area.ProblemKind(p.Kind) == area.ProblemIntersection && p.Loc.IsDefined() {
		return p.Loc
	}
	return p.Node.Loc
}

// ProblemGeometry returns the problem's segments as lines, or its location
// as a point when it has no segments. The second result is false when the
// problem has no known position.
func ProblemGeometry(p arena.ProblemRecord) (orb.Geometry, bool) {
	if len(p.Segments) > 0 {
		ml := make(orb.MultiLineString, len(p.Segments))
		for i, s := range p.Segments {
			ml[i] = orb.LineString{point(s.Start().Loc), point(s.End().Loc)}
		}
		return ml, true
	}
	loc := ProblemLocation(p)
	if !loc.IsDefined() {
		return nil, false
	}
	return point(loc), true
}

// Describe renders an area or problem item as one line of text. Other
// item types yield their type name.
func Describe(item arena.Item) (string, error) {
	switch item.Type() {
	case arena.TypeArea:
		a, err := item.AsArea()
		if err != nil {
			return "", err
		}
		outer, inner := a.NumRings()
		return fmt.Sprintf("area %d %s/%d partial=%t outer=%d inner=%d m2=%.0f tags=%s",
			a.ID(), area.AreaIDKind(a.ID()), area.AreaIDToObjectID(a.ID()),
			a.Partial(), outer, inner, AreaSize(MultiPolygon(a)), TagsJSON(a.Tags())), nil
	case arena.TypeProblem:
		p, err := item.AsProblem()
		if err != nil {
			return "", err
		}
		rec := p.Record()
		return fmt.Sprintf("problem %s area=%d node=%d at=%s segments=%d",
			area.ProblemKind(rec.Kind), rec.AreaID, rec.Node.ID, ProblemLocation(rec), len(rec.Segments)), nil
	default:
		return item.Type().String(), nil
	}
}
