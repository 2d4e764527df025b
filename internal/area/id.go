// Package area assembles closed, classified polygon rings from the
// segments of OSM ways and multipolygon relations.
package area

import "github.com/wegman-software/osm2area-go/internal/entity"

// ObjectIDToAreaID encodes the id of a way or relation as an area id.
// Ways map to even and relations to odd absolute values; the sign of the
// object id is kept.
func ObjectIDToAreaID(id int64, kind entity.Kind) int64 {
	abs := id
	if abs < 0 {
		abs = -abs
	}
	areaID := abs * 2
	if kind == entity.KindRelation {
		areaID++
	}
	if id < 0 {
		return -areaID
	}
	return areaID
}

// AreaIDToObjectID returns the way or relation id an area was built from.
func AreaIDToObjectID(areaID int64) int64 {
	return areaID / 2
}

// AreaIDKind returns the kind of object an area id refers to.
func AreaIDKind(areaID int64) entity.Kind {
	if areaID%2 == 0 {
		return entity.KindWay
	}
	return entity.KindRelation
}
