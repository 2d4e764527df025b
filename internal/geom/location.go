// Package geom holds the fixed-point coordinate types used by the arena and
// the area assembler.
package geom

import (
	"fmt"
	"math"
)

// CoordinatePrecision is the fixed-point scale of Location coordinates.
const CoordinatePrecision = 10000000

const undefinedCoordinate = math.MaxInt32

// Location is a fixed-point WGS84 position. X is longitude, Y is latitude,
// both scaled by CoordinatePrecision.
type Location struct {
	X, Y int32
}

// Undefined is the sentinel for a location that is not known.
var Undefined = Location{X: undefinedCoordinate, Y: undefinedCoordinate}

// FromDegrees converts floating-point degrees to a Location, rounding to the
// nearest fixed-point step.
func FromDegrees(lon, lat float64) Location {
	return Location{X: toFixed(lon), Y: toFixed(lat)}
}

func toFixed(c float64) int32 {
	return int32(math.Round(c * CoordinatePrecision))
}

func toDegrees(c int32) float64 {
	return float64(c) / CoordinatePrecision
}

// Lon returns the longitude in degrees.
func (l Location) Lon() float64 { return toDegrees(l.X) }

// Lat returns the latitude in degrees.
func (l Location) Lat() float64 { return toDegrees(l.Y) }

// IsDefined reports whether l is not the Undefined sentinel.
func (l Location) IsDefined() bool {
	return l.X != undefinedCoordinate || l.Y != undefinedCoordinate
}

// Valid reports whether l lies within the WGS84 coordinate range.
func (l Location) Valid() bool {
	return l.X >= -180*CoordinatePrecision && l.X <= 180*CoordinatePrecision &&
		l.Y >= -90*CoordinatePrecision && l.Y <= 90*CoordinatePrecision
}

// Less orders locations by X, then Y.
func (l Location) Less(o Location) bool {
	if l.X == o.X {
		return l.Y < o.Y
	}
	return l.X < o.X
}

// Compare returns -1, 0 or 1 using the same order as Less.
func (l Location) Compare(o Location) int {
	switch {
	case l.X < o.X:
		return -1
	case l.X > o.X:
		return 1
	case l.Y < o.Y:
		return -1
	case l.Y > o.Y:
		return 1
	}
	return 0
}

func (l Location) String() string {
	if !l.IsDefined() {
		return "(undefined)"
	}
	return fmt.Sprintf("(%.7f,%.7f)", l.Lon(), l.Lat())
}

// NodeRef is a node id together with its resolved location.
type NodeRef struct {
	ID  int64
	Loc Location
}

// Less orders node refs by id.
func (n NodeRef) Less(o NodeRef) bool {
	return n.ID < o.ID
}

// LocationLess orders node refs by location.
func LocationLess(a, b NodeRef) bool {
	return a.Loc.Less(b.Loc)
}

func (n NodeRef) String() string {
	return fmt.Sprintf("%d%s", n.ID, n.Loc)
}

// BBox is an axis aligned box over fixed-point locations. The zero value is
// not empty; use EmptyBBox.
type BBox struct {
	Min, Max Location
}

// EmptyBBox returns a box that contains nothing and grows on Extend.
func EmptyBBox() BBox {
	return BBox{
		Min: Location{X: math.MaxInt32, Y: math.MaxInt32},
		Max: Location{X: math.MinInt32, Y: math.MinInt32},
	}
}

// IsEmpty reports whether no location was added.
func (b BBox) IsEmpty() bool {
	return b.Min.X > b.Max.X
}

// Extend grows b to include l.
func (b *BBox) Extend(l Location) {
	b.Min.X = min(b.Min.X, l.X)
	b.Min.Y = min(b.Min.Y, l.Y)
	b.Max.X = max(b.Max.X, l.X)
	b.Max.Y = max(b.Max.Y, l.Y)
}

// Contains reports whether o lies within b, borders included.
func (b BBox) Contains(o BBox) bool {
	return o.Min.X >= b.Min.X && o.Max.X <= b.Max.X &&
		o.Min.Y >= b.Min.Y && o.Max.Y <= b.Max.Y
}

// Intersects reports whether the boxes share at least one point.
func (b BBox) Intersects(o BBox) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y
}
