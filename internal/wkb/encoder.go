// Package wkb encodes area and problem geometries as PostGIS EWKB.
package wkb

import (
	"encoding/binary"
	"math"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// WKB geometry type codes
const (
	wkbPoint           = 1
	wkbLineString      = 2
	wkbPolygon         = 3
	wkbMultiLineString = 5
	wkbMultiPolygon    = 6

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// SRID4326 is WGS84, the only reference system areas are written in.
const SRID4326 = 4326

var le = binary.LittleEndian

// Encoder encodes geometries to little-endian EWKB with SRID. The returned
// slices are reused by the next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates a new WKB encoder with pre-allocated buffer and SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: SRID4326,
	}
}

// SRID returns the encoder's current SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

func (e *Encoder) header(typ uint32) {
	e.buf = append(e.buf[:0], 0x01)
	e.buf = le.AppendUint32(e.buf, typ|wkbSRIDFlag)
	e.buf = le.AppendUint32(e.buf, e.srid)
}

func (e *Encoder) location(l geom.Location) {
	e.buf = le.AppendUint64(e.buf, math.Float64bits(l.Lon()))
	e.buf = le.AppendUint64(e.buf, math.Float64bits(l.Lat()))
}

// EncodePoint encodes a location as a point.
func (e *Encoder) EncodePoint(l geom.Location) []byte {
	e.header(wkbPoint)
	e.location(l)
	return e.buf
}

// EncodeLineString encodes a node sequence as a linestring.
func (e *Encoder) EncodeLineString(nodes []geom.NodeRef) []byte {
	e.header(wkbLineString)
	e.buf = le.AppendUint32(e.buf, uint32(len(nodes)))
	for _, n := range nodes {
		e.location(n.Loc)
	}
	return e.buf
}

// EncodeSegments encodes segments as a multilinestring with one two-point
// line per segment.
func (e *Encoder) EncodeSegments(segs []geom.Segment) []byte {
	e.header(wkbMultiLineString)
	e.buf = le.AppendUint32(e.buf, uint32(len(segs)))
	for _, s := range segs {
		// embedded geometries carry no SRID
		e.buf = append(e.buf, 0x01)
		e.buf = le.AppendUint32(e.buf, wkbLineString)
		e.buf = le.AppendUint32(e.buf, 2)
		e.location(s.Start().Loc)
		e.location(s.End().Loc)
	}
	return e.buf
}

// EncodeMultiPolygon encodes polygons given as rings of node refs. The first
// ring of each polygon is its outer ring. Returns nil for no polygons.
func (e *Encoder) EncodeMultiPolygon(polygons [][][]geom.NodeRef) []byte {
	if len(polygons) == 0 {
		return nil
	}
	e.header(wkbMultiPolygon)
	e.buf = le.AppendUint32(e.buf, uint32(len(polygons)))
	for _, poly := range polygons {
		e.buf = append(e.buf, 0x01)
		e.buf = le.AppendUint32(e.buf, wkbPolygon)
		e.buf = le.AppendUint32(e.buf, uint32(len(poly)))
		for _, ring := range poly {
			e.buf = le.AppendUint32(e.buf, uint32(len(ring)))
			for _, n := range ring {
				e.location(n.Loc)
			}
		}
	}
	return e.buf
}
