package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

const (
	// Each entry holds x and y as two 32 bit words.
	entrySize = 8
	// DefaultMaxNodeID covers the current OSM planet with headroom.
	DefaultMaxNodeID = 16_000_000_000
	// Entries are stored XORed with this mask so that the zero pages of a
	// sparse file decode as geom.Undefined.
	undefinedMask = 0x7fffffff
)

// MmapIndex is a memory-mapped dense location index.
// Entries live at offset = nodeID * 8, giving O(1) lookups for any id in
// [0, maxID). The backing file is sparse, so disk usage follows the
// number of nodes actually written.
type MmapIndex struct {
	file  *os.File
	data  mmap.MMap
	maxID int64
}

// NewMmapIndex creates the index file at path, sized for ids below maxID.
func NewMmapIndex(path string, maxID int64) (*MmapIndex, error) {
	if maxID <= 0 {
		maxID = DefaultMaxNodeID
	}
	size := maxID * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{file: f, data: data, maxID: maxID}, nil
}

// OpenMmapIndex opens an existing index file read-only.
func OpenMmapIndex(path string) (*MmapIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{file: f, data: data, maxID: info.Size() / entrySize}, nil
}

// Set stores the location of a node. Ids outside [0, maxID) are rejected.
func (m *MmapIndex) Set(nodeID int64, loc geom.Location) error {
	if nodeID < 0 || nodeID >= m.maxID {
		return fmt.Errorf("%w: node id %d", ErrOutOfRange, nodeID)
	}
	offset := nodeID * entrySize
	binary.LittleEndian.PutUint32(m.data[offset:], uint32(loc.X)^undefinedMask)
	binary.LittleEndian.PutUint32(m.data[offset+4:], uint32(loc.Y)^undefinedMask)
	return nil
}

// Get returns the location of a node or ErrNotFound.
func (m *MmapIndex) Get(nodeID int64) (geom.Location, error) {
	if nodeID < 0 || nodeID >= m.maxID {
		return geom.Undefined, ErrNotFound
	}
	offset := nodeID * entrySize
	loc := geom.Location{
		X: int32(binary.LittleEndian.Uint32(m.data[offset:]) ^ undefinedMask),
		Y: int32(binary.LittleEndian.Uint32(m.data[offset+4:]) ^ undefinedMask),
	}
	if !loc.IsDefined() {
		return geom.Undefined, ErrNotFound
	}
	return loc, nil
}

// Sync flushes changes to disk
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index file
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
