// Package nodeindex maps node ids to locations for way geometry lookup.
package nodeindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

var (
	ErrNotFound   = errors.New("node location not found")
	ErrOutOfRange = errors.New("node id out of index range")
)

// Index stores node locations. Implementations are safe for concurrent
// use by one writer and many readers.
type Index interface {
	Set(nodeID int64, loc geom.Location) error
	Get(nodeID int64) (geom.Location, error)
	Close() error
}

// SparseIndex is a map-backed index for small extracts and tests.
type SparseIndex struct {
	mu   sync.RWMutex
	locs map[int64]geom.Location
}

// NewSparseIndex returns an empty in-memory index.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{locs: make(map[int64]geom.Location)}
}

func (s *SparseIndex) Set(nodeID int64, loc geom.Location) error {
	s.mu.Lock()
	s.locs[nodeID] = loc
	s.mu.Unlock()
	return nil
}

func (s *SparseIndex) Get(nodeID int64) (geom.Location, error) {
	s.mu.RLock()
	loc, ok := s.locs[nodeID]
	s.mu.RUnlock()
	if !ok {
		return geom.Undefined, ErrNotFound
	}
	return loc, nil
}

// Len returns the number of stored nodes.
func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locs)
}

func (s *SparseIndex) Close() error { return nil }

// Open returns the index named by kind: "sparse" or "mmap". The mmap
// index needs a file path.
func Open(kind, path string, maxID int64) (Index, error) {
	switch kind {
	case "", "sparse":
		return NewSparseIndex(), nil
	case "mmap":
		if path == "" {
			return nil, fmt.Errorf("mmap node index needs a file path")
		}
		return NewMmapIndex(path, maxID)
	}
	return nil, fmt.Errorf("unknown node index type %q", kind)
}
