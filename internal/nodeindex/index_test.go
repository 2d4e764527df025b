package nodeindex

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

func testIndex(t *testing.T, idx Index) {
	t.Helper()
	tests := []struct {
		id  int64
		loc geom.Location
	}{
		{1, geom.FromDegrees(13.4050, 52.5200)},
		{2, geom.FromDegrees(0, 0)},
		{999, geom.FromDegrees(-180, -90)},
		{1000, geom.FromDegrees(179.9999999, 89.9999999)},
	}
	for _, tt := range tests {
		if err := idx.Set(tt.id, tt.loc); err != nil {
			t.Fatalf("Set(%d): %v", tt.id, err)
		}
	}
	for _, tt := range tests {
		got, err := idx.Get(tt.id)
		if err != nil {
			t.Errorf("Get(%d): %v", tt.id, err)
			continue
		}
		if got != tt.loc {
			t.Errorf("Get(%d) = %v, want %v", tt.id, got, tt.loc)
		}
	}
	if _, err := idx.Get(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(3) err = %v, want ErrNotFound", err)
	}
}

func TestSparseIndex(t *testing.T) {
	idx := NewSparseIndex()
	testIndex(t, idx)
	if idx.Len() != 4 {
		t.Errorf("Len() = %d, want 4", idx.Len())
	}
}

func TestMmapIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.idx")
	idx, err := NewMmapIndex(path, 4096)
	if err != nil {
		t.Fatalf("NewMmapIndex: %v", err)
	}
	testIndex(t, idx)
	if err := idx.Set(4096, geom.FromDegrees(1, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set out of range err = %v, want ErrOutOfRange", err)
	}
	if err := idx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := OpenMmapIndex(path)
	if err != nil {
		t.Fatalf("OpenMmapIndex: %v", err)
	}
	defer ro.Close()
	got, err := ro.Get(2)
	if err != nil || got != geom.FromDegrees(0, 0) {
		t.Errorf("reopened Get(2) = %v, %v", got, err)
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("sparse", "", 0); err != nil {
		t.Errorf("Open(sparse): %v", err)
	}
	if _, err := Open("mmap", "", 0); err == nil {
		t.Error("Open(mmap) without path should fail")
	}
	if _, err := Open("btree", "", 0); err == nil {
		t.Error("Open(btree) should fail")
	}
}
