package reader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/geom"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="0.0" lon="0.0" version="1"/>
  <node id="2" lat="0.0" lon="1.0" version="1"/>
  <node id="3" lat="1.0" lon="1.0" version="1">
    <tag k="name" v="corner"/>
  </node>
  <node id="4" lat="1.0" lon="0.0" version="1"/>
  <way id="100" version="1">
    <nd ref="1"/>
    <nd ref="2"/>
    <nd ref="3"/>
    <nd ref="4"/>
    <nd ref="1"/>
    <tag k="building" v="yes"/>
  </way>
  <relation id="10" version="1">
    <member type="way" ref="100" role="outer"/>
    <member type="node" ref="3" role="label"/>
    <tag k="type" v="multipolygon"/>
  </relation>
</osm>
`

type counts map[arena.ItemType]int

func readAll(t *testing.T, kinds entity.KindSet, opts Options) ([]*arena.Buffer, counts) {
	t.Helper()
	out := make(chan *arena.Buffer, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- ReadFrom(context.Background(), strings.NewReader(sampleXML), FormatXML, kinds, opts, out)
	}()
	var chunks []*arena.Buffer
	c := counts{}
	for buf := range out {
		chunks = append(chunks, buf)
		for item := range buf.View().Items() {
			c[item.Type()]++
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	return chunks, c
}

func TestReadXML(t *testing.T) {
	chunks, c := readAll(t, entity.AllKinds, Options{})
	if len(chunks) != 1 {
		t.Errorf("got %d chunks, want 1", len(chunks))
	}
	if c[arena.TypeNode] != 4 || c[arena.TypeWay] != 1 || c[arena.TypeRelation] != 1 {
		t.Errorf("counts = %v", c)
	}

	for item := range chunks[0].View().Items() {
		switch item.Type() {
		case arena.TypeNode:
			n, _ := item.AsNode()
			if n.ID() == 3 {
				if n.Location() != geom.FromDegrees(1, 1) {
					t.Errorf("node 3 at %v", n.Location())
				}
				if v, _ := n.Tags().Get("name"); v != "corner" {
					t.Errorf("node 3 name = %q", v)
				}
			}
		case arena.TypeWay:
			w, _ := item.AsWay()
			if w.ID() != 100 || w.Nodes().Len() != 5 || !w.IsClosed() {
				t.Errorf("way %d with %d nodes", w.ID(), w.Nodes().Len())
			}
			if w.Nodes().At(0).Loc.IsDefined() {
				t.Error("way node location should be resolved later")
			}
		case arena.TypeRelation:
			r, _ := item.AsRelation()
			var members []arena.Member
			for m := range r.Members() {
				members = append(members, m)
			}
			if len(members) != 2 {
				t.Fatalf("got %d members", len(members))
			}
			if members[0].Type != entity.KindWay || members[0].Ref != 100 || members[0].Role != "outer" {
				t.Errorf("member 0 = %+v", members[0])
			}
			if members[1].Type != entity.KindNode || members[1].Role != "label" {
				t.Errorf("member 1 = %+v", members[1])
			}
		}
	}
}

func TestReadKindFilter(t *testing.T) {
	_, c := readAll(t, entity.NewKindSet(entity.KindRelation), Options{})
	if c[arena.TypeRelation] != 1 || c[arena.TypeNode] != 0 || c[arena.TypeWay] != 0 {
		t.Errorf("relations only: counts = %v", c)
	}
	_, c = readAll(t, entity.NewKindSet(entity.KindNode, entity.KindWay), Options{})
	if c[arena.TypeRelation] != 0 || c[arena.TypeNode] != 4 || c[arena.TypeWay] != 1 {
		t.Errorf("nodes and ways: counts = %v", c)
	}
}

func TestReadSmallChunks(t *testing.T) {
	chunks, c := readAll(t, entity.AllKinds, Options{ChunkSize: 16})
	if len(chunks) != 6 {
		t.Errorf("got %d chunks, want one per object", len(chunks))
	}
	if c[arena.TypeNode] != 4 {
		t.Errorf("counts = %v", c)
	}
}

func TestReadBBox(t *testing.T) {
	box := geom.BBox{Min: geom.FromDegrees(0.5, -1), Max: geom.FromDegrees(2, 2)}
	_, c := readAll(t, entity.NewKindSet(entity.KindNode), Options{BBox: &box})
	if c[arena.TypeNode] != 2 {
		t.Errorf("got %d nodes inside bbox, want 2", c[arena.TypeNode])
	}
}

func TestReaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.osm")
	if err := os.WriteFile(path, []byte(sampleXML), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Format() != FormatXML || r.Size() != int64(len(sampleXML)) {
		t.Errorf("format %s size %d", r.Format(), r.Size())
	}

	out := make(chan *arena.Buffer, 4)
	if err := r.Read(context.Background(), entity.AllKinds, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	n := 0
	for range out {
		n++
	}
	if n != 1 {
		t.Errorf("got %d chunks", n)
	}
	if r.Stats().Nodes.Load() != 4 || r.Stats().BytesRead.Load() != int64(len(sampleXML)) {
		t.Errorf("stats nodes=%d bytes=%d", r.Stats().Nodes.Load(), r.Stats().BytesRead.Load())
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"planet.osm.pbf", FormatPBF, false},
		{"extract.OSM", FormatXML, false},
		{"data/map.xml", FormatXML, false},
		{"notes.txt", 0, true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, %v", tt.path, got, err)
		}
	}
	if _, err := Open("missing.osm", Options{}); err == nil {
		t.Error("expected error opening missing file")
	}
}
