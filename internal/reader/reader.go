// Package reader decodes OSM PBF and XML files into arena chunks.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/geom"
	"github.com/wegman-software/osm2area-go/internal/logger"
)

// DefaultChunkSize is the committed size at which a chunk is handed on.
const DefaultChunkSize = 4 << 20

// Format is an input file encoding.
type Format int

const (
	FormatPBF Format = iota
	FormatXML
)

func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "pbf"
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".pbf"):
		return FormatPBF, nil
	case strings.HasSuffix(name, ".osm"), strings.HasSuffix(name, ".xml"):
		return FormatXML, nil
	}
	return 0, fmt.Errorf("cannot detect input format of %s", path)
}

// Options control decoding.
type Options struct {
	// ChunkSize is the committed byte size after which a chunk is sent.
	ChunkSize int
	// Workers is the number of PBF decoding goroutines.
	Workers int
	// BBox, when set, drops nodes outside of it.
	BBox *geom.BBox
}

// Stats counts decoded objects. Fields are updated atomically while a
// read is running.
type Stats struct {
	Nodes      atomic.Int64
	Ways       atomic.Int64
	Relations  atomic.Int64
	Changesets atomic.Int64
	Chunks     atomic.Int64
	BytesRead  atomic.Int64
}

// Reader reads one input file. Each call to Read scans the whole file.
type Reader struct {
	path   string
	format Format
	size   int64
	opts   Options
	stats  Stats
}

// Open checks the input file and detects its format.
func Open(path string, opts Options) (*Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Reader{path: path, format: format, size: info.Size(), opts: opts}, nil
}

// Path returns the input file path.
func (r *Reader) Path() string { return r.path }

// Format returns the detected format.
func (r *Reader) Format() Format { return r.format }

// Size returns the input file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Stats returns the live counters.
func (r *Reader) Stats() *Stats { return &r.stats }

// Read scans the file and sends chunks holding the requested kinds to out.
// out is closed when Read returns.
func (r *Reader) Read(ctx context.Context, kinds entity.KindSet, out chan<- *arena.Buffer) error {
	defer close(out)

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	r.stats.BytesRead.Store(0)
	src := &countingReader{r: f, n: &r.stats.BytesRead}
	return decode(ctx, src, r.format, kinds, r.opts, &r.stats, out)
}

// ReadFrom decodes src without a backing file. out is closed when it
// returns.
func ReadFrom(ctx context.Context, src io.Reader, format Format, kinds entity.KindSet, opts Options, out chan<- *arena.Buffer) error {
	defer close(out)
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	var stats Stats
	return decode(ctx, src, format, kinds, opts, &stats, out)
}

func newScanner(ctx context.Context, src io.Reader, format Format, kinds entity.KindSet, workers int) osm.Scanner {
	if format == FormatXML {
		return osmxml.New(ctx, src)
	}
	s := osmpbf.New(ctx, src, workers)
	s.SkipNodes = !kinds.Has(entity.KindNode)
	s.SkipWays = !kinds.Has(entity.KindWay)
	s.SkipRelations = !kinds.Has(entity.KindRelation)
	return s
}

func decode(ctx context.Context, src io.Reader, format Format, kinds entity.KindSet, opts Options, stats *Stats, out chan<- *arena.Buffer) error {
	log := logger.Get()
	scanner := newScanner(ctx, src, format, kinds, opts.Workers)
	defer scanner.Close()

	buf := arena.New(opts.ChunkSize + opts.ChunkSize/4)
	send := func() error {
		if buf.Committed() == 0 {
			return nil
		}
		select {
		case out <- buf:
		case <-ctx.Done():
			return ctx.Err()
		}
		stats.Chunks.Add(1)
		buf = arena.New(opts.ChunkSize + opts.ChunkSize/4)
		return nil
	}

	for scanner.Scan() {
		var err error
		switch o := scanner.Object().(type) {
		case *osm.Node:
			if !kinds.Has(entity.KindNode) {
				continue
			}
			loc := geom.FromDegrees(o.Lon, o.Lat)
			if opts.BBox != nil && !opts.BBox.Contains(geom.BBox{Min: loc, Max: loc}) {
				continue
			}
			err = arena.AppendNode(buf, arena.NodeRecord{ID: int64(o.ID), Loc: loc, Tags: tagsOf(o.Tags)})
			stats.Nodes.Add(1)
		case *osm.Way:
			if !kinds.Has(entity.KindWay) {
				continue
			}
			err = arena.AppendWay(buf, wayRecord(o))
			stats.Ways.Add(1)
		case *osm.Relation:
			if !kinds.Has(entity.KindRelation) {
				continue
			}
			err = arena.AppendRelation(buf, relationRecord(o))
			stats.Relations.Add(1)
		case *osm.Changeset:
			if !kinds.Has(entity.KindChangeset) {
				continue
			}
			err = arena.AppendChangeset(buf, arena.ChangesetRecord{ID: int64(o.ID), Tags: tagsOf(o.Tags)})
			stats.Changesets.Add(1)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", scanner.Object().ObjectID(), err)
		}
		if buf.Committed() >= opts.ChunkSize {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s input: %w", format, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := send(); err != nil {
		return err
	}
	log.Debug("Input scan complete",
		zap.String("kinds", kinds.String()),
		zap.Int64("nodes", stats.Nodes.Load()),
		zap.Int64("ways", stats.Ways.Load()),
		zap.Int64("relations", stats.Relations.Load()),
		zap.Int64("chunks", stats.Chunks.Load()))
	return nil
}

func tagsOf(tags osm.Tags) []arena.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]arena.Tag, len(tags))
	for i, t := range tags {
		out[i] = arena.Tag{Key: t.Key, Value: t.Value}
	}
	return out
}

// wayRecord keeps locations stored on way nodes. A node without one is
// written with an undefined location and resolved from the node index.
func wayRecord(w *osm.Way) arena.WayRecord {
	nodes := make([]geom.NodeRef, len(w.Nodes))
	for i, n := range w.Nodes {
		loc := geom.Undefined
		if n.Lat != 0 || n.Lon != 0 {
			loc = geom.FromDegrees(n.Lon, n.Lat)
		}
		nodes[i] = geom.NodeRef{ID: int64(n.ID), Loc: loc}
	}
	return arena.WayRecord{ID: int64(w.ID), Tags: tagsOf(w.Tags), Nodes: nodes}
}

func relationRecord(r *osm.Relation) arena.RelationRecord {
	members := make([]arena.Member, 0, len(r.Members))
	for _, m := range r.Members {
		kind, err := entity.ParseKind(string(m.Type))
		if err != nil {
			continue
		}
		members = append(members, arena.Member{Type: kind, Ref: m.Ref, Role: m.Role})
	}
	return arena.RelationRecord{ID: int64(r.ID), Tags: tagsOf(r.Tags), Members: members}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
