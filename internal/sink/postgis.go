package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/export"
	"github.com/wegman-software/osm2area-go/internal/loader"
	"github.com/wegman-software/osm2area-go/internal/logger"
	"github.com/wegman-software/osm2area-go/internal/parquet"
	"github.com/wegman-software/osm2area-go/internal/wkb"
)

// PostGIS streams rows into the area and problem tables, one COPY per
// table running for the lifetime of the sink.
type PostGIS struct {
	ctx      context.Context
	loader   *loader.Loader
	areas    chan []any
	problems chan []any
	g        *errgroup.Group
	enc      *wkb.Encoder
	counts   [2]int64
}

// NewPostGIS connects, prepares the tables and starts both copies.
func NewPostGIS(ctx context.Context, opts loader.Options) (*PostGIS, error) {
	l, err := loader.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := l.Prepare(ctx); err != nil {
		l.Close()
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	p := &PostGIS{
		ctx:      gctx,
		loader:   l,
		areas:    make(chan []any, 10000),
		problems: make(chan []any, 10000),
		g:        g,
		enc:      wkb.NewEncoder(1024),
	}
	g.Go(func() error {
		n, err := l.Copy(gctx, loader.Areas, p.areas)
		p.counts[0] = n
		return err
	})
	g.Go(func() error {
		n, err := l.Copy(gctx, loader.Problems, p.problems)
		p.counts[1] = n
		return err
	})
	return p, nil
}

func (p *PostGIS) send(ch chan<- []any, row []any) error {
	select {
	case ch <- row:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("postgis copy stopped: %w", context.Cause(p.ctx))
	}
}

func (p *PostGIS) WriteArea(a arena.Area) error {
	mp := export.MultiPolygon(a)
	geomWKB := append([]byte(nil), p.enc.EncodeMultiPolygon(export.Polygons(a))...)
	return p.send(p.areas, []any{
		a.ID(),
		parquet.OSMType(a.ID()),
		area.AreaIDToObjectID(a.ID()),
		a.Partial(),
		export.AreaSize(mp),
		export.TagsJSON(a.Tags()),
		geomWKB,
	})
}

func (p *PostGIS) WriteProblem(r arena.ProblemRecord) error {
	var geomWKB any
	switch loc := export.ProblemLocation(r); {
	case len(r.Segments) > 0:
		geomWKB = append([]byte(nil), p.enc.EncodeSegments(r.Segments)...)
	case loc.IsDefined():
		geomWKB = append([]byte(nil), p.enc.EncodePoint(loc)...)
	}
	return p.send(p.problems, []any{r.AreaID, area.ProblemKind(r.Kind).String(), r.Node.ID, geomWKB})
}

// Close ends both copies, then finalizes the tables.
func (p *PostGIS) Close() error {
	defer p.loader.Close()
	close(p.areas)
	close(p.problems)
	if err := p.g.Wait(); err != nil {
		return err
	}
	logger.Get().Info("PostGIS load complete",
		zap.Int64("areas", p.counts[0]),
		zap.Int64("problems", p.counts[1]))
	return p.loader.Finalize(context.WithoutCancel(p.ctx))
}
