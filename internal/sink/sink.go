// Package sink delivers emitted areas and problems to their outputs.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/loader"
	"github.com/wegman-software/osm2area-go/internal/parquet"
)

// Sink consumes areas and problems in emission order.
type Sink interface {
	WriteArea(a arena.Area) error
	WriteProblem(p arena.ProblemRecord) error
	Close() error
}

// Write hands every area and problem item in v to s. Other items are
// skipped.
func Write(s Sink, v arena.View) error {
	it := v.Iterator()
	for it.Next() {
		item := it.Item()
		switch item.Type() {
		case arena.TypeArea:
			a, err := item.AsArea()
			if err != nil {
				return err
			}
			if err := s.WriteArea(a); err != nil {
				return err
			}
		case arena.TypeProblem:
			p, err := item.AsProblem()
			if err != nil {
				return err
			}
			if err := s.WriteProblem(p.Record()); err != nil {
				return err
			}
		}
	}
	return it.Err()
}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) WriteArea(a arena.Area) error {
	for _, s := range m {
		if err := s.WriteArea(a); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) WriteProblem(p arena.ProblemRecord) error {
	for _, s := range m {
		if err := s.WriteProblem(p); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Counter counts what passes through without writing anything.
type Counter struct {
	Areas    int64
	Problems int64
}

func (c *Counter) WriteArea(arena.Area) error            { c.Areas++; return nil }
func (c *Counter) WriteProblem(arena.ProblemRecord) error { c.Problems++; return nil }
func (c *Counter) Close() error                           { return nil }

// Options select and configure outputs.
type Options struct {
	// Formats lists outputs: parquet, geojson, postgis.
	Formats   []string
	OutputDir string
	BatchSize int
	Loader    loader.Options
}

// Open creates the configured sinks. An empty format list yields a
// Counter.
func Open(ctx context.Context, opts Options) (Sink, error) {
	var m Multi
	for _, f := range opts.Formats {
		var s Sink
		var err error
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "parquet":
			s, err = parquet.NewWriter(opts.OutputDir, opts.BatchSize)
		case "geojson":
			s, err = NewGeoJSON(opts.OutputDir)
		case "postgis":
			s, err = NewPostGIS(ctx, opts.Loader)
		case "":
			continue
		default:
			err = fmt.Errorf("unknown output format %q", f)
		}
		if err != nil {
			m.Close()
			return nil, err
		}
		m = append(m, s)
	}
	switch len(m) {
	case 0:
		return &Counter{}, nil
	case 1:
		return m[0], nil
	}
	return m, nil
}
