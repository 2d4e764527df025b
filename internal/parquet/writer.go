// Package parquet writes assembled areas and problems to Parquet files.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/export"
	"github.com/wegman-software/osm2area-go/internal/wkb"
)

// File names inside the output directory.
const (
	AreasFile    = "areas.parquet"
	ProblemsFile = "problems.parquet"
)

// AreaSchema is the layout of areas.parquet.
var AreaSchema = arrow.NewSchema([]arrow.Field{
	{Name: "area_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "osm_type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "partial", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
	{Name: "outer_rings", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "inner_rings", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "area_m2", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// ProblemSchema is the layout of problems.parquet.
var ProblemSchema = arrow.NewSchema([]arrow.Field{
	{Name: "area_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "problem", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "node_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// OSMType returns "W" or "R" for the source object of an area id.
func OSMType(areaID int64) string {
	if area.AreaIDKind(areaID) == entity.KindWay {
		return "W"
	}
	return "R"
}

// table is one Parquet file written in record batches.
type table struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
	rows      int64
}

func newTable(path string, schema *arrow.Schema, batchSize int) (*table, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = 10000
	}
	return &table{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

// added is called after a full row was appended to the builder.
func (t *table) added() error {
	t.count++
	t.rows++
	if t.count >= t.batchSize {
		return t.flush()
	}
	return nil
}

func (t *table) flush() error {
	if t.count == 0 {
		return nil
	}
	rec := t.builder.NewRecord()
	defer rec.Release()
	err := t.writer.Write(rec)
	t.count = 0
	return err
}

func (t *table) close() error {
	defer t.builder.Release()
	if err := t.flush(); err != nil {
		t.file.Close()
		return err
	}
	if err := t.writer.Close(); err != nil {
		t.file.Close()
		return err
	}
	// the parquet writer may already have closed the file
	if err := t.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Writer writes areas.parquet and problems.parquet into one directory.
type Writer struct {
	areas    *table
	problems *table
	enc      *wkb.Encoder
}

// NewWriter creates both files in dir.
func NewWriter(dir string, batchSize int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	areas, err := newTable(filepath.Join(dir, AreasFile), AreaSchema, batchSize)
	if err != nil {
		return nil, err
	}
	problems, err := newTable(filepath.Join(dir, ProblemsFile), ProblemSchema, batchSize)
	if err != nil {
		areas.close()
		return nil, err
	}
	return &Writer{areas: areas, problems: problems, enc: wkb.NewEncoder(1024)}, nil
}

// WriteArea appends one area row.
func (w *Writer) WriteArea(a arena.Area) error {
	polys := export.Polygons(a)
	outer, inner := a.NumRings()
	b := w.areas.builder
	b.Field(0).(*array.Int64Builder).Append(a.ID())
	b.Field(1).(*array.StringBuilder).Append(OSMType(a.ID()))
	b.Field(2).(*array.Int64Builder).Append(area.AreaIDToObjectID(a.ID()))
	b.Field(3).(*array.BooleanBuilder).Append(a.Partial())
	b.Field(4).(*array.Int32Builder).Append(int32(outer))
	b.Field(5).(*array.Int32Builder).Append(int32(inner))
	b.Field(6).(*array.Float64Builder).Append(export.AreaSize(export.MultiPolygon(a)))
	b.Field(7).(*array.StringBuilder).Append(export.TagsJSON(a.Tags()))
	b.Field(8).(*array.BinaryBuilder).Append(w.enc.EncodeMultiPolygon(polys))
	return w.areas.added()
}

// WriteProblem appends one problem row. Problems without a known position
// get a null geometry.
func (w *Writer) WriteProblem(p arena.ProblemRecord) error {
	b := w.problems.builder
	b.Field(0).(*array.Int64Builder).Append(p.AreaID)
	b.Field(1).(*array.StringBuilder).Append(area.ProblemKind(p.Kind).String())
	b.Field(2).(*array.Int64Builder).Append(p.Node.ID)
	geomBuilder := b.Field(3).(*array.BinaryBuilder)
	switch {
	case len(p.Segments) > 0:
		geomBuilder.Append(w.enc.EncodeSegments(p.Segments))
	case export.ProblemLocation(p).IsDefined():
		geomBuilder.Append(w.enc.EncodePoint(export.ProblemLocation(p)))
	default:
		geomBuilder.AppendNull()
	}
	return w.problems.added()
}

// Rows returns the number of area and problem rows written.
func (w *Writer) Rows() (areas, problems int64) {
	return w.areas.rows, w.problems.rows
}

// Close flushes and closes both files
func (w *Writer) Close() error {
	errA := w.areas.close()
	errP := w.problems.close()
	if errA != nil {
		return errA
	}
	return errP
}

// ReadTable reads a whole Parquet file into memory. The caller releases
// the table.
func ReadTable(ctx context.Context, path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	return tbl, nil
}
