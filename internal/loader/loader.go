// Package loader writes areas and problems into PostGIS tables using COPY.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2area-go/internal/logger"
	"github.com/wegman-software/osm2area-go/internal/parquet"
)

// Table describes one output table. Rows are copied into a temporary table
// holding raw EWKB and then inserted with the geometry converted.
type Table struct {
	Name    string
	columns string
	temp    string
	copy    []string
	insert  string
}

// Areas is the table of assembled areas.
var Areas = Table{
	Name: "osm_areas",
	columns: `
		area_id BIGINT NOT NULL,
		osm_type CHAR(1) NOT NULL,
		osm_id BIGINT NOT NULL,
		partial BOOLEAN NOT NULL,
		area_m2 DOUBLE PRECISION,
		tags JSONB,
		geom GEOMETRY(MultiPolygon, 4326)`,
	temp: `
		area_id BIGINT,
		osm_type CHAR(1),
		osm_id BIGINT,
		partial BOOLEAN,
		area_m2 DOUBLE PRECISION,
		tags TEXT,
		geom_wkb BYTEA`,
	copy: []string{"area_id", "osm_type", "osm_id", "partial", "area_m2", "tags", "geom_wkb"},
	insert: `(area_id, osm_type, osm_id, partial, area_m2, tags, geom)
		SELECT area_id, osm_type, osm_id, partial, area_m2, tags::jsonb, ST_GeomFromEWKB(geom_wkb)`,
}

// Problems is the table of assembly problems.
var Problems = Table{
	Name: "osm_area_problems",
	columns: `
		area_id BIGINT NOT NULL,
		problem TEXT NOT NULL,
		node_id BIGINT,
		geom GEOMETRY(Geometry, 4326)`,
	temp: `
		area_id BIGINT,
		problem TEXT,
		node_id BIGINT,
		geom_wkb BYTEA`,
	copy: []string{"area_id", "problem", "node_id", "geom_wkb"},
	insert: `(area_id, problem, node_id, geom)
		SELECT area_id, problem, node_id, CASE WHEN geom_wkb IS NULL THEN NULL ELSE ST_GeomFromEWKB(geom_wkb) END`,
}

// Options configure a Loader.
type Options struct {
	ConnString    string
	Schema        string
	MaxConns      int
	DropExisting  bool
	CreateIndexes bool
}

// Loader owns a connection pool to one database schema.
type Loader struct {
	opts Options
	pool *pgxpool.Pool
}

// New connects to PostgreSQL.
func New(ctx context.Context, opts Options) (*Loader, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return &Loader{opts: opts, pool: pool}, nil
}

// Close closes connections
func (l *Loader) Close() {
	l.pool.Close()
}

// QualifiedName returns schema.table.
func (l *Loader) QualifiedName(t Table) string {
	return pgx.Identifier{l.opts.Schema, t.Name}.Sanitize()
}

// Prepare creates the PostGIS extension, the schema and both tables.
// Tables are created UNLOGGED until Finalize.
func (l *Loader) Prepare(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if l.opts.Schema != "public" {
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{l.opts.Schema}.Sanitize())); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, t := range []Table{Areas, Problems} {
		name := l.QualifiedName(t)
		if l.opts.DropExisting {
			if _, err := l.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", name)); err != nil {
				return fmt.Errorf("failed to drop table: %w", err)
			}
		}
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("CREATE UNLOGGED TABLE IF NOT EXISTS %s (%s)", name, t.columns)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}
		if !l.opts.DropExisting {
			if _, err := l.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", name)); err != nil {
				return fmt.Errorf("failed to truncate %s: %w", name, err)
			}
		}
	}
	return nil
}

// Copy streams rows into t until rows is closed. Each row holds the values
// for the table's copy columns in order.
func (l *Loader) Copy(ctx context.Context, t Table, rows <-chan []any) (int64, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tempTable := t.Name + "_load_tmp"
	tempTableSQL := fmt.Sprintf(`
		DROP TABLE IF EXISTS %s;
		CREATE TEMP TABLE %s (%s) ON COMMIT DROP
	`, tempTable, tempTable, t.temp)
	if _, err := tx.Exec(ctx, tempTableSQL); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, t.copy, &rowSource{ctx: ctx, rows: rows})
	if err != nil {
		// keep the producer from blocking on a failed copy
		go func() {
			for range rows {
			}
		}()
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s %s FROM %s", l.QualifiedName(t), t.insert, tempTable)
	if _, err := tx.Exec(ctx, insertSQL); err != nil {
		return 0, fmt.Errorf("failed to insert from temp table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return copyCount, nil
}

// Finalize makes the tables logged and optionally indexes them.
func (l *Loader) Finalize(ctx context.Context) error {
	log := logger.Get()
	for _, t := range []Table{Areas, Problems} {
		name := l.QualifiedName(t)
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", name)); err != nil {
			log.Warn("Failed to set table logged", zap.String("table", name), zap.Error(err))
		}
		if !l.opts.CreateIndexes {
			continue
		}
		if err := l.createIndexes(ctx, t); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
		log.Info("Indexes created", zap.String("table", name))
	}
	return nil
}

func (l *Loader) createIndexes(ctx context.Context, t Table) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET maintenance_work_mem = '2GB'"); err != nil {
		logger.Get().Debug("maintenance_work_mem not set", zap.Error(err))
	}
	name := l.QualifiedName(t)
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_geom_idx ON %s USING GIST (geom)", t.Name, name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_area_id_idx ON %s (area_id)", t.Name, name),
		fmt.Sprintf("ANALYZE %s", name),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Stats holds loader statistics
type Stats struct {
	Areas    int64
	Problems int64
}

// LoadParquet copies areas.parquet and problems.parquet from dir into the
// database. Tables are prepared and finalized.
func (l *Loader) LoadParquet(ctx context.Context, dir string) (*Stats, error) {
	log := logger.Get()
	if err := l.Prepare(ctx); err != nil {
		return nil, err
	}
	stats := &Stats{}
	files := []struct {
		table Table
		path  string
		count *int64
	}{
		{Areas, filepath.Join(dir, parquet.AreasFile), &stats.Areas},
		{Problems, filepath.Join(dir, parquet.ProblemsFile), &stats.Problems},
	}
	for _, f := range files {
		log.Info("Loading table", zap.String("table", f.table.Name), zap.String("source", f.path))
		n, err := l.copyParquet(ctx, f.table, f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.table.Name, err)
		}
		*f.count = n
		log.Info("Table loaded", zap.String("table", f.table.Name), zap.Int64("rows", n))
	}
	if err := l.Finalize(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

func (l *Loader) copyParquet(ctx context.Context, t Table, path string) (int64, error) {
	tbl, err := parquet.ReadTable(ctx, path)
	if err != nil {
		return 0, err
	}
	defer tbl.Release()
	if tbl.NumRows() == 0 {
		return 0, nil
	}

	rows := make(chan []any, 10000)
	var produced atomic.Int64
	go func() {
		defer close(rows)
		if t.Name == Areas.Name {
			produceAreaRows(ctx, tbl, rows, &produced)
		} else {
			produceProblemRows(ctx, tbl, rows, &produced)
		}
	}()
	n, err := l.Copy(ctx, t, rows)
	if err != nil {
		return 0, err
	}
	if n != produced.Load() {
		return n, fmt.Errorf("copied %d of %d rows", n, produced.Load())
	}
	return n, nil
}

func send(ctx context.Context, rows chan<- []any, row []any) bool {
	select {
	case rows <- row:
		return true
	case <-ctx.Done():
		return false
	}
}

// produceAreaRows converts areas.parquet columns to copy rows. The parquet
// column order differs from the table's copy order.
func produceAreaRows(ctx context.Context, tbl arrow.Table, rows chan<- []any, n *atomic.Int64) {
	chunks := len(tbl.Column(0).Data().Chunks())
	for c := 0; c < chunks; c++ {
		ids := tbl.Column(0).Data().Chunk(c).(*array.Int64)
		types := tbl.Column(1).Data().Chunk(c).(*array.String)
		osmIDs := tbl.Column(2).Data().Chunk(c).(*array.Int64)
		partial := tbl.Column(3).Data().Chunk(c).(*array.Boolean)
		sizes := tbl.Column(6).Data().Chunk(c).(*array.Float64)
		tags := tbl.Column(7).Data().Chunk(c).(*array.String)
		geoms := tbl.Column(8).Data().Chunk(c).(*array.Binary)
		for i := 0; i < ids.Len(); i++ {
			row := []any{ids.Value(i), types.Value(i), osmIDs.Value(i), partial.Value(i), sizes.Value(i), tags.Value(i), geoms.Value(i)}
			if !send(ctx, rows, row) {
				return
			}
			n.Add(1)
		}
	}
}

func produceProblemRows(ctx context.Context, tbl arrow.Table, rows chan<- []any, n *atomic.Int64) {
	chunks := len(tbl.Column(0).Data().Chunks())
	for c := 0; c < chunks; c++ {
		ids := tbl.Column(0).Data().Chunk(c).(*array.Int64)
		kinds := tbl.Column(1).Data().Chunk(c).(*array.String)
		nodes := tbl.Column(2).Data().Chunk(c).(*array.Int64)
		geoms := tbl.Column(3).Data().Chunk(c).(*array.Binary)
		for i := 0; i < ids.Len(); i++ {
			var g any
			if !geoms.IsNull(i) {
				g = geoms.Value(i)
			}
			if !send(ctx, rows, []any{ids.Value(i), kinds.Value(i), nodes.Value(i), g}) {
				return
			}
			n.Add(1)
		}
	}
}

// rowSource implements pgx.CopyFromSource for streaming rows
type rowSource struct {
	ctx     context.Context
	rows    <-chan []any
	current []any
}

func (r *rowSource) Next() bool {
	select {
	case row, ok := <-r.rows:
		if !ok {
			return false
		}
		r.current = row
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *rowSource) Err() error {
	return r.ctx.Err()
}
