package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/export"
	"github.com/wegman-software/osm2area-go/internal/parquet"
)

// GeoJSON file names inside the output directory.
const (
	AreasGeoJSON    = "areas.geojson"
	ProblemsGeoJSON = "problems.geojson"
)

// featureFile streams a FeatureCollection one feature at a time.
type featureFile struct {
	f     *os.File
	w     *bufio.Writer
	count int
}

func createFeatureFile(path string) (*featureFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(`{"type":"FeatureCollection","features":[`); err != nil {
		f.Close()
		return nil, err
	}
	return &featureFile{f: f, w: w}, nil
}

func (ff *featureFile) write(feat *geojson.Feature) error {
	data, err := feat.MarshalJSON()
	if err != nil {
		return err
	}
	if ff.count > 0 {
		if err := ff.w.WriteByte(','); err != nil {
			return err
		}
	}
	if err := ff.w.WriteByte('\n'); err != nil {
		return err
	}
	ff.count++
	_, err = ff.w.Write(data)
	return err
}

func (ff *featureFile) close() error {
	if _, err := ff.w.WriteString("\n]}\n"); err != nil {
		ff.f.Close()
		return err
	}
	if err := ff.w.Flush(); err != nil {
		ff.f.Close()
		return err
	}
	return ff.f.Close()
}

// GeoJSON writes areas.geojson and problems.geojson.
type GeoJSON struct {
	areas    *featureFile
	problems *featureFile
}

// NewGeoJSON creates both files in dir.
func NewGeoJSON(dir string) (*GeoJSON, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	areas, err := createFeatureFile(filepath.Join(dir, AreasGeoJSON))
	if err != nil {
		return nil, err
	}
	problems, err := createFeatureFile(filepath.Join(dir, ProblemsGeoJSON))
	if err != nil {
		areas.close()
		return nil, err
	}
	return &GeoJSON{areas: areas, problems: problems}, nil
}

func (g *GeoJSON) WriteArea(a arena.Area) error {
	feat := geojson.NewFeature(export.MultiPolygon(a))
	feat.ID = a.ID()
	feat.Properties["area_id"] = a.ID()
	feat.Properties["osm_type"] = parquet.OSMType(a.ID())
	feat.Properties["osm_id"] = area.AreaIDToObjectID(a.ID())
	feat.Properties["partial"] = a.Partial()
	feat.Properties["tags"] = json.RawMessage(export.TagsJSON(a.Tags()))
	return g.areas.write(feat)
}

// WriteProblem writes problems that have a position. Others are skipped.
func (g *GeoJSON) WriteProblem(p arena.ProblemRecord) error {
	geometry, ok := export.ProblemGeometry(p)
	if !ok {
		return nil
	}
	feat := geojson.NewFeature(geometry)
	feat.Properties["area_id"] = p.AreaID
	feat.Properties["problem"] = area.ProblemKind(p.Kind).String()
	feat.Properties["node_id"] = p.Node.ID
	return g.problems.write(feat)
}

func (g *GeoJSON) Close() error {
	errA := g.areas.close()
	errP := g.problems.close()
	if errA != nil {
		return errA
	}
	return errP
}
