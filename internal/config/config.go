// Package config holds the settings of an assembly run.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osm2area-go/internal/geom"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Geom converts the box to fixed-point form. Returns nil when unset.
func (b *BBox) Geom() *geom.BBox {
	if b == nil || !b.IsSet {
		return nil
	}
	return &geom.BBox{
		Min: geom.FromDegrees(b.MinLon, b.MinLat),
		Max: geom.FromDegrees(b.MaxLon, b.MaxLat),
	}
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}
	return bbox, nil
}

// Config holds the configuration of an assembly run. Fields carry yaml
// tags for LoadFile; command line flags override file values.
type Config struct {
	// Input settings
	InputFile string `yaml:"input"`
	BBox      *BBox  `yaml:"-"`
	BBoxSpec  string `yaml:"bbox"`

	// Output settings
	OutputDir string   `yaml:"output_dir"`
	Outputs   []string `yaml:"outputs"`
	BatchSize int      `yaml:"batch_size"`
	ArenaFile string   `yaml:"arena_file"` // mapped file receiving the output arena

	// Candidate selection
	FilterFile    string `yaml:"filter_file"` // YAML tag rules
	LuaFile       string `yaml:"lua_file"`    // Lua script with is_area_* callbacks
	WayAreas      bool   `yaml:"way_areas"`
	PartialPolicy string `yaml:"partial_policy"` // drop or partial

	// Node locations
	NodeIndex     string `yaml:"node_index"` // sparse or mmap
	NodeIndexFile string `yaml:"node_index_file"`
	MaxNodeID     int64  `yaml:"max_node_id"`

	// Database settings
	DBHost        string `yaml:"db_host"`
	DBPort        int    `yaml:"db_port"`
	DBName        string `yaml:"db_name"`
	DBUser        string `yaml:"db_user"`
	DBPassword    string `yaml:"db_password"`
	DBSchema      string `yaml:"db_schema"`
	DropExisting  bool   `yaml:"drop_existing"`
	CreateIndexes bool   `yaml:"create_indexes"`

	// Processing settings
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	ChunkSize int `yaml:"chunk_size"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "./osm_areas",
		Outputs:         []string{"parquet"},
		BatchSize:       100000,
		WayAreas:        true,
		PartialPolicy:   "drop",
		NodeIndex:       "sparse",
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		CreateIndexes:   true,
		Workers:         runtime.NumCPU(),
		QueueSize:       64,
		ChunkSize:       4 << 20,
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile reads YAML settings on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.BBoxSpec != "" {
		if cfg.BBox, err = ParseBBox(cfg.BBoxSpec); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// HasOutput reports whether format is among the configured outputs.
func (c *Config) HasOutput(format string) bool {
	for _, o := range c.Outputs {
		if strings.EqualFold(strings.TrimSpace(o), format) {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1")
	}
	if c.ChunkSize < 4096 {
		return fmt.Errorf("chunk size must be at least 4096 bytes")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	switch c.PartialPolicy {
	case "", "drop", "partial":
	default:
		return fmt.Errorf("partial policy must be drop or partial, got %q", c.PartialPolicy)
	}
	switch c.NodeIndex {
	case "", "sparse":
	case "mmap":
		if c.NodeIndexFile == "" {
			return fmt.Errorf("mmap node index needs a file")
		}
	default:
		return fmt.Errorf("node index must be sparse or mmap, got %q", c.NodeIndex)
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "parquet", "geojson", "postgis":
		default:
			return fmt.Errorf("unknown output %q", o)
		}
	}
	return nil
}
