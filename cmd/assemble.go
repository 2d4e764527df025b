package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2area-go/internal/config"
	"github.com/wegman-software/osm2area-go/internal/logger"
	"github.com/wegman-software/osm2area-go/internal/pipeline"
)

var (
	outputsStr string
	bboxStr    string
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <input.osm.pbf|input.osm>",
	Short: "Assemble areas from an OSM file",
	Long: `Build area geometries from multipolygon relations and closed ways.

  1. Pass 1: Read relations and record the member ways of area relations
  2. Pass 2: Read nodes and ways, assemble each relation as soon as its
     last member way is seen, and write areas and problems to the outputs

Relations whose members are missing from the input are reported with a
missing_member problem. With --partial-policy=partial their incomplete
areas are written and flagged.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAssemble,
}

func init() {
	rootCmd.AddCommand(assembleCmd)

	flags := assembleCmd.Flags()
	flags.StringVar(&outputsStr, "outputs", strings.Join(cfg.Outputs, ","), "Comma-separated outputs: parquet, geojson, postgis")
	flags.StringVarP(&bboxStr, "bbox", "b", "", "Bounding box filter for nodes: minlon,minlat,maxlon,maxlat")
	flags.StringVar(&cfg.FilterFile, "filter", "", "YAML file with area tag rules")
	flags.StringVar(&cfg.LuaFile, "lua", "", "Lua script defining is_area_relation/is_area_way")
	flags.BoolVar(&cfg.WayAreas, "way-areas", cfg.WayAreas, "Build areas from closed ways")
	flags.StringVar(&cfg.PartialPolicy, "partial-policy", cfg.PartialPolicy, "Incomplete areas: drop or partial")
	flags.StringVar(&cfg.NodeIndex, "node-index", cfg.NodeIndex, "Node location index: sparse or mmap")
	flags.StringVar(&cfg.NodeIndexFile, "node-index-file", "", "File backing the mmap node index")
	flags.Int64Var(&cfg.MaxNodeID, "max-node-id", 0, "Largest node id for the mmap node index (0 uses the default)")
	flags.StringVar(&cfg.ArenaFile, "arena-file", "", "Keep all output items in this memory-mapped file")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group")
	flags.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Assembly jobs queued per worker pool")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Bytes per input and output chunk")
}

func runAssemble(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.InputFile = args[0]
	}
	if cmd.Flags().Changed("outputs") || configFile == "" {
		cfg.Outputs = splitList(outputsStr)
	}
	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	log := logger.Get()
	fields := []zap.Field{
		zap.String("input", cfg.InputFile),
		zap.Strings("outputs", cfg.Outputs),
		zap.Int("workers", cfg.Workers),
		zap.String("partial_policy", cfg.PartialPolicy),
		zap.String("node_index", cfg.NodeIndex),
	}
	if cfg.BBox != nil && cfg.BBox.IsSet {
		fields = append(fields, zap.String("bbox",
			fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", cfg.BBox.MinLon, cfg.BBox.MinLat, cfg.BBox.MaxLon, cfg.BBox.MaxLat)))
	}
	if cfg.HasOutput("postgis") {
		fields = append(fields, zap.String("database", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)))
	}
	log.Info("Starting area assembly", fields...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	coordinator, err := pipeline.NewCoordinator(ctx, cfg, nil)
	if err != nil {
		exitWithError("failed to create pipeline", err)
	}

	stats, err := coordinator.Run(ctx)
	if err != nil {
		coordinator.Close()
		exitWithError("assembly failed", err)
	}
	if err := coordinator.Close(); err != nil {
		exitWithError("failed to finish outputs", err)
	}

	problems := make([]zap.Field, 0, len(stats.Collector.Problems))
	for kind, n := range stats.Collector.Problems {
		problems = append(problems, zap.Int64("problem_"+kind.String(), n))
	}
	logDuration("Assembly complete", start, append([]zap.Field{
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Int64("areas", stats.Collector.Areas),
		zap.Int64("incomplete", stats.Collector.Incomplete),
		zap.Int64("failed", stats.Failed),
	}, problems...)...)
	if err := stats.Err(); err != nil {
		exitWithError("some areas could not be assembled, see the errors above", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
