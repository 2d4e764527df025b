package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2area-go/internal/loader"
	"github.com/wegman-software/osm2area-go/internal/logger"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load assembled Parquet files into PostgreSQL",
	Long: `Bulk load areas.parquet and problems.parquet into PostgreSQL/PostGIS.

This stage:
  1. Creates the osm_areas and osm_area_problems tables
  2. Uses COPY into temporary tables and converts WKB to geometry
  3. Optionally creates spatial indexes`,
	Args: cobra.NoArgs,
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	log.Info("Starting PostgreSQL load",
		zap.String("input_dir", cfg.OutputDir),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	ctx := context.Background()
	start := time.Now()

	ldr, err := loader.New(ctx, loader.Options{
		ConnString:    cfg.ConnectionString(),
		Schema:        cfg.DBSchema,
		MaxConns:      max(cfg.Workers, 2),
		DropExisting:  cfg.DropExisting,
		CreateIndexes: cfg.CreateIndexes,
	})
	if err != nil {
		exitWithError("failed to create loader", err)
	}
	defer ldr.Close()

	stats, err := ldr.LoadParquet(ctx, cfg.OutputDir)
	if err != nil {
		exitWithError("load failed", err)
	}

	elapsed := time.Since(start)
	logDuration("Load complete", start,
		zap.Int64("areas", stats.Areas),
		zap.Int64("problems", stats.Problems),
		zap.Float64("throughput_rows_s", float64(stats.Areas+stats.Problems)/elapsed.Seconds()),
	)
}
