package cmd

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wegman-software/osm2area-go/internal/config"
	"github.com/wegman-software/osm2area-go/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "osm2area-go",
	Short: "Assemble OSM multipolygons into areas",
	Long: `osm2area-go builds area geometries from OpenStreetMap data.

Features:
  - Two-pass assembly of multipolygon and boundary relations
  - Closed ways tagged as areas, selected by YAML rules or a Lua script
  - Problem reports for broken geometries (open rings, intersections)
  - Parquet, GeoJSON and PostGIS outputs
  - Memory-mapped node index and output arena for large extracts`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := mergeConfigFile(cmd.Flags(), configFile); err != nil {
				return err
			}
		}
		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML file with run settings; flags override it")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for Parquet and GeoJSON output")
	flags.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	// Logging and metrics flags
	flags.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m; 0 disables)")

	// Database flags
	flags.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	flags.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	flags.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	flags.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	flags.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	flags.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	flags.BoolVar(&cfg.DropExisting, "drop-existing", false, "Drop existing tables before loading")
	flags.BoolVar(&cfg.CreateIndexes, "create-indexes", cfg.CreateIndexes, "Create spatial indexes after loading")
}

// mergeConfigFile loads path over the defaults and then re-applies every
// flag given on the command line.
func mergeConfigFile(flags *pflag.FlagSet, path string) error {
	changed := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	loaded, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	*cfg = *loaded

	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}

func logDuration(msg string, start time.Time, fields ...zap.Field) {
	elapsed := time.Since(start)
	logger.Get().Info(msg, append([]zap.Field{zap.Duration("duration", elapsed.Round(time.Millisecond))}, fields...)...)
}
