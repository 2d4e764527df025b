// Package pipeline runs the two input passes, assembles candidates on a
// worker pool and streams the results to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/collector"
	"github.com/wegman-software/osm2area-go/internal/config"
	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/filter"
	"github.com/wegman-software/osm2area-go/internal/loader"
	"github.com/wegman-software/osm2area-go/internal/logger"
	"github.com/wegman-software/osm2area-go/internal/metrics"
	"github.com/wegman-software/osm2area-go/internal/nodeindex"
	"github.com/wegman-software/osm2area-go/internal/pool"
	"github.com/wegman-software/osm2area-go/internal/reader"
	"github.com/wegman-software/osm2area-go/internal/sink"
)

// initial size of the output arena
const outputCapacity = 1 << 20

// Stats summarizes a run.
type Stats struct {
	Nodes      int64
	Ways       int64
	Relations  int64
	Collector  collector.Stats
	Failed     int64
	Pass1      time.Duration
	Pass2      time.Duration
	ArenaBytes int
}

// ErrAssemblyFailed is returned by Stats.Err when a worker panicked on
// at least one candidate.
var ErrAssemblyFailed = errors.New("assembly failed for some candidates")

// Err reports candidates lost to worker panics. Their areas and problems
// are missing from the outputs.
func (s *Stats) Err() error {
	if s.Failed > 0 {
		return fmt.Errorf("%w: %d lost", ErrAssemblyFailed, s.Failed)
	}
	return nil
}

type assembled struct {
	cand   *collector.Candidate
	result area.Result
}

// Coordinator owns every component of one run.
type Coordinator struct {
	cfg       *config.Config
	reader    *reader.Reader
	locations nodeindex.Index
	lua       *filter.LuaFilter
	collector *collector.Collector
	pool      *pool.Pool
	sink      sink.Sink
	out       *arena.Buffer
	flushed   int
	failed    int64
	closed    bool
}

// NewCoordinator opens the input, the node index, the filter and the
// output arena. When s is nil the sinks configured in cfg are opened.
func NewCoordinator(ctx context.Context, cfg *config.Config, s sink.Sink) (*Coordinator, error) {
	c := &Coordinator{cfg: cfg}
	if err := c.open(ctx, s); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) open(ctx context.Context, s sink.Sink) error {
	cfg := c.cfg
	var err error

	c.reader, err = reader.Open(cfg.InputFile, reader.Options{
		ChunkSize: cfg.ChunkSize,
		Workers:   cfg.Workers,
		BBox:      cfg.BBox.Geom(),
	})
	if err != nil {
		return err
	}

	c.locations, err = nodeindex.Open(cfg.NodeIndex, cfg.NodeIndexFile, cfg.MaxNodeID)
	if err != nil {
		return fmt.Errorf("failed to open node index: %w", err)
	}

	f, err := c.buildFilter()
	if err != nil {
		return err
	}

	policy, err := collector.ParsePolicy(cfg.PartialPolicy)
	if err != nil {
		return err
	}
	c.collector = collector.New(collector.Options{
		Filter:    f,
		Locations: c.locations,
		Policy:    policy,
		WayAreas:  cfg.WayAreas,
	})

	if cfg.ArenaFile != "" {
		c.out, err = arena.NewMapped(cfg.ArenaFile, outputCapacity)
		if err != nil {
			return fmt.Errorf("failed to create arena file: %w", err)
		}
	} else {
		c.out = arena.New(outputCapacity)
	}

	if s == nil {
		s, err = sink.Open(ctx, sink.Options{
			Formats:   cfg.Outputs,
			OutputDir: cfg.OutputDir,
			BatchSize: cfg.BatchSize,
			Loader: loader.Options{
				ConnString:    cfg.ConnectionString(),
				Schema:        cfg.DBSchema,
				MaxConns:      4,
				DropExisting:  cfg.DropExisting,
				CreateIndexes: cfg.CreateIndexes,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to open outputs: %w", err)
		}
	}
	c.sink = s
	c.pool = pool.New(cfg.Workers, cfg.QueueSize)
	return nil
}

func (c *Coordinator) buildFilter() (filter.Filter, error) {
	var tags *filter.TagFilter
	if c.cfg.FilterFile != "" {
		fc, err := filter.LoadConfig(c.cfg.FilterFile)
		if err != nil {
			return nil, err
		}
		tags = filter.NewTagFilter(fc)
	} else {
		tags = filter.NewTagFilter(nil)
	}
	if c.cfg.LuaFile == "" {
		return tags, nil
	}
	c.lua = filter.NewLuaFilter(tags)
	if err := c.lua.LoadFile(c.cfg.LuaFile); err != nil {
		return nil, err
	}
	return c.lua, nil
}

// Close releases all resources. The sink is closed here so its files are
// complete only after Close.
func (c *Coordinator) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if c.pool != nil {
		c.pool.Close()
	}
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.out != nil {
		errs = append(errs, c.out.Close())
	}
	if c.locations != nil {
		errs = append(errs, c.locations.Close())
	}
	if c.lua != nil {
		c.lua.Close()
	}
	return errors.Join(errs...)
}

// Run executes both passes.
func (c *Coordinator) Run(ctx context.Context) (*Stats, error) {
	log := logger.Get()
	stats := &Stats{}

	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		monitor := metrics.NewMonitor(c.cfg.MetricsInterval, log)
		monitor.AddSource(c.metricFields)
		go monitor.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	log.Info("Pass 1: Collecting area relations", zap.String("input", c.reader.Path()))
	start := time.Now()
	if err := c.pass1(ctx); err != nil {
		return nil, fmt.Errorf("pass 1 failed: %w", err)
	}
	stats.Pass1 = time.Since(start)
	st := c.collector.Stats()
	log.Info("Pass 1 complete",
		zap.Int64("relations", st.Relations),
		zap.Int64("candidates", st.Candidates),
		zap.Duration("duration", stats.Pass1.Round(time.Millisecond)))

	log.Info("Pass 2: Assembling areas", zap.Int("workers", c.cfg.Workers))
	start = time.Now()
	if err := c.pass2(ctx); err != nil {
		return nil, fmt.Errorf("pass 2 failed: %w", err)
	}
	stats.Pass2 = time.Since(start)

	rs := c.reader.Stats()
	stats.Nodes = rs.Nodes.Load()
	stats.Ways = rs.Ways.Load()
	stats.Relations = rs.Relations.Load()
	stats.Collector = c.collector.Stats()
	stats.Failed = c.failed
	stats.ArenaBytes = c.out.Committed()

	if c.cfg.ArenaFile != "" {
		if err := c.out.Flush(); err != nil {
			return nil, err
		}
	}
	log.Info("Pass 2 complete",
		zap.Int64("areas", stats.Collector.Areas),
		zap.Int64("problems", stats.Collector.TotalProblems()),
		zap.Int64("incomplete", stats.Collector.Incomplete),
		zap.Duration("duration", stats.Pass2.Round(time.Millisecond)))
	return stats, nil
}

func (c *Coordinator) metricFields() []zap.Field {
	st := c.collector.Stats()
	return []zap.Field{
		zap.Int64("areas", st.Areas),
		zap.Int64("problems", st.TotalProblems()),
		zap.Int64("queued", c.pool.Pending()),
	}
}

// reportProgress logs read progress of the current pass until ctx is done.
func (c *Coordinator) reportProgress(ctx context.Context, desc string, count func() int64) {
	log := logger.Get()
	p := newPassProgress(c.reader.Size())
	tick(ctx, 2*time.Second, func() {
		s := p.at(time.Now(), count(), c.reader.Stats().BytesRead.Load())
		log.Info(desc, s.fields()...)
	})
}

func (c *Coordinator) pass1(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan *arena.Buffer, 4)

	progressCtx, cancelProgress := context.WithCancel(gctx)
	defer cancelProgress()
	go c.reportProgress(progressCtx, "Reading relations", func() int64 {
		return c.reader.Stats().Relations.Load()
	})

	g.Go(func() error {
		return c.reader.Read(gctx, entity.NewKindSet(entity.KindRelation), chunks)
	})
	g.Go(func() error {
		for chunk := range chunks {
			if err := c.collector.ReadRelations(gctx, chunk.View()); err != nil {
				drain(chunks)
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return c.collector.EndPass1()
}

func (c *Coordinator) pass2(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan *arena.Buffer, 4)
	futures := make(chan *pool.Future[assembled], c.cfg.QueueSize)

	progressCtx, cancelProgress := context.WithCancel(gctx)
	defer cancelProgress()
	go c.reportProgress(progressCtx, "Assembling areas", func() int64 {
		return c.collector.Stats().Areas
	})

	g.Go(func() error {
		return c.reader.Read(gctx, entity.NewKindSet(entity.KindNode, entity.KindWay), chunks)
	})

	submit := func(cand *collector.Candidate) error {
		f := pool.Submit(gctx, c.pool, func() (assembled, error) {
			return assembled{cand: cand, result: collector.Assemble(cand)}, nil
		})
		select {
		case futures <- f:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	g.Go(func() error {
		defer close(futures)
		for chunk := range chunks {
			if err := c.collector.ReadWays(gctx, chunk.View(), submit); err != nil {
				drain(chunks)
				return err
			}
		}
		return c.collector.Finish(gctx, submit)
	})

	// single writer: results are emitted in submission order
	g.Go(func() error {
		for f := range futures {
			r, err := f.Get(gctx)
			if err != nil {
				var pe *pool.PanicError
				if !errors.As(err, &pe) {
					return err
				}
				c.failed++
				logger.Get().Error("Assembly failed", zap.Any("panic", pe.Value))
				continue
			}
			if _, err := c.collector.Emit(c.out, r.cand, r.result); err != nil {
				return err
			}
			if c.out.Committed()-c.flushed >= c.cfg.ChunkSize {
				if err := c.flush(); err != nil {
					return err
				}
			}
		}
		return c.flush()
	})

	return g.Wait()
}

// flush hands everything emitted since the last flush to the sink. Heap
// arenas are cleared afterwards; a mapped arena keeps the whole run.
func (c *Coordinator) flush() error {
	data := c.out.View().Bytes()[c.flushed:]
	if err := sink.Write(c.sink, arena.NewView(data)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if c.cfg.ArenaFile == "" {
		c.out.Clear()
		c.flushed = 0
		return nil
	}
	c.flushed = c.out.Committed()
	return nil
}

func drain(ch <-chan *arena.Buffer) {
	go func() {
		for range ch {
		}
	}()
}
