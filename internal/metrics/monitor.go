// Package metrics logs system load and pipeline progress at a fixed
// interval.
package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics holds current system metrics snapshot
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // can exceed 100% on multi-core
	ProcessRSSMB      float64
	IOWaitPercent     float64
	MemoryUsedGB      float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// Source reports pipeline counters to log next to the system metrics.
type Source func() []zap.Field

// Monitor periodically samples system metrics and logs them together with
// the registered sources.
type Monitor struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool

	mu      sync.RWMutex
	last    *SystemMetrics
	sources []Source
}

// NewMonitor creates a monitor. Intervals under a second fall back to 30s.
func NewMonitor(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Monitor{interval: interval, logger: logger, proc: proc}
}

// AddSource registers a counter source.
func (m *Monitor) AddSource(s Source) {
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}

// Start samples until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// first sample sets the disk and cpu baselines
	m.Sample()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Last returns the most recent sample, or nil before the first one.
func (m *Monitor) Last() *SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Sample collects one snapshot and logs it.
func (m *Monitor) Sample() *SystemMetrics {
	s := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if m.proc != nil {
		if pct, err := m.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := m.proc.MemoryInfo(); err == nil {
			s.ProcessRSSMB = float64(info.RSS) / (1 << 20)
		}
	}
	s.IOWaitPercent = m.ioWait()
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
		s.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
	}
	s.DiskReadMBps, s.DiskWriteMBps = m.diskRates()

	m.mu.Lock()
	m.last = s
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", round1(s.CPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcessCPUPercent)),
		zap.String("rss", fmt.Sprintf("%.1f MB", s.ProcessRSSMB)),
		zap.Float64("iowait", round1(s.IOWaitPercent)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("disk_r", fmt.Sprintf("%.1f MB/s", s.DiskReadMBps)),
		zap.String("disk_w", fmt.Sprintf("%.1f MB/s", s.DiskWriteMBps)),
	}
	for _, src := range sources {
		fields = append(fields, src()...)
	}
	m.logger.Info("System metrics", fields...)
	return s
}

func (m *Monitor) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !m.hasCPU {
		m.lastCPU, m.hasCPU = cur, true
		return 0
	}
	last := m.lastCPU
	m.lastCPU = cur
	total := (cur.User - last.User) + (cur.System - last.System) + (cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) + (cur.Irq - last.Irq) + (cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}

func (m *Monitor) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()
	prev, prevTime := m.lastDisk, m.lastDiskTime
	m.lastDisk, m.lastDiskTime = counters, now
	if prev == nil {
		return 0, 0
	}
	elapsed := now.Sub(prevTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}
	var read, write uint64
	for name, c := range counters {
		p, ok := prev[name]
		if !ok {
			continue
		}
		// counters can wrap
		if c.ReadBytes >= p.ReadBytes {
			read += c.ReadBytes - p.ReadBytes
		}
		if c.WriteBytes >= p.WriteBytes {
			write += c.WriteBytes - p.WriteBytes
		}
	}
	return float64(read) / elapsed / (1 << 20), float64(write) / elapsed / (1 << 20)
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
