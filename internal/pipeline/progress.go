package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// passProgress estimates how far a pass over the input file has come from
// the number of bytes consumed so far.
type passProgress struct {
	total int64
	start time.Time
}

func newPassProgress(totalBytes int64) *passProgress {
	return &passProgress{total: totalBytes, start: time.Now()}
}

// snapshot is the state of a pass at one instant.
type snapshot struct {
	Items   int64
	Bytes   int64
	Percent float64 // capped at 100
	Rate    float64 // items per second
	Elapsed time.Duration
	ETA     time.Duration // zero while unknown
}

func (p *passProgress) at(now time.Time, items, bytes int64) snapshot {
	s := snapshot{Items: items, Bytes: bytes, Elapsed: now.Sub(p.start)}
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return s
	}
	s.Rate = float64(items) / secs
	if p.total <= 0 || bytes <= 0 {
		return s
	}
	done := float64(bytes) / float64(p.total)
	s.Percent = min(done*100, 100)
	if done < 1 {
		s.ETA = time.Duration(secs * (1 - done) / done * float64(time.Second)).Round(time.Second)
	}
	return s
}

func (s snapshot) fields() []zap.Field {
	return []zap.Field{
		zap.String("progress", fmt.Sprintf("%.1f%%", s.Percent)),
		zap.String("read", formatBytes(s.Bytes)),
		zap.Int64("items", s.Items),
		zap.String("rate", formatRate(s.Rate)),
		zap.String("eta", formatETA(s.ETA)),
	}
}

// tick calls fn every interval until ctx is done.
func tick(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	d = d.Round(time.Second)
	var b strings.Builder
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dh", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 || b.Len() > 0 {
		fmt.Fprintf(&b, "%dm", m)
		d -= m * time.Minute
	}
	fmt.Fprintf(&b, "%ds", d/time.Second)
	return b.String()
}

func formatRate(perSec float64) string {
	switch {
	case perSec >= 1e6:
		return fmt.Sprintf("%.1fM/s", perSec/1e6)
	case perSec >= 1e3:
		return fmt.Sprintf("%.1fK/s", perSec/1e3)
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	suffix := "KMGT"
	i := -1
	for v >= unit && i < len(suffix)-1 {
		v /= unit
		i++
	}
	return fmt.Sprintf("%.1f %cB", v, suffix[i])
}
