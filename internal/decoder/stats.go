package decoder

import (
	"log/slog"
	"time"
)

// Stats are decode counters for one measurement window.
type Stats struct {
	ReceivedFrames       int
	DecodedFrames        int
	RenderedFrames       int
	TotalFrames          int
	NetworkDroppedFrames int

	// Host processing latency in units of 100µs.
	MinHostLatency        int
	MaxHostLatency        int
	TotalHostLatency      int
	FramesWithHostLatency int

	TotalReassemblyTime time.Duration
	TotalDecodeTime     time.Duration

	Start time.Time
}

// add accumulates s into dst.
func (s Stats) add(dst *Stats) {
	dst.ReceivedFrames += s.ReceivedFrames
	dst.DecodedFrames += s.DecodedFrames
	dst.RenderedFrames += s.RenderedFrames
	dst.TotalFrames += s.TotalFrames
	dst.NetworkDroppedFrames += s.NetworkDroppedFrames
	dst.TotalReassemblyTime += s.TotalReassemblyTime
	dst.TotalDecodeTime += s.TotalDecodeTime

	if dst.MinHostLatency == 0 {
		dst.MinHostLatency = s.MinHostLatency
	} else if s.MinHostLatency != 0 {
		dst.MinHostLatency = min(dst.MinHostLatency, s.MinHostLatency)
	}
	dst.MaxHostLatency = max(dst.MaxHostLatency, s.MaxHostLatency)
	dst.TotalHostLatency += s.TotalHostLatency
	dst.FramesWithHostLatency += s.FramesWithHostLatency

	if dst.Start.IsZero() {
		dst.Start = s.Start
	}
}

// recordHostLatency adds one frame's host processing latency. Zero means
// the host did not report it.
func (s *Stats) recordHostLatency(latency int) {
	if latency != 0 {
		if s.MinHostLatency != 0 {
			s.MinHostLatency = min(s.MinHostLatency, latency)
		} else {
			s.MinHostLatency = latency
		}
		s.FramesWithHostLatency++
	}
	s.MaxHostLatency = max(s.MaxHostLatency, latency)
	s.TotalHostLatency += latency
}

// Rates returns frames per second over the window ending at now.
func (s Stats) Rates(now time.Time) (total, received, decoded float64) {
	secs := now.Sub(s.Start).Seconds()
	if secs <= 0 {
		return 0, 0, 0
	}
	return float64(s.TotalFrames) / secs, float64(s.ReceivedFrames) / secs, float64(s.DecodedFrames) / secs
}

// AverageDecodeTime returns the mean decode latency per decoded frame.
func (s Stats) AverageDecodeTime() time.Duration {
	if s.DecodedFrames == 0 {
		return 0
	}
	return s.TotalDecodeTime / time.Duration(s.DecodedFrames)
}

// NetworkDropRate returns the fraction of frames lost in transit.
func (s Stats) NetworkDropRate() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.NetworkDroppedFrames) / float64(s.TotalFrames)
}

// LogValue renders the counters as structured log attributes.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("received", s.ReceivedFrames),
		slog.Int("decoded", s.DecodedFrames),
		slog.Int("rendered", s.RenderedFrames),
		slog.Int("total", s.TotalFrames),
		slog.Int("network_dropped", s.NetworkDroppedFrames),
		slog.Float64("network_drop_rate", s.NetworkDropRate()),
		slog.Duration("avg_decode_time", s.AverageDecodeTime()),
		slog.Int("min_host_latency_100us", s.MinHostLatency),
		slog.Int("max_host_latency_100us", s.MaxHostLatency),
	)
}

// statsWindow rolls the active window into the last and global totals once
// the window is older than period.
type statsWindow struct {
	period time.Duration
	active Stats
	last   Stats
	global Stats
}

func newStatsWindow(period time.Duration) statsWindow {
	return statsWindow{period: period}
}

// flip rolls the window if it is due and reports whether it did.
func (w *statsWindow) flip(now time.Time) bool {
	if now.Before(w.active.Start.Add(w.period)) {
		return false
	}
	w.active.add(&w.global)
	w.last = w.active
	w.active = Stats{Start: now}
	return true
}

// totals returns the global counters including the active window.
func (w *statsWindow) totals() Stats {
	g := w.global
	w.active.add(&g)
	return g
}
