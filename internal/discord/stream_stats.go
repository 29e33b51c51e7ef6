package discord

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StreamStats collects frame pacing samples and counters for dashboard
// display. It maintains a bounded ring buffer of recent frame-read latency
// observations from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type StreamStats struct {
	mu sync.Mutex

	read latencyBuffer

	frames     int64
	silence    int64
	reconnects int64
}

// NewStreamStats creates a StreamStats with the given window size (maximum
// number of frame-read latency samples retained).
func NewStreamStats(windowSize int) *StreamStats {
	if windowSize <= 0 {
		windowSize = 500
	}
	return &StreamStats{
		read: newLatencyBuffer(windowSize),
	}
}

// RecordFrame records one delivered frame: how long the read took and
// whether the frame was substituted silence.
func (ss *StreamStats) RecordFrame(d time.Duration, silence bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.read.add(d)
	ss.frames++
	if silence {
		ss.silence++
	}
}

// IncrReconnects increments the stream reconnect counter.
func (ss *StreamStats) IncrReconnects() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.reconnects++
}

// LatencyPercentiles holds p50 and p95 values for a latency series.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot captures a point-in-time view of all stream statistics.
type Snapshot struct {
	FrameRead  LatencyPercentiles
	Frames     int64
	Silence    int64
	Reconnects int64
}

// Snapshot returns a point-in-time view of all stream statistics.
func (ss *StreamStats) Snapshot() Snapshot {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return Snapshot{
		FrameRead:  ss.read.percentiles(),
		Frames:     ss.frames,
		Silence:    ss.silence,
		Reconnects: ss.reconnects,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	// Copy and sort the valid samples.
	sorted := make([]time.Duration, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
