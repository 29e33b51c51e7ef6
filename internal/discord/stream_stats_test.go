package discord

import (
	"testing"
	"time"
)

func TestNewStreamStats_DefaultWindowSize(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats(0)
	// Should use the default window size (500), not panic.
	ss.RecordFrame(10*time.Millisecond, false)

	snap := ss.Snapshot()
	if snap.FrameRead.P50 != 10*time.Millisecond {
		t.Errorf("FrameRead P50 = %v, want 10ms", snap.FrameRead.P50)
	}
}

func TestStreamStats_RecordAndSnapshot(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats(100)

	for i := 1; i <= 100; i++ {
		ss.RecordFrame(time.Duration(i)*time.Millisecond, i%4 == 0)
	}
	ss.IncrReconnects()
	ss.IncrReconnects()

	snap := ss.Snapshot()

	if snap.Frames != 100 {
		t.Errorf("Frames = %d, want 100", snap.Frames)
	}
	if snap.Silence != 25 {
		t.Errorf("Silence = %d, want 25", snap.Silence)
	}
	if snap.Reconnects != 2 {
		t.Errorf("Reconnects = %d, want 2", snap.Reconnects)
	}

	// 100 samples from 1ms to 100ms.
	if snap.FrameRead.P50 != 50*time.Millisecond {
		t.Errorf("FrameRead P50 = %v, want 50ms", snap.FrameRead.P50)
	}
	if snap.FrameRead.P95 != 95*time.Millisecond {
		t.Errorf("FrameRead P95 = %v, want 95ms", snap.FrameRead.P95)
	}
}

func TestStreamStats_EmptySnapshot(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats(10)
	snap := ss.Snapshot()

	if snap.FrameRead.P50 != 0 || snap.FrameRead.P95 != 0 {
		t.Errorf("empty FrameRead = %+v, want zero", snap.FrameRead)
	}
	if snap.Frames != 0 || snap.Silence != 0 || snap.Reconnects != 0 {
		t.Errorf("empty counters = %+v, want zero", snap)
	}
}

func TestStreamStats_RingBufferWrap(t *testing.T) {
	t.Parallel()

	// Small buffer to force wrap-around.
	ss := NewStreamStats(3)

	ss.RecordFrame(10*time.Millisecond, false)
	ss.RecordFrame(20*time.Millisecond, false)
	ss.RecordFrame(30*time.Millisecond, false)
	// Wrap around: overwrites first entry.
	ss.RecordFrame(40*time.Millisecond, false)

	snap := ss.Snapshot()
	// Buffer now contains [40, 20, 30] (40 overwrote 10 at pos 0).
	// Sorted: [20, 30, 40].
	// P50 of 3 elements: ceil(0.5 * 3) - 1 = 1 => index 1 => 30ms.
	if snap.FrameRead.P50 != 30*time.Millisecond {
		t.Errorf("FrameRead P50 after wrap = %v, want 30ms", snap.FrameRead.P50)
	}
	// Frame counter keeps counting past the window.
	if snap.Frames != 4 {
		t.Errorf("Frames = %d, want 4", snap.Frames)
	}
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sorted []time.Duration
		p      float64
		want   time.Duration
	}{
		{"empty", nil, 0.5, 0},
		{"single element p50", []time.Duration{100 * time.Millisecond}, 0.5, 100 * time.Millisecond},
		{"single element p95", []time.Duration{100 * time.Millisecond}, 0.95, 100 * time.Millisecond},
		{"two elements p50", []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 0.5, 10 * time.Millisecond},
		{"two elements p95", []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 0.95, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := percentile(tt.sorted, tt.p)
			if got != tt.want {
				t.Errorf("percentile(%v, %.2f) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}
