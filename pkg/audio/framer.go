package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Framer slices the normalized byte stream from a [FrameSource] into frames
// of exactly [Format.FrameBytes] bytes. Partial data is carried over between
// Read calls in an internal buffer; when the source produces nothing within
// one frame duration, Read returns a silence frame instead of blocking the
// transport cadence.
//
// A Framer is owned by a single playback session. Read must not be called
// concurrently.
type Framer struct {
	source FrameSource
	norm   *Normalizer
	target Format

	frameBytes int
	pullBytes  int // native-format bytes requested per ReadRaw call

	mu            sync.Mutex
	buf           []byte
	eof           bool
	silenceStreak int
}

// NewFramer creates a Framer pulling from source and emitting frames in the
// target format. The target must carry a non-zero FrameDuration.
func NewFramer(source FrameSource, target Format) *Framer {
	native := source.Format()
	// Request roughly one frame duration's worth of native bytes per pull.
	pull := int(int64(native.SampleRate)*int64(target.FrameDuration)/int64(time.Second)) *
		native.Channels * native.BytesPerSample()
	if pull <= 0 {
		pull = target.FrameBytes()
	}
	return &Framer{
		source:     source,
		norm:       NewNormalizer(native, target),
		target:     target,
		frameBytes: target.FrameBytes(),
		pullBytes:  pull,
	}
}

// Read returns exactly one frame of FrameBytes bytes, pulling from the
// source under a deadline of one frame duration. If the deadline elapses
// before a full frame accumulates, a silence frame is returned and the
// partial data stays buffered for the next call. At the true end of a
// finite source, Read drains the remaining buffered data (zero-padding the
// final short frame) and then returns io.EOF.
//
// ctx cancellation interrupts an in-flight source read and is returned as
// the ctx error, so stopping a session never waits longer than one frame
// period.
func (f *Framer) Read(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.eof && len(f.buf) == 0 {
		return nil, io.EOF
	}

	deadline := time.Now().Add(f.target.FrameDuration)

	for !f.eof && len(f.buf) < f.frameBytes {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return f.silenceLocked(), nil
		}

		pullCtx, cancel := context.WithTimeout(ctx, remaining)
		chunk, err := f.source.ReadRaw(pullCtx, f.pullBytes)
		cancel()

		switch {
		case err == nil:
			if len(chunk) > 0 {
				f.buf = append(f.buf, f.norm.Normalize(chunk)...)
			}
		case errors.Is(err, io.EOF), errors.Is(err, ErrSourceClosed):
			f.eof = true
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return f.silenceLocked(), nil
		default:
			// Transient read error: absorb and keep the cadence.
			slog.Debug("framer: transient source read error", "err", err)
			return f.silenceLocked(), nil
		}
	}

	if len(f.buf) >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.buf[:f.frameBytes])
		f.buf = f.buf[f.frameBytes:]
		f.silenceStreak = 0
		return frame, nil
	}

	// Source exhausted with a short remainder: pad the final frame.
	if len(f.buf) > 0 {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.buf)
		f.buf = nil
		f.silenceStreak = 0
		return frame, nil
	}
	return nil, io.EOF
}

// SilenceStreak reports how many consecutive silence frames Read has emitted
// since the last frame that carried data. Used by the session's stall policy.
func (f *Framer) SilenceStreak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.silenceStreak
}

// Buffered reports how many normalized bytes are currently carried over.
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// silenceLocked emits an all-zero frame and bumps the starvation streak.
// Must be called with f.mu held.
func (f *Framer) silenceLocked() []byte {
	f.silenceStreak++
	return Silence(f.frameBytes)
}
