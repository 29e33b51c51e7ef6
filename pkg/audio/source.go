package audio

import (
	"context"
	"errors"
	"math"
	"sync"
)

// Sentinel errors for the source taxonomy. Construction-time failures and
// end-of-stream are the only conditions that reach the session lifecycle;
// everything else is absorbed inside the pipeline.
var (
	// ErrSourceUnavailable means the device, file, or URL could not be
	// acquired. Surfaced to the caller at Open.
	ErrSourceUnavailable = errors.New("audio: source unavailable")

	// ErrConnectionLost means a network-backed source dropped mid-stream.
	// Recovered locally by netstream.ReconnectingSource, never surfaced.
	ErrConnectionLost = errors.New("audio: connection lost")

	// ErrConfiguration means a source descriptor is malformed. Fatal at
	// construction.
	ErrConfiguration = errors.New("audio: invalid configuration")

	// ErrSourceClosed is returned by ReadRaw after Close, or after a finite
	// source has already reported io.EOF once.
	ErrSourceClosed = errors.New("audio: source closed")

	// ErrUnsupportedFormat is returned for PCM layouts the pipeline cannot
	// process (anything other than 16-bit samples).
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// FrameSource produces raw PCM byte chunks in the source's native format.
//
// A FrameSource is single-use: once closed (or exhausted, for finite
// sources) it cannot be reopened; construct a new one to restart. Sources
// are owned by exactly one playback session and are not safe for concurrent
// ReadRaw calls.
type FrameSource interface {
	// Open acquires the native handle (device, socket, process). Returns an
	// error wrapping [ErrSourceUnavailable] if the backing resource cannot
	// be acquired.
	Open(ctx context.Context) error

	// ReadRaw returns up to max bytes of PCM in the source's native format.
	// Live sources block until data is available, bounded by ctx and an
	// internal timeout, and return an empty (non-nil error-free) chunk when
	// nothing arrived in time. Network sources return an error wrapping
	// [ErrConnectionLost] on disconnect so callers can distinguish "no data
	// yet" from a dropped connection. Finite sources return io.EOF exactly
	// once at end of stream; subsequent calls return [ErrSourceClosed].
	ReadRaw(ctx context.Context, max int) ([]byte, error)

	// Close releases the native handle. Idempotent.
	Close() error

	// Format reports the source's native PCM layout.
	Format() Format
}

// ToneSource is a [FrameSource] that synthesises a continuous sine wave.
// It needs no hardware or network and is used by tests and the "tone"
// descriptor type for end-to-end diagnostics.
type ToneSource struct {
	format    Format
	frequency float64

	mu     sync.Mutex
	opened bool
	closed bool
	phase  float64
}

// NewToneSource creates a tone generator at the given frequency (Hz)
// producing PCM in the given format.
func NewToneSource(format Format, frequency float64) *ToneSource {
	if frequency <= 0 {
		frequency = 440
	}
	return &ToneSource{format: format, frequency: frequency}
}

// Open implements [FrameSource]. It never fails.
func (s *ToneSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.closed = false
	return nil
}

// ReadRaw synthesises up to max bytes of sine-wave PCM. The tone is
// effectively infinite; it never returns io.EOF.
func (s *ToneSource) ReadRaw(ctx context.Context, max int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.opened {
		return nil, ErrSourceClosed
	}

	sampleBytes := s.format.Channels * s.format.BytesPerSample()
	frames := max / sampleBytes
	if frames == 0 {
		return []byte{}, nil
	}

	out := make([]byte, frames*sampleBytes)
	step := 2 * math.Pi * s.frequency / float64(s.format.SampleRate)
	for i := range frames {
		// Half amplitude to leave headroom when mixed downstream.
		sample := int16(math.Sin(s.phase) * math.MaxInt16 / 2)
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		for ch := range s.format.Channels {
			j := (i*s.format.Channels + ch) * 2
			out[j] = byte(sample)
			out[j+1] = byte(sample >> 8)
		}
	}
	return out, nil
}

// Close implements [FrameSource]. Idempotent.
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Format implements [FrameSource].
func (s *ToneSource) Format() Format {
	return s.format
}

// Silence returns a zeroed PCM buffer of n bytes. The buffer is freshly
// allocated on each call so callers may hand it downstream without copying.
func Silence(n int) []byte {
	return make([]byte, n)
}
