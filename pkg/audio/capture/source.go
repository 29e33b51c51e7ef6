package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*DeviceSource)(nil)

const (
	// readTimeout bounds a single blocking wait for hardware buffers: after
	// this long with no callback data, ReadRaw yields an empty chunk rather
	// than stalling the pipeline indefinitely.
	readTimeout = 1 * time.Second

	// chunkChannelBuffer absorbs scheduling jitter between the miniaudio
	// callback thread and the pull loop. At 10 ms periods this is well over
	// half a second of audio.
	chunkChannelBuffer = 64

	// periodMillis is the miniaudio period size. Shorter than the 20 ms
	// transport frame so the Framer always has fresh data within one pull.
	periodMillis = 10
)

// DeviceSource captures the mixed output of a system playback device in its
// native-ish format (the configured rate and channel count, always 16-bit).
// Data arrives on the miniaudio callback thread and is handed to ReadRaw
// through a buffered channel; when the consumer falls behind, the oldest
// data is dropped rather than blocking the audio callback.
type DeviceSource struct {
	ctx    *Context
	device Device
	format audio.Format

	mu      sync.Mutex
	mdev    *malgo.Device
	opened  bool
	closed  bool
	pending []byte

	chunks  chan []byte
	dropped int
}

// NewDeviceSource creates a loopback source for the given device. format
// declares the capture rate and channel count; bit depth must be 16.
func NewDeviceSource(ctx *Context, device Device, format audio.Format) *DeviceSource {
	return &DeviceSource{
		ctx:    ctx,
		device: device,
		format: format,
		chunks: make(chan []byte, chunkChannelBuffer),
	}
}

// Open initialises and starts the loopback capture device. Fails with an
// error wrapping [audio.ErrSourceUnavailable] when the backend cannot open
// the device (e.g. loopback unsupported on this platform, device removed).
func (s *DeviceSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audio.ErrSourceClosed
	}
	if s.opened {
		return fmt.Errorf("capture: device %q already opened", s.device.Name)
	}
	if err := s.format.Validate(); err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.format.Channels)
	cfg.Capture.DeviceID = s.device.id.Pointer()
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: s.onFrames,
	}

	mdev, err := malgo.InitDevice(s.ctx.mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("capture: open loopback device %q: %v: %w",
			s.device.Name, err, audio.ErrSourceUnavailable)
	}
	if err := mdev.Start(); err != nil {
		mdev.Uninit()
		return fmt.Errorf("capture: start loopback device %q: %v: %w",
			s.device.Name, err, audio.ErrSourceUnavailable)
	}

	s.mdev = mdev
	s.opened = true

	slog.Info("capture: loopback device opened",
		"device", s.device.Name, "format", s.format.String())
	return nil
}

// onFrames runs on the miniaudio callback thread. It must never block:
// when the channel is full the chunk is dropped and counted.
func (s *DeviceSource) onFrames(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	chunk := make([]byte, len(input))
	copy(chunk, input)

	select {
	case s.chunks <- chunk:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%500 == 0 {
			slog.Warn("capture: consumer behind, dropping audio", "dropped_chunks", n)
		}
	}
}

// ReadRaw returns up to max bytes of captured PCM, blocking until at least
// one hardware buffer arrives, bounded by ctx and a 1s internal timeout
// after which an empty chunk is returned.
func (s *DeviceSource) ReadRaw(ctx context.Context, max int) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audio.ErrSourceClosed
	}
	if !s.opened {
		s.mu.Unlock()
		return nil, fmt.Errorf("capture: device %q not opened: %w", s.device.Name, audio.ErrSourceClosed)
	}
	if len(s.pending) > 0 {
		chunk := s.takePendingLocked(max)
		s.mu.Unlock()
		return chunk, nil
	}
	s.mu.Unlock()

	timeout := time.NewTimer(readTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []byte{}, nil
	case chunk := <-s.chunks:
		s.mu.Lock()
		s.pending = chunk
		out := s.takePendingLocked(max)
		s.mu.Unlock()
		return out, nil
	}
}

// takePendingLocked serves at most max bytes from the pending buffer.
// Must be called with s.mu held.
func (s *DeviceSource) takePendingLocked(max int) []byte {
	if max <= 0 || max >= len(s.pending) {
		chunk := s.pending
		s.pending = nil
		return chunk
	}
	chunk := s.pending[:max]
	s.pending = s.pending[max:]
	return chunk
}

// Close stops the capture and releases the device handle. Idempotent.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.mdev != nil {
		s.mdev.Uninit()
		s.mdev = nil
		slog.Info("capture: loopback device closed", "device", s.device.Name)
	}
	return nil
}

// Format implements [audio.FrameSource].
func (s *DeviceSource) Format() audio.Format {
	return s.format
}
