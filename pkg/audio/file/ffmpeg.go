// Package file provides a finite [audio.FrameSource] that decodes a local
// audio file (or anything else ffmpeg can read) to raw signed 16-bit
// little-endian PCM over a pipe.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*FFmpegSource)(nil)

// FFmpegSource decodes path with an ffmpeg subprocess emitting s16le PCM at
// the requested rate and channel count on stdout. The source is finite:
// ReadRaw returns io.EOF exactly once when the file is exhausted, after
// which further calls return [audio.ErrSourceClosed].
type FFmpegSource struct {
	path   string
	format audio.Format
	binary string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	opened bool
	closed bool
	eof    bool
}

// NewFFmpegSource creates a decoder for path producing PCM in format.
// The file's existence is checked at construction; a missing file is a
// configuration error, not a runtime one.
func NewFFmpegSource(path string, format audio.Format) (*FFmpegSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file: empty path: %w", audio.ErrConfiguration)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file: stat %q: %v: %w", path, err, audio.ErrConfiguration)
	}
	return &FFmpegSource{
		path:   path,
		format: format,
		binary: "ffmpeg",
	}, nil
}

// Open starts the ffmpeg subprocess. Fails with an error wrapping
// [audio.ErrSourceUnavailable] if ffmpeg is missing or cannot be started.
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audio.ErrSourceClosed
	}
	if s.opened {
		return fmt.Errorf("file: %q already opened", s.path)
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", s.path,
		"-vn",
		"-ac", strconv.Itoa(s.format.Channels),
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
	cmd := exec.CommandContext(procCtx, s.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("file: ffmpeg stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("file: start ffmpeg for %q: %v: %w", s.path, err, audio.ErrSourceUnavailable)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.stderr = stderr
	s.cancel = cancel
	s.opened = true

	slog.Info("file: decoding", "path", s.path, "format", s.format.String())
	return nil
}

// ReadRaw returns up to max bytes of decoded PCM. Local pipe reads complete
// promptly, so no internal deadline is applied; Close interrupts a blocked
// read by killing the subprocess.
func (s *FFmpegSource) ReadRaw(_ context.Context, max int) ([]byte, error) {
	s.mu.Lock()
	if s.closed || s.eof {
		s.mu.Unlock()
		return nil, audio.ErrSourceClosed
	}
	if !s.opened {
		s.mu.Unlock()
		return nil, fmt.Errorf("file: %q not opened: %w", s.path, audio.ErrSourceClosed)
	}
	stdout := s.stdout
	s.mu.Unlock()

	if max <= 0 {
		max = 4096
	}
	buf := make([]byte, max)
	n, err := stdout.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		s.mu.Lock()
		closed := s.closed
		s.eof = true
		s.mu.Unlock()

		if closed {
			return nil, audio.ErrSourceClosed
		}
		if errors.Is(err, io.EOF) {
			s.reap()
			return nil, io.EOF
		}
		return nil, fmt.Errorf("file: read %q: %w", s.path, err)
	}
	return []byte{}, nil
}

// reap waits for the subprocess after a clean EOF, logging any decode
// errors ffmpeg printed to stderr.
func (s *FFmpegSource) reap() {
	s.mu.Lock()
	cmd := s.cmd
	stderr := s.stderr
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := cmd.Wait(); err != nil {
		slog.Warn("file: ffmpeg exited with error",
			"path", s.path, "err", err, "stderr", stderr.String())
	}
}

// Close kills the subprocess if still running and releases the pipe.
// Idempotent.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	cmd := s.cmd
	alreadyEOF := s.eof
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil && !alreadyEOF {
		// Reap the killed process so it does not linger as a zombie.
		_ = cmd.Wait()
	}
	return nil
}

// Format implements [audio.FrameSource].
func (s *FFmpegSource) Format() audio.Format {
	return s.format
}
