package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/loopcast/loopcast/pkg/audio"
)

// SessionState tracks a playback session's lifecycle.
type SessionState int

const (
	// SessionIdle means no playback; the session is new or fully cleaned up.
	SessionIdle SessionState = iota
	// SessionStarting means the source is being opened.
	SessionStarting
	// SessionActive means frames are being served.
	SessionActive
	// SessionStopping means teardown is in progress.
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithStallPolicy reports upward when the session has emitted afterFrames
// consecutive silence frames. The callback fires once per stall episode and
// the session keeps running; deciding whether to stop is the caller's call.
// afterFrames <= 0 disables stall reporting.
func WithStallPolicy(afterFrames int, onStall func(streak int)) SessionOption {
	return func(s *Session) {
		s.stallAfter = afterFrames
		s.onStall = onStall
	}
}

// Session owns one [Pipeline] from open to close. Frames are pulled by a
// single transport goroutine via ReadFrame; Stop may be called from any
// goroutine and cleanup runs exactly once no matter how the session ends.
type Session struct {
	pipe *Pipeline

	stallAfter int
	onStall    func(int)

	mu      sync.Mutex
	state   SessionState
	stalled bool

	cleanup sync.Once
	done    chan struct{}
}

// NewSession wraps pipe in an idle session.
func NewSession(pipe *Pipeline, opts ...SessionOption) *Session {
	s := &Session{
		pipe: pipe,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the source and moves the session to active. A failed open
// cleans up immediately and leaves the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("pipeline: session is %s, cannot start", st)
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return fmt.Errorf("pipeline: session already finished: %w", audio.ErrSourceClosed)
	default:
	}
	s.state = SessionStarting
	s.mu.Unlock()

	if err := s.pipe.Open(ctx); err != nil {
		s.finish()
		return fmt.Errorf("pipeline: start %s: %w", s.pipe.Describe(), err)
	}

	s.mu.Lock()
	s.state = SessionActive
	s.mu.Unlock()

	slog.Info("pipeline: session active", "source", s.pipe.Describe())
	return nil
}

// ReadFrame returns the next fixed-size PCM frame. It returns io.EOF once
// the session has stopped or the source is exhausted; the pull loop should
// treat io.EOF as the end of playback. Each call completes within one frame
// period, so a concurrent Stop takes effect by the next frame at the latest.
func (s *Session) ReadFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	frame, err := s.pipe.Read(ctx)
	switch {
	case err == nil:
		s.observeStall()
		return frame, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == io.EOF:
		slog.Info("pipeline: source finished", "source", s.pipe.Describe())
		s.finish()
		return nil, io.EOF
	default:
		slog.Error("pipeline: unrecoverable read error",
			"source", s.pipe.Describe(), "err", err)
		s.finish()
		return nil, io.EOF
	}
}

// observeStall fires the stall callback once per episode of consecutive
// silence frames crossing the configured threshold.
func (s *Session) observeStall() {
	if s.stallAfter <= 0 {
		return
	}
	streak := s.pipe.SilenceStreak()

	s.mu.Lock()
	fire := false
	if streak >= s.stallAfter && !s.stalled {
		s.stalled = true
		fire = true
	} else if streak == 0 {
		s.stalled = false
	}
	s.mu.Unlock()

	if fire && s.onStall != nil {
		s.onStall(streak)
	}
}

// Stop ends playback and closes the source. Safe to call multiple times and
// concurrently with ReadFrame.
func (s *Session) Stop() {
	s.finish()
}

// finish runs the session's cleanup exactly once: close the source, settle
// the state back to idle, release waiters.
func (s *Session) finish() {
	s.cleanup.Do(func() {
		s.mu.Lock()
		s.state = SessionStopping
		s.mu.Unlock()

		if err := s.pipe.Close(); err != nil {
			slog.Warn("pipeline: close source", "source", s.pipe.Describe(), "err", err)
		}

		s.mu.Lock()
		s.state = SessionIdle
		s.mu.Unlock()
		close(s.done)

		slog.Info("pipeline: session finished", "source", s.pipe.Describe())
	})
}

// Done is closed once cleanup has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SilenceStreak reports consecutive padding frames, see
// [audio.Framer.SilenceStreak].
func (s *Session) SilenceStreak() int {
	return s.pipe.SilenceStreak()
}

// Describe names the session's source for display.
func (s *Session) Describe() string {
	return s.pipe.Describe()
}

// Target returns the session's output format.
func (s *Session) Target() audio.Format {
	return s.pipe.Target()
}
