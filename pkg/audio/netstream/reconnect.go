package netstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*ReconnectingSource)(nil)

// Default reconnection parameters.
const (
	defaultBackoff        = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultStallThreshold = 5 * time.Second
)

// State represents the connection state of a [ReconnectingSource].
type State int

const (
	// StateConnected is the normal operating state; reads are forwarded to
	// the underlying source.
	StateConnected State = iota

	// StateReconnecting means the underlying connection dropped or stalled
	// and a background goroutine is re-dialling with backoff. Reads return
	// empty chunks so the Framer substitutes silence.
	StateReconnecting

	// StateFailed is entered only when a finite retry budget was configured
	// and exhausted. Reads report end of stream so the session terminates.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DialFunc constructs a fresh, unopened [audio.FrameSource]. Sources are
// single-use, so every reconnect attempt dials a new one.
type DialFunc func() audio.FrameSource

// ReconnectConfig tunes a [ReconnectingSource].
type ReconnectConfig struct {
	// Backoff is the initial delay between reconnect attempts. Doubles each
	// failure up to MaxBackoff, with ±1/6 jitter. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the backoff growth. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// MaxRetries bounds consecutive failed attempts before the source gives
	// up and reports end of stream. Zero means retry forever; live DJ
	// streams legitimately go silent and resume.
	MaxRetries int

	// StallThreshold is how long the stream may deliver no bytes while
	// nominally connected before a reconnect is forced. Defaults to 5s.
	StallThreshold time.Duration

	// OnStateChange is invoked (on the caller's or the reconnect goroutine)
	// whenever the connection state changes. May be nil. Must not block.
	OnStateChange func(State)
}

// DefaultReconnectConfig returns the default tuning: 1s initial backoff,
// 30s cap, 5s stall threshold, unbounded retries.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Backoff:        defaultBackoff,
		MaxBackoff:     defaultMaxBackoff,
		StallThreshold: defaultStallThreshold,
	}
}

// ReconnectingSource wraps a network-backed [audio.FrameSource] and keeps
// the stream alive across drops. While the underlying connection is down it
// returns empty chunks, never errors, so the Framer emits silence and the
// voice session survives the outage.
//
// Only one reconnect attempt is ever in flight, and attempts never block
// ReadRaw beyond the per-call deadline enforced by the caller.
type ReconnectingSource struct {
	dial   DialFunc
	format audio.Format
	cfg    ReconnectConfig

	mu        sync.Mutex
	state     State
	src       audio.FrameSource
	lastData  time.Time
	retries   int
	opened    bool
	closed    bool
	reconnect chan struct{} // signalled to wake the reconnect loop
	connected chan struct{} // closed on each successful (re)connect

	lifeCtx  context.Context
	lifeStop context.CancelFunc
	stopOnce sync.Once
	loopDone chan struct{}
}

// NewReconnectingSource wraps the sources produced by dial, which must all
// deliver PCM in the given native format.
func NewReconnectingSource(dial DialFunc, format audio.Format, cfg ReconnectConfig) *ReconnectingSource {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = defaultStallThreshold
	}

	ctx, stop := context.WithCancel(context.Background())
	return &ReconnectingSource{
		dial:      dial,
		format:    format,
		cfg:       cfg,
		reconnect: make(chan struct{}, 1),
		connected: make(chan struct{}),
		lifeCtx:   ctx,
		lifeStop:  stop,
		loopDone:  make(chan struct{}),
	}
}

// Open dials and opens the initial connection. An initial failure is
// surfaced to the caller; the session should fail fast when the stream is
// unreachable at start, not silently retry forever.
func (r *ReconnectingSource) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return audio.ErrSourceClosed
	}
	if r.opened {
		r.mu.Unlock()
		return fmt.Errorf("reconnect: already opened")
	}
	r.mu.Unlock()

	src := r.dial()
	if err := src.Open(ctx); err != nil {
		return fmt.Errorf("reconnect: initial open: %w", err)
	}

	r.mu.Lock()
	r.opened = true
	r.src = src
	r.state = StateConnected
	r.lastData = time.Now()
	close(r.connected)
	r.connected = make(chan struct{})
	r.mu.Unlock()

	go r.reconnectLoop()
	return nil
}

// ReadRaw forwards to the underlying source while connected. On a dropped
// or stalled connection it flips to reconnecting, signals the background
// loop, and returns empty chunks (bounded by ctx) until the stream is back.
// It returns io.EOF only from the failed state.
func (r *ReconnectingSource) ReadRaw(ctx context.Context, max int) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, audio.ErrSourceClosed
		}
		state := r.state
		src := r.src
		connected := r.connected
		r.mu.Unlock()

		switch state {
		case StateFailed:
			return nil, io.EOF

		case StateReconnecting:
			// Wait out the caller's deadline or resume as soon as the
			// stream is back. Either way the Framer keeps its cadence.
			select {
			case <-ctx.Done():
				return []byte{}, nil
			case <-connected:
				continue
			}

		case StateConnected:
			chunk, err := src.ReadRaw(ctx, max)
			switch {
			case err == nil && len(chunk) > 0:
				r.mu.Lock()
				r.lastData = time.Now()
				r.retries = 0
				r.mu.Unlock()
				return chunk, nil

			case err == nil:
				// No data yet. A prolonged dry spell while nominally
				// connected counts as a stall.
				r.mu.Lock()
				stalled := time.Since(r.lastData) > r.cfg.StallThreshold
				r.mu.Unlock()
				if stalled {
					slog.Warn("reconnect: stream stalled, forcing reconnect",
						"threshold", r.cfg.StallThreshold)
					r.triggerReconnect(src)
				}
				return []byte{}, nil

			case ctx.Err() != nil:
				// Caller deadline or cancellation, not a source failure.
				return []byte{}, nil

			case errors.Is(err, audio.ErrConnectionLost):
				slog.Warn("reconnect: connection lost", "err", err)
				r.triggerReconnect(src)
				return []byte{}, nil

			default:
				// Treat any other source error like a drop.
				slog.Warn("reconnect: source read error", "err", err)
				r.triggerReconnect(src)
				return []byte{}, nil
			}
		}
	}
}

// triggerReconnect transitions to reconnecting (if not already) and wakes
// the background loop. The failed source is closed here so its handle is
// released before the first redial.
func (r *ReconnectingSource) triggerReconnect(failed audio.FrameSource) {
	r.mu.Lock()
	if r.closed || r.state != StateConnected || r.src != failed {
		r.mu.Unlock()
		return
	}
	r.setStateLocked(StateReconnecting)
	r.src = nil
	r.mu.Unlock()

	_ = failed.Close()

	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

// reconnectLoop is the single background goroutine performing redials with
// exponential backoff. At most one attempt is in flight at any time.
func (r *ReconnectingSource) reconnectLoop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.lifeCtx.Done():
			return
		case <-r.reconnect:
		}

		backoff := r.cfg.Backoff
		for attempt := 1; ; attempt++ {
			select {
			case <-r.lifeCtx.Done():
				return
			default:
			}

			src := r.dial()
			err := src.Open(r.lifeCtx)
			if err == nil {
				r.mu.Lock()
				if r.closed {
					r.mu.Unlock()
					_ = src.Close()
					return
				}
				r.src = src
				r.retries = 0
				r.lastData = time.Now()
				r.setStateLocked(StateConnected)
				close(r.connected)
				r.connected = make(chan struct{})
				r.mu.Unlock()

				slog.Info("reconnect: stream restored", "attempt", attempt)
				break
			}

			_ = src.Close()

			r.mu.Lock()
			r.retries++
			exhausted := r.cfg.MaxRetries > 0 && r.retries >= r.cfg.MaxRetries
			if exhausted {
				r.setStateLocked(StateFailed)
			}
			r.mu.Unlock()

			if exhausted {
				slog.Error("reconnect: giving up after max retries",
					"max_retries", r.cfg.MaxRetries, "err", err)
				return
			}

			slog.Warn("reconnect: attempt failed",
				"attempt", attempt, "backoff", backoff, "err", err)

			select {
			case <-r.lifeCtx.Done():
				return
			case <-time.After(withJitter(backoff)):
			}

			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
	}
}

// setStateLocked updates the state and fires the change callback.
// Must be called with r.mu held.
func (r *ReconnectingSource) setStateLocked(s State) {
	if r.state == s {
		return
	}
	r.state = s
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(s)
	}
}

// State returns the current connection state.
func (r *ReconnectingSource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close stops the reconnect loop and closes the current source. Idempotent.
func (r *ReconnectingSource) Close() error {
	var src audio.FrameSource
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		src = r.src
		r.src = nil
		r.mu.Unlock()
		r.lifeStop()
	})
	if src != nil {
		return src.Close()
	}
	return nil
}

// Format implements [audio.FrameSource].
func (r *ReconnectingSource) Format() audio.Format {
	return r.format
}

// withJitter applies ±1/6 jitter to d so that many clients recovering from
// the same outage do not redial in lockstep.
func withJitter(d time.Duration) time.Duration {
	jitterRange := d / 6
	if jitterRange <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return d + jitter
}
