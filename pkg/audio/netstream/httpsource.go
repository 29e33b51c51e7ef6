// Package netstream provides [audio.FrameSource] implementations backed by
// long-lived network connections: an HTTP source for Icecast-style PCM
// streams and a reconnecting wrapper that survives drops and stalls with
// exponential backoff while the downstream Framer keeps its cadence.
package netstream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*HTTPSource)(nil)

const (
	// streamChunkSize is the read granularity on the socket.
	streamChunkSize = 4096

	// chunkChannelBuffer decouples network jitter from the pull cadence.
	chunkChannelBuffer = 16

	// defaultConnectTimeout bounds the dial + response-header phase of Open.
	defaultConnectTimeout = 10 * time.Second
)

// HTTPSource streams raw PCM from a long-lived HTTP response body, the way
// an Icecast mount serves a live DJ stream. The native format is declared by
// the caller; the source performs no decoding.
//
// ReadRaw blocks on socket I/O (bounded by ctx) and returns an error
// wrapping [audio.ErrConnectionLost] when the connection drops, so the
// reconnecting wrapper can distinguish "no data yet" from a dead stream.
type HTTPSource struct {
	url    string
	format audio.Format
	client *http.Client

	mu      sync.Mutex
	opened  bool
	closed  bool
	cancel  context.CancelFunc
	pending []byte

	chunks  chan []byte
	failure chan error // buffered; holds the pump's terminal error
}

// Option configures an [HTTPSource] during construction.
type Option func(*HTTPSource)

// WithClient overrides the HTTP client used for the stream request.
// Useful in tests; the default client has no overall timeout (the response
// body is read indefinitely) but bounds the connect phase.
func WithClient(c *http.Client) Option {
	return func(s *HTTPSource) {
		s.client = c
	}
}

// NewHTTPSource creates a source for the given stream URL delivering PCM in
// the given native format. The connection is established lazily in Open.
func NewHTTPSource(url string, format audio.Format, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		url:    url,
		format: format,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   defaultConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: defaultConnectTimeout,
			},
		},
		chunks:  make(chan []byte, chunkChannelBuffer),
		failure: make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open issues the stream request and starts the background read pump.
// The supplied ctx governs the connection attempt only; once connected the
// stream lives until Close.
func (s *HTTPSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audio.ErrSourceClosed
	}
	if s.opened {
		return fmt.Errorf("netstream: %s already opened", s.url)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("netstream: build request for %q: %w", s.url, audio.ErrConfiguration)
	}
	// Icecast servers interleave metadata unless told otherwise.
	req.Header.Set("Icy-MetaData", "0")

	// The request context must outlive Open (it governs the stream body),
	// so the connect phase is bounded by racing Do against the caller's ctx.
	// Transport-level dial and header timeouts cap a hung server.
	type doResult struct {
		resp *http.Response
		err  error
	}
	done := make(chan doResult, 1)
	go func() {
		resp, err := s.client.Do(req)
		done <- doResult{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return fmt.Errorf("netstream: connect %q: %v: %w", s.url, ctx.Err(), audio.ErrSourceUnavailable)
	case r := <-done:
		if r.err != nil {
			cancel()
			return fmt.Errorf("netstream: connect %q: %v: %w", s.url, r.err, audio.ErrSourceUnavailable)
		}
		resp = r.resp
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("netstream: connect %q: status %s: %w", s.url, resp.Status, audio.ErrSourceUnavailable)
	}

	s.opened = true
	s.cancel = cancel

	slog.Info("netstream: connected", "url", s.url, "format", s.format.String())

	go s.pump(streamCtx, resp)
	return nil
}

// pump reads the response body until it errors, delivering chunks to the
// channel. Any read error (including EOF; a live stream never ends
// cleanly) is surfaced as a connection loss. The send is guarded by ctx so
// that Close unblocks pump even when no consumer is draining the channel.
func (s *HTTPSource) pump(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	buf := make([]byte, streamChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.failure <- audio.ErrSourceClosed
				close(s.chunks)
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.failure <- audio.ErrSourceClosed
			} else {
				s.failure <- fmt.Errorf("netstream: read %q: %v: %w", s.url, err, audio.ErrConnectionLost)
			}
			close(s.chunks)
			return
		}
	}
}

// ReadRaw returns up to max bytes of PCM. It blocks until data arrives or
// ctx expires; on ctx expiry the ctx error is returned (the Framer converts
// a deadline expiry into a silence frame). A dropped connection yields an
// error wrapping [audio.ErrConnectionLost].
func (s *HTTPSource) ReadRaw(ctx context.Context, max int) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audio.ErrSourceClosed
	}
	if !s.opened {
		s.mu.Unlock()
		return nil, fmt.Errorf("netstream: %s not opened: %w", s.url, audio.ErrSourceClosed)
	}
	if len(s.pending) > 0 {
		chunk := s.takePendingLocked(max)
		s.mu.Unlock()
		return chunk, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, <-s.failure
		}
		s.mu.Lock()
		s.pending = chunk
		out := s.takePendingLocked(max)
		s.mu.Unlock()
		return out, nil
	}
}

// takePendingLocked serves at most max bytes from the pending buffer.
// Must be called with s.mu held.
func (s *HTTPSource) takePendingLocked(max int) []byte {
	if max <= 0 || max >= len(s.pending) {
		chunk := s.pending
		s.pending = nil
		return chunk
	}
	chunk := s.pending[:max]
	s.pending = s.pending[max:]
	return chunk
}

// Close tears down the connection and stops the pump. Idempotent.
func (s *HTTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Format implements [audio.FrameSource].
func (s *HTTPSource) Format() audio.Format {
	return s.format
}
