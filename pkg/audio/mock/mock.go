// Package mock provides an in-memory mock implementation of the
// [audio.FrameSource] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields the test
// can set to script return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    FormatResult: audio.DiscordVoice,
//	    Reads: []mock.ReadResult{
//	        {Chunk: make([]byte, 3840)},
//	        {Err: io.EOF},
//	    },
//	}
//	framer := audio.NewFramer(src, audio.DiscordVoice)
package mock

import (
	"context"
	"sync"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*Source)(nil)

// ReadResult scripts one ReadRaw outcome.
type ReadResult struct {
	// Chunk is returned as the data, truncated to the caller's max.
	Chunk []byte

	// Err is returned as the error. Chunk and Err are returned together
	// as scripted, mirroring real sources that never mix data and errors.
	Err error
}

// Source is a mock implementation of [audio.FrameSource].
// Set the exported fields before use; inspect the CallCount* and Closed
// fields after.
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// OpenError is returned by [Source.Open].
	OpenError error

	// CloseError is returned by [Source.Close].
	CloseError error

	// Reads is the script consumed one entry per ReadRaw call. Once
	// exhausted, ReadRaw returns Exhausted (empty chunk and nil error if
	// Exhausted is zero).
	Reads []ReadResult

	// Exhausted is returned by every ReadRaw call after Reads runs out.
	Exhausted ReadResult

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountReadRaw records how many times ReadRaw was called.
	CallCountReadRaw int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Closed is set once Close has been called.
	Closed bool

	next    int
	pending []byte
}

// Open implements [audio.FrameSource].
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	return s.OpenError
}

// ReadRaw implements [audio.FrameSource]. It pops the next scripted
// [ReadResult]. A chunk larger than max is served over multiple calls, the
// way a real buffering source would.
func (s *Source) ReadRaw(_ context.Context, max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReadRaw++

	if len(s.pending) == 0 {
		res := s.Exhausted
		if s.next < len(s.Reads) {
			res = s.Reads[s.next]
			s.next++
		}
		if res.Err != nil {
			return res.Chunk, res.Err
		}
		s.pending = res.Chunk
	}

	n := len(s.pending)
	if max > 0 && n > max {
		n = max
	}
	chunk := make([]byte, n)
	copy(chunk, s.pending[:n])
	s.pending = s.pending[n:]
	return chunk, nil
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.Closed = true
	return s.CloseError
}

// Format implements [audio.FrameSource].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}
