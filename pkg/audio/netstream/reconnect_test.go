package netstream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
	"github.com/loopcast/loopcast/pkg/audio/mock"
)

var testFormat = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

// dialScript hands out pre-built mock sources, one per dial.
type dialScript struct {
	sources []*mock.Source
	calls   int
}

func (d *dialScript) dial() audio.FrameSource {
	i := d.calls
	d.calls++
	if i >= len(d.sources) {
		i = len(d.sources) - 1
	}
	return d.sources[i]
}

func fastConfig() ReconnectConfig {
	return ReconnectConfig{
		Backoff:        time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		StallThreshold: 50 * time.Millisecond,
	}
}

func TestReconnectingSource_OpenFailureSurfaces(t *testing.T) {
	script := &dialScript{sources: []*mock.Source{
		{FormatResult: testFormat, OpenError: audio.ErrSourceUnavailable},
	}}
	r := NewReconnectingSource(script.dial, testFormat, fastConfig())

	err := r.Open(context.Background())
	if !errors.Is(err, audio.ErrSourceUnavailable) {
		t.Errorf("Open = %v, want ErrSourceUnavailable", err)
	}
}

func TestReconnectingSource_ForwardsData(t *testing.T) {
	script := &dialScript{sources: []*mock.Source{
		{
			FormatResult: testFormat,
			Reads:        []mock.ReadResult{{Chunk: []byte{1, 2, 3, 4}}},
		},
	}}
	r := NewReconnectingSource(script.dial, testFormat, fastConfig())
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	chunk, err := r.ReadRaw(context.Background(), 3840)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(chunk) != 4 {
		t.Errorf("chunk length = %d, want 4", len(chunk))
	}
	if r.State() != StateConnected {
		t.Errorf("state = %v, want connected", r.State())
	}
}

func TestReconnectingSource_RecoversFromDrop(t *testing.T) {
	first := &mock.Source{
		FormatResult: testFormat,
		Reads: []mock.ReadResult{
			{Chunk: []byte{1, 2}},
			{Err: audio.ErrConnectionLost},
		},
	}
	second := &mock.Source{
		FormatResult: testFormat,
		Reads:        []mock.ReadResult{{Chunk: []byte{3, 4}}},
	}
	script := &dialScript{sources: []*mock.Source{first, second}}

	var states []State
	cfg := fastConfig()
	stateCh := make(chan State, 8)
	cfg.OnStateChange = func(s State) { stateCh <- s }

	r := NewReconnectingSource(script.dial, testFormat, cfg)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	if _, err := r.ReadRaw(ctx, 3840); err != nil {
		t.Fatalf("ReadRaw 1: %v", err)
	}

	// The dropped read yields an empty chunk, never an error.
	chunk, err := r.ReadRaw(ctx, 3840)
	if err != nil {
		t.Fatalf("ReadRaw on drop: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("drop chunk length = %d, want 0", len(chunk))
	}

	// Reconnecting then connected must both be observed.
	for len(states) < 2 {
		select {
		case s := <-stateCh:
			states = append(states, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state changes, got %v", states)
		}
	}
	if states[0] != StateReconnecting || states[1] != StateConnected {
		t.Fatalf("state sequence = %v, want [reconnecting connected]", states)
	}

	// Data flows again from the redialled source.
	deadline := time.Now().Add(2 * time.Second)
	for {
		chunk, err = r.ReadRaw(ctx, 3840)
		if err != nil {
			t.Fatalf("ReadRaw after recovery: %v", err)
		}
		if len(chunk) == 2 && chunk[0] == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never received data from the reconnected source")
		}
	}

	if !first.Closed {
		t.Error("dropped source was not closed")
	}
}

func TestReconnectingSource_EmptyChunksWhileReconnecting(t *testing.T) {
	first := &mock.Source{
		FormatResult: testFormat,
		Reads:        []mock.ReadResult{{Err: audio.ErrConnectionLost}},
	}
	// Redial never succeeds within the test window.
	stuck := &mock.Source{FormatResult: testFormat, OpenError: errors.New("refused")}
	script := &dialScript{sources: []*mock.Source{first, stuck}}

	r := NewReconnectingSource(script.dial, testFormat, fastConfig())
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadRaw(context.Background(), 3840); err != nil {
		t.Fatalf("ReadRaw on drop: %v", err)
	}

	// While down, reads resolve to empty chunks within the caller deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	chunk, err := r.ReadRaw(ctx, 3840)
	if err != nil {
		t.Fatalf("ReadRaw while reconnecting: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("chunk length = %d, want 0", len(chunk))
	}
}

func TestReconnectingSource_FiniteRetriesEndStream(t *testing.T) {
	first := &mock.Source{
		FormatResult: testFormat,
		Reads:        []mock.ReadResult{{Err: audio.ErrConnectionLost}},
	}
	refusing := &mock.Source{FormatResult: testFormat, OpenError: errors.New("refused")}
	script := &dialScript{sources: []*mock.Source{first, refusing}}

	cfg := fastConfig()
	cfg.MaxRetries = 2
	r := NewReconnectingSource(script.dial, testFormat, cfg)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadRaw(context.Background(), 3840); err != nil {
		t.Fatalf("ReadRaw on drop: %v", err)
	}

	// The retry budget burns down quickly with millisecond backoff; the
	// source must then report end of stream.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := r.ReadRaw(ctx, 3840)
		cancel()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadRaw = %v, want nil or io.EOF", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("source never entered the failed state")
		}
	}
	if r.State() != StateFailed {
		t.Errorf("state = %v, want failed", r.State())
	}
}

func TestReconnectingSource_StallForcesReconnect(t *testing.T) {
	// Connected but silent source: repeated empty reads past the stall
	// threshold must force a redial.
	first := &mock.Source{FormatResult: testFormat}
	second := &mock.Source{
		FormatResult: testFormat,
		Reads:        []mock.ReadResult{{Chunk: []byte{9, 9}}},
	}
	script := &dialScript{sources: []*mock.Source{first, second}}

	cfg := fastConfig()
	cfg.StallThreshold = 20 * time.Millisecond
	r := NewReconnectingSource(script.dial, testFormat, cfg)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		chunk, err := r.ReadRaw(ctx, 3840)
		cancel()
		if err != nil {
			t.Fatalf("ReadRaw: %v", err)
		}
		if len(chunk) == 2 && chunk[0] == 9 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("stalled source was never replaced")
		}
	}
}

func TestReconnectingSource_CloseIsIdempotent(t *testing.T) {
	src := &mock.Source{FormatResult: testFormat}
	script := &dialScript{sources: []*mock.Source{src}}
	r := NewReconnectingSource(script.dial, testFormat, fastConfig())
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Errorf("Close 1: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close 2: %v", err)
	}
	if _, err := r.ReadRaw(context.Background(), 3840); err != audio.ErrSourceClosed {
		t.Errorf("ReadRaw after Close = %v, want ErrSourceClosed", err)
	}
}

func TestWithJitter_StaysInBounds(t *testing.T) {
	d := 6 * time.Second
	for range 100 {
		got := withJitter(d)
		if got < 5*time.Second || got > 7*time.Second {
			t.Fatalf("withJitter(%v) = %v, outside ±1/6", d, got)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateConnected.String() != "connected" ||
		StateReconnecting.String() != "reconnecting" ||
		StateFailed.String() != "failed" {
		t.Error("unexpected state names")
	}
}

func TestReconnectingSource_SingleUse(t *testing.T) {
	script := &dialScript{sources: []*mock.Source{
		{FormatResult: testFormat},
		{FormatResult: testFormat},
	}}
	r := NewReconnectingSource(script.dial, testFormat, fastConfig())
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	// A second Open must refuse rather than spawn a second reconnect loop.
	if err := r.Open(context.Background()); err == nil {
		t.Error("second Open should fail")
	}
}
