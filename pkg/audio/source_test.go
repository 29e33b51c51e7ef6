package audio

import (
	"context"
	"testing"
)

func TestToneSource_ProducesAudio(t *testing.T) {
	src := NewToneSource(DiscordVoice, 440)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	chunk, err := src.ReadRaw(context.Background(), 3840)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(chunk) != 3840 {
		t.Fatalf("chunk length = %d, want 3840", len(chunk))
	}

	nonZero := false
	for _, b := range chunk {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("tone output is all zeros")
	}
}

func TestToneSource_StereoChannelsMatch(t *testing.T) {
	src := NewToneSource(DiscordVoice, 440)
	_ = src.Open(context.Background())
	defer src.Close()

	chunk, err := src.ReadRaw(context.Background(), 64)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	// Left and right carry the identical sample.
	for i := 0; i+3 < len(chunk); i += 4 {
		if chunk[i] != chunk[i+2] || chunk[i+1] != chunk[i+3] {
			t.Fatalf("L/R mismatch at frame %d", i/4)
		}
	}
}

func TestToneSource_ReadBeforeOpen(t *testing.T) {
	src := NewToneSource(DiscordVoice, 440)
	if _, err := src.ReadRaw(context.Background(), 64); err != ErrSourceClosed {
		t.Errorf("ReadRaw before Open = %v, want ErrSourceClosed", err)
	}
}

func TestToneSource_ReadAfterClose(t *testing.T) {
	src := NewToneSource(DiscordVoice, 440)
	_ = src.Open(context.Background())
	_ = src.Close()
	_ = src.Close() // idempotent

	if _, err := src.ReadRaw(context.Background(), 64); err != ErrSourceClosed {
		t.Errorf("ReadRaw after Close = %v, want ErrSourceClosed", err)
	}
}

func TestToneSource_TinyMaxYieldsEmptyChunk(t *testing.T) {
	src := NewToneSource(DiscordVoice, 440)
	_ = src.Open(context.Background())
	defer src.Close()

	chunk, err := src.ReadRaw(context.Background(), 3)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("chunk length = %d, want 0", len(chunk))
	}
}

func TestSilence(t *testing.T) {
	s := Silence(3840)
	if len(s) != 3840 {
		t.Fatalf("length = %d, want 3840", len(s))
	}
	for _, b := range s {
		if b != 0 {
			t.Fatal("silence buffer is not zeroed")
		}
	}
}
