// Package audio defines the core types of the loopcast streaming pipeline:
// the [Format] describing a PCM stream, the [FrameSource] capture contract,
// the [Normalizer] that converts between formats, and the [Framer] that
// slices a normalized byte stream into fixed-duration transport frames.
//
// The package is transport-agnostic. Concrete sources live in the capture,
// netstream, and file subpackages; the Discord voice adapter lives in
// audio/discord. This package lives under pkg/ because external code is
// expected to implement [FrameSource] for additional backends.
package audio

import (
	"fmt"
	"time"
)

// DiscordVoice is the fixed output format dictated by the Discord voice
// transport: 48 kHz stereo 16-bit PCM delivered in 20 ms frames.
var DiscordVoice = Format{
	SampleRate:    48000,
	Channels:      2,
	BitDepth:      16,
	FrameDuration: 20 * time.Millisecond,
}

// Format describes the sample rate, channel layout, bit depth, and frame
// cadence of a PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 48000 for Discord, 44100 for most devices).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitDepth is the number of bits per sample. Only 16 is currently
	// supported by the pipeline.
	BitDepth int

	// FrameDuration is the duration of one transport frame. Zero for
	// formats that only describe a source's native layout.
	FrameDuration time.Duration
}

// BytesPerSample returns the byte width of a single sample on one channel.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameBytes returns the exact byte length of one frame:
// SampleRate × Channels × bytes-per-sample × FrameDuration.
// For the Discord target (48 kHz stereo 16-bit, 20 ms) this is 3840.
func (f Format) FrameBytes() int {
	samples := int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
	return samples * f.Channels * f.BytesPerSample()
}

// Validate checks that the format is usable by the pipeline.
// Returns a wrapped [ErrUnsupportedFormat] for bit depths other than 16.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d is invalid", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channel count %d is invalid (mono or stereo only)", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("audio: %d-bit samples: %w", f.BitDepth, ErrUnsupportedFormat)
	}
	return nil
}

// String returns a human-readable description, e.g. "48000Hz stereo 16-bit".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %d-bit", f.SampleRate, ch, f.BitDepth)
}
