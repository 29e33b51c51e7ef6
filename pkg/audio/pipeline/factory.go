package pipeline

import (
	"context"
	"fmt"

	"github.com/loopcast/loopcast/pkg/audio"
	"github.com/loopcast/loopcast/pkg/audio/capture"
	"github.com/loopcast/loopcast/pkg/audio/file"
	"github.com/loopcast/loopcast/pkg/audio/netstream"
)

// toneFrequency is the diagnostic tone pitch in Hz.
const toneFrequency = 440

// Factory turns a [Descriptor] into a wired [Pipeline]. Construction
// errors (bad descriptor, unresolvable device, missing file) surface here;
// reachability errors (unreachable URL, device busy) surface at Open.
type Factory struct {
	// Target is the format every pipeline emits, usually
	// [audio.DiscordVoice].
	Target audio.Format

	// Capture provides device enumeration. Nil disables device sources.
	Capture *capture.Context

	// StreamFormat is the PCM format remote URL streams carry. The
	// normalizer converts it to Target.
	StreamFormat audio.Format

	// Reconnect tunes the reconnecting wrapper applied to URL sources.
	Reconnect netstream.ReconnectConfig
}

// NewFactory returns a factory emitting frames in target format. The
// capture context may be nil on hosts without audio devices.
func NewFactory(target audio.Format, cap *capture.Context) (*Factory, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: target format: %w", err)
	}
	return &Factory{
		Target:       target,
		Capture:      cap,
		StreamFormat: target,
		Reconnect:    netstream.DefaultReconnectConfig(),
	}, nil
}

// New builds the full pipeline for desc: source, an optional reconnecting
// wrapper for network streams, and a framer normalizing to the target
// format. The returned pipeline is not yet opened.
func (f *Factory) New(desc Descriptor) (*Pipeline, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var src audio.FrameSource
	switch desc.Type {
	case SourceDevice:
		if f.Capture == nil {
			return nil, fmt.Errorf("pipeline: no capture context, device sources unavailable: %w", audio.ErrConfiguration)
		}
		dev, err := f.Capture.DeviceByDescriptor(desc.Device)
		if err != nil {
			return nil, err
		}
		src = capture.NewDeviceSource(f.Capture, dev, f.Target)

	case SourceFile:
		s, err := file.NewFFmpegSource(desc.Path, f.Target)
		if err != nil {
			return nil, err
		}
		src = s

	case SourceURL:
		url := desc.URL
		format := f.StreamFormat
		dial := func() audio.FrameSource {
			return netstream.NewHTTPSource(url, format)
		}
		src = netstream.NewReconnectingSource(dial, format, f.Reconnect)

	case SourceTone:
		src = audio.NewToneSource(f.Target, toneFrequency)

	default:
		return nil, fmt.Errorf("pipeline: unknown source type %q: %w", desc.Type, audio.ErrConfiguration)
	}

	return &Pipeline{
		desc:   desc,
		source: src,
		framer: audio.NewFramer(src, f.Target),
		target: f.Target,
	}, nil
}

// Pipeline is one assembled source-to-frames chain. It is owned by a
// single [Session] and is not safe for concurrent readers.
type Pipeline struct {
	desc   Descriptor
	source audio.FrameSource
	framer *audio.Framer
	target audio.Format
}

// Open opens the underlying source.
func (p *Pipeline) Open(ctx context.Context) error {
	return p.source.Open(ctx)
}

// Read returns the next frame of exactly Target().FrameBytes() bytes, or
// nil and io.EOF when a finite source is exhausted. See [audio.Framer.Read].
func (p *Pipeline) Read(ctx context.Context) ([]byte, error) {
	return p.framer.Read(ctx)
}

// Close closes the underlying source. Idempotent.
func (p *Pipeline) Close() error {
	return p.source.Close()
}

// SilenceStreak reports consecutive silence frames, see
// [audio.Framer.SilenceStreak].
func (p *Pipeline) SilenceStreak() int {
	return p.framer.SilenceStreak()
}

// Describe returns a human-readable name for the pipeline's source.
func (p *Pipeline) Describe() string {
	return p.desc.String()
}

// Target returns the output format.
func (p *Pipeline) Target() audio.Format {
	return p.target
}
