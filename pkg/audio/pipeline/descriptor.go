// Package pipeline assembles audio sources into framed, Discord-ready
// pipelines and manages their playback lifecycle.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/loopcast/loopcast/pkg/audio"
)

// SourceType selects the kind of audio source a [Descriptor] names.
type SourceType string

const (
	// SourceDevice captures a loopback or input device.
	SourceDevice SourceType = "device"
	// SourceFile decodes a local audio file.
	SourceFile SourceType = "file"
	// SourceURL ingests a remote HTTP stream.
	SourceURL SourceType = "url"
	// SourceTone generates a diagnostic sine tone.
	SourceTone SourceType = "tone"
)

// Descriptor names an audio source without constructing it.
type Descriptor struct {
	Type SourceType `yaml:"type"`

	// Device selects a capture device for SourceDevice: empty for the
	// default device, a decimal index, or a case-insensitive name
	// substring.
	Device string `yaml:"device,omitempty"`

	// Path is the local file for SourceFile.
	Path string `yaml:"path,omitempty"`

	// URL is the stream endpoint for SourceURL.
	URL string `yaml:"url,omitempty"`
}

// Validate reports all descriptor problems at once. Every returned error
// wraps [audio.ErrConfiguration].
func (d Descriptor) Validate() error {
	var errs []error
	switch d.Type {
	case SourceDevice, SourceTone:
		// Device accepts any selector including empty; tone needs nothing.
	case SourceFile:
		if d.Path == "" {
			errs = append(errs, fmt.Errorf("pipeline: file source needs a path: %w", audio.ErrConfiguration))
		}
	case SourceURL:
		if d.URL == "" {
			errs = append(errs, fmt.Errorf("pipeline: url source needs a url: %w", audio.ErrConfiguration))
		}
	case "":
		errs = append(errs, fmt.Errorf("pipeline: source type is required: %w", audio.ErrConfiguration))
	default:
		errs = append(errs, fmt.Errorf("pipeline: unknown source type %q: %w", d.Type, audio.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// String renders the descriptor for logs and the now-playing display.
func (d Descriptor) String() string {
	switch d.Type {
	case SourceDevice:
		if d.Device == "" {
			return "device: default"
		}
		return "device: " + d.Device
	case SourceFile:
		return "file: " + d.Path
	case SourceURL:
		return "url: " + d.URL
	case SourceTone:
		return "tone"
	default:
		return "unknown"
	}
}
