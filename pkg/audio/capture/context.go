// Package capture provides an [audio.FrameSource] that records the mixed
// output of a system audio device (loopback capture) via the miniaudio
// bindings in github.com/gen2brain/malgo, plus device enumeration for the
// /sources command.
package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/loopcast/loopcast/pkg/audio"
)

// Context owns the miniaudio backend context used for device enumeration
// and capture. Create one per process and pass it explicitly to the source
// factory; keeping it out of package-level state keeps pipelines
// independently testable.
type Context struct {
	mctx *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

// NewContext initialises the miniaudio backend. Backend log lines are
// forwarded to slog at debug level.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("capture: init miniaudio context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// Device identifies a system playback device whose output can be captured
// via loopback.
type Device struct {
	// Index is a stable 1-based position in the enumeration order, used by
	// numeric device descriptors.
	Index int

	// Name is the human-readable device name reported by the OS.
	Name string

	// IsDefault marks the system default playback device.
	IsDefault bool

	id malgo.DeviceID
}

// Devices enumerates the playback devices available for loopback capture.
func (c *Context) Devices() ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("capture: context closed")
	}

	infos, err := c.mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate playback devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:     i + 1,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			id:        info.ID,
		})
	}
	return devices, nil
}

// DeviceByDescriptor resolves a device descriptor: empty means the system
// default playback device, a decimal number selects by enumeration index,
// anything else matches the device name case-insensitively (substring
// match, first hit wins). Returns an error wrapping
// [audio.ErrConfiguration] when no device matches.
func (c *Context) DeviceByDescriptor(desc string) (Device, error) {
	devices, err := c.Devices()
	if err != nil {
		return Device{}, err
	}
	return matchDevice(devices, desc)
}

// matchDevice implements the descriptor resolution rules against an
// already-enumerated device list. Split out for tests.
func matchDevice(devices []Device, desc string) (Device, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		for _, d := range devices {
			if d.IsDefault {
				return d, nil
			}
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
		return Device{}, fmt.Errorf("capture: no playback devices found: %w", audio.ErrSourceUnavailable)
	}

	var index int
	if _, err := fmt.Sscanf(desc, "%d", &index); err == nil && fmt.Sprintf("%d", index) == desc {
		for _, d := range devices {
			if d.Index == index {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("capture: no device with index %d: %w", index, audio.ErrConfiguration)
	}

	lower := strings.ToLower(desc)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("capture: no device matching %q: %w", desc, audio.ErrConfiguration)
}

// Close releases the miniaudio context. Idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.mctx.Uninit(); err != nil {
		return fmt.Errorf("capture: uninit miniaudio context: %w", err)
	}
	c.mctx.Free()
	return nil
}
