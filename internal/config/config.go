// Package config provides the configuration schema and loader for the
// loopcast streaming bot.
package config

import (
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
	"github.com/loopcast/loopcast/pkg/audio/netstream"
	"github.com/loopcast/loopcast/pkg/audio/pipeline"
)

// LogLevel controls log verbosity for the loopcast process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for loopcast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Audio     AudioConfig     `yaml:"audio"`
	Source    SourceConfig    `yaml:"source"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds network and logging settings for the metrics/health
// HTTP endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and guild scoping.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID restricts the bot to a single guild. Slash commands are
	// registered against this guild only, which makes them available
	// immediately instead of after global propagation.
	GuildID string `yaml:"guild_id"`

	// DJRoleID is the Discord role ID required to control playback. Empty
	// means any member may use the commands.
	DJRoleID string `yaml:"dj_role_id"`

	// StatusChannelID names a text channel for the live status embed.
	// Empty disables the dashboard.
	StatusChannelID string `yaml:"status_channel_id"`
}

// AudioConfig tunes the pipeline's output and stream-ingest formats.
type AudioConfig struct {
	// SampleRate of the frames sent to Discord. Defaults to 48000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the frames sent to Discord. Defaults to 2.
	Channels int `yaml:"channels"`

	// FrameMillis is the frame duration in milliseconds. Defaults to 20.
	FrameMillis int `yaml:"frame_millis"`

	// StreamSampleRate is the PCM rate remote URL streams carry.
	// Defaults to the output sample rate.
	StreamSampleRate int `yaml:"stream_sample_rate"`

	// StreamChannels is the channel count remote URL streams carry.
	// Defaults to the output channel count.
	StreamChannels int `yaml:"stream_channels"`

	// StallAfterFrames reports a stalled session after this many
	// consecutive silence frames. Zero disables stall reporting.
	StallAfterFrames int `yaml:"stall_after_frames"`
}

// TargetFormat returns the output format the pipeline emits. Bit depth is
// always 16; Discord voice is 16-bit PCM.
func (a AudioConfig) TargetFormat() audio.Format {
	f := audio.DiscordVoice
	if a.SampleRate > 0 {
		f.SampleRate = a.SampleRate
	}
	if a.Channels > 0 {
		f.Channels = a.Channels
	}
	if a.FrameMillis > 0 {
		f.FrameDuration = time.Duration(a.FrameMillis) * time.Millisecond
	}
	return f
}

// StreamFormat returns the PCM format assumed for remote URL streams.
func (a AudioConfig) StreamFormat() audio.Format {
	f := a.TargetFormat()
	if a.StreamSampleRate > 0 {
		f.SampleRate = a.StreamSampleRate
	}
	if a.StreamChannels > 0 {
		f.Channels = a.StreamChannels
	}
	return f
}

// SourceConfig names the default audio source, mirroring
// [pipeline.Descriptor].
type SourceConfig struct {
	// Type is one of "device", "file", "url", "tone".
	Type string `yaml:"type"`

	// Device selects a capture device: empty for the default device, a
	// decimal index, or a case-insensitive name substring.
	Device string `yaml:"device"`

	// Path is the local file for file sources.
	Path string `yaml:"path"`

	// URL is the stream endpoint for url sources.
	URL string `yaml:"url"`
}

// Descriptor converts the config block into a pipeline descriptor.
func (s SourceConfig) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Type:   pipeline.SourceType(s.Type),
		Device: s.Device,
		Path:   s.Path,
		URL:    s.URL,
	}
}

// ReconnectConfig tunes the network-stream reconnect behaviour.
type ReconnectConfig struct {
	// BackoffSeconds is the initial delay between reconnect attempts.
	// Defaults to 1.
	BackoffSeconds int `yaml:"backoff_seconds"`

	// MaxBackoffSeconds caps the backoff growth. Defaults to 30.
	MaxBackoffSeconds int `yaml:"max_backoff_seconds"`

	// MaxRetries bounds consecutive failed attempts before the stream is
	// treated as ended. Zero retries forever.
	MaxRetries int `yaml:"max_retries"`

	// StallSeconds is how long a connected stream may deliver nothing
	// before a reconnect is forced. Defaults to 5.
	StallSeconds int `yaml:"stall_seconds"`
}

// Settings converts the config block into the netstream tuning struct,
// leaving zeroes for the package defaults to fill in.
func (r ReconnectConfig) Settings() netstream.ReconnectConfig {
	return netstream.ReconnectConfig{
		Backoff:        time.Duration(r.BackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(r.MaxBackoffSeconds) * time.Second,
		MaxRetries:     r.MaxRetries,
		StallThreshold: time.Duration(r.StallSeconds) * time.Second,
	}
}
