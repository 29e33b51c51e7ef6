package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}

	// Audio output format
	if err := cfg.Audio.TargetFormat().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if err := cfg.Audio.StreamFormat().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio stream format: %w", err))
	}
	if cfg.Audio.StallAfterFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.stall_after_frames %d must not be negative", cfg.Audio.StallAfterFrames))
	}

	// Default source. An empty block is allowed; playback then requires an
	// explicit source on the play command.
	if cfg.Source != (SourceConfig{}) {
		if err := cfg.Source.Descriptor().Validate(); err != nil {
			errs = append(errs, err)
		}
	} else {
		slog.Warn("no default source configured; /play will require an explicit source argument")
	}

	// Reconnect tuning
	if cfg.Reconnect.BackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("reconnect.backoff_seconds %d must not be negative", cfg.Reconnect.BackoffSeconds))
	}
	if cfg.Reconnect.MaxBackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff_seconds %d must not be negative", cfg.Reconnect.MaxBackoffSeconds))
	}
	if cfg.Reconnect.MaxBackoffSeconds > 0 && cfg.Reconnect.BackoffSeconds > cfg.Reconnect.MaxBackoffSeconds {
		errs = append(errs, fmt.Errorf("reconnect.backoff_seconds %d exceeds max_backoff_seconds %d",
			cfg.Reconnect.BackoffSeconds, cfg.Reconnect.MaxBackoffSeconds))
	}
	if cfg.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must not be negative; use 0 to retry forever", cfg.Reconnect.MaxRetries))
	}
	if cfg.Reconnect.StallSeconds < 0 {
		errs = append(errs, fmt.Errorf("reconnect.stall_seconds %d must not be negative", cfg.Reconnect.StallSeconds))
	}

	return errors.Join(errs...)
}
