package config

import (
	"strings"
	"testing"
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
	"github.com/loopcast/loopcast/pkg/audio/pipeline"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
discord:
  token: "bot-token"
  guild_id: "123"
  dj_role_id: "456"
  status_channel_id: "789"
audio:
  stall_after_frames: 250
source:
  type: url
  url: "http://radio.local:8000/stream"
reconnect:
  backoff_seconds: 2
  max_backoff_seconds: 60
  max_retries: 10
  stall_seconds: 5
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Discord.Token != "bot-token" || cfg.Discord.GuildID != "123" {
		t.Errorf("discord block = %+v", cfg.Discord)
	}
	if cfg.Discord.StatusChannelID != "789" {
		t.Errorf("StatusChannelID = %q", cfg.Discord.StatusChannelID)
	}
	if cfg.Audio.StallAfterFrames != 250 {
		t.Errorf("StallAfterFrames = %d", cfg.Audio.StallAfterFrames)
	}

	desc := cfg.Source.Descriptor()
	if desc.Type != pipeline.SourceURL || desc.URL != "http://radio.local:8000/stream" {
		t.Errorf("descriptor = %+v", desc)
	}

	rc := cfg.Reconnect.Settings()
	if rc.Backoff != 2*time.Second || rc.MaxBackoff != 60*time.Second {
		t.Errorf("reconnect settings = %+v", rc)
	}
	if rc.MaxRetries != 10 || rc.StallThreshold != 5*time.Second {
		t.Errorf("reconnect settings = %+v", rc)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
discord:
  token: "t"
  guild_id: "g"
  api_key: "oops"
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadFromReader_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "missing token",
			yaml:    "discord:\n  guild_id: \"g\"\n",
			wantMsg: "discord.token is required",
		},
		{
			name:    "missing guild",
			yaml:    "discord:\n  token: \"t\"\n",
			wantMsg: "discord.guild_id is required",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\ndiscord:\n  token: \"t\"\n  guild_id: \"g\"\n",
			wantMsg: "server.log_level",
		},
		{
			name:    "negative stall frames",
			yaml:    "discord:\n  token: \"t\"\n  guild_id: \"g\"\naudio:\n  stall_after_frames: -1\n",
			wantMsg: "stall_after_frames",
		},
		{
			name:    "bad source",
			yaml:    "discord:\n  token: \"t\"\n  guild_id: \"g\"\nsource:\n  type: file\n",
			wantMsg: "file source needs a path",
		},
		{
			name: "backoff exceeds max",
			yaml: "discord:\n  token: \"t\"\n  guild_id: \"g\"\nreconnect:\n" +
				"  backoff_seconds: 60\n  max_backoff_seconds: 10\n",
			wantMsg: "exceeds max_backoff_seconds",
		},
		{
			name:    "negative retries",
			yaml:    "discord:\n  token: \"t\"\n  guild_id: \"g\"\nreconnect:\n  max_retries: -1\n",
			wantMsg: "max_retries",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("config accepted, want validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoadFromReader_EmptySourceAllowed(t *testing.T) {
	yaml := "discord:\n  token: \"t\"\n  guild_id: \"g\"\n"
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Source != (SourceConfig{}) {
		t.Errorf("source block = %+v, want empty", cfg.Source)
	}
}

func TestAudioConfig_TargetFormatDefaults(t *testing.T) {
	var a AudioConfig
	if got := a.TargetFormat(); got != audio.DiscordVoice {
		t.Errorf("TargetFormat() = %+v, want DiscordVoice", got)
	}

	a = AudioConfig{SampleRate: 44100, Channels: 1, FrameMillis: 40}
	got := a.TargetFormat()
	if got.SampleRate != 44100 || got.Channels != 1 || got.FrameDuration != 40*time.Millisecond {
		t.Errorf("TargetFormat() = %+v", got)
	}
	if got.BitDepth != 16 {
		t.Errorf("BitDepth = %d, want 16", got.BitDepth)
	}
}

func TestAudioConfig_StreamFormatOverride(t *testing.T) {
	a := AudioConfig{StreamSampleRate: 44100, StreamChannels: 1}
	got := a.StreamFormat()
	if got.SampleRate != 44100 || got.Channels != 1 {
		t.Errorf("StreamFormat() = %+v", got)
	}
	if tgt := a.TargetFormat(); tgt != audio.DiscordVoice {
		t.Errorf("TargetFormat() changed by stream overrides: %+v", tgt)
	}
}
