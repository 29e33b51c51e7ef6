package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	discordbot "github.com/loopcast/loopcast/internal/discord"
	"github.com/loopcast/loopcast/internal/observe"
	"github.com/loopcast/loopcast/pkg/audio/discord"
	"github.com/loopcast/loopcast/pkg/audio/netstream"
	"github.com/loopcast/loopcast/pkg/audio/pipeline"
)

// PlaybackInfo holds metadata about the active playback.
type PlaybackInfo struct {
	// Source describes what is playing (e.g. "url: http://...").
	Source string

	// StartedAt is when playback began.
	StartedAt time.Time

	// StartedBy is the Discord user ID who started playback.
	StartedBy string

	// ChannelID is the voice channel the audio goes to.
	ChannelID string
}

// voiceConn is the slice of [discord.Voice] the manager drives. Tests
// substitute a fake.
type voiceConn interface {
	Play(ctx context.Context, src discord.FrameReader) error
	ChannelID() string
	Leave() error
}

// SessionManager owns the voice connection and at most one playback session.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	// opMu serialises Join/Leave/Play/Stop. It may be held across a wait
	// for the play loop to drain.
	opMu sync.Mutex

	// mu guards the state fields below. Never held while waiting.
	mu          sync.Mutex
	voice       voiceConn
	current     *pipeline.Session
	cancel      context.CancelFunc
	playDone    chan struct{}
	info        PlaybackInfo
	defaultDesc pipeline.Descriptor

	// Dependencies injected at construction.
	gateway    *discordgo.Session
	guildID    string
	factory    *pipeline.Factory
	metrics    *observe.Metrics
	stats      *discordbot.StreamStats
	stallAfter int

	// joinVoice is called to join a voice channel. Defaults to
	// [discord.Join]; overridden in tests.
	joinVoice func(channelID string) (voiceConn, error)
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Gateway *discordgo.Session
	GuildID string
	Factory *pipeline.Factory
	Metrics *observe.Metrics

	// Stats feeds the status dashboard. May be nil.
	Stats *discordbot.StreamStats

	// DefaultSource is played when no explicit source is given.
	DefaultSource pipeline.Descriptor

	// StallAfterFrames reports a stalled session after this many
	// consecutive silence frames. Zero disables the report.
	StallAfterFrames int
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		gateway:     cfg.Gateway,
		guildID:     cfg.GuildID,
		factory:     cfg.Factory,
		metrics:     cfg.Metrics,
		stats:       cfg.Stats,
		defaultDesc: cfg.DefaultSource,
		stallAfter:  cfg.StallAfterFrames,
	}
	sm.joinVoice = func(channelID string) (voiceConn, error) {
		return discord.Join(sm.gateway, sm.guildID, channelID)
	}
	return sm
}

// Join connects to the given voice channel. When already connected to a
// different channel, playback is stopped and the old channel is left first.
func (sm *SessionManager) Join(channelID string) error {
	sm.opMu.Lock()
	defer sm.opMu.Unlock()

	sm.mu.Lock()
	voice := sm.voice
	sm.mu.Unlock()

	if voice != nil {
		if voice.ChannelID() == channelID {
			return nil
		}
		sm.stopPlayback()
		if err := voice.Leave(); err != nil {
			slog.Warn("app: leave previous voice channel", "err", err)
		}
		sm.mu.Lock()
		sm.voice = nil
		sm.mu.Unlock()
	}

	v, err := sm.joinVoice(channelID)
	if err != nil {
		return err
	}
	sm.mu.Lock()
	sm.voice = v
	sm.mu.Unlock()

	slog.Info("app: joined voice channel", "channel", channelID)
	return nil
}

// Leave stops playback and disconnects from the voice channel. Calling it
// while not connected is a no-op.
func (sm *SessionManager) Leave() error {
	sm.opMu.Lock()
	defer sm.opMu.Unlock()

	sm.mu.Lock()
	voice := sm.voice
	sm.voice = nil
	sm.mu.Unlock()

	if voice == nil {
		return nil
	}
	sm.stopPlayback()
	err := voice.Leave()
	slog.Info("app: left voice channel")
	return err
}

// Play starts streaming the described source into the joined voice channel,
// replacing any playback already running. A zero descriptor selects the
// configured default source. startedBy is recorded for /nowplaying.
func (sm *SessionManager) Play(ctx context.Context, desc pipeline.Descriptor, startedBy string) error {
	sm.opMu.Lock()
	defer sm.opMu.Unlock()

	sm.mu.Lock()
	voice := sm.voice
	if desc == (pipeline.Descriptor{}) {
		desc = sm.defaultDesc
	}
	sm.mu.Unlock()

	if voice == nil {
		return fmt.Errorf("app: not connected to a voice channel; use /join first")
	}
	if desc == (pipeline.Descriptor{}) {
		return fmt.Errorf("app: no source given and no default source configured")
	}

	// Replace whatever is playing.
	sm.stopPlayback()

	ctx, span := observe.StartSpan(ctx, "session.start")
	defer span.End()

	pipe, err := sm.factory.New(desc)
	if err != nil {
		sm.metrics.RecordSessionStart(ctx, string(desc.Type), "config_error")
		return err
	}

	sess := pipeline.NewSession(pipe, pipeline.WithStallPolicy(sm.stallAfter, func(streak int) {
		slog.Warn("app: playback stalled", "source", pipe.Describe(), "silence_frames", streak)
	}))

	if err := sess.Start(ctx); err != nil {
		sm.metrics.RecordSessionStart(ctx, string(desc.Type), "open_error")
		return err
	}
	sm.metrics.RecordSessionStart(ctx, string(desc.Type), "ok")

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	sm.mu.Lock()
	sm.current = sess
	sm.cancel = cancel
	sm.playDone = done
	sm.info = PlaybackInfo{
		Source:    sess.Describe(),
		StartedAt: time.Now(),
		StartedBy: startedBy,
		ChannelID: voice.ChannelID(),
	}
	sm.mu.Unlock()

	sourceType := string(desc.Type)
	go func() {
		defer close(done)
		defer cancel()

		reader := &meteredReader{
			sess:    sess,
			metrics: sm.metrics,
			stats:   sm.stats,
			source:  sourceType,
		}
		if err := voice.Play(playCtx, reader); err != nil && playCtx.Err() == nil {
			slog.Error("app: playback loop failed", "source", sess.Describe(), "err", err)
		}
		sess.Stop()
		sm.metrics.RecordSessionEnd(context.WithoutCancel(playCtx))

		sm.mu.Lock()
		if sm.current == sess {
			sm.current = nil
			sm.cancel = nil
		}
		sm.mu.Unlock()
	}()

	slog.Info("app: playback started", "source", sess.Describe(), "by", startedBy)
	return nil
}

// Stop ends the current playback but stays in the voice channel. Returns
// false when nothing was playing.
func (sm *SessionManager) Stop() bool {
	sm.opMu.Lock()
	defer sm.opMu.Unlock()
	return sm.stopPlayback()
}

// stopPlayback cancels the play loop and waits for it to drain. Must be
// called with opMu held.
func (sm *SessionManager) stopPlayback() bool {
	sm.mu.Lock()
	sess := sm.current
	cancel := sm.cancel
	done := sm.playDone
	sm.current = nil
	sm.cancel = nil
	sm.mu.Unlock()

	if sess == nil {
		return false
	}
	if cancel != nil {
		cancel()
	}
	sess.Stop()

	// The play loop reacts to cancellation within one frame period.
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			slog.Warn("app: playback loop slow to stop")
		}
	}
	return true
}

// NowPlaying reports the active playback, if any.
func (sm *SessionManager) NowPlaying() (PlaybackInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == nil {
		return PlaybackInfo{}, false
	}
	return sm.info, true
}

// Joined reports whether the manager holds a voice connection, and to which
// channel.
func (sm *SessionManager) Joined() (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.voice == nil {
		return "", false
	}
	return sm.voice.ChannelID(), true
}

// SetDefaults applies reloaded playback settings. The new default source and
// reconnect tuning take effect on the next Play.
func (sm *SessionManager) SetDefaults(desc pipeline.Descriptor, reconnect netstream.ReconnectConfig) {
	sm.opMu.Lock()
	defer sm.opMu.Unlock()
	sm.mu.Lock()
	sm.defaultDesc = desc
	sm.mu.Unlock()
	// The state hook is wiring, not tuning; reloads must not drop it.
	reconnect.OnStateChange = sm.factory.Reconnect.OnStateChange
	// factory.New only runs under opMu, so this write is ordered with it.
	sm.factory.Reconnect = reconnect
}

// meteredReader adapts a [pipeline.Session] to the voice transport's
// FrameReader while recording per-frame metrics. It is used by a single
// goroutine.
type meteredReader struct {
	sess       *pipeline.Session
	metrics    *observe.Metrics
	stats      *discordbot.StreamStats
	source     string
	prevStreak int
}

// ReadFrame implements [discord.FrameReader].
func (r *meteredReader) ReadFrame(ctx context.Context) ([]byte, error) {
	start := time.Now()
	frame, err := r.sess.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	// The silence streak grows by one exactly when this frame was padding.
	streak := r.sess.SilenceStreak()
	silence := streak > r.prevStreak
	r.prevStreak = streak

	r.metrics.RecordFrame(ctx, r.source, elapsed, silence)
	if r.stats != nil {
		r.stats.RecordFrame(elapsed, silence)
	}
	return frame, nil
}
