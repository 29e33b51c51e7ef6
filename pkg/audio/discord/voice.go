// Package discord streams the pipeline's fixed-size PCM frames into a
// Discord voice channel via the bwmarrin/discordgo library, encoding each
// frame to Opus with layeh.com/gopus.
//
// The package requires an active *discordgo.Session (owned by the bot
// layer). [Join] connects to a voice channel and returns a [Voice] whose
// Play loop pulls one frame every 20 ms and pushes it onto the voice
// connection's Opus send channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// frameInterval is the send cadence. Discord voice expects one Opus packet
// per 20 ms.
const frameInterval = opusFrameSizeMs * time.Millisecond

// FrameReader is the upstream side of the pull loop. ReadFrame must return
// exactly one PCM frame of opusFrameBytes bytes within one frame period, or
// io.EOF when playback is over.
type FrameReader interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Voice is an active voice-channel connection ready to stream audio.
//
// Voice is safe for concurrent use, but only one Play loop may run at a time.
type Voice struct {
	channelID string

	// opusSend, speaking and disconnect default to the underlying
	// *discordgo.VoiceConnection; tests override them.
	opusSend   chan<- []byte
	speaking   func(bool) error
	disconnect func() error

	mu      sync.Mutex
	playing bool

	closeOnce sync.Once
	closeErr  error
}

// Join connects to the voice channel identified by channelID: muted=false
// (we send audio), deaf=true (we never consume incoming audio).
func Join(session *discordgo.Session, guildID, channelID string) (*Voice, error) {
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return &Voice{
		channelID:  channelID,
		opusSend:   vc.OpusSend,
		speaking:   vc.Speaking,
		disconnect: vc.Disconnect,
	}, nil
}

// Play pulls PCM frames from src at the 20 ms voice cadence, encodes them to
// Opus and sends them to Discord. It returns nil when src reports io.EOF,
// ctx.Err() on cancellation, and the underlying error if the encoder fails
// to initialise. Only one Play loop may run per Voice at a time.
func (v *Voice) Play(ctx context.Context, src FrameReader) error {
	v.mu.Lock()
	if v.playing {
		v.mu.Unlock()
		return errors.New("discord: already playing on this connection")
	}
	v.playing = true
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.playing = false
		v.mu.Unlock()
	}()

	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	v.setSpeaking(true)
	defer v.setSpeaking(false)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := src.ReadFrame(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return fmt.Errorf("discord: read frame: %w", err)
		}

		opus, err := enc.encode(frame)
		if err != nil {
			slog.Warn("discord: opus encode error", "error", err)
			continue
		}

		select {
		case v.opusSend <- opus:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ChannelID returns the joined voice channel's ID.
func (v *Voice) ChannelID() string {
	return v.channelID
}

// Leave disconnects from the voice channel. Safe to call more than once;
// subsequent calls return the first call's result.
func (v *Voice) Leave() error {
	v.closeOnce.Do(func() {
		v.closeErr = v.disconnect()
	})
	return v.closeErr
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (v *Voice) setSpeaking(b bool) {
	if err := v.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
