// Package commands implements Discord slash command handlers for loopcast.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/loopcast/loopcast/internal/app"
	"github.com/loopcast/loopcast/internal/discord"
	"github.com/loopcast/loopcast/pkg/audio/capture"
	"github.com/loopcast/loopcast/pkg/audio/pipeline"
)

// playTimeout bounds how long /play waits for a source to open.
const playTimeout = 30 * time.Second

// PlaybackCommands holds the dependencies for the playback slash commands.
type PlaybackCommands struct {
	sessions *app.SessionManager
	perms    *discord.PermissionChecker
	bot      *discord.Bot

	// capture is nil when no audio backend is available; /sources and
	// device autocomplete degrade gracefully.
	capture *capture.Context
}

// NewPlaybackCommands creates a PlaybackCommands and registers its handlers
// with the bot's router.
func NewPlaybackCommands(bot *discord.Bot, sessions *app.SessionManager, perms *discord.PermissionChecker, cap *capture.Context) *PlaybackCommands {
	pc := &PlaybackCommands{
		sessions: sessions,
		perms:    perms,
		bot:      bot,
		capture:  cap,
	}
	pc.Register(bot.Router())
	return pc
}

// Register registers all playback commands with the router.
func (pc *PlaybackCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your current voice channel",
	}, pc.handleJoin)

	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Stop playback and leave the voice channel",
	}, pc.handleLeave)

	router.RegisterCommand("play", &discordgo.ApplicationCommand{
		Name:        "play",
		Description: "Start streaming audio into the voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         "source",
				Description:  "What to play: device[:name], file:/path, url:http://..., or tone (default: configured source)",
				Required:     false,
				Autocomplete: true,
			},
		},
	}, pc.handlePlay)
	router.RegisterAutocomplete("play", pc.autocompleteSource)

	router.RegisterCommand("stop", &discordgo.ApplicationCommand{
		Name:        "stop",
		Description: "Stop the current playback",
	}, pc.handleStop)

	router.RegisterCommand("sources", &discordgo.ApplicationCommand{
		Name:        "sources",
		Description: "List available capture devices",
	}, pc.handleSources)

	router.RegisterCommand("nowplaying", &discordgo.ApplicationCommand{
		Name:        "nowplaying",
		Description: "Show what is currently playing",
	}, pc.handleNowPlaying)
}

// handleJoin handles /join.
func (pc *PlaybackCommands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !pc.perms.IsDJ(i) {
		discord.RespondEphemeral(s, i, "You need the DJ role to do that.")
		return
	}

	guildID := pc.bot.GuildID()
	userID := interactionUserID(i)
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		discord.RespondEphemeral(s, i, "You must be in a voice channel first.")
		return
	}

	if err := pc.sessions.Join(vs.ChannelID); err != nil {
		discord.RespondError(s, i, fmt.Errorf("commands: join voice channel: %w", err))
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("Joined <#%s>.", vs.ChannelID))
}

// handleLeave handles /leave.
func (pc *PlaybackCommands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !pc.perms.IsDJ(i) {
		discord.RespondEphemeral(s, i, "You need the DJ role to do that.")
		return
	}

	if _, ok := pc.sessions.Joined(); !ok {
		discord.RespondEphemeral(s, i, "Not in a voice channel.")
		return
	}

	if err := pc.sessions.Leave(); err != nil {
		discord.RespondError(s, i, fmt.Errorf("commands: leave voice channel: %w", err))
		return
	}
	discord.RespondEphemeral(s, i, "Left the voice channel.")
}

// handlePlay handles /play. Opening a source can block on device init,
// process startup, or a network dial, so the reply is deferred.
func (pc *PlaybackCommands) handlePlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !pc.perms.IsDJ(i) {
		discord.RespondEphemeral(s, i, "You need the DJ role to do that.")
		return
	}

	var desc pipeline.Descriptor
	if raw := optionString(i, "source"); raw != "" {
		parsed, err := ParseDescriptor(raw)
		if err != nil {
			discord.RespondEphemeral(s, i, fmt.Sprintf("Invalid source %q: %v", raw, err))
			return
		}
		desc = parsed
	}

	if _, ok := pc.sessions.Joined(); !ok {
		// Not yet in a channel; follow the caller if possible.
		guildID := pc.bot.GuildID()
		vs, err := s.State.VoiceState(guildID, interactionUserID(i))
		if err != nil || vs == nil || vs.ChannelID == "" {
			discord.RespondEphemeral(s, i, "Join a voice channel (or use /join) first.")
			return
		}
		if err := pc.sessions.Join(vs.ChannelID); err != nil {
			discord.RespondError(s, i, fmt.Errorf("commands: join voice channel: %w", err))
			return
		}
	}

	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	if err := pc.sessions.Play(ctx, desc, interactionUserID(i)); err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Could not start playback: %v", err))
		return
	}

	info, _ := pc.sessions.NowPlaying()
	discord.FollowUp(s, i, fmt.Sprintf("Now playing **%s**.", info.Source))
}

// handleStop handles /stop.
func (pc *PlaybackCommands) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !pc.perms.IsDJ(i) {
		discord.RespondEphemeral(s, i, "You need the DJ role to do that.")
		return
	}

	if !pc.sessions.Stop() {
		discord.RespondEphemeral(s, i, "Nothing is playing.")
		return
	}
	discord.RespondEphemeral(s, i, "Playback stopped.")
}

// handleSources handles /sources.
func (pc *PlaybackCommands) handleSources(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if pc.capture == nil {
		discord.RespondEphemeral(s, i, "Device capture is not available on this host.")
		return
	}

	devices, err := pc.capture.Devices()
	if err != nil {
		discord.RespondError(s, i, fmt.Errorf("commands: list capture devices: %w", err))
		return
	}
	if len(devices) == 0 {
		discord.RespondEphemeral(s, i, "No capture devices found.")
		return
	}

	var b strings.Builder
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " (default)"
		}
		fmt.Fprintf(&b, "`%d` %s%s\n", d.Index, d.Name, marker)
	}
	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Capture devices",
		Description: b.String(),
		Color:       0x5865F2,
	})
}

// handleNowPlaying handles /nowplaying.
func (pc *PlaybackCommands) handleNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	info, ok := pc.sessions.NowPlaying()
	if !ok {
		discord.RespondEphemeral(s, i, "Nothing is playing.")
		return
	}

	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "Now playing",
		Color: 0x57F287,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Source", Value: info.Source, Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", info.ChannelID), Inline: true},
			{Name: "Started by", Value: fmt.Sprintf("<@%s>", info.StartedBy), Inline: true},
			{Name: "Uptime", Value: time.Since(info.StartedAt).Truncate(time.Second).String(), Inline: true},
		},
	})
}

// autocompleteSource answers autocomplete requests for the /play source
// option.
func (pc *PlaybackCommands) autocompleteSource(s *discordgo.Session, i *discordgo.InteractionCreate) {
	discord.RespondChoices(s, i, pc.sourceChoices(i))
}

// sourceChoices suggests sources for the /play source option: the fixed
// kinds plus one entry per capture device.
func (pc *PlaybackCommands) sourceChoices(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandOptionChoice {
	typed := strings.ToLower(optionString(i, "source"))

	candidates := []string{"tone", "device"}
	if pc.capture != nil {
		if devices, err := pc.capture.Devices(); err == nil {
			for _, d := range devices {
				candidates = append(candidates, "device:"+d.Name)
			}
		}
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, c := range candidates {
		if typed != "" && !strings.Contains(strings.ToLower(c), typed) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: c, Value: c})
		if len(choices) == 25 {
			// Discord caps autocomplete responses at 25 choices.
			break
		}
	}
	return choices
}

// ParseDescriptor parses the /play source argument into a descriptor.
// Accepted forms:
//
//	tone
//	device            (default capture device)
//	device:<selector> (index or name substring)
//	file:<path>
//	url:<http url>    (http:// and https:// also accepted bare)
func ParseDescriptor(raw string) (pipeline.Descriptor, error) {
	raw = strings.TrimSpace(raw)

	var desc pipeline.Descriptor
	switch {
	case raw == "tone":
		desc = pipeline.Descriptor{Type: pipeline.SourceTone}
	case raw == "device":
		desc = pipeline.Descriptor{Type: pipeline.SourceDevice}
	case strings.HasPrefix(raw, "device:"):
		desc = pipeline.Descriptor{Type: pipeline.SourceDevice, Device: strings.TrimPrefix(raw, "device:")}
	case strings.HasPrefix(raw, "file:"):
		desc = pipeline.Descriptor{Type: pipeline.SourceFile, Path: strings.TrimPrefix(raw, "file:")}
	case strings.HasPrefix(raw, "url:"):
		desc = pipeline.Descriptor{Type: pipeline.SourceURL, URL: strings.TrimPrefix(raw, "url:")}
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		desc = pipeline.Descriptor{Type: pipeline.SourceURL, URL: raw}
	default:
		return pipeline.Descriptor{}, errors.New("expected tone, device[:selector], file:<path>, or url:<url>")
	}

	if err := desc.Validate(); err != nil {
		return pipeline.Descriptor{}, err
	}
	return desc, nil
}

// optionString returns the named string option from the interaction, or ""
// when absent.
func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
