package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// PlaybackStatus is the data rendered into the status embed.
type PlaybackStatus struct {
	Playing   bool
	Source    string
	ChannelID string
	StartedAt time.Time
}

// embedColorGreen is the embed sidebar color while streaming.
const embedColorGreen = 0x2ECC71

// embedColorGrey is the embed sidebar color when idle or stopped.
const embedColorGrey = 0x95A5A6

// defaultInterval is the default dashboard update interval.
const defaultInterval = 10 * time.Second

// Dashboard renders and periodically updates a Discord embed showing the
// current playback and frame pacing statistics. The embed is created on
// Start and edited in place every update interval.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	session   *discordgo.Session
	channelID string
	messageID string // embed message; created on first update
	interval  time.Duration
	getStatus func() PlaybackStatus
	stats     *StreamStats
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	Session   *discordgo.Session
	ChannelID string
	Interval  time.Duration // Default: 10 seconds
	GetStatus func() PlaybackStatus
	Stats     *StreamStats
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		session:   cfg.Session,
		channelID: cfg.ChannelID,
		interval:  interval,
		getStatus: cfg.GetStatus,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// Stats returns the stream stats collector for this dashboard, allowing
// callers to record frame and reconnect observations.
func (d *Dashboard) Stats() *StreamStats {
	return d.stats
}

// Start begins the periodic update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the periodic update loop and posts a final "stopped" embed.
func (d *Dashboard) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		close(d.done)
		d.postFinalEmbed(ctx)
	})
}

// loop runs the periodic embed update until Stop is called or ctx is cancelled.
func (d *Dashboard) loop(ctx context.Context) {
	// Post immediately on start.
	d.update(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.update(ctx)
		}
	}
}

// update builds the embed from current data and creates or edits the message.
func (d *Dashboard) update(_ context.Context) {
	status := d.getStatus()
	var snap Snapshot
	if d.stats != nil {
		snap = d.stats.Snapshot()
	}
	embed := buildStatusEmbed(status, snap)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.session.ChannelMessageSendEmbed(d.channelID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "channel", d.channelID)
	} else {
		_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
		}
	}
}

// postFinalEmbed edits the embed into its "stopped" form.
func (d *Dashboard) postFinalEmbed(_ context.Context) {
	var snap Snapshot
	if d.stats != nil {
		snap = d.stats.Snapshot()
	}
	embed := buildStoppedEmbed(snap)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		return
	}
	_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
	if err != nil {
		slog.Warn("dashboard: failed to post final embed", "message_id", d.messageID, "err", err)
	}
}

// buildStatusEmbed creates the live status embed from playback data and
// frame stats.
func buildStatusEmbed(status PlaybackStatus, snap Snapshot) *discordgo.MessageEmbed {
	if !status.Playing {
		return &discordgo.MessageEmbed{
			Title:       "Stream Status",
			Description: "Idle.",
			Color:       embedColorGrey,
			Fields:      statsFields(snap),
			Footer:      &discordgo.MessageEmbedFooter{Text: "Not streaming"},
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Source", Value: status.Source, Inline: true},
		{Name: "Channel", Value: fmt.Sprintf("<#%s>", status.ChannelID), Inline: true},
		{Name: "Uptime", Value: formatDuration(time.Since(status.StartedAt)), Inline: true},
	}
	fields = append(fields, statsFields(snap)...)

	if latency := formatLatencyField(snap); latency != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Frame Read Latency",
			Value:  latency,
			Inline: false,
		})
	}

	return &discordgo.MessageEmbed{
		Title:     "Stream Status",
		Color:     embedColorGreen,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Live"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// buildStoppedEmbed creates the final "stream stopped" embed.
func buildStoppedEmbed(snap Snapshot) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Stream Status",
		Description: "Streaming has stopped.",
		Color:       embedColorGrey,
		Fields:      statsFields(snap),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Stopped"},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// statsFields renders the frame counters shared by all embed variants.
func statsFields(snap Snapshot) []*discordgo.MessageEmbedField {
	silence := fmt.Sprintf("%d", snap.Silence)
	if snap.Frames > 0 && snap.Silence > 0 {
		silence = fmt.Sprintf("%d (%.1f%%)", snap.Silence, 100*float64(snap.Silence)/float64(snap.Frames))
	}
	return []*discordgo.MessageEmbedField{
		{Name: "Frames", Value: fmt.Sprintf("%d", snap.Frames), Inline: true},
		{Name: "Silence", Value: silence, Inline: true},
		{Name: "Reconnects", Value: fmt.Sprintf("%d", snap.Reconnects), Inline: true},
	}
}

// formatLatencyField builds a compact string showing frame-read latency
// percentiles. Returns empty string if no samples are available.
func formatLatencyField(snap Snapshot) string {
	if snap.FrameRead.P50 == 0 && snap.FrameRead.P95 == 0 {
		return ""
	}
	var result strings.Builder
	result.WriteString("```\n")
	fmt.Fprintf(&result, "p50=%s p95=%s\n", formatMs(snap.FrameRead.P50), formatMs(snap.FrameRead.P95))
	result.WriteString("```")
	return result.String()
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.1fms", ms)
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
