// Command loopcast is the main entry point for the loopcast audio bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopcast/loopcast/internal/app"
	"github.com/loopcast/loopcast/internal/config"
	discordbot "github.com/loopcast/loopcast/internal/discord"
	"github.com/loopcast/loopcast/internal/discord/commands"
	"github.com/loopcast/loopcast/internal/observe"
	"github.com/loopcast/loopcast/pkg/audio/capture"
	"github.com/loopcast/loopcast/pkg/audio/netstream"
	"github.com/loopcast/loopcast/pkg/audio/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loopcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loopcast: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("loopcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"source", cfg.Source.Descriptor().String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Device capture needs an audio backend; its absence only disables the
	// device source kind, files, URL streams and the tone still work.
	cap, err := capture.NewContext()
	if err != nil {
		slog.Warn("audio capture unavailable, device sources disabled", "err", err)
		cap = nil
	}
	if cap != nil {
		defer func() {
			if err := cap.Close(); err != nil {
				slog.Warn("capture context close error", "err", err)
			}
		}()
	}

	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:    cfg.Discord.Token,
		GuildID:  cfg.Discord.GuildID,
		DJRoleID: cfg.Discord.DJRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	factory, err := pipeline.NewFactory(cfg.Audio.TargetFormat(), cap)
	if err != nil {
		slog.Error("invalid audio configuration", "err", err)
		return 1
	}
	factory.StreamFormat = cfg.Audio.StreamFormat()
	factory.Reconnect = cfg.Reconnect.Settings()

	stats := discordbot.NewStreamStats(0)
	factory.Reconnect.OnStateChange = func(st netstream.State) {
		switch st {
		case netstream.StateConnected:
			metrics.RecordReconnect(context.Background(), true)
			stats.IncrReconnects()
		case netstream.StateFailed:
			metrics.RecordReconnect(context.Background(), false)
		}
	}

	sessions := app.NewSessionManager(app.SessionManagerConfig{
		Gateway:          bot.Session(),
		GuildID:          cfg.Discord.GuildID,
		Factory:          factory,
		Metrics:          metrics,
		Stats:            stats,
		DefaultSource:    cfg.Source.Descriptor(),
		StallAfterFrames: cfg.Audio.StallAfterFrames,
	})

	commands.NewPlaybackCommands(bot, sessions, bot.Permissions(), cap)

	var dashboard *discordbot.Dashboard
	if cfg.Discord.StatusChannelID != "" {
		dashboard = discordbot.NewDashboard(discordbot.DashboardConfig{
			Session:   bot.Session(),
			ChannelID: cfg.Discord.StatusChannelID,
			GetStatus: func() discordbot.PlaybackStatus {
				info, ok := sessions.NowPlaying()
				return discordbot.PlaybackStatus{
					Playing:   ok,
					Source:    info.Source,
					ChannelID: info.ChannelID,
					StartedAt: info.StartedAt,
				}
			},
			Stats: stats,
		})
		dashboard.Start(ctx)
	}

	application := app.New(cfg, bot, sessions, cap, metrics)
	if err := application.WatchConfig(*configPath); err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("shutdown signal received, stopping")

	// Final dashboard update goes out while the gateway is still up.
	if dashboard != nil {
		dashboard.Stop(context.Background())
	}

	// Leave the voice channel while the gateway is still connected, then
	// drop the bot session.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdownErr := application.Shutdown(shutdownCtx)

	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if shutdownErr != nil {
		slog.Error("shutdown error", "err", shutdownErr)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
