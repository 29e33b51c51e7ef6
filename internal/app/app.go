// Package app wires the loopcast subsystems into a running application.
//
// The App owns the ambient services around the audio pipeline: the
// metrics/health HTTP server, the config file watcher, and the Discord bot
// run loop. The playback path itself lives in [SessionManager].
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/loopcast/loopcast/internal/config"
	discordbot "github.com/loopcast/loopcast/internal/discord"
	"github.com/loopcast/loopcast/internal/health"
	"github.com/loopcast/loopcast/internal/observe"
	"github.com/loopcast/loopcast/pkg/audio/capture"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 5 * time.Second

// App owns the ambient subsystem lifetimes: HTTP server, config watcher,
// and the Discord bot run loop.
type App struct {
	cfg      *config.Config
	bot      *discordbot.Bot
	sessions *SessionManager

	httpSrv *http.Server
	watcher *config.Watcher

	stopOnce sync.Once
}

// New assembles the App. The bot and session manager are constructed by the
// caller; cap may be nil on hosts without audio devices.
func New(cfg *config.Config, bot *discordbot.Bot, sessions *SessionManager, cap *capture.Context, metrics *observe.Metrics) *App {
	a := &App{
		cfg:      cfg,
		bot:      bot,
		sessions: sessions,
	}

	if cfg.Server.ListenAddr != "" {
		checkers := []health.Checker{
			{Name: "discord", Check: func(context.Context) error { return bot.Ready() }},
		}
		if cap != nil {
			checkers = append(checkers, health.Checker{
				Name: "capture",
				Check: func(context.Context) error {
					_, err := cap.Devices()
					return err
				},
			})
		}

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(checkers...).Register(mux)

		a.httpSrv = &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: observe.Middleware(metrics)(mux),
		}
	}

	return a
}

// WatchConfig starts polling the config file at path, applying playback
// defaults from valid reloads to the loaded session manager.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, func(_, next *config.Config) {
		a.sessions.SetDefaults(next.Source.Descriptor(), next.Reconnect.Settings())
	})
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Run blocks serving HTTP and the Discord interaction loop until ctx is
// cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bot.Run(ctx)
	})

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Shutdown tears down playback, the voice connection, and the config
// watcher. The bot session is closed by the caller after Shutdown so that
// the gateway stays up while the voice channel is left cleanly.
func (a *App) Shutdown(context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		err = a.sessions.Leave()
		slog.Info("app shutdown complete")
	})
	return err
}
