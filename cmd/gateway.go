package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/channels/telegram"
	"github.com/nextlevelbuilder/autoreply/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/engine"
	"github.com/nextlevelbuilder/autoreply/internal/gateway"
	"github.com/nextlevelbuilder/autoreply/internal/sessions"
	"github.com/nextlevelbuilder/autoreply/internal/stats"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

const drainTimeout = 30 * time.Second

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runGateway() {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		switch {
		case canAutoOnboard():
			// Docker / CI: env vars carry the credentials.
			if !runAutoOnboard(cfgPath) {
				os.Exit(1)
			}
		default:
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			runOnboard()
			return
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	warnings, err := config.Validate(cfg)
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}
	if err != nil {
		slog.Error("invalid config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if err := serve(cfgPath, cfg); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func serve(cfgPath string, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if shutdownTracing == nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	// Durable stats. A store that cannot be opened leaves counters in memory.
	durable, err := store.Open(store.Config{
		Backend:     cfg.Stats.Backend,
		Path:        cfg.StatsPath(),
		PostgresDSN: cfg.Database.PostgresDSN,
	})
	if err != nil {
		slog.Error("stats store unavailable, counters will not persist", "backend", cfg.Stats.Backend, "error", err)
	} else {
		defer durable.Close()
	}

	metrics := stats.DefaultMetrics()
	recorder := stats.NewRecorder(durable,
		stats.WithFlushEvery(cfg.Stats.FlushEvery),
		stats.WithMetrics(metrics),
		stats.OnFlush(func(c stats.Counters) {
			slog.Debug("stats flushed", "total_replies", c.TotalReplies)
		}),
	)
	if err := recorder.Load(ctx); err != nil {
		slog.Warn("failed to restore stats", "error", err)
	}

	sessStore := sessions.NewStore(cfg.Sessions.MaxSessions)
	sweeper, err := sessions.NewSweeper(sessStore, cfg.Sessions.IdleTTLDuration(), cfg.Sessions.SweepSchedule)
	if err != nil {
		return fmt.Errorf("session sweeper: %w", err)
	}

	msgBus := bus.New()
	channelMgr := channels.NewManager()
	registerChannels(cfg, msgBus, channelMgr)

	rt, err := engine.FromConfig(cfg, buildGenerator(cfg))
	if err != nil {
		return err
	}
	eng := engine.New(rt, engine.Deps{
		Sessions: sessStore,
		Stats:    recorder,
		Sink:     channelMgr,
		Events:   msgBus,
		Metrics:  metrics,
	})

	server := gateway.NewServer(cfg.Gateway, msgBus, gateway.Options{
		Channels: channelMgr,
		Sessions: sessStore,
		Stats:    recorder,
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	slog.Info("autoreply gateway starting",
		"version", Version,
		"mode", rt.Policy.Mode(),
		"channels", channelMgr.GetEnabledChannels(),
		"stats_backend", cfg.Stats.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx, msgBus)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		w := config.NewWatcher(cfgPath, cfg, func(next *config.Config) {
			reloadEngine(eng, cfg, next)
		})
		if err := w.Run(gctx); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
		return nil
	})

	runErr := g.Wait()
	slog.Info("graceful shutdown initiated")

	// Channels stay up until pending replies have been handed to them.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := eng.Drain(drainCtx); err != nil {
		slog.Warn("shutdown drain incomplete", "error", err)
	}
	if err := channelMgr.StopAll(drainCtx); err != nil {
		slog.Warn("failed to stop channels", "error", err)
	}

	recorder.Wait()
	if err := recorder.Flush(drainCtx); err != nil {
		slog.Warn("final stats flush failed", "error", err)
	}
	return runErr
}

func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, channelMgr *channels.Manager) {
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.BridgeURL != "" {
		wa, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("failed to initialize whatsapp channel", "error", err)
		} else {
			channelMgr.RegisterChannel("whatsapp", wa)
			slog.Info("whatsapp channel enabled")
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if len(channelMgr.GetEnabledChannels()) == 0 {
		slog.Warn("no channels enabled; replies have nowhere to go")
	}
}

// reloadEngine applies an edited, already validated config. Reply behaviour
// changes in place; channel, store and gateway settings need a restart.
func reloadEngine(eng *engine.Engine, live, next *config.Config) {
	rt, err := engine.FromConfig(next, buildGenerator(next))
	if err != nil {
		slog.Warn("config reload rejected", "error", err)
		return
	}
	eng.Reload(rt)

	if !sameJSON(live.Channels, next.Channels) || !sameJSON(live.Gateway, next.Gateway) || !sameJSON(live.Stats, next.Stats) {
		slog.Warn("channel, gateway or stats settings changed; restart to apply them")
	}
	live.ReplaceFrom(next)
}

func sameJSON(a, b any) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}
