// Command trackid is the music identification bot for one Twitch channel.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Joins the channel's chat and answers the !track family of commands.
//   - Records short audio clips of the live stream, fingerprints them and keeps
//     the day's deduplicated setlist on disk (optionally mirrored to Postgres and
//     published over MQTT).
//   - Watches the stream's live status and shuts down once it has been offline
//     for the configured grace period.
//   - Exposes /healthz, /readyz, /status, /setlist and /metrics over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/trackid/acrcloud"
	"github.com/onnwee/trackid/capture"
	"github.com/onnwee/trackid/chat"
	"github.com/onnwee/trackid/config"
	"github.com/onnwee/trackid/db"
	"github.com/onnwee/trackid/identify"
	"github.com/onnwee/trackid/nowplaying"
	"github.com/onnwee/trackid/server"
	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/telemetry"
	"github.com/onnwee/trackid/tunnel"
	"github.com/onnwee/trackid/twitchapi"
)

const version = "1.0.0"

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load(".env")
	telemetry.SetupLogging(os.Stdout)

	if err := run(); err != nil {
		slog.Error("trackid exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateChatReady(); err != nil {
		return err
	}
	if err := cfg.ValidateIdentifyReady(); err != nil {
		return err
	}

	telemetry.Init()
	// no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set
	shutdownTracing, err := telemetry.InitTracing("trackid", version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := setlist.Open(cfg.DataDir, cfg.TwitchChannel, time.Now())
	if err != nil {
		return err
	}
	telemetry.SetSetlistSize(store.Len())

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}

	station, err := capture.NewStation(cfg.TwitchChannel, cfg.DataDir, cfg.CaptureQuality, capture.StreamlinkLauncher())
	if err != nil {
		return err
	}
	station.SizeThreshold = cfg.CaptureSizeThreshold
	station.StartupGrace = cfg.CaptureStartupGrace
	// clips of an earlier run that never got discarded
	if _, err := station.Sweep(time.Hour); err != nil {
		slog.Warn("clip sweep failed", slog.Any("err", err), slog.String("component", "capture"))
	}

	bot := chat.NewBot(cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.PrintOnly)
	msgr := chat.NewMessenger(bot.Say, cfg.PrintOnly)

	deps := identify.Deps{
		Station: station,
		Matcher: identify.NewMatcher(acrcloud.New(cfg.ACRHostURL, cfg.ACRAccessKey, cfg.ACRAccessSecret)),
		Live:    twitchapi.LiveChecker{Client: helix, Channel: cfg.TwitchChannel},
		Store:   store,
		Out:     msgr,
		Phrases: identify.Phrases{
			Trouble:     chat.TroubleReply,
			Unknown:     chat.UnknownReply,
			StillTrying: chat.StillTryingReply,
		},
	}

	if cfg.VPNRotation {
		rotator := tunnel.NewRotator(cfg.VPNConfigDirs, cfg.VPNAuthFile, nil)
		if err := rotator.Discover(); err != nil {
			return err
		}
		defer func() {
			if err := rotator.Disconnect(); err != nil {
				slog.Warn("tunnel disconnect failed", slog.Any("err", err), slog.String("component", "tunnel"))
			}
		}()
		deps.Rotator = rotator
	}

	var pinger server.Pinger
	if cfg.DBDsn != "" {
		conn, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := conn.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.RunMigrations(conn); err != nil {
			return err
		}
		deps.Sinks = append(deps.Sinks, db.NewMirror(conn, cfg.TwitchChannel, store.Date()))
		pinger = conn
	}

	if cfg.MQTTBroker != "" {
		pub := nowplaying.New(cfg.MQTTBroker, cfg.MQTTTopic, cfg.TwitchChannel)
		if err := pub.Connect(ctx); err != nil {
			slog.Warn("mqtt connect failed, now-playing publishing disabled", slog.Any("err", err), slog.String("component", "nowplaying"))
		} else {
			defer pub.Close()
			deps.Sinks = append(deps.Sinks, pub)
		}
	}

	opts := identify.Options{
		MaxAttempts:     cfg.IdentifyMaxAttempts,
		RetryPause:      cfg.IdentifyRetryPause,
		CaptureDuration: cfg.CaptureDuration,
		Cooldown:        cfg.IdentifyCooldown,
		CooldownGrace:   cfg.IdentifyCooldownGrace,
		Rotation:        cfg.VPNRotation,
		TeardownWait:    cfg.VPNTeardownWait,
		EstablishWait:   cfg.VPNEstablishWait,
	}
	orch := identify.New(opts, deps, cfg.StartSilenced)

	cmds := chat.NewCommands(chat.Options{
		AddWindow:    cfg.AddWindow,
		UndoWindow:   cfg.UndoWindow,
		RecentWindow: cfg.IdentifyCooldown + cfg.IdentifyCooldownGrace,
	}, msgr, orch, store)
	bot.Attach(cmds, msgr)

	watcher := &chat.LiveWatcher{
		Channel:      cfg.TwitchChannel,
		Streams:      helix,
		Store:        store,
		Interval:     cfg.LivePollInterval,
		OfflineGrace: cfg.OfflineGrace,
		OnOffline: func() {
			slog.Info("stream offline, stopping", slog.String("channel", cfg.TwitchChannel), slog.String("component", "live"))
			cancel()
		},
	}

	handler := server.NewRouter(ctx, cfg, &server.Handlers{
		Ident:         orch,
		Store:         store,
		DataDir:       cfg.DataDir,
		DB:            pinger,
		ChatConnected: bot.Connected,
	})

	slog.Info("starting trackid",
		slog.String("channel", cfg.TwitchChannel),
		slog.Bool("print_only", cfg.PrintOnly),
		slog.Bool("vpn_rotation", cfg.VPNRotation),
		slog.Int("sinks", len(deps.Sinks)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return orch.RunAuto(gctx, cfg.AutoIdentifyInterval) })
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, handler) })
	return g.Wait()
}
