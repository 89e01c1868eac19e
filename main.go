// Command chat-roster is the main entrypoint for the audience tracking bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Maintains the Twitch chat connection and rebuilds per-channel
//     audience/follower state from the protocol stream on every (re)join.
//   - Runs the directory cache and follower pipelines against Helix.
//   - Exposes an HTTP API with /healthz, /readyz, /status, /channels,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/chat-roster/bot"
	"github.com/onnwee/chat-roster/config"
	"github.com/onnwee/chat-roster/directory"
	"github.com/onnwee/chat-roster/oauth"
	"github.com/onnwee/chat-roster/server"
	"github.com/onnwee/chat-roster/telemetry"
	"github.com/onnwee/chat-roster/tracker"
	"github.com/onnwee/chat-roster/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	// Missing chat/Helix credentials are the one unrecoverable startup
	// condition; everything after this point retries or degrades.
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("twitch credentials incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-roster", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// App access token (client-credentials) for Helix directory and follower
	// lookups. It is NOT used for IRC chat; chat takes the user token below.
	appToken := twitchapi.NewTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, "", nil)
	{
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := appToken.Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: appToken,
		ClientID:       cfg.TwitchClientID,
	}

	// Core state: channel registry, directory cache, follower pipeline.
	registry := tracker.NewRegistry(cfg.MaxNewsEntries)
	dir := directory.New(helix, cfg.LookupChunkDelay, cfg.RateLimitRetryDelay)
	followers := &directory.FollowerSync{
		Directory:  dir,
		Helix:      helix,
		PageDelay:  cfg.FollowerPageDelay,
		RetryDelay: cfg.RateLimitRetryDelay,
		Cap:        cfg.MaxFollowers,
	}

	b := bot.New(bot.Options{
		Addr:           cfg.IRCAddr,
		Username:       cfg.TwitchBotUsername,
		Token:          cfg.TwitchOAuthToken,
		Transport:      cfg.IRCTransport,
		Registry:       registry,
		Directory:      dir,
		Followers:      followers,
		NewsCommand:    cfg.NewsCommand,
		JoinFlushDelay: cfg.JoinFlushDelay,
		SayRate:        cfg.SayRate,
		SayBurst:       cfg.SayBurst,
	})

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting chat connection",
		slog.String("addr", cfg.IRCAddr),
		slog.String("transport", cfg.IRCTransport),
		slog.Int("channels", len(cfg.Channels)))
	go b.Run(ctx)

	// Initial joins ride the outbound backlog until authentication
	// completes, so ordering here does not race the handshake.
	for _, name := range cfg.Channels {
		if err := b.JoinChannel(name); err != nil {
			slog.Warn("skipping configured channel", slog.String("channel", name), slog.Any("err", err))
		}
	}

	// Chat token keeper: Twitch user tokens expire after a few hours, so
	// when a refresh token is configured, renew the chat credential and
	// hand it to the connection for its next handshake.
	if cfg.TwitchRefreshToken != "" {
		refresher := &twitchapi.UserTokenRefresher{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
		}
		keeper := &oauth.Keeper{
			RefreshToken: cfg.TwitchRefreshToken,
			Refresh:      refresher.Refresh,
			Install:      b.SetChatToken,
		}
		go keeper.Run(ctx)
	} else {
		slog.Info("chat token keeper disabled (TWITCH_REFRESH_TOKEN not set)")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/readiness/status/metrics + roster API)
	go func() {
		if err := server.Start(ctx, b, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
