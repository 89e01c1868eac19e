// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Twitch chat and Helix), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultIRCAddr is the TLS chat endpoint.
	DefaultIRCAddr = "irc.chat.twitch.tv:6697"
	// DefaultIRCWebSocketAddr is the websocket chat endpoint.
	DefaultIRCWebSocketAddr = "wss://irc-ws.chat.twitch.tv:443"
)

type Config struct {
	// Twitch credentials. TwitchRefreshToken is optional; when set the
	// chat token keeper renews TwitchOAuthToken before it expires.
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchRefreshToken string
	TwitchClientID     string
	TwitchClientSecret string

	// Chat transport
	IRCAddr      string
	IRCTransport string
	Channels     []string

	// Tracker
	NewsCommand    string
	MaxNewsEntries int
	MaxFollowers   int

	// Pipeline pacing
	JoinFlushDelay      time.Duration
	LookupChunkDelay    time.Duration
	RateLimitRetryDelay time.Duration
	FollowerPageDelay   time.Duration

	// Outbound chat rate limit. Zero keeps the built-in default of one
	// message per 1.5 seconds.
	SayRate  float64
	SayBurst int

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are
// missing; use ValidateChatReady() before connecting to chat. Invalid numeric or duration
// values fail loudly rather than falling back.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.IRCTransport = getenvDefault("IRC_TRANSPORT", "tls")
	if cfg.IRCTransport != "tls" && cfg.IRCTransport != "websocket" {
		return nil, fmt.Errorf("invalid IRC_TRANSPORT %q: want tls or websocket", cfg.IRCTransport)
	}
	defaultAddr := DefaultIRCAddr
	if cfg.IRCTransport == "websocket" {
		defaultAddr = DefaultIRCWebSocketAddr
	}
	cfg.IRCAddr = getenvDefault("IRC_ADDR", defaultAddr)

	if v := os.Getenv("TWITCH_CHANNELS"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Channels = append(cfg.Channels, name)
			}
		}
	}

	cfg.NewsCommand = getenvDefault("NEWS_COMMAND", "!news")

	var err error
	if cfg.MaxNewsEntries, err = getenvInt("MAX_NEWS_ENTRY_COUNT", 10); err != nil {
		return nil, err
	}
	if cfg.MaxFollowers, err = getenvInt("MAX_FOLLOWER_COUNT", 1000); err != nil {
		return nil, err
	}
	if cfg.JoinFlushDelay, err = getenvDuration("JOIN_FLUSH_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.LookupChunkDelay, err = getenvDuration("LOOKUP_CHUNK_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitRetryDelay, err = getenvDuration("RATE_LIMIT_RETRY_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FollowerPageDelay, err = getenvDuration("FOLLOWER_PAGE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.SayRate, err = getenvFloat("SAY_RATE", 0); err != nil {
		return nil, err
	}
	if cfg.SayBurst, err = getenvInt("SAY_BURST", 0); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	return cfg, nil
}

// ValidateChatReady checks the credentials both the chat connection and
// the Helix client require.
func (c *Config) ValidateChatReady() error {
	if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" || c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN, TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
