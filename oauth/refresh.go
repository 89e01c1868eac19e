// Package oauth keeps the bot's chat credential fresh. Twitch user
// access tokens expire after a few hours; when a refresh token is
// configured, the keeper renews the access token once its remaining
// lifetime falls inside a configured window and hands the result to the
// connection for its next handshake.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/chat-roster/twitchapi"
)

// RefreshFunc performs the provider grant. The twitchapi refresher's
// Refresh method satisfies it; tests script their own.
type RefreshFunc func(ctx context.Context, refreshToken string) (*twitchapi.RefreshResult, error)

const (
	defaultInterval = 5 * time.Minute
	defaultWindow   = 30 * time.Minute
	refreshTimeout  = 15 * time.Second
)

// Keeper schedules chat-token refreshes. Checks are jittered so several
// instances sharing one credential do not stampede the grant endpoint.
type Keeper struct {
	// RefreshToken seeds the first grant; Twitch rotates it, so the
	// keeper carries the latest one forward.
	RefreshToken string
	// Refresh performs the grant.
	Refresh RefreshFunc
	// Install receives every fresh access token.
	Install func(accessToken string)
	// Interval is the wake-up cadence; Window is the remaining lifetime
	// below which a wake-up refreshes. Zero values take the defaults.
	Interval time.Duration
	Window   time.Duration

	// expiry of the current access token. Zero means unknown (the token
	// came from the environment), which forces a refresh on the first
	// wake-up.
	expiry time.Time
}

// Run drives the keeper until ctx ends.
func (k *Keeper) Run(ctx context.Context) {
	interval := k.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	window := k.Window
	if window <= 0 {
		window = defaultWindow
	}
	for {
		// ±20% jitter spreads wake-ups; the first one comes early
		// because the initial token's age is unknown.
		sleep := jitter(interval)
		if k.expiry.IsZero() {
			first := interval
			if first > time.Second {
				first = time.Second
			}
			//nolint:gosec // G404: scheduling jitter, not security
			sleep = time.Duration(rand.Int63n(int64(first)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		if !k.expiry.IsZero() && time.Until(k.expiry) > window {
			continue
		}
		k.refresh(ctx)
	}
}

func (k *Keeper) refresh(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	res, err := k.Refresh(rctx, k.RefreshToken)
	if err != nil {
		// The old token may still have life in it; the next wake-up
		// retries.
		slog.Warn("chat token refresh failed", slog.Any("err", err))
		return
	}
	if res.RefreshToken != "" {
		k.RefreshToken = res.RefreshToken
	}
	k.expiry = twitchapi.ComputeExpiry(res.ExpiresIn)
	if k.Install != nil {
		k.Install(res.AccessToken)
	}
	slog.Info("chat token refreshed", slog.Time("expires", k.expiry))
}

// jitter returns d shifted by up to ±20%, never below d/2.
//
//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
func jitter(d time.Duration) time.Duration {
	span := int64(d / 5)
	if span <= 0 {
		return d
	}
	out := d + time.Duration(rand.Int63n(span*2)-span)
	if out < d/2 {
		out = d / 2
	}
	return out
}
