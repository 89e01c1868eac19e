// Package directory caches Twitch user records and batches the Helix
// lookups that fill it. Records are keyed by both login and id; the
// cache is read-through and never evicts.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chat-roster/telemetry"
	"github.com/onnwee/chat-roster/twitchapi"
)

// KeyKind selects which Helix query parameter a lookup uses.
type KeyKind string

const (
	ByLogin KeyKind = "login"
	ByID    KeyKind = "id"
)

// maxChunk is the Helix limit on repeated query parameters per call.
const maxChunk = 100

// Cache is the in-memory user directory plus the batched lookup
// pipeline that fills it. Safe for concurrent use.
type Cache struct {
	helix      *twitchapi.HelixClient
	chunkDelay time.Duration
	retryDelay time.Duration

	mu      sync.Mutex
	byLogin map[string]twitchapi.User
	byID    map[string]twitchapi.User
}

// New builds an empty cache. chunkDelay spaces consecutive lookup
// chunks and retryDelay spaces a rate-limited retry; zero means no
// wait, which tests rely on.
func New(helix *twitchapi.HelixClient, chunkDelay, retryDelay time.Duration) *Cache {
	if chunkDelay < 0 {
		chunkDelay = 0
	}
	if retryDelay < 0 {
		retryDelay = 0
	}
	return &Cache{
		helix:      helix,
		chunkDelay: chunkDelay,
		retryDelay: retryDelay,
		byLogin:    make(map[string]twitchapi.User),
		byID:       make(map[string]twitchapi.User),
	}
}

// ByLogin returns the cached record for a login.
func (c *Cache) ByLogin(login string) (twitchapi.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.byLogin[login]
	return u, ok
}

// ByID returns the cached record for a user id.
func (c *Cache) ByID(id string) (twitchapi.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.byID[id]
	return u, ok
}

// Size reports how many records are cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// insert records users under both keys. Re-lookups overwrite.
func (c *Cache) insert(users []twitchapi.User) {
	if len(users) == 0 {
		return
	}
	c.mu.Lock()
	for _, u := range users {
		c.byLogin[u.Login] = u
		c.byID[u.ID] = u
	}
	size := len(c.byID)
	c.mu.Unlock()
	telemetry.SetCacheSize(size)
}

// missing filters keys down to the uncached ones, dropping duplicates.
func (c *Cache) missing(kind KeyKind, keys []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.byLogin
	if kind == ByID {
		cached = c.byID
	}
	seen := make(map[string]struct{}, len(keys))
	var out []string
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := cached[k]; ok {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Lookup resolves keys into the cache. Cached keys are skipped; the
// rest are fetched in chunks of at most 100, sequentially, with
// chunkDelay between chunks. A rate-limited chunk reschedules all
// remaining work after retryDelay and ends this invocation; any other
// fetch failure is logged and contributes no data for its chunk.
func (c *Cache) Lookup(ctx context.Context, kind KeyKind, keys []string) {
	pending := c.missing(kind, keys)
	telemetry.AddDirectoryCacheHits(len(keys) - len(pending))
	if len(pending) == 0 {
		return
	}
	ctx, span := telemetry.StartSpan(ctx, "directory", "directory.lookup",
		attribute.String("lookup.kind", string(kind)),
		attribute.Int("lookup.keys", len(pending)))
	defer span.End()
	for len(pending) > 0 {
		chunk := pending
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		users, err := c.fetch(ctx, kind, chunk)
		switch {
		case errors.Is(err, twitchapi.ErrRateLimited):
			remaining := pending
			slog.Warn("directory lookup rate limited",
				slog.String("kind", string(kind)),
				slog.Int("remaining", len(remaining)),
				slog.Duration("retry_in", c.retryDelay))
			schedule(ctx, c.retryDelay, func() { c.Lookup(ctx, kind, remaining) })
			return
		case err != nil:
			telemetry.RecordError(span, err)
			slog.Error("directory lookup failed",
				slog.String("kind", string(kind)),
				slog.Int("keys", len(chunk)),
				slog.Any("err", err))
		default:
			c.insert(users)
		}
		pending = pending[len(chunk):]
		if len(pending) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.chunkDelay):
		}
	}
}

// UserByLogin resolves a single login, serving from the cache when
// possible. Channel owner resolution goes through here.
func (c *Cache) UserByLogin(ctx context.Context, login string) (twitchapi.User, error) {
	if u, ok := c.ByLogin(login); ok {
		return u, nil
	}
	users, err := c.fetch(ctx, ByLogin, []string{login})
	if err != nil {
		return twitchapi.User{}, err
	}
	if len(users) == 0 {
		return twitchapi.User{}, fmt.Errorf("user %q not found", login)
	}
	c.insert(users)
	return users[0], nil
}

func (c *Cache) fetch(ctx context.Context, kind KeyKind, keys []string) ([]twitchapi.User, error) {
	telemetry.IncDirectoryRequests()
	if kind == ByID {
		return c.helix.UsersByID(ctx, keys)
	}
	return c.helix.UsersByLogin(ctx, keys)
}

// schedule runs fn on its own goroutine after delay, unless ctx ends
// first.
func schedule(ctx context.Context, delay time.Duration, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			fn()
		}
	}()
}
