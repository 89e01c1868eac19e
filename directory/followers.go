package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/chat-roster/telemetry"
	"github.com/onnwee/chat-roster/tracker"
	"github.com/onnwee/chat-roster/twitchapi"
)

// pageSize is the Helix maximum for one follower page.
const pageSize = 100

// FollowerSync pages through a channel owner's followers, records the
// ids on the channel, and feeds each page into the directory cache so
// the facade can resolve display names.
type FollowerSync struct {
	Directory *Cache
	Helix     *twitchapi.HelixClient
	// PageDelay separates consecutive pages and delays the per-page
	// directory lookup. RetryDelay spaces a rate-limited retry.
	PageDelay  time.Duration
	RetryDelay time.Duration
	// Cap stops pagination once a channel's follower count exceeds it.
	// Zero means unbounded.
	Cap int
}

// Run pages from the beginning of the owner's follower list. It blocks
// until pagination completes, fails, or is handed off to a rescheduled
// retry.
func (s *FollowerSync) Run(ctx context.Context, ch *tracker.Channel, ownerID string) {
	s.run(ctx, ch, ownerID, "")
}

func (s *FollowerSync) run(ctx context.Context, ch *tracker.Channel, ownerID, cursor string) {
	ctx, span := telemetry.StartSpan(ctx, "directory", "followers.sync",
		telemetry.ChannelAttr(ch.Name()))
	defer span.End()
	for {
		page, next, err := s.Helix.FollowersPage(ctx, ownerID, cursor, pageSize)
		if errors.Is(err, twitchapi.ErrRateLimited) {
			resume := cursor
			slog.Warn("follower fetch rate limited",
				slog.String("channel", ch.Name()),
				slog.Duration("retry_in", s.RetryDelay))
			schedule(ctx, s.RetryDelay, func() { s.run(ctx, ch, ownerID, resume) })
			return
		}
		if err != nil {
			telemetry.RecordError(span, err)
			slog.Error("follower fetch failed",
				slog.String("channel", ch.Name()),
				slog.Any("err", err))
			return
		}
		telemetry.IncFollowerPages()
		if len(page) == 0 {
			return
		}

		ids := make([]string, 0, len(page))
		added := 0
		for _, f := range page {
			if ch.AddFollower(f.FromID) {
				added++
			}
			ids = append(ids, f.FromID)
		}
		telemetry.AddFollowersRecorded(added)
		schedule(ctx, s.PageDelay, func() { s.Directory.Lookup(ctx, ByID, ids) })

		if s.Cap > 0 && ch.FollowerCount() > s.Cap {
			slog.Info("follower cap exceeded, stopping pagination",
				slog.String("channel", ch.Name()),
				slog.Int("cap", s.Cap),
				slog.Int("recorded", ch.FollowerCount()))
			return
		}
		if next == "" {
			return
		}
		cursor = next
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PageDelay):
		}
	}
}
