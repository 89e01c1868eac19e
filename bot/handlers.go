package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chat-roster/directory"
	"github.com/onnwee/chat-roster/irc"
	"github.com/onnwee/chat-roster/telemetry"
	"github.com/onnwee/chat-roster/tracker"
	"github.com/onnwee/chat-roster/twitchapi"
)

// onWelcome records the login the server assigned so self join/part
// events can be told apart from other users'.
func (b *Bot) onWelcome(ctx context.Context, msg irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	b.conn.RecordUsername(msg.Params[0])
}

// onPing answers immediately; the reply must not wait behind the
// backlog or the server drops the connection.
func (b *Bot) onPing(ctx context.Context, msg irc.Message) {
	token := ""
	if len(msg.Params) > 0 {
		token = msg.Params[0]
	}
	b.conn.Pong(token)
}

func (b *Bot) onGlobalUserState(ctx context.Context, msg irc.Message) {
	b.conn.MarkAuthenticated()
}

func (b *Bot) onJoin(ctx context.Context, msg irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	name := tracker.Normalize(msg.Params[0])
	nick := msg.Nick()
	if nick == b.conn.Username() {
		ch := b.registry.Ensure(name)
		ch.Reset()
		slog.Info("joined channel", slog.String("channel", name))
		return
	}
	ch, ok := b.registry.Get(name)
	if !ok {
		return
	}
	ch.AddAudience(nick)
	if ch.PushJoin(nick) {
		// First entry in the window; flush the whole batch after the
		// debounce so a burst of joins becomes one lookup.
		go b.flushJoinWindow(ctx, ch)
	}
}

func (b *Bot) flushJoinWindow(ctx context.Context, ch *tracker.Channel) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(b.joinFlush):
	}
	logins := ch.TakeJoinWindow()
	if len(logins) == 0 {
		return
	}
	b.dir.Lookup(ctx, directory.ByLogin, logins)
}

func (b *Bot) onPart(ctx context.Context, msg irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	name := tracker.Normalize(msg.Params[0])
	nick := msg.Nick()
	if nick == b.conn.Username() {
		b.registry.Remove(name)
		slog.Info("left channel", slog.String("channel", name))
		return
	}
	if ch, ok := b.registry.Get(name); ok {
		ch.RemoveAudience(nick)
	}
}

// onNamesReply applies one page of the membership snapshot. Params are
// the bot's login, the channel list marker, the channel, and the
// space-separated login list.
func (b *Bot) onNamesReply(ctx context.Context, msg irc.Message) {
	if len(msg.Params) < 4 {
		return
	}
	ch, ok := b.registry.Get(msg.Params[2])
	if !ok {
		return
	}
	for _, login := range strings.Fields(msg.Params[3]) {
		// Moderator and VIP entries arrive prefixed with @ or +.
		if login = strings.TrimLeft(login, "@+"); login != "" {
			ch.AddAudience(login)
		}
	}
}

// onEndOfNames marks the membership snapshot complete and kicks off the
// audience lookup and the follower pipeline, which run concurrently.
func (b *Bot) onEndOfNames(ctx context.Context, msg irc.Message) {
	if len(msg.Params) < 2 {
		return
	}
	name := tracker.Normalize(msg.Params[1])
	ch, ok := b.registry.Get(name)
	if !ok {
		return
	}
	ch.SetStatus(tracker.StatusConnected)
	audience := ch.Audience()
	slog.Info("membership snapshot complete",
		slog.String("channel", name),
		slog.Int("audience", len(audience)))
	go b.dir.Lookup(ctx, directory.ByLogin, audience)
	go b.syncFollowers(ctx, ch)
}

// syncFollowers resolves the channel owner and pages through their
// followers. A rate-limited owner resolve retries after the pipeline's
// retry delay; other failures abandon the sync until the next rejoin.
func (b *Bot) syncFollowers(ctx context.Context, ch *tracker.Channel) {
	owner := strings.TrimPrefix(ch.Name(), "#")
	for {
		u, err := b.dir.UserByLogin(ctx, owner)
		if err == nil {
			b.followers.Run(ctx, ch, u.ID)
			return
		}
		if !errors.Is(err, twitchapi.ErrRateLimited) {
			slog.Error("channel owner resolve failed",
				slog.String("channel", ch.Name()),
				slog.Any("err", err))
			return
		}
		slog.Warn("channel owner resolve rate limited",
			slog.String("channel", ch.Name()),
			slog.Duration("retry_in", b.followers.RetryDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.followers.RetryDelay):
		}
	}
}

func (b *Bot) onPrivMsg(ctx context.Context, msg irc.Message) {
	if len(msg.Params) < 2 {
		return
	}
	rest, ok := b.matchNews(msg.Params[1])
	if !ok {
		return
	}
	name := tracker.Normalize(msg.Params[0])
	ch, tracked := b.registry.Get(name)
	if !tracked {
		return
	}
	nick := msg.Nick()
	ch.PushNews(fmt.Sprintf("%s %s: %s", b.newsCommand, nick, rest))
	telemetry.IncNewsQueued()
	slog.Info("news entry queued",
		slog.String("channel", name),
		slog.String("from", nick))
	b.conn.Say(name, fmt.Sprintf("@%s your entry was added to the news queue", nick))
}

// matchNews reports whether text is the news command followed by free
// text, and returns that text. The command match is case-insensitive.
func (b *Bot) matchNews(text string) (string, bool) {
	n := len(b.newsCommand)
	if len(text) <= n || !strings.EqualFold(text[:n], b.newsCommand) {
		return "", false
	}
	if text[n] != ' ' && text[n] != '\t' {
		return "", false
	}
	rest := strings.TrimSpace(text[n:])
	if rest == "" {
		return "", false
	}
	return rest, true
}
