// Package bot wires the chat connection, the channel tracker, and the
// directory pipelines together and exposes the read/write facade the
// HTTP layer consumes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/chat-roster/directory"
	"github.com/onnwee/chat-roster/irc"
	"github.com/onnwee/chat-roster/tracker"
)

// ErrNotTracked reports an operation against a channel the bot has not joined.
var ErrNotTracked = errors.New("channel not tracked")

const (
	defaultNewsCommand  = "!news"
	defaultJoinFlush    = 2 * time.Second
	defaultSnapshotPoll = 100 * time.Millisecond
)

// Options carries the bot's dependencies and tunables.
type Options struct {
	Addr     string
	Username string
	Token    string
	// Transport selects "tls" or "websocket". Ignored when Dial is set.
	Transport string
	// Dial overrides the transport dialer. Tests use this.
	Dial irc.Dialer

	Registry  *tracker.Registry
	Directory *directory.Cache
	Followers *directory.FollowerSync

	// NewsCommand is the chat prefix that queues a news entry.
	NewsCommand string
	// JoinFlushDelay debounces the join window before its batched
	// lookup runs.
	JoinFlushDelay time.Duration
	// SnapshotPoll is the wait between polls while a snapshot blocks on
	// a connecting channel.
	SnapshotPoll time.Duration

	SayRate  float64
	SayBurst int
}

// Bot is the assembled chat bot.
type Bot struct {
	conn      *irc.Conn
	registry  *tracker.Registry
	dir       *directory.Cache
	followers *directory.FollowerSync

	newsCommand string
	joinFlush   time.Duration
	poll        time.Duration
}

// New assembles a Bot and registers its protocol handlers.
func New(opts Options) *Bot {
	b := &Bot{
		registry:    opts.Registry,
		dir:         opts.Directory,
		followers:   opts.Followers,
		newsCommand: opts.NewsCommand,
		joinFlush:   opts.JoinFlushDelay,
		poll:        opts.SnapshotPoll,
	}
	if b.newsCommand == "" {
		b.newsCommand = defaultNewsCommand
	}
	if b.joinFlush <= 0 {
		b.joinFlush = defaultJoinFlush
	}
	if b.poll <= 0 {
		b.poll = defaultSnapshotPoll
	}

	dispatch := irc.NewDispatcher()
	dispatch.Handle("001", b.onWelcome)
	dispatch.Handle("PING", b.onPing)
	dispatch.Handle("GLOBALUSERSTATE", b.onGlobalUserState)
	dispatch.Handle("JOIN", b.onJoin)
	dispatch.Handle("PART", b.onPart)
	dispatch.Handle("PRIVMSG", b.onPrivMsg)
	dispatch.Handle("353", b.onNamesReply)
	dispatch.Handle("366", b.onEndOfNames)

	dial := opts.Dial
	if dial == nil {
		dial = irc.DialTLS
		if opts.Transport == "websocket" {
			dial = irc.DialWebSocket
		}
	}
	b.conn = irc.NewConn(irc.ConnOptions{
		Addr:     opts.Addr,
		Username: opts.Username,
		Token:    opts.Token,
		Dial:     dial,
		OnLine:   dispatch.HandleRaw,
		Rejoin:   opts.Registry.Names,
		SayRate:  opts.SayRate,
		SayBurst: opts.SayBurst,
	})
	return b
}

// Run drives the chat connection until ctx ends.
func (b *Bot) Run(ctx context.Context) {
	b.conn.Run(ctx)
}

// SetChatToken installs a renewed chat credential for the next
// handshake. The token keeper calls this after every grant.
func (b *Bot) SetChatToken(tok string) {
	b.conn.SetToken(tok)
}

// JoinChannel asks the server to join a channel. The channel starts
// being tracked when the server echoes the bot's own join.
func (b *Bot) JoinChannel(name string) error {
	key := tracker.Normalize(name)
	if key == "" {
		return fmt.Errorf("channel name empty")
	}
	b.conn.Join(key)
	return nil
}

// LeaveChannel asks the server to part a channel. Tracking stops when
// the server echoes the bot's own part.
func (b *Bot) LeaveChannel(name string) error {
	key := tracker.Normalize(name)
	if key == "" {
		return fmt.Errorf("channel name empty")
	}
	b.conn.Part(key)
	return nil
}

// AudienceEntry is one row of a channel's merged audience and follower
// view.
type AudienceEntry struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	InChat      bool   `json:"in_chat"`
	IsFollower  bool   `json:"is_follower"`
}

// AudienceSnapshot builds the merged view for a tracked channel:
// audience first in presence order, then followers not already listed.
// Entries without a cached directory record are omitted. While the
// channel is still connecting and the view is empty, the call polls
// until data arrives or ctx ends.
func (b *Bot) AudienceSnapshot(ctx context.Context, name string) ([]AudienceEntry, error) {
	key := tracker.Normalize(name)
	for {
		ch, ok := b.registry.Get(key)
		if !ok {
			return nil, fmt.Errorf("channel %q: %w", key, ErrNotTracked)
		}
		entries := b.buildSnapshot(ch)
		if len(entries) > 0 || ch.Status() == tracker.StatusConnected {
			return entries, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.poll):
		}
	}
}

func (b *Bot) buildSnapshot(ch *tracker.Channel) []AudienceEntry {
	var entries []AudienceEntry
	seen := make(map[string]struct{})
	for _, login := range ch.Audience() {
		u, ok := b.dir.ByLogin(login)
		if !ok {
			continue // lookup not landed yet
		}
		seen[u.ID] = struct{}{}
		entries = append(entries, AudienceEntry{
			Login:       u.Login,
			DisplayName: u.DisplayName,
			InChat:      true,
			IsFollower:  ch.HasFollower(u.ID),
		})
	}
	for _, id := range ch.Followers() {
		if _, ok := seen[id]; ok {
			continue
		}
		u, ok := b.dir.ByID(id)
		if !ok {
			continue
		}
		entries = append(entries, AudienceEntry{
			Login:       u.Login,
			DisplayName: u.DisplayName,
			InChat:      false,
			IsFollower:  true,
		})
	}
	return entries
}

// DrainNews returns and clears a tracked channel's queued news entries.
func (b *Bot) DrainNews(name string) ([]string, error) {
	key := tracker.Normalize(name)
	ch, ok := b.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", key, ErrNotTracked)
	}
	return ch.DrainNews(), nil
}

// Status summarizes the connection and every tracked channel.
type Status struct {
	Chat     string          `json:"chat"`
	Retries  int             `json:"retries"`
	Channels []tracker.Stats `json:"channels"`
}

// Status reports the bot's current state for the HTTP surface.
func (b *Bot) Status() Status {
	chs := b.registry.All()
	stats := make([]tracker.Stats, 0, len(chs))
	for _, ch := range chs {
		stats = append(stats, ch.Stats())
	}
	return Status{
		Chat:     b.conn.State().String(),
		Retries:  b.conn.RetryCount(),
		Channels: stats,
	}
}

// Ready reports nil once the chat connection is authenticated.
func (b *Bot) Ready() error {
	if s := b.conn.State(); s != irc.StateAuthenticated {
		return fmt.Errorf("chat connection %s", s)
	}
	return nil
}
