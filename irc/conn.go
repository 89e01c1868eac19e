package irc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/chat-roster/telemetry"
)

// State is the connection lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

const maxBackoff = 30 * time.Second

// backoffDelay is min(30, 2^retry) seconds.
func backoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 5 {
		retry = 5 // 2^5 already exceeds the cap
	}
	d := time.Duration(1<<retry) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	Addr     string
	Username string
	// Token is the bot account's chat OAuth token, sent as
	// PASS oauth:<token>. A leading "oauth:" in the env value is
	// tolerated.
	Token string
	// Dial establishes the transport. Defaults to DialTLS.
	Dial Dialer
	// OnLine receives every inbound line, already split out of its
	// frame and stripped of the terminator.
	OnLine func(ctx context.Context, raw string)
	// Rejoin lists the channel names to re-enter once authentication
	// completes, covering reconnects after a drop.
	Rejoin func() []string
	// SayRate and SayBurst bound outbound chat messages. Zero values
	// fall back to one message per 1.5 seconds with no burst headroom.
	SayRate  float64
	SayBurst int
}

// Conn manages the chat connection: handshake, heartbeat, the backlog
// of commands sent while unauthenticated, and reconnection with capped
// exponential backoff.
type Conn struct {
	opts    ConnOptions
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	retry     int
	backlog   []string
	transport Transport
	username  string
	token     string
}

// NewConn builds a Conn; Run starts it.
func NewConn(opts ConnOptions) *Conn {
	if opts.Dial == nil {
		opts.Dial = DialTLS
	}
	sayRate := opts.SayRate
	if sayRate <= 0 {
		sayRate = 1.0 / 1.5
	}
	burst := opts.SayBurst
	if burst <= 0 {
		burst = 1
	}
	return &Conn{
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(sayRate), burst),
		username: opts.Username,
		token:    strings.TrimPrefix(opts.Token, "oauth:"),
	}
}

// Run drives the connection until ctx ends. Each cycle dials, performs
// the handshake, and serves inbound lines until the transport fails;
// the next attempt waits min(30, 2^retryCount) seconds.
func (c *Conn) Run(ctx context.Context) {
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := backoffDelay(c.RetryCount())
		slog.Info("chat reconnect scheduled",
			slog.Duration("wait", delay),
			slog.Int("retry", c.RetryCount()),
			slog.Any("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Conn) serve(ctx context.Context) error {
	t, err := c.opts.Dial(ctx, c.opts.Addr)
	if err != nil {
		c.dropTransport()
		return fmt.Errorf("dial chat: %w", err)
	}

	c.mu.Lock()
	c.transport = t
	c.state = StateAuthenticating
	c.mu.Unlock()
	telemetry.IncChatConnects()
	slog.Info("chat transport established", slog.String("addr", c.opts.Addr))

	// Closing the transport on shutdown unblocks the read below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-done:
		}
	}()
	defer func() { _ = t.Close() }()

	for _, line := range c.handshake() {
		if err := t.WriteLine(line); err != nil {
			c.dropTransport()
			return fmt.Errorf("handshake write: %w", err)
		}
	}

	for {
		frame, err := t.ReadFrame()
		if err != nil {
			c.dropTransport()
			return fmt.Errorf("read chat frame: %w", err)
		}
		for _, raw := range strings.Split(frame, "\n") {
			raw = strings.TrimSuffix(raw, "\r")
			if strings.TrimSpace(raw) == "" {
				continue
			}
			c.opts.OnLine(ctx, raw)
		}
	}
}

func (c *Conn) handshake() []string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	return []string{
		"CAP REQ :twitch.tv/membership twitch.tv/commands",
		"PASS oauth:" + token,
		"NICK " + c.opts.Username,
		fmt.Sprintf("USER %s 8 * :%s", c.opts.Username, c.opts.Username),
	}
}

func (c *Conn) dropTransport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	c.retry++
	c.transport = nil
	telemetry.IncChatDisconnects()
}

// Send writes a raw command immediately when authenticated, otherwise
// queues it on the backlog for the post-authentication flush. Backlog
// order is preserved.
func (c *Conn) Send(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAuthenticated && c.transport != nil {
		if err := c.transport.WriteLine(line); err != nil {
			slog.Warn("chat write failed", slog.Any("err", err))
		}
		return
	}
	c.backlog = append(c.backlog, line)
	telemetry.SetBacklogDepth(len(c.backlog))
}

// Say sends a chat message to the channel. Messages over the outbound
// rate limit are dropped rather than queued.
func (c *Conn) Say(channel, text string) {
	if !c.limiter.Allow() {
		slog.Warn("chat message dropped by rate limit", slog.String("channel", channel))
		telemetry.IncSendsDropped()
		return
	}
	c.Send(fmt.Sprintf("PRIVMSG %s :%s", channel, text))
	telemetry.IncMessagesSent()
}

// Join enters a channel. Like any command it rides the backlog while
// the connection is down.
func (c *Conn) Join(channel string) { c.Send("JOIN " + channel) }

// Part leaves a channel.
func (c *Conn) Part(channel string) { c.Send("PART " + channel) }

// Pong answers a server PING directly on the transport so the reply
// never waits behind queued traffic.
func (c *Conn) Pong(token string) {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return
	}
	line := "PONG"
	if token != "" {
		line += " :" + token
	}
	if err := t.WriteLine(line); err != nil {
		slog.Warn("pong write failed", slog.Any("err", err))
	}
}

// SetToken replaces the chat credential used by future handshakes. The
// live session keeps its current authentication; the new token takes
// effect on the next (re)connect.
func (c *Conn) SetToken(tok string) {
	tok = strings.TrimPrefix(tok, "oauth:")
	if tok == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

// RecordUsername stores the login the server assigned in its welcome
// reply. Self join/part detection compares against it.
func (c *Conn) RecordUsername(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
}

// Username returns the login in effect for self-event detection.
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// MarkAuthenticated records a completed handshake: the backlog is
// flushed in FIFO order, the retry counter resets, and every tracked
// channel is joined again.
func (c *Conn) MarkAuthenticated() {
	var rejoin []string
	if c.opts.Rejoin != nil {
		rejoin = c.opts.Rejoin()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAuthenticated
	c.retry = 0
	if c.transport == nil {
		return
	}
	pending := c.backlog
	c.backlog = nil
	telemetry.SetBacklogDepth(0)
	for _, line := range pending {
		if err := c.transport.WriteLine(line); err != nil {
			slog.Warn("backlog flush failed", slog.Any("err", err))
		}
	}
	for _, name := range rejoin {
		if err := c.transport.WriteLine("JOIN " + name); err != nil {
			slog.Warn("rejoin failed", slog.String("channel", name), slog.Any("err", err))
		}
	}
	slog.Info("chat authenticated",
		slog.Int("flushed", len(pending)),
		slog.Int("rejoined", len(rejoin)))
}

// State reports the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount reports consecutive transport failures since the last
// successful authentication.
func (c *Conn) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}
