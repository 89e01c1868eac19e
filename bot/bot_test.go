package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-roster/directory"
	"github.com/onnwee/chat-roster/irc"
	"github.com/onnwee/chat-roster/testutil"
	"github.com/onnwee/chat-roster/tracker"
	"github.com/onnwee/chat-roster/twitchapi"
)

// Known users served by the mock Helix API. alpha owns #alpha; 101 and
// 104 follow them.
var testUsers = []map[string]string{
	{"id": "100", "login": "alpha", "display_name": "Alpha"},
	{"id": "101", "login": "bob", "display_name": "Bob"},
	{"id": "102", "login": "alice", "display_name": "Alice"},
	{"id": "103", "login": "carol", "display_name": "Carol"},
	{"id": "104", "login": "dave", "display_name": "Dave"},
}

func usersHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []map[string]string
		match := func(key string, vals []string) {
			for _, v := range vals {
				for _, u := range testUsers {
					if u[key] == v {
						out = append(out, u)
					}
				}
			}
		}
		match("login", r.URL.Query()["login"])
		match("id", r.URL.Query()["id"])
		json.NewEncoder(w).Encode(map[string]any{"data": out})
	}
}

func followsHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("to_id"); got != "100" {
			t.Errorf("to_id = %s, want 100", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"from_id": "101"}, {"from_id": "104"}},
		})
	}
}

type harness struct {
	bot  *Bot
	mock *testutil.MockTwitchServer

	mu         sync.Mutex
	transports []*testutil.ScriptedChatTransport
}

func newHarness(t *testing.T, joinFlush time.Duration) *harness {
	t.Helper()
	mock := testutil.NewMockTwitchServer(t)
	mock.Handlers["/helix/users"] = usersHandler(t)
	mock.Handlers["/helix/users/follows"] = followsHandler(t)

	hc := &twitchapi.HelixClient{
		AppTokenSource: twitchapi.StaticTokenSource("test-token"),
		ClientID:       "test-client-id",
		HTTPClient:     mock.Client(),
	}
	dir := directory.New(hc, 0, 0)
	h := &harness{mock: mock}

	reg := tracker.NewRegistry(10)
	h.bot = New(Options{
		Addr:     "chat.example:6697",
		Username: "roster",
		Token:    "test-chat-token",
		Dial: func(ctx context.Context, addr string) (irc.Transport, error) {
			ft := testutil.NewScriptedChatTransport()
			h.mu.Lock()
			h.transports = append(h.transports, ft)
			h.mu.Unlock()
			return ft, nil
		},
		Registry:  reg,
		Directory: dir,
		Followers: &directory.FollowerSync{
			Directory:  dir,
			Helix:      hc,
			RetryDelay: 5 * time.Millisecond,
			Cap:        1000,
		},
		JoinFlushDelay: joinFlush,
		SnapshotPoll:   5 * time.Millisecond,
		SayRate:        1000,
		SayBurst:       10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.bot.Run(ctx)

	// Wait for the first dial and its handshake.
	testutil.WaitFor(t, func() bool {
		ft := h.transport(0)
		return ft != nil && len(ft.Lines()) >= 4
	})
	return h
}

func (h *harness) transport(i int) *testutil.ScriptedChatTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.transports) {
		return nil
	}
	return h.transports[i]
}

func authenticate(t *testing.T, h *harness, ft *testutil.ScriptedChatTransport) {
	t.Helper()
	ft.PushLine(":tmi.twitch.tv 001 roster :Welcome, GLHF!")
	ft.PushLine(":tmi.twitch.tv GLOBALUSERSTATE")
	testutil.WaitFor(t, func() bool { return h.bot.Ready() == nil })
}

func TestBotLifecycle(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)

	// Joins requested before authentication ride the backlog.
	if err := h.bot.JoinChannel("#Alpha"); err != nil {
		t.Fatalf("JoinChannel() error = %v", err)
	}
	if ft.Wrote("JOIN #alpha") {
		t.Fatal("join written before authentication")
	}
	if err := h.bot.Ready(); err == nil {
		t.Fatal("Ready() = nil before authentication")
	}

	authenticate(t, h, ft)
	testutil.WaitFor(t, func() bool { return ft.Wrote("JOIN #alpha") })

	// The server echoes our join; tracking begins in connecting status.
	ft.PushLine(":roster!roster@roster.tmi.twitch.tv JOIN #alpha")
	testutil.WaitFor(t, func() bool {
		st := h.bot.Status()
		return len(st.Channels) == 1 && st.Channels[0].Status == "connecting"
	})

	// A snapshot of a connecting channel with no data blocks until ctx
	// expires.
	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.bot.AudienceSnapshot(shortCtx, "#alpha"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("snapshot of empty connecting channel: err = %v, want deadline exceeded", err)
	}

	ft.PushLine(":tmi.twitch.tv 353 roster = #alpha :bob alice carol")
	testutil.WaitFor(t, func() bool {
		st := h.bot.Status()
		return len(st.Channels) == 1 && st.Channels[0].Audience == 3
	})

	ft.PushLine(":tmi.twitch.tv 366 roster #alpha :End of /NAMES list")
	testutil.WaitFor(t, func() bool {
		st := h.bot.Status()
		return len(st.Channels) == 1 && st.Channels[0].Status == "connected"
	})

	// The audience lookup and follower pipeline fill the snapshot:
	// audience first in presence order, then followers not in chat.
	ctx, cancelSnap := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelSnap()
	var snap []AudienceEntry
	testutil.WaitFor(t, func() bool {
		var err error
		snap, err = h.bot.AudienceSnapshot(ctx, "#alpha")
		return err == nil && len(snap) == 4
	})
	want := []AudienceEntry{
		{Login: "bob", DisplayName: "Bob", InChat: true, IsFollower: true},
		{Login: "alice", DisplayName: "Alice", InChat: true, IsFollower: false},
		{Login: "carol", DisplayName: "Carol", InChat: true, IsFollower: false},
		{Login: "dave", DisplayName: "Dave", InChat: false, IsFollower: true},
	}
	if !reflect.DeepEqual(snap, want) {
		t.Errorf("snapshot = %+v, want %+v", snap, want)
	}

	// A news command queues a formatted entry and acks the sender.
	ft.PushLine(":bob!bob@bob.tmi.twitch.tv PRIVMSG #alpha :!news bought a new mic")
	testutil.WaitFor(t, func() bool {
		return ft.Wrote("PRIVMSG #alpha :@bob your entry was added to the news queue")
	})
	news, err := h.bot.DrainNews("#alpha")
	if err != nil {
		t.Fatalf("DrainNews() error = %v", err)
	}
	wantNews := []string{"!news bob: bought a new mic"}
	if !reflect.DeepEqual(news, wantNews) {
		t.Errorf("news = %v, want %v", news, wantNews)
	}

	// Our own part destroys the channel.
	ft.PushLine(":roster!roster@roster.tmi.twitch.tv PART #alpha")
	testutil.WaitFor(t, func() bool { return len(h.bot.Status().Channels) == 0 })
	if _, err := h.bot.DrainNews("#alpha"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("DrainNews() error = %v, want ErrNotTracked", err)
	}
}

func TestBotAnswersPingBeforeAuth(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)

	ft.PushLine("PING :tmi.twitch.tv")
	testutil.WaitFor(t, func() bool { return ft.Wrote("PONG :tmi.twitch.tv") })

	if err := h.bot.Ready(); err == nil {
		t.Error("Ready() = nil, the connection never authenticated")
	}
}

func TestBotBatchesJoinBurst(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	var mu sync.Mutex
	var lookups [][]string
	serve := usersHandler(t)
	h.mock.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if logins := r.URL.Query()["login"]; len(logins) > 0 {
			mu.Lock()
			lookups = append(lookups, logins)
			mu.Unlock()
		}
		serve(w, r)
	}

	ft := h.transport(0)
	authenticate(t, h, ft)

	ft.PushLine(":roster!roster@roster.tmi.twitch.tv JOIN #alpha")
	ft.PushLine(":bob!bob@bob.tmi.twitch.tv JOIN #alpha")
	ft.PushLine(":alice!alice@alice.tmi.twitch.tv JOIN #alpha")

	// Both joins land inside one debounce window and produce a single
	// batched lookup.
	testutil.WaitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lookups) == 1 && reflect.DeepEqual(lookups[0], []string{"bob", "alice"})
	})

	st := h.bot.Status()
	if len(st.Channels) != 1 || st.Channels[0].Audience != 2 {
		t.Errorf("status = %+v, want one channel with 2 audience entries", st.Channels)
	}

	// A part removes presence without touching the directory.
	ft.PushLine(":bob!bob@bob.tmi.twitch.tv PART #alpha")
	testutil.WaitFor(t, func() bool { return h.bot.Status().Channels[0].Audience == 1 })
}

func TestBotRejoinsAfterReconnect(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)

	if err := h.bot.JoinChannel("#alpha"); err != nil {
		t.Fatalf("JoinChannel() error = %v", err)
	}
	authenticate(t, h, ft)
	ft.PushLine(":roster!roster@roster.tmi.twitch.tv JOIN #alpha")
	testutil.WaitFor(t, func() bool { return len(h.bot.Status().Channels) == 1 })

	// Drop the transport; the bot reconnects after backoff and joins
	// every registered channel again once authenticated.
	ft.Close()
	testutil.WaitForDeadline(t, 5*time.Second, func() bool { return h.transport(1) != nil })

	ft2 := h.transport(1)
	testutil.WaitFor(t, func() bool { return len(ft2.Lines()) >= 4 })
	ft2.PushLine(":tmi.twitch.tv 001 roster :Welcome, GLHF!")
	ft2.PushLine(":tmi.twitch.tv GLOBALUSERSTATE")
	testutil.WaitFor(t, func() bool { return ft2.Wrote("JOIN #alpha") })

	// The channel survives the drop; the rejoin echo resets presence.
	if len(h.bot.Status().Channels) != 1 {
		t.Fatalf("channels = %+v, want the tracked channel preserved", h.bot.Status().Channels)
	}
}

func TestNamesReplyStripsModePrefixes(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)
	authenticate(t, h, ft)

	ft.PushLine(":roster!roster@roster.tmi.twitch.tv JOIN #alpha")
	ft.PushLine(":tmi.twitch.tv 353 roster = #alpha :@bob +alice carol")
	ft.PushLine(":tmi.twitch.tv 366 roster #alpha :End of /NAMES list")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var snap []AudienceEntry
	testutil.WaitFor(t, func() bool {
		var err error
		snap, err = h.bot.AudienceSnapshot(ctx, "#alpha")
		return err == nil && len(snap) == 4
	})
	for i, wantLogin := range []string{"bob", "alice", "carol"} {
		if snap[i].Login != wantLogin {
			t.Errorf("snap[%d].Login = %q, want %q with the mode prefix stripped", i, snap[i].Login, wantLogin)
		}
	}
}

func TestMatchNews(t *testing.T) {
	b := New(Options{Registry: tracker.NewRegistry(10)})

	tests := []struct {
		text     string
		wantRest string
		wantOK   bool
	}{
		{"!news hello", "hello", true},
		{"!NEWS hello", "hello", true},
		{"!news  spaced  out ", "spaced  out", true},
		{"!news", "", false},
		{"!news   ", "", false},
		{"!newsy hello", "", false},
		{"no command here", "", false},
	}
	for _, tt := range tests {
		rest, ok := b.matchNews(tt.text)
		if ok != tt.wantOK || rest != tt.wantRest {
			t.Errorf("matchNews(%q) = (%q, %v), want (%q, %v)", tt.text, rest, ok, tt.wantRest, tt.wantOK)
		}
	}
}

func TestBotIgnoresUntrackedChannels(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)
	authenticate(t, h, ft)

	// Events for a channel we never joined are dropped.
	ft.PushLine(":bob!bob@bob.tmi.twitch.tv JOIN #elsewhere")
	ft.PushLine(":bob!bob@bob.tmi.twitch.tv PRIVMSG #elsewhere :!news hi")
	ft.PushLine(":tmi.twitch.tv 353 roster = #elsewhere :bob alice")
	ft.PushLine(":tmi.twitch.tv 366 roster #elsewhere :End of /NAMES list")

	// Give the read loop a moment to process everything.
	ft.PushLine("PING :sync")
	testutil.WaitFor(t, func() bool { return ft.Wrote("PONG :sync") })

	if got := h.bot.Status().Channels; len(got) != 0 {
		t.Errorf("channels = %+v, want none", got)
	}
	if _, err := h.bot.AudienceSnapshot(context.Background(), "#elsewhere"); err == nil {
		t.Error("snapshot of an untracked channel did not fail")
	}
}

func TestSetChatTokenForwardsToConnection(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	ft := h.transport(0)
	authenticate(t, h, ft)

	h.bot.SetChatToken("renewed-token")

	// The renewed credential shows up in the handshake of the next
	// reconnect cycle.
	ft.Close()
	testutil.WaitForDeadline(t, 5*time.Second, func() bool { return h.transport(1) != nil })
	ft2 := h.transport(1)
	testutil.WaitFor(t, func() bool { return ft2.Wrote("PASS oauth:renewed-token") })
}
