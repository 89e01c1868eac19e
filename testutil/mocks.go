package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Client returns an HTTP client that rewrites every request to the mock
// server, so production code can keep using the real Twitch URLs.
func (m *MockTwitchServer) Client() *http.Client {
	return &http.Client{
		Transport: &hostRewrite{next: http.DefaultTransport, host: m.URL},
	}
}

// MockUsersResponse adds a handler for the /helix/users endpoint
func (m *MockTwitchServer) MockUsersResponse(users []map[string]string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": users,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockFollowersResponse adds a handler for the /helix/users/follows endpoint
func (m *MockTwitchServer) MockFollowersResponse(followers []map[string]string, cursor string) {
	m.Handlers["/helix/users/follows"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": followers,
			"pagination": map[string]string{
				"cursor": cursor,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

type hostRewrite struct {
	next http.RoundTripper
	host string
}

func (h *hostRewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(h.host, "http://")
	return h.next.RoundTrip(req)
}

// ScriptedChatTransport is an in-memory chat transport. Frames pushed
// with Push come back from ReadFrame; written lines are recorded. Close
// ends the read side with io.EOF, simulating a dropped connection.
type ScriptedChatTransport struct {
	frames chan string

	mu      sync.Mutex
	written []string
	closed  bool
}

func NewScriptedChatTransport() *ScriptedChatTransport {
	return &ScriptedChatTransport{frames: make(chan string, 32)}
}

func (s *ScriptedChatTransport) ReadFrame() (string, error) {
	frame, ok := <-s.frames
	if !ok {
		return "", io.EOF
	}
	return frame, nil
}

func (s *ScriptedChatTransport) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("transport closed")
	}
	s.written = append(s.written, line)
	return nil
}

func (s *ScriptedChatTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Push delivers a raw frame, which may carry several CRLF-separated
// lines.
func (s *ScriptedChatTransport) Push(frame string) { s.frames <- frame }

// PushLine delivers one line as its own frame, adding the terminator.
func (s *ScriptedChatTransport) PushLine(line string) { s.frames <- line + "\r\n" }

// Lines returns a copy of everything written so far.
func (s *ScriptedChatTransport) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// Wrote reports whether the exact line was written.
func (s *ScriptedChatTransport) Wrote(line string) bool {
	for _, l := range s.Lines() {
		if l == line {
			return true
		}
	}
	return false
}

// WaitFor polls cond for up to two seconds and fails the test if it
// never holds.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	WaitForDeadline(t, 2*time.Second, cond)
}

// WaitForDeadline polls cond until d elapses.
func WaitForDeadline(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
