// Package tracker holds the per-channel state the bot accumulates from
// chat events: who is present, who follows the owner, which joins are
// waiting on a batched directory lookup, and the bounded news queue.
package tracker

import "sync"

// Status tracks how much of a channel's membership is known.
type Status int

const (
	// StatusConnecting means the bot has joined but the membership
	// snapshot has not finished yet.
	StatusConnecting Status = iota
	// StatusConnected means the full membership list has been received.
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "connecting"
}

// DefaultNewsCap bounds the news queue when no explicit capacity is
// configured.
const DefaultNewsCap = 10

// Channel is one tracked chat room. Audience and followers are ordered
// sets: duplicates are rejected and insertion order is the presentation
// order. All methods are safe for concurrent use.
type Channel struct {
	name string

	mu         sync.Mutex
	status     Status
	audience   []string
	inAudience map[string]struct{}
	followers  []string
	isFollower map[string]struct{}
	joinWindow []string
	inWindow   map[string]struct{}
	news       []string
	newsCap    int
}

// NewChannel builds a channel in connecting status with the given news
// queue capacity.
func NewChannel(name string, newsCap int) *Channel {
	if newsCap <= 0 {
		newsCap = DefaultNewsCap
	}
	return &Channel{
		name:       name,
		status:     StatusConnecting,
		inAudience: make(map[string]struct{}),
		isFollower: make(map[string]struct{}),
		inWindow:   make(map[string]struct{}),
		newsCap:    newsCap,
	}
}

// Name returns the normalized channel name.
func (c *Channel) Name() string { return c.name }

// Status reports whether the membership snapshot has completed.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus records a snapshot phase change.
func (c *Channel) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Reset puts the channel back into connecting status and clears the
// audience and the pending join window. Followers survive a rejoin;
// presence does not.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusConnecting
	c.audience = nil
	c.inAudience = make(map[string]struct{})
	c.joinWindow = nil
	c.inWindow = make(map[string]struct{})
}

// AddAudience inserts a login into the audience set. It reports whether
// the login was newly added.
func (c *Channel) AddAudience(login string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inAudience[login]; ok {
		return false
	}
	c.inAudience[login] = struct{}{}
	c.audience = append(c.audience, login)
	return true
}

// RemoveAudience drops a login from the audience set, preserving the
// order of the remaining entries.
func (c *Channel) RemoveAudience(login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inAudience[login]; !ok {
		return
	}
	delete(c.inAudience, login)
	for i, l := range c.audience {
		if l == login {
			c.audience = append(c.audience[:i], c.audience[i+1:]...)
			break
		}
	}
}

// Audience returns the present logins in insertion order.
func (c *Channel) Audience() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.audience))
	copy(out, c.audience)
	return out
}

// AddFollower inserts a user id into the follower set. It reports
// whether the id was newly added.
func (c *Channel) AddFollower(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.isFollower[id]; ok {
		return false
	}
	c.isFollower[id] = struct{}{}
	c.followers = append(c.followers, id)
	return true
}

// HasFollower reports whether the user id is a known follower.
func (c *Channel) HasFollower(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.isFollower[id]
	return ok
}

// Followers returns the follower ids in insertion order.
func (c *Channel) Followers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.followers))
	copy(out, c.followers)
	return out
}

// FollowerCount returns the follower set size.
func (c *Channel) FollowerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.followers)
}

// PushJoin queues a login for the next batched directory lookup. It
// reports whether the window went from empty to non-empty, which is the
// caller's cue to schedule the flush.
func (c *Channel) PushJoin(login string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inWindow[login]; ok {
		return false
	}
	wasEmpty := len(c.joinWindow) == 0
	c.inWindow[login] = struct{}{}
	c.joinWindow = append(c.joinWindow, login)
	return wasEmpty
}

// TakeJoinWindow returns the batched logins and clears the window.
func (c *Channel) TakeJoinWindow() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.joinWindow
	c.joinWindow = nil
	c.inWindow = make(map[string]struct{})
	return out
}

// PushNews appends an entry to the news queue, evicting the oldest
// entries once the queue exceeds its capacity.
func (c *Channel) PushNews(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.news = append(c.news, entry)
	if len(c.news) > c.newsCap {
		c.news = c.news[len(c.news)-c.newsCap:]
	}
}

// DrainNews returns the queued entries oldest first and clears the
// queue.
func (c *Channel) DrainNews() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.news
	c.news = nil
	return out
}

// Stats is a point-in-time summary of a channel's tracked state.
type Stats struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Audience  int    `json:"audience"`
	Followers int    `json:"followers"`
	Pending   int    `json:"pending_lookups"`
	News      int    `json:"news_queued"`
}

// Stats snapshots the channel counters for reporting.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:      c.name,
		Status:    c.status.String(),
		Audience:  len(c.audience),
		Followers: len(c.followers),
		Pending:   len(c.joinWindow),
		News:      len(c.news),
	}
}
