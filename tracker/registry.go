package tracker

import (
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/chat-roster/telemetry"
)

// Registry maps normalized channel names to their tracked state. It is
// safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	newsCap  int
}

// NewRegistry builds an empty registry whose channels carry the given
// news queue capacity.
func NewRegistry(newsCap int) *Registry {
	if newsCap <= 0 {
		newsCap = DefaultNewsCap
	}
	return &Registry{
		channels: make(map[string]*Channel),
		newsCap:  newsCap,
	}
}

// Normalize lowercases a channel name and ensures the leading '#'
// marker, so "#Alpha", "alpha", and "ALPHA" all key the same entry.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}

// Ensure returns the channel for name, creating it in connecting status
// when it is not yet tracked.
func (r *Registry) Ensure(name string) *Channel {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[key]; ok {
		return ch
	}
	ch := NewChannel(key, r.newsCap)
	r.channels[key] = ch
	telemetry.SetChannelsTracked(len(r.channels))
	return ch
}

// Get looks up a tracked channel by name.
func (r *Registry) Get(name string) (*Channel, bool) {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[key]
	return ch, ok
}

// Remove forgets a channel entirely.
func (r *Registry) Remove(name string) {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, key)
	telemetry.SetChannelsTracked(len(r.channels))
}

// Names lists the tracked channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the tracked channels in name order.
func (r *Registry) All() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Channel, 0, len(names))
	for _, name := range names {
		out = append(out, r.channels[name])
	}
	return out
}

// Len reports how many channels are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
