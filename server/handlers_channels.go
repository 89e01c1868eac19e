package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chat-roster/bot"
	"github.com/onnwee/chat-roster/tracker"
)

// HandleStatus returns a summary of the chat connection and every tracked channel.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.roster.Status())
}

// HandleChannels lists tracked channels (GET) or joins a new one (POST).
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channels := h.roster.Status().Channels
		if channels == nil {
			channels = []tracker.Stats{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(channels)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.roster.JoinChannel(body.Name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// The JOIN confirmation arrives asynchronously over chat.
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleChannelsDispatcher routes requests under /channels/{name}/* to sub-handlers.
// Channel names may be given with or without the leading "#".
func (h *Handlers) HandleChannelsDispatcher(w http.ResponseWriter, r *http.Request) {
	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/channels/")
	parts := strings.Split(path, "/")
	name := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case name == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleChannelDetail(w, r, name)
	case tail == "audience":
		h.handleChannelAudience(w, r, name)
	case tail == "news/drain":
		h.handleChannelNewsDrain(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleChannelDetail(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		key := tracker.Normalize(name)
		for _, ch := range h.roster.Status().Channels {
			if ch.Name == key {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(ch)
				return
			}
		}
		http.NotFound(w, r)
	case http.MethodDelete:
		if err := h.roster.LeaveChannel(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Tracking ends once the PART echo comes back.
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// audienceWait bounds the snapshot wait requested via ?wait_ms. Missing,
// non-positive, or unparseable values take the 3s default; values over the
// cap clamp to 8s so the wait stays inside the server write timeout.
func audienceWait(r *http.Request) time.Duration {
	ms := parseIntQuery(r, "wait_ms", 3000)
	if ms <= 0 {
		ms = 3000
	}
	if ms > 8000 {
		ms = 8000
	}
	return time.Duration(ms) * time.Millisecond
}

// handleChannelAudience returns the merged audience view for one channel.
// The snapshot can block while directory lookups are in flight, so the wait is
// bounded by ?wait_ms (default 3000, max 8000) to stay inside the server write
// timeout. A channel still assembling its first snapshot yields 504.
func (h *Handlers) handleChannelAudience(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), audienceWait(r))
	defer cancel()
	entries, err := h.roster.AudienceSnapshot(ctx, name)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrNotTracked):
			http.NotFound(w, r)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			http.Error(w, "snapshot timed out", http.StatusGatewayTimeout)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	if entries == nil {
		entries = []bot.AudienceEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// handleChannelNewsDrain pops the queued news entries for a channel.
func (h *Handlers) handleChannelNewsDrain(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.roster.DrainNews(name)
	if err != nil {
		if errors.Is(err, bot.ErrNotTracked) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"entries": entries})
}
