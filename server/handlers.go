package server

import (
	"context"

	"github.com/onnwee/chat-roster/bot"
)

// Roster is the slice of the bot the HTTP API needs. *bot.Bot satisfies it.
type Roster interface {
	JoinChannel(name string) error
	LeaveChannel(name string) error
	AudienceSnapshot(ctx context.Context, name string) ([]bot.AudienceEntry, error)
	DrainNews(name string) ([]string, error)
	Status() bot.Status
	Ready() error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	roster Roster
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(roster Roster) *Handlers {
	return &Handlers{roster: roster}
}
