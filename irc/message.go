// Package irc implements the slice of the IRC protocol the bot speaks
// with Twitch chat: parsing inbound lines, the connection state machine
// with its backlog and reconnect behavior, and dispatch of parsed lines
// to registered handlers.
package irc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedLine marks a line that yields no command token. Read
// loops log and skip these; a bad line never tears down the connection.
var ErrMalformedLine = errors.New("malformed line")

// Message is one parsed protocol line. Params is nil when the line
// carried no parameters at all; a bare trailing marker still produces a
// final empty parameter, so the two cases stay distinguishable.
type Message struct {
	Origin  string
	Command string
	Params  []string
}

// Nick extracts the login from the origin. Twitch user prefixes look
// like "nick!user@host"; server origins carry no "!" and pass through
// unchanged.
func (m Message) Nick() string {
	if i := strings.IndexByte(m.Origin, '!'); i >= 0 {
		return m.Origin[:i]
	}
	return m.Origin
}

// ParseLine tokenizes one protocol line. A leading ":" introduces the
// origin. Parameters split on whitespace, except that a ":" opening a
// token after whitespace switches to trailing mode: the rest of the
// line, embedded whitespace included, becomes the final parameter
// verbatim.
func ParseLine(raw string) (Message, error) {
	if strings.TrimSpace(raw) == "" {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
	}

	var msg Message
	rest := raw
	boundary := false
	if rest[0] == ':' {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		msg.Origin = rest[1:sp]
		rest = rest[sp+1:]
		boundary = true
	}

	var tokens []string
	trailingAt := -1
	start := -1 // start of the token being scanned, -1 between tokens
scan:
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == ' ' || c == '\t':
			if start >= 0 {
				tokens = append(tokens, rest[start:i])
				start = -1
			}
			boundary = true
		case c == ':' && boundary:
			trailingAt = len(tokens)
			tokens = append(tokens, rest[i+1:])
			break scan
		default:
			if start < 0 {
				start = i
			}
			boundary = false
		}
	}
	if start >= 0 {
		tokens = append(tokens, rest[start:])
	}

	if len(tokens) == 0 || trailingAt == 0 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
	}
	msg.Command = tokens[0]
	if len(tokens) > 1 {
		msg.Params = tokens[1:]
	}
	return msg, nil
}
