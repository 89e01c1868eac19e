package irc

import (
	"context"
	"log/slog"

	"github.com/onnwee/chat-roster/telemetry"
)

// HandlerFunc consumes one inbound command. msg.Params is nil when the
// line carried no parameters, never an empty slice, so handlers can
// tell a bare command from one with an empty payload.
type HandlerFunc func(ctx context.Context, msg Message)

// Dispatcher routes parsed lines to handlers by command token. The
// table is built once at wiring time; Handle is not synchronized
// against Dispatch, so register everything before the connection
// starts reading.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for command, replacing any earlier registration.
func (d *Dispatcher) Handle(command string, fn HandlerFunc) {
	d.handlers[command] = fn
}

// Dispatch routes msg to its handler. Commands without one are logged
// at info level and dropped; that is never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	fn, ok := d.handlers[msg.Command]
	if !ok {
		telemetry.IncUnhandledCommands()
		slog.Info("unhandled chat command",
			slog.String("command", msg.Command),
			slog.String("origin", msg.Origin))
		return
	}
	telemetry.IncCommandsDispatched(msg.Command)
	fn(ctx, msg)
}

// HandleRaw parses one line and dispatches it. Malformed lines are
// logged and skipped.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw string) {
	telemetry.IncLinesParsed()
	msg, err := ParseLine(raw)
	if err != nil {
		telemetry.IncParseErrors()
		slog.Warn("dropping malformed chat line", slog.String("line", raw))
		return
	}
	d.Dispatch(ctx, msg)
}
