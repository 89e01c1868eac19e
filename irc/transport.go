package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Transport is one established connection to the chat endpoint.
// ReadFrame returns a chunk of inbound text that may contain several
// CRLF-terminated lines; WriteLine sends one command, appending the
// terminator.
type Transport interface {
	ReadFrame() (string, error)
	WriteLine(line string) error
	Close() error
}

// Dialer establishes a Transport to addr.
type Dialer func(ctx context.Context, addr string) (Transport, error)

// DialTLS connects over TLS TCP, the transport Twitch serves on
// irc.chat.twitch.tv:6697.
func DialTLS(ctx context.Context, addr string) (Transport, error) {
	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tls %s: %w", addr, err)
	}
	return &netTransport{conn: conn, r: bufio.NewReader(conn)}, nil
}

type netTransport struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func (t *netTransport) ReadFrame() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	// A partial line before EOF is still delivered; the buffered
	// reader replays the error on the next call.
	return line, nil
}

func (t *netTransport) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte(line + "\r\n"))
	return err
}

func (t *netTransport) Close() error { return t.conn.Close() }

// DialWebSocket connects over IRC-over-WebSocket, the transport Twitch
// serves on wss://irc-ws.chat.twitch.tv:443. Each websocket message is
// one frame and may batch several lines.
func DialWebSocket(ctx context.Context, addr string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", addr, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn

	// gorilla/websocket allows one concurrent writer
	wmu sync.Mutex
}

func (t *wsTransport) ReadFrame() (string, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *wsTransport) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (t *wsTransport) Close() error { return t.conn.Close() }
