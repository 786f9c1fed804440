// Package websocket is the live transport of the chat session:
// JSON event frames over a gorilla websocket.
package websocket

import (
	"chatter/contract"
	"chatter/wire"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	closeGracePeriod    = time.Second
)

// Dialer opens websocket connections to a relay URL such as ws://localhost:8080/ws.
type Dialer struct {
	log          *slog.Logger
	url          string
	token        string
	writeTimeout time.Duration
	dialer       *websocket.Dialer
}

func NewDialer(log *slog.Logger, url, token string, writeTimeout time.Duration) *Dialer {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Dialer{
		log:          log,
		url:          url,
		token:        token,
		writeTimeout: writeTimeout,
		dialer:       websocket.DefaultDialer,
	}
}

func (d *Dialer) Dial(ctx context.Context) (contract.Conn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	ws, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", d.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	d.log.Debug("Websocket connected", "url", d.url)
	return NewConn(d.log, ws, d.writeTimeout), nil
}

// Conn adapts a websocket to event frames.
// gorilla allows one concurrent writer, Send serializes writes.
type Conn struct {
	log          *slog.Logger
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func NewConn(log *slog.Logger, ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{log: log, ws: ws, writeTimeout: writeTimeout}
}

func (c *Conn) Send(ctx context.Context, frame wire.Frame) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(frame)
}

// Receive returns the next well-formed frame. Undecodable text messages are skipped.
func (c *Conn) Receive() (wire.Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return wire.Frame{}, err
		}
		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.log.Warn("Skipping malformed frame", "size", len(data), "error", err)
			continue
		}
		return frame, nil
	}
}

// Close sends a close control frame then closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
