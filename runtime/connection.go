package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/wire"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionManager owns the single live connection of the session.
// Only the manager opens and closes it; listeners go through its Registry.
type ConnectionManager struct {
	log            *slog.Logger
	dialer         contract.Dialer
	alerter        contract.Alerter
	connectTimeout time.Duration
	registry       *Registry

	mu      sync.Mutex
	state   domain.ConnectionState
	conn    contract.Conn
	attempt uint64
}

func NewConnectionManager(log *slog.Logger, dialer contract.Dialer, alerter contract.Alerter,
	connectTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		log:            log,
		dialer:         dialer,
		alerter:        alerter,
		connectTimeout: connectTimeout,
		registry:       NewRegistry(),
		state:          domain.Disconnected,
	}
}

func (c *ConnectionManager) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the transport: disconnected -> connecting -> connected.
// Calling it while connecting or connected is a no-op.
// On failure the state goes back to disconnected and the error is surfaced.
func (c *ConnectionManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.Connecting
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()
	c.notify(domain.StateChange{Old: domain.Disconnected, New: domain.Connecting})

	dialCtx := ctx
	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}
	conn, err := c.dialer.Dial(dialCtx)
	if err != nil {
		return c.connectFailed(attempt, fmt.Errorf("%w: %w", errors.ErrConnection, err))
	}

	c.mu.Lock()
	if c.state != domain.Connecting || c.attempt != attempt {
		// Disconnect won the race while dialing
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: disconnected while dialing", errors.ErrConnection)
	}
	c.state = domain.Connected
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("Connection established")
	c.notify(domain.StateChange{Old: domain.Connecting, New: domain.Connected})
	go c.read(conn)
	return nil
}

func (c *ConnectionManager) connectFailed(attempt uint64, err error) error {
	c.mu.Lock()
	if c.attempt != attempt {
		// Disconnect already moved the state back
		c.mu.Unlock()
		return err
	}
	c.state = domain.Disconnected
	c.mu.Unlock()

	c.log.Warn("Connection failed", "error", err)
	c.notify(domain.StateChange{Old: domain.Connecting, New: domain.Disconnected, Err: err})
	c.alerter.Show(domain.AlertError, err.Error())
	return err
}

// Disconnect tears the connection down. Safe to call any number of times.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	old := c.state
	conn := c.conn
	c.state = domain.Disconnected
	c.conn = nil
	c.attempt++
	c.mu.Unlock()

	if old == domain.Disconnected {
		return
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Debug("Closing connection", "error", err)
		}
	}
	c.log.Info("Connection closed")
	c.notify(domain.StateChange{Old: old, New: domain.Disconnected})
}

// Emit writes one event frame on the live connection.
func (c *ConnectionManager) Emit(ctx context.Context, event wire.Event, payload any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != domain.Connected || conn == nil {
		return errors.ErrNotConnected
	}

	frame, err := wire.NewFrame(event, payload)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	c.log.Debug("Event emitted", "event", event)
	return nil
}

func (c *ConnectionManager) On(event wire.Event, handler func(frame wire.Frame)) func() {
	return c.registry.On(event, handler)
}

func (c *ConnectionManager) OnStateChange(listener func(change domain.StateChange)) func() {
	return c.registry.OnStateChange(listener)
}

// read delivers inbound frames in transport order until the connection fails.
func (c *ConnectionManager) read(conn contract.Conn) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		handler := c.registry.Handler(frame.Event)
		if handler == nil {
			c.log.Debug("No handler for inbound event", "event", frame.Event)
			continue
		}
		handler(frame)
	}
}

func (c *ConnectionManager) dropped(conn contract.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Closed on purpose by Disconnect
		c.mu.Unlock()
		return
	}
	c.state = domain.Disconnected
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	err := fmt.Errorf("%w: %w", errors.ErrConnection, cause)
	c.log.Warn("Connection dropped", "error", cause)
	c.notify(domain.StateChange{Old: domain.Connected, New: domain.Disconnected, Err: err})
	c.alerter.Show(domain.AlertError, "Connection lost")
}

func (c *ConnectionManager) notify(change domain.StateChange) {
	for _, watcher := range c.registry.Watchers() {
		watcher(change)
	}
}
