package workers

import (
	"chatter/domain"
	"context"
	"log/slog"
	"time"
)

// Connector is the part of the connection manager the reconnector drives.
type Connector interface {
	Connect(ctx context.Context) error
	State() domain.ConnectionState
}

// Reconnector layers a retry policy on top of the connection contract:
// after an unexpected drop it reconnects with exponential backoff.
// Deliberate disconnects and failed initial connects are left alone.
type Reconnector struct {
	log       *slog.Logger
	conn      Connector
	minDelay  time.Duration
	maxDelay  time.Duration
	drops     chan struct{}
	afterFunc func(d time.Duration) <-chan time.Time
}

func NewReconnector(log *slog.Logger, conn Connector, minDelay, maxDelay time.Duration) *Reconnector {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Reconnector{
		log:       log,
		conn:      conn,
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		drops:     make(chan struct{}, 1),
		afterFunc: time.After,
	}
}

// Notify feeds a connection transition. It never blocks.
func (r *Reconnector) Notify(change domain.StateChange) {
	if !change.Dropped() {
		return
	}
	select {
	case r.drops <- struct{}{}:
	default:
	}
}

func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.drops:
			r.reconnect(ctx)
		}
	}
}

func (r *Reconnector) reconnect(ctx context.Context) {
	delay := r.minDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.afterFunc(delay):
		}
		if r.conn.State() != domain.Disconnected {
			// Someone else reconnected meanwhile
			return
		}
		err := r.conn.Connect(ctx)
		if err == nil {
			r.log.Info("Reconnected", "attempt", attempt)
			return
		}
		r.log.Warn("Reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}
