package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/wire"
	"log/slog"
	"sync"
)

// Scheduler runs a task on the session loop.
// It returns false when the task was dropped because the session is gone.
type Scheduler func(task func()) bool

// Dispatcher is the only component registering listeners on the connection.
// It routes inbound events onto the session loop.
type Dispatcher struct {
	log      *slog.Logger
	source   contract.EventSource
	schedule Scheduler
	store    *MessageStore
	pipeline *Pipeline
	alerter  contract.Alerter
	onChange func()
	onState  func(change domain.StateChange)

	mu        sync.Mutex
	disposers []func()
}

func NewDispatcher(log *slog.Logger, source contract.EventSource, schedule Scheduler,
	store *MessageStore, pipeline *Pipeline, alerter contract.Alerter) *Dispatcher {
	return &Dispatcher{
		log:      log,
		source:   source,
		schedule: schedule,
		store:    store,
		pipeline: pipeline,
		alerter:  alerter,
		onChange: func() {},
		onState:  func(domain.StateChange) {},
	}
}

// WithObservers sets the callbacks run on the loop after the read model
// changed and after a connection transition.
func (d *Dispatcher) WithObservers(onChange func(), onState func(change domain.StateChange)) *Dispatcher {
	if onChange != nil {
		d.onChange = onChange
	}
	if onState != nil {
		d.onState = onState
	}
	return d
}

// Register subscribes to the connection. Calling it twice registers once.
func (d *Dispatcher) Register() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposers != nil {
		return
	}
	d.disposers = []func(){
		d.source.On(wire.EventNewMessage, d.handleNewMessage),
		d.source.On(wire.EventSendError, d.handleSendError),
		d.source.On(wire.EventJoinError, d.handleJoinError),
		d.source.OnStateChange(d.handleStateChange),
	}
	d.log.Debug("Dispatcher registered")
}

// Unregister runs every disposer. Calling it twice disposes once.
func (d *Dispatcher) Unregister() {
	d.mu.Lock()
	disposers := d.disposers
	d.disposers = nil
	d.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	if disposers != nil {
		d.log.Debug("Dispatcher unregistered")
	}
}

func (d *Dispatcher) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposers != nil
}

func (d *Dispatcher) handleNewMessage(frame wire.Frame) {
	var payload wire.MessagePayload
	if err := frame.Decode(&payload); err != nil {
		d.log.Warn("Dropping malformed message", "error", err)
		return
	}
	msg := payload.ToMessage()
	d.schedule(func() {
		if d.store.AppendIncoming(msg) {
			d.onChange()
		}
	})
}

func (d *Dispatcher) handleSendError(frame wire.Frame) {
	var payload wire.ErrorPayload
	if err := frame.Decode(&payload); err != nil {
		d.log.Warn("Malformed send error", "error", err)
	}
	if payload.Message == "" {
		payload.Message = errors.ErrSendFailure.Error()
	}
	d.schedule(func() {
		if failed, ok := d.pipeline.Fail(payload); ok {
			d.log.Info("Message failed", "local_id", failed.ID, "reason", failed.Reason)
			d.onChange()
		}
		d.alerter.Show(domain.AlertError, payload.Message)
	})
}

// handleJoinError only alerts, a refused join says nothing about pending sends.
func (d *Dispatcher) handleJoinError(frame wire.Frame) {
	var payload wire.ErrorPayload
	if err := frame.Decode(&payload); err != nil {
		d.log.Warn("Malformed join error", "error", err)
	}
	if payload.Message == "" {
		payload.Message = errors.ErrNotMember.Error()
	}
	d.schedule(func() {
		d.log.Warn("Join refused", "room", payload.ChatID, "reason", payload.Message)
		d.alerter.Show(domain.AlertError, payload.Message)
	})
}

func (d *Dispatcher) handleStateChange(change domain.StateChange) {
	d.schedule(func() {
		d.onState(change)
	})
}
