//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chatter/domain"
	"chatter/wire"
	"context"
	"reflect"
)

// Identity resolves who is using the session. Failures are fatal at startup.
type Identity interface {
	CurrentParticipant(ctx context.Context) (domain.Participant, error)
}

// Directory is the record service the session reads from.
// RecentMessages returns the most recent messages first.
type Directory interface {
	ParticipantByName(ctx context.Context, name string) (domain.Participant, error)
	RoomsForParticipant(ctx context.Context, participantID domain.ParticipantID) ([]domain.Room, error)
	RecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error)
}

// Alerter is the generic alert channel of the presentation layer.
// It may be called from any goroutine.
type Alerter interface {
	Show(kind domain.AlertKind, message string)
}

// Conn is one established live connection.
// Receive blocks until a frame arrives or the connection is closed.
type Conn interface {
	Send(ctx context.Context, frame wire.Frame) error
	Receive() (wire.Frame, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Emitter writes outbound events on the live connection.
type Emitter interface {
	Emit(ctx context.Context, event wire.Event, payload any) error
	State() domain.ConnectionState
}

// EventSource registers listeners on the live connection.
// Every registration returns its disposer, disposers are idempotent.
type EventSource interface {
	On(event wire.Event, handler func(frame wire.Frame)) (dispose func())
	OnStateChange(listener func(change domain.StateChange)) (dispose func())
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
