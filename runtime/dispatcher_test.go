package runtime

import (
	"chatter/domain"
	"chatter/mocks"
	"chatter/wire"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type capturedSource struct {
	handlers map[wire.Event]func(frame wire.Frame)
	watcher  func(change domain.StateChange)
	disposed int
}

func captureSource(ctrl *gomock.Controller) (*mocks.MockEventSource, *capturedSource) {
	source := mocks.NewMockEventSource(ctrl)
	captured := &capturedSource{handlers: make(map[wire.Event]func(frame wire.Frame))}
	source.EXPECT().
		On(gomock.Any(), gomock.Any()).
		DoAndReturn(func(event wire.Event, handler func(wire.Frame)) func() {
			captured.handlers[event] = handler
			return func() { captured.disposed++ }
		}).
		AnyTimes()
	source.EXPECT().
		OnStateChange(gomock.Any()).
		DoAndReturn(func(listener func(domain.StateChange)) func() {
			captured.watcher = listener
			return func() { captured.disposed++ }
		}).
		AnyTimes()
	return source, captured
}

func inline(task func()) bool {
	task()
	return true
}

func frameOf(t *testing.T, event wire.Event, payload any) wire.Frame {
	t.Helper()
	frame, err := wire.NewFrame(event, payload)
	require.NoError(t, err)
	return frame
}

func TestDispatcher_Register_Once_Unregister_Once(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	store := NewMessageStore(slog.Default())
	dispatcher := NewDispatcher(slog.Default(), source, inline, store, nil, mocks.NewMockAlerter(ctrl))

	dispatcher.Register()
	dispatcher.Register()
	req.True(dispatcher.Registered())
	req.Len(captured.handlers, 3)
	req.NotNil(captured.watcher)

	dispatcher.Unregister()
	dispatcher.Unregister()
	req.False(dispatcher.Registered())
	req.Equal(4, captured.disposed)
}

func TestDispatcher_New_Message_Reaches_Store(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	store := NewMessageStore(slog.Default())
	store.Reset("r1")
	changes := 0
	dispatcher := NewDispatcher(slog.Default(), source, inline, store, nil, mocks.NewMockAlerter(ctrl)).
		WithObservers(func() { changes++ }, nil)
	dispatcher.Register()

	// When the server pushes a message for r1, one for r2, and garbage
	handle := captured.handlers[wire.EventNewMessage]
	handle(frameOf(t, wire.EventNewMessage, wire.MessagePayload{MessageID: "1", ChatID: "r1", UserID: "2", Content: "yo", SentAt: t0}))
	handle(frameOf(t, wire.EventNewMessage, wire.MessagePayload{MessageID: "2", ChatID: "r2", UserID: "2", Content: "elsewhere", SentAt: t0}))
	handle(wire.Frame{Event: wire.EventNewMessage, Data: json.RawMessage(`[1,2]`)})

	// Then only the r1 message is applied
	req.Equal(1, changes)
	req.Equal([]domain.MessageID{"1"}, ids(store.Sequence()))
}

func TestDispatcher_Send_Error_Fails_Pending_And_Alerts(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)
	emitter := mocks.NewMockEmitter(ctrl)
	emitter.EXPECT().State().Return(domain.Connected).AnyTimes()
	emitter.EXPECT().Emit(gomock.Any(), wire.EventSend, gomock.Any()).Return(nil)
	pipeline, store := newTestPipeline(t, emitter, 0)
	dispatcher := NewDispatcher(slog.Default(), source, inline, store, pipeline, alerter)
	dispatcher.Register()

	msg, err := pipeline.Send(t.Context(), me, "r1", "hi")
	req.NoError(err)

	// Expect the error text to reach the alert channel
	alerter.EXPECT().Show(domain.AlertError, "Message could not be saved").Times(1)

	// When the server reports a bare string error
	captured.handlers[wire.EventSendError](wire.Frame{
		Event: wire.EventSendError,
		Data:  json.RawMessage(`"Message could not be saved"`),
	})

	// Then the pending message is failed
	stored, ok := store.Find(msg.ID)
	req.True(ok)
	req.Equal(domain.Failed, stored.State)
	req.Equal("Message could not be saved", stored.Reason)
}

func TestDispatcher_Send_Error_Without_Payload_Still_Alerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)
	emitter := mocks.NewMockEmitter(ctrl)
	pipeline, store := newTestPipeline(t, emitter, 0)
	dispatcher := NewDispatcher(slog.Default(), source, inline, store, pipeline, alerter)
	dispatcher.Register()

	alerter.EXPECT().Show(domain.AlertError, gomock.Any()).Times(1)

	captured.handlers[wire.EventSendError](wire.Frame{Event: wire.EventSendError})
}

func TestDispatcher_Join_Error_Alerts_Without_Failing_Sends(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)
	emitter := mocks.NewMockEmitter(ctrl)
	emitter.EXPECT().State().Return(domain.Connected).AnyTimes()
	emitter.EXPECT().Emit(gomock.Any(), wire.EventSend, gomock.Any()).Return(nil)
	pipeline, store := newTestPipeline(t, emitter, 0)
	changes := 0
	dispatcher := NewDispatcher(slog.Default(), source, inline, store, pipeline, alerter).
		WithObservers(func() { changes++ }, nil)
	dispatcher.Register()

	// Given a pending send
	msg, err := pipeline.Send(t.Context(), me, "r1", "hi")
	req.NoError(err)

	// Expect the refusal to be shown once
	alerter.EXPECT().Show(domain.AlertError, "not a member of this room").Times(1)

	// When the server refuses a join
	captured.handlers[wire.EventJoinError](frameOf(t, wire.EventJoinError,
		wire.ErrorPayload{Message: "not a member of this room", ChatID: "r9"}))

	// Then the pending send is untouched
	stored, ok := store.Find(msg.ID)
	req.True(ok)
	req.Equal(domain.Pending, stored.State)
	req.Zero(changes)
}

func TestDispatcher_Forwards_State_Changes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source, captured := captureSource(ctrl)
	var got []domain.StateChange
	dispatcher := NewDispatcher(slog.Default(), source, inline, NewMessageStore(slog.Default()), nil, mocks.NewMockAlerter(ctrl)).
		WithObservers(nil, func(change domain.StateChange) { got = append(got, change) })
	dispatcher.Register()

	captured.watcher(domain.StateChange{Old: domain.Disconnected, New: domain.Connecting})

	req.Equal([]domain.StateChange{{Old: domain.Disconnected, New: domain.Connecting}}, got)
}
