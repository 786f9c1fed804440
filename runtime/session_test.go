package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/mocks"
	"chatter/wire"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// memoryServer hands out in-memory connections and records what clients emit.
type memoryServer struct {
	mu       sync.Mutex
	dialErr  error
	conns    []*memoryConn
	outbound chan wire.Frame
}

func newMemoryServer() *memoryServer {
	return &memoryServer{outbound: make(chan wire.Frame, 64)}
}

func (m *memoryServer) Dial(context.Context) (contract.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	conn := &memoryConn{server: m, inbound: make(chan wire.Frame, 64), closed: make(chan struct{})}
	m.conns = append(m.conns, conn)
	return conn, nil
}

func (m *memoryServer) current() *memoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[len(m.conns)-1]
}

// push delivers a frame to the latest client connection.
func (m *memoryServer) push(t *testing.T, event wire.Event, payload any) {
	t.Helper()
	m.current().inbound <- frameOf(t, event, payload)
}

// next waits for the next frame emitted by the client.
func (m *memoryServer) next(t *testing.T) wire.Frame {
	t.Helper()
	select {
	case frame := <-m.outbound:
		return frame
	case <-time.After(time.Second):
		require.FailNow(t, "no frame emitted")
		return wire.Frame{}
	}
}

func (m *memoryServer) silent(t *testing.T) {
	t.Helper()
	select {
	case frame := <-m.outbound:
		require.FailNow(t, "unexpected frame", "event %s", frame.Event)
	case <-time.After(30 * time.Millisecond):
	}
}

type memoryConn struct {
	server  *memoryServer
	inbound chan wire.Frame
	closed  chan struct{}
	once    sync.Once
}

func (c *memoryConn) Send(_ context.Context, frame wire.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.server.outbound <- frame
	return nil
}

func (c *memoryConn) Receive() (wire.Frame, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return wire.Frame{}, io.EOF
	}
}

func (c *memoryConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type alert struct {
	kind    domain.AlertKind
	message string
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (r *recordingAlerter) Show(kind domain.AlertKind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{kind: kind, message: message})
}

func (r *recordingAlerter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.message)
	}
	return out
}

var (
	general = domain.NewRoom("r1", "General")
	random  = domain.NewRoom("r2", "Random")
)

type sessionFixture struct {
	session   *Session
	server    *memoryServer
	alerter   *recordingAlerter
	identity  *mocks.MockIdentity
	directory *mocks.MockDirectory
}

func newSessionFixture(t *testing.T, cfg Config) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &sessionFixture{
		server:    newMemoryServer(),
		alerter:   &recordingAlerter{},
		identity:  mocks.NewMockIdentity(ctrl),
		directory: mocks.NewMockDirectory(ctrl),
	}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f.session = NewSession(log, cfg, f.identity, f.directory, f.server, f.alerter)
	t.Cleanup(f.session.Close)
	return f
}

// expectLogin wires the identity and the room listing of ada.
func (f *sessionFixture) expectLogin(rooms ...domain.Room) {
	f.identity.EXPECT().CurrentParticipant(gomock.Any()).Return(domain.Participant{Username: "ada"}, nil)
	f.directory.EXPECT().ParticipantByName(gomock.Any(), "ada").Return(me, nil)
	f.directory.EXPECT().RoomsForParticipant(gomock.Any(), me.ID).Return(rooms, nil)
}

func waitView(t *testing.T, s *Session, cond func(view domain.View) bool) domain.View {
	t.Helper()
	var view domain.View
	require.Eventually(t, func() bool {
		var err error
		view, err = s.View(context.Background())
		return err == nil && cond(view)
	}, time.Second, 2*time.Millisecond)
	return view
}

func loadedIn(roomID domain.RoomID) func(view domain.View) bool {
	return func(view domain.View) bool {
		return view.Loaded && view.Room != nil && view.Room.ID == roomID
	}
}

func TestSession_Start_Opens_First_Room(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general, random)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return([]domain.Message{
		confirmed("2", "r1", "9", "second", t0.Add(time.Minute)),
		confirmed("1", "r1", "9", "first", t0),
	}, nil)

	req.NoError(f.session.Start(context.Background()))

	// Then ada joins the first room
	join := f.server.next(t)
	req.Equal(wire.EventJoin, join.Event)
	req.JSONEq(`{"username":"ada","user_id":"7","chat_id":"r1"}`, string(join.Data))

	// Then its history is displayed oldest first
	view := waitView(t, f.session, loadedIn("r1"))
	req.Equal([]domain.MessageID{"1", "2"}, ids(view.Messages))
	req.Equal(domain.Connected, view.Connection)

	rooms, err := f.session.Rooms(context.Background())
	req.NoError(err)
	req.Equal([]domain.Room{general, random}, rooms)
	participant, err := f.session.Participant(context.Background())
	req.NoError(err)
	req.Equal(me, participant)
}

func TestSession_Start_Fails_Without_Identity(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.identity.EXPECT().CurrentParticipant(gomock.Any()).Return(domain.Participant{}, fmt.Errorf("no token"))

	err := f.session.Start(context.Background())

	req.ErrorIs(err, errors.ErrAuth)
	req.Len(f.alerter.messages(), 1)
	f.server.silent(t)
}

func TestSession_Start_Without_Connection_Lists_Rooms(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.server.dialErr = fmt.Errorf("connection refused")
	f.expectLogin(general)

	req.NoError(f.session.Start(context.Background()))

	rooms, err := f.session.Rooms(context.Background())
	req.NoError(err)
	req.Equal([]domain.Room{general}, rooms)
	view, err := f.session.View(context.Background())
	req.NoError(err)
	req.Nil(view.Room)
	req.Equal(domain.Disconnected, view.Connection)
	req.NotEmpty(f.alerter.messages())
}

func TestSession_RefreshRooms_Keeps_Active_Room(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	// When a room was created elsewhere
	f.directory.EXPECT().RoomsForParticipant(gomock.Any(), me.ID).Return([]domain.Room{general, random}, nil)
	rooms, err := f.session.RefreshRooms(context.Background())

	// Then it is listed and the active room is unchanged
	req.NoError(err)
	req.Equal([]domain.Room{general, random}, rooms)
	view, err := f.session.View(context.Background())
	req.NoError(err)
	req.Equal(general.ID, view.Room.ID)

	f.directory.EXPECT().RoomsForParticipant(gomock.Any(), me.ID).Return(nil, fmt.Errorf("503"))
	_, err = f.session.RefreshRooms(context.Background())
	req.ErrorIs(err, errors.ErrFetch)
	rooms, err = f.session.Rooms(context.Background())
	req.NoError(err)
	req.Len(rooms, 2)
}

func TestSession_Start_Room_Listing_Failure_Alerts(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.identity.EXPECT().CurrentParticipant(gomock.Any()).Return(domain.Participant{Username: "ada"}, nil)
	f.directory.EXPECT().ParticipantByName(gomock.Any(), "ada").Return(me, nil)
	f.directory.EXPECT().RoomsForParticipant(gomock.Any(), me.ID).Return(nil, fmt.Errorf("503"))

	req.NoError(f.session.Start(context.Background()))

	rooms, err := f.session.Rooms(context.Background())
	req.NoError(err)
	req.Empty(rooms)
	req.Contains(f.alerter.messages(), "Failed to fetch chats")
}

func TestSession_Send_Then_Echo_Shows_One_Confirmed_Message(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	// When ada sends "hi"
	msg, err := f.session.Send(context.Background(), "hi")
	req.NoError(err)

	// Then exactly one pending "hi" is displayed and emitted
	view, err := f.session.View(context.Background())
	req.NoError(err)
	req.Len(view.Messages, 1)
	req.Equal(domain.Pending, view.Messages[0].State)
	sent := f.server.next(t)
	req.Equal(wire.EventSend, sent.Event)
	var payload wire.SendPayload
	req.NoError(sent.Decode(&payload))
	req.Equal("hi", payload.Content)

	// When the server pushes it back
	f.server.push(t, wire.EventNewMessage, wire.MessagePayload{
		MessageID: "100", ChatID: "r1", UserID: "7", FirstName: "Ada", LastName: "Lovelace",
		Content: "hi", SentAt: msg.SentAt.Add(time.Millisecond), ClientID: payload.ClientID,
	})

	// Then the pending entry is replaced by the confirmed one
	view = waitView(t, f.session, func(view domain.View) bool {
		return len(view.Messages) == 1 && view.Messages[0].State == domain.Confirmed
	})
	req.Equal(domain.MessageID("100"), view.Messages[0].ID)
}

func TestSession_Send_Empty_Content_Has_No_Effect(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	_, err := f.session.Send(context.Background(), "  ")

	req.ErrorIs(err, errors.ErrEmptyContent)
	view, err := f.session.View(context.Background())
	req.NoError(err)
	req.Empty(view.Messages)
	f.server.silent(t)
}

func TestSession_Send_Error_Fails_Message_And_Alerts(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	msg, err := f.session.Send(context.Background(), "hi")
	req.NoError(err)
	f.server.next(t)

	// When the server rejects the send
	f.server.push(t, wire.EventSendError, "Message could not be sent")

	view := waitView(t, f.session, func(view domain.View) bool {
		return len(view.Messages) == 1 && view.Messages[0].State == domain.Failed
	})
	req.Equal(msg.ID, view.Messages[0].ID)
	req.Eventually(func() bool {
		messages := f.alerter.messages()
		return len(messages) == 1 && messages[0] == "Message could not be sent"
	}, time.Second, 2*time.Millisecond)

	// When ada retries it
	retried, err := f.session.Retry(context.Background(), msg.ID)
	req.NoError(err)
	req.Equal("hi", retried.Content)
	req.Equal(wire.EventSend, f.server.next(t).Event)
}

func TestSession_Empty_Room_Is_Loaded(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return([]domain.Message{}, nil)

	req.NoError(f.session.Start(context.Background()))

	view := waitView(t, f.session, loadedIn("r1"))
	req.NotNil(view.Messages)
	req.Empty(view.Messages)
}

func TestSession_History_Failure_Alerts(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, fmt.Errorf("500"))

	req.NoError(f.session.Start(context.Background()))

	waitView(t, f.session, loadedIn("r1"))
	req.Contains(f.alerter.messages(), "Failed to fetch messages of chat")
}

func TestSession_Switch_Discards_Stale_History_And_Pushes(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{HistoryLimit: 5})
	f.expectLogin(general, random)

	// Given a slow r1 history
	release := make(chan struct{})
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 5).
		DoAndReturn(func(ctx context.Context, _ domain.RoomID, _ int) ([]domain.Message, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []domain.Message{confirmed("old", "r1", "9", "from r1", t0)}, nil
		})
	f.directory.EXPECT().RecentMessages(gomock.Any(), random.ID, 5).
		Return([]domain.Message{confirmed("r2-1", "r2", "9", "from r2", t0)}, nil)

	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)

	// When ada switches to r2 before r1 answered
	req.NoError(f.session.JoinRoom(context.Background(), random))
	join := f.server.next(t)
	req.JSONEq(`{"username":"ada","user_id":"7","chat_id":"r2"}`, string(join.Data))
	waitView(t, f.session, loadedIn("r2"))

	// When r1 answers late and pushes a message
	close(release)
	f.server.push(t, wire.EventNewMessage, wire.MessagePayload{MessageID: "x", ChatID: "r1", UserID: "9", Content: "late", SentAt: t0})
	f.server.push(t, wire.EventNewMessage, wire.MessagePayload{MessageID: "r2-2", ChatID: "r2", UserID: "9", Content: "fresh", SentAt: t0.Add(time.Second)})

	// Then only r2 content is displayed
	view := waitView(t, f.session, func(view domain.View) bool { return len(view.Messages) == 2 })
	req.Equal([]domain.MessageID{"r2-1", "r2-2"}, ids(view.Messages))
	req.Equal(random.ID, view.Room.ID)
}

func TestSession_Subscribe_Receives_Snapshots(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})

	var mu sync.Mutex
	var views []domain.View
	dispose, err := f.session.Subscribe(func(view domain.View) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, view)
	})
	req.NoError(err)

	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	waitView(t, f.session, loadedIn("r1"))

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := views[len(views)-1]
		return last.Loaded && last.Room != nil
	}, time.Second, 2*time.Millisecond)
	mu.Lock()
	req.False(views[0].Loaded)
	mu.Unlock()
	dispose()
}

func TestSession_Closed_Session_Rejects_Calls(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))
	conn := f.server.current()

	f.session.Close()
	f.session.Close()

	_, err := f.session.Send(context.Background(), "hi")
	req.ErrorIs(err, errors.ErrSessionClosed)
	req.Equal(domain.Disconnected, f.session.ConnectionState())
	select {
	case <-conn.closed:
	default:
		req.Fail("connection should be closed")
	}
}

func TestSession_Reconnects_And_Rejoins_After_Drop(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{ReconnectMinDelay: 5 * time.Millisecond, ReconnectMaxDelay: 20 * time.Millisecond})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil).Times(2)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	// When the server drops the connection
	f.server.current().Close()

	// Then the session reconnects and joins r1 again
	join := f.server.next(t)
	req.Equal(wire.EventJoin, join.Event)
	req.JSONEq(`{"username":"ada","user_id":"7","chat_id":"r1"}`, string(join.Data))
	waitView(t, f.session, func(view domain.View) bool {
		return view.Connection == domain.Connected && view.Loaded
	})
	req.Contains(f.alerter.messages(), "Connection lost")
}

func TestSession_Expires_Unconfirmed_Sends(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{SendTimeout: 40 * time.Millisecond})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	_, err := f.session.Send(context.Background(), "into the void")
	req.NoError(err)

	view := waitView(t, f.session, func(view domain.View) bool {
		return len(view.Messages) == 1 && view.Messages[0].State == domain.Failed
	})
	req.Equal(errors.ErrSendTimeout.Error(), view.Messages[0].Reason)
}

func TestSession_Rejoin_After_Drop_Keeps_Local_Messages(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{ReconnectMinDelay: 5 * time.Millisecond, ReconnectMaxDelay: 20 * time.Millisecond})
	f.expectLogin(general)
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return(nil, nil).Times(2)
	req.NoError(f.session.Start(context.Background()))
	f.server.next(t)
	waitView(t, f.session, loadedIn("r1"))

	// Given a send refused by the server and another one still pending
	refused, err := f.session.Send(context.Background(), "refused")
	req.NoError(err)
	var payload wire.SendPayload
	req.NoError(f.server.next(t).Decode(&payload))
	f.server.push(t, wire.EventSendError, wire.ErrorPayload{Message: "Message could not be sent", ClientID: payload.ClientID})
	waitView(t, f.session, func(view domain.View) bool {
		return len(view.Messages) == 1 && view.Messages[0].State == domain.Failed
	})
	waiting, err := f.session.Send(context.Background(), "waiting")
	req.NoError(err)
	f.server.next(t)

	// When the connection drops and the room is joined again
	f.server.current().Close()
	req.Equal(wire.EventJoin, f.server.next(t).Event)

	// Then both local messages are still displayed
	view := waitView(t, f.session, func(view domain.View) bool {
		return view.Connection == domain.Connected && view.Loaded
	})
	req.Equal([]domain.MessageID{refused.ID, waiting.ID}, ids(view.Messages))
	req.Equal(domain.Failed, view.Messages[0].State)
	req.Equal(domain.Pending, view.Messages[1].State)

	// And the failed one can still be retried
	retried, err := f.session.Retry(context.Background(), refused.ID)
	req.NoError(err)
	req.Equal("refused", retried.Content)
	req.Equal(wire.EventSend, f.server.next(t).Event)
}

func TestSession_Connect_After_Failed_Start_Opens_First_Room(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, Config{})
	f.server.dialErr = fmt.Errorf("connection refused")
	f.expectLogin(general, random)
	req.NoError(f.session.Start(context.Background()))
	f.server.silent(t)

	// Given the server is reachable again
	f.server.mu.Lock()
	f.server.dialErr = nil
	f.server.mu.Unlock()
	f.directory.EXPECT().RecentMessages(gomock.Any(), general.ID, 20).Return([]domain.Message{
		confirmed("1", "r1", "9", "first", t0),
	}, nil)

	// When ada connects by hand
	req.NoError(f.session.Reconnect(context.Background()))

	// Then the first room is joined and loaded
	join := f.server.next(t)
	req.Equal(wire.EventJoin, join.Event)
	req.JSONEq(`{"username":"ada","user_id":"7","chat_id":"r1"}`, string(join.Data))
	view := waitView(t, f.session, loadedIn("r1"))
	req.Equal([]domain.MessageID{"1"}, ids(view.Messages))
}
