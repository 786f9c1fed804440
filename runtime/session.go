// Package runtime holds the realtime chat session controller.
// Every state transition of a session runs on one loop goroutine;
// I/O happens elsewhere and its completion is posted back to the loop.
package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	defaultHistoryLimit = 20
	defaultQueueSize    = 256
	defaultFetchTimeout = 10 * time.Second
)

type Config struct {
	HistoryLimit      int
	MaxContentLength  int
	ConnectTimeout    time.Duration
	FetchTimeout      time.Duration
	SendTimeout       time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	QueueSize         int
}

// Session is the chat session of one authenticated participant.
type Session struct {
	log        *slog.Logger
	cfg        Config
	identity   contract.Identity
	directory  contract.Directory
	alerter    contract.Alerter
	conn       *ConnectionManager
	store      *MessageStore
	tracker    *MembershipTracker
	pipeline   *Pipeline
	dispatcher *Dispatcher
	supervisor *workers.Supervisor
	reconnect  *workers.Reconnector

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	// Owned by the loop goroutine.
	participant  *domain.Participant
	rooms        []domain.Room
	observers    map[uint64]func(view domain.View)
	nextObserver uint64
}

func NewSession(log *slog.Logger, cfg Config, identity contract.Identity, directory contract.Directory,
	dialer contract.Dialer, alerter contract.Alerter) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:        log,
		cfg:        cfg,
		identity:   identity,
		directory:  directory,
		alerter:    alerter,
		conn:       NewConnectionManager(log.With("component", "connection"), dialer, alerter, cfg.ConnectTimeout),
		store:      NewMessageStore(log.With("component", "store")),
		supervisor: workers.NewSupervisor(log.With("component", "supervisor"), 0),
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan func(), cfg.QueueSize),
		done:       make(chan struct{}),
		observers:  make(map[uint64]func(view domain.View)),
	}
	s.tracker = NewMembershipTracker(log.With("component", "membership"), s.conn)
	s.pipeline = NewPipeline(log.With("component", "pipeline"), s.conn, s.store, cfg.MaxContentLength, cfg.SendTimeout)
	s.dispatcher = NewDispatcher(log.With("component", "dispatcher"), s.conn, s.post, s.store, s.pipeline, alerter).
		WithObservers(s.publish, s.onConnectionChange)

	if cfg.ReconnectMinDelay > 0 {
		s.reconnect = workers.NewReconnector(log.With("component", "reconnector"), s.conn,
			cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay)
		s.supervisor.Add(s.reconnect)
	}
	if cfg.SendTimeout > 0 {
		s.supervisor.Add(workers.NewSweeper(log.With("component", "sweeper"), sweepInterval(cfg.SendTimeout), func(now time.Time) {
			s.post(func() { s.expire(now) })
		}))
	}

	s.dispatcher.Register()
	s.wg.Add(1)
	go s.loop()
	return s
}

func sweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case task := <-s.queue:
			task()
		}
	}
}

// post queues a task on the loop, dropping it once the session is closed.
func (s *Session) post(task func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- task:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return errors.ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.ErrSessionClosed
	}
}

// Start resolves the participant, connects, lists the rooms and opens the first one.
// Only an identity failure is fatal, the other failures are surfaced as alerts.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.supervisor.Run(s.ctx)
		}()
	})

	participant, err := s.resolveParticipant(ctx)
	if err != nil {
		s.alerter.Show(domain.AlertError, err.Error())
		return err
	}
	if err := s.call(ctx, func() error {
		s.participant = &participant
		return nil
	}); err != nil {
		return err
	}

	if err := s.conn.Connect(ctx); err != nil {
		s.log.Warn("Starting without connection", "error", err)
	}

	rooms, err := s.directory.RoomsForParticipant(ctx, participant.ID)
	if err != nil {
		s.log.Error("Fetching rooms", "error", err)
		s.alerter.Show(domain.AlertError, "Failed to fetch chats")
		rooms = []domain.Room{}
	}
	if err := s.call(ctx, func() error {
		s.rooms = rooms
		s.publish()
		return nil
	}); err != nil {
		return err
	}

	if len(rooms) > 0 && s.conn.State() == domain.Connected {
		if err := s.JoinRoom(ctx, rooms[0]); err != nil {
			s.log.Warn("Opening first room", "room", rooms[0].ID, "error", err)
		}
	}
	return nil
}

func (s *Session) resolveParticipant(ctx context.Context) (domain.Participant, error) {
	current, err := s.identity.CurrentParticipant(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %w", errors.ErrAuth, err)
	}
	profile, err := s.directory.ParticipantByName(ctx, current.Username)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %w", errors.ErrAuth, err)
	}
	return profile, nil
}

// Reconnect is the user-initiated retry of a failed or dropped connection.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// JoinRoom makes room the active one and reloads its history.
// Joining the active room again reloads it too.
func (s *Session) JoinRoom(ctx context.Context, room domain.Room) error {
	return s.call(ctx, func() error {
		return s.openRoom(ctx, room)
	})
}

func (s *Session) openRoom(ctx context.Context, room domain.Room) error {
	if s.participant == nil {
		return errors.ErrAuth
	}
	released, err := s.tracker.Join(ctx, *s.participant, room)
	if released != nil {
		s.log.Debug("Released room", "room", released.ID)
	}
	if err != nil {
		// Local entries of the room survive a failed rejoin, the next join reloads them
		_, stillActive := s.tracker.Active()
		if storeRoom, ok := s.store.ActiveRoom(); !stillActive && ok && storeRoom != room.ID {
			s.store.Clear()
			s.publish()
		}
		s.alerter.Show(domain.AlertError, fmt.Sprintf("Failed to join %s", room.Name))
		return err
	}

	generation := s.store.Reload(room.ID)
	s.publish()
	s.wg.Add(1)
	go s.fetchHistory(room.ID, generation)
	return nil
}

// fetchHistory runs off the loop, its result is applied only if the room
// is still the active one when it completes.
func (s *Session) fetchHistory(roomID domain.RoomID, generation uint64) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	defer cancel()

	messages, err := s.directory.RecentMessages(ctx, roomID, s.cfg.HistoryLimit)
	s.post(func() {
		if !s.store.Current(roomID, generation) {
			s.log.Debug("Stale history result", "room", roomID, "error", err)
			return
		}
		if err != nil {
			s.log.Error("Fetching messages", "room", roomID, "error", err)
			s.store.LoadHistory(roomID, generation, nil)
			s.publish()
			s.alerter.Show(domain.AlertError, "Failed to fetch messages of chat")
			return
		}
		if s.store.LoadHistory(roomID, generation, messages) {
			s.publish()
		}
	})
}

// Send posts content to the active room.
// Empty content is rejected without any side effect.
func (s *Session) Send(ctx context.Context, content string) (domain.Message, error) {
	var msg domain.Message
	err := s.call(ctx, func() error {
		room, ok := s.tracker.Active()
		if !ok || s.participant == nil {
			return errors.ErrNoActiveRoom
		}
		var err error
		msg, err = s.pipeline.Send(ctx, *s.participant, room.ID, content)
		s.afterSend(msg, err)
		return err
	})
	return msg, err
}

// Retry resubmits a failed message.
func (s *Session) Retry(ctx context.Context, localID domain.MessageID) (domain.Message, error) {
	var msg domain.Message
	err := s.call(ctx, func() error {
		if s.participant == nil {
			return errors.ErrNoActiveRoom
		}
		var err error
		msg, err = s.pipeline.Retry(ctx, *s.participant, localID)
		s.afterSend(msg, err)
		return err
	})
	return msg, err
}

func (s *Session) afterSend(msg domain.Message, err error) {
	if msg.ID != "" {
		s.publish()
	}
	if errors.Is(err, errors.ErrSendFailure) {
		s.alerter.Show(domain.AlertError, err.Error())
	}
}

func (s *Session) expire(now time.Time) {
	expired := s.pipeline.Expire(now)
	if len(expired) == 0 {
		return
	}
	s.publish()
	for _, m := range expired {
		s.log.Info("Message expired", "local_id", m.ID)
	}
	s.alerter.Show(domain.AlertError, errors.ErrSendTimeout.Error())
}

// onConnectionChange runs on the loop. Once connected the active room is
// joined again so pushes keep flowing, without an active room the first
// known room is opened.
func (s *Session) onConnectionChange(change domain.StateChange) {
	s.publish()
	if s.reconnect != nil {
		s.reconnect.Notify(change)
	}
	if change.New != domain.Connected || s.participant == nil {
		return
	}
	room, ok := s.tracker.Active()
	if !ok {
		// Rejoin the room left by a failed rejoin, else open the first one
		storeRoom, held := s.store.ActiveRoom()
		found := false
		if held {
			room, found = lo.Find(s.rooms, func(r domain.Room) bool { return r.ID == storeRoom })
		}
		if !found && len(s.rooms) > 0 {
			room, found = s.rooms[0], true
		}
		if !found {
			return
		}
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	defer cancel()
	if err := s.openRoom(ctx, room); err != nil {
		s.log.Warn("Opening room after connect", "room", room.ID, "error", err)
	}
}

// Subscribe registers an observer of the read model and returns its disposer.
// Observers run on the loop goroutine and must not call back into the session.
func (s *Session) Subscribe(observer func(view domain.View)) (func(), error) {
	var id uint64
	err := s.call(context.Background(), func() error {
		s.nextObserver++
		id = s.nextObserver
		s.observers[id] = observer
		observer(s.view())
		return nil
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		s.post(func() { delete(s.observers, id) })
	}, nil
}

func (s *Session) publish() {
	if len(s.observers) == 0 {
		return
	}
	view := s.view()
	ids := lo.Keys(s.observers)
	slices.Sort(ids)
	for _, id := range ids {
		s.observers[id](view)
	}
}

func (s *Session) view() domain.View {
	view := domain.View{
		Loaded:     s.store.Loaded(),
		Messages:   s.store.Sequence(),
		Connection: s.conn.State(),
	}
	if room, ok := s.tracker.Active(); ok {
		view.Room = &room
	}
	return view
}

// View returns the current snapshot of the read model.
func (s *Session) View(ctx context.Context) (domain.View, error) {
	var view domain.View
	err := s.call(ctx, func() error {
		view = s.view()
		return nil
	})
	return view, err
}

func (s *Session) Rooms(ctx context.Context) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.call(ctx, func() error {
		rooms = append([]domain.Room{}, s.rooms...)
		return nil
	})
	return rooms, err
}

// RefreshRooms fetches the room list again, the active room stays open.
func (s *Session) RefreshRooms(ctx context.Context) ([]domain.Room, error) {
	participant, err := s.Participant(ctx)
	if err != nil {
		return nil, err
	}
	rooms, err := s.directory.RoomsForParticipant(ctx, participant.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFetch, err)
	}
	err = s.call(ctx, func() error {
		s.rooms = rooms
		s.publish()
		return nil
	})
	return append([]domain.Room{}, rooms...), err
}

func (s *Session) Participant(ctx context.Context) (domain.Participant, error) {
	var participant domain.Participant
	err := s.call(ctx, func() error {
		if s.participant == nil {
			return errors.ErrAuth
		}
		participant = *s.participant
		return nil
	})
	return participant, err
}

func (s *Session) ConnectionState() domain.ConnectionState {
	return s.conn.State()
}

// Close ends the session: listeners are disposed before the connection
// goes away, so no callback ever reaches a closed session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.dispatcher.Unregister()
		s.cancel()
		s.supervisor.Stop()
		close(s.done)
		s.conn.Disconnect()
		s.wg.Wait()
		s.log.Info("Session closed")
	})
}
