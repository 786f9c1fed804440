package relay

import (
	"chatter/auth"
	"chatter/errors"
	"chatter/repositories"
	"chatter/wire"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
)

// Hub fans messages out to the websocket clients joined to a room.
// A client is joined to at most one room at a time.
type Hub struct {
	log      *slog.Logger
	cfg      Config
	rooms    repositories.IRoomRepository
	messages repositories.IMessageRepository
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

type client struct {
	id       string
	userID   string
	username string
	ws       *websocket.Conn
	send     chan wire.Frame
	done     chan struct{}
	once     sync.Once
	room     string
}

func NewHub(log *slog.Logger, cfg Config, rooms repositories.IRoomRepository, messages repositories.IMessageRepository) *Hub {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		log:      log,
		cfg:      cfg,
		rooms:    rooms,
		messages: messages,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		now:      func() time.Time { return time.Now().UTC() },
		clients:  make(map[*client]struct{}),
	}
}

// ServeWS upgrades an authenticated request and serves the client until it leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization token is missing")
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "error", err)
		return
	}
	c := &client{
		id:       uuid.NewString(),
		userID:   claims.UserID,
		username: claims.Username,
		ws:       ws,
		send:     make(chan wire.Frame, h.cfg.SendQueueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("Client connected", "client", c.id, "user_id", c.userID)

	h.wg.Add(2)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c)
		h.wg.Done()
	}()
	for {
		var frame wire.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Client read failed", "client", c.id, "error", err)
			}
			return
		}
		switch frame.Event {
		case wire.EventJoin:
			var payload wire.JoinPayload
			if err := frame.Decode(&payload); err != nil {
				h.refuseJoin(c, "", err.Error())
				continue
			}
			h.join(c, payload)
		case wire.EventSend:
			var payload wire.SendPayload
			if err := frame.Decode(&payload); err != nil {
				h.reject(c, "", err.Error())
				continue
			}
			h.post(c, payload)
		default:
			h.log.Debug("Ignoring event", "client", c.id, "event", frame.Event)
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				h.log.Debug("Client write failed", "client", c.id, "error", err)
				h.drop(c)
				return
			}
		}
	}
}

// join moves the client to a room it is a member of.
func (h *Hub) join(c *client, payload wire.JoinPayload) {
	roomID := string(payload.ChatID)
	member, err := h.rooms.IsMember(roomID, c.userID)
	if err != nil || !member {
		h.log.Warn("Join refused", "client", c.id, "room", roomID, "error", err)
		h.refuseJoin(c, payload.ChatID, errors.ErrNotMember.Error())
		return
	}
	h.mu.Lock()
	previous := c.room
	c.room = roomID
	h.mu.Unlock()
	h.log.Info("Client joined", "client", c.id, "room", roomID, "previous", previous)
}

// post stores a message sent to the joined room and broadcasts it,
// echoing the client id so the sender can reconcile its pending copy.
func (h *Hub) post(c *client, payload wire.SendPayload) {
	h.mu.RLock()
	joined := c.room
	h.mu.RUnlock()

	switch {
	case string(payload.UserID) != c.userID:
		h.reject(c, payload.ClientID, "sender does not match the authenticated user")
		return
	case string(payload.ChatID) != joined:
		h.reject(c, payload.ClientID, errors.ErrNotMember.Error())
		return
	case strings.TrimSpace(payload.Content) == "":
		h.reject(c, payload.ClientID, "message content is empty")
		return
	case h.cfg.MaxContentLength > 0 && len([]rune(payload.Content)) > h.cfg.MaxContentLength:
		h.reject(c, payload.ClientID, fmt.Sprintf("message content exceeds %d characters", h.cfg.MaxContentLength))
		return
	}

	content, censored := h.cfg.Moderator.Censor(payload.Content)
	if len(censored) > 0 {
		h.cfg.Monitor.IncrCensored()
		h.log.Info("Censored message", "room", joined, "user", c.userID, "words", len(censored))
	}
	stored, err := h.messages.StoreMessage(repositories.DiskMessage{
		Room:      joined,
		AuthorID:  c.userID,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Content:   content,
		At:        h.now(),
		ClientID:  payload.ClientID,
	})
	if err != nil {
		h.log.Error("Storing message", "room", joined, "error", err)
		h.reject(c, payload.ClientID, "Message could not be saved")
		return
	}
	h.cfg.Monitor.IncrStored()

	frame, err := wire.NewFrame(wire.EventNewMessage, toWireMessage(stored))
	if err != nil {
		h.log.Error("Encoding message", "error", err)
		return
	}
	for _, target := range h.members(joined) {
		h.enqueue(target, frame)
	}
}

func (h *Hub) reject(c *client, clientID, reason string) {
	h.cfg.Monitor.IncrRejected()
	frame, err := wire.NewFrame(wire.EventSendError, wire.ErrorPayload{Message: reason, ClientID: clientID})
	if err != nil {
		return
	}
	h.enqueue(c, frame)
}

// refuseJoin reports a refused join on its own event, pending sends of the
// client are left alone.
func (h *Hub) refuseJoin(c *client, chatID wire.ID, reason string) {
	h.cfg.Monitor.IncrRejected()
	frame, err := wire.NewFrame(wire.EventJoinError, wire.ErrorPayload{Message: reason, ChatID: chatID})
	if err != nil {
		return
	}
	h.enqueue(c, frame)
}

func (h *Hub) members(roomID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Filter(lo.Keys(h.clients), func(c *client, _ int) bool { return c.room == roomID })
}

// enqueue never blocks, a client too slow to drain its queue is dropped.
func (h *Hub) enqueue(c *client, frame wire.Frame) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		h.log.Warn("Dropping slow client", "client", c.id)
		h.cfg.Monitor.IncrSlowClient()
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		h.log.Info("Client disconnected", "client", c.id)
	})
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Joined is the number of clients currently joined to roomID.
func (h *Hub) Joined(roomID string) int {
	return len(h.members(roomID))
}

// Shutdown closes every connection and waits for their goroutines.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := lo.Keys(h.clients)
	h.mu.RUnlock()
	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		h.drop(c)
	}
	h.wg.Wait()
}
