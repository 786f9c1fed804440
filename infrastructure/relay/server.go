// Package relay is a development backend speaking the chat wire protocol
// and the REST directory routes, backed by badger.
package relay

import (
	"chatter/auth"
	"chatter/errors"
	"chatter/moderation"
	"chatter/observability"
	"chatter/repositories"
	"chatter/wire"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"
)

type Config struct {
	HistoryLimit     int
	MaxContentLength int
	WriteTimeout     time.Duration
	SendQueueSize    int
	// Moderator censors stored content, nil keeps it verbatim.
	Moderator *moderation.Moderator
	Monitor   *observability.Monitor
}

type Server struct {
	log      *slog.Logger
	cfg      Config
	signer   *auth.Signer
	users    repositories.IUserRepository
	rooms    repositories.IRoomRepository
	messages repositories.IMessageRepository
	hub      *Hub
}

func NewServer(log *slog.Logger, cfg Config, signer *auth.Signer, users repositories.IUserRepository,
	rooms repositories.IRoomRepository, messages repositories.IMessageRepository) *Server {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	s := &Server{
		log:      log,
		cfg:      cfg,
		signer:   signer,
		users:    users,
		rooms:    rooms,
		messages: messages,
	}
	s.hub = NewHub(log.With("component", "hub"), cfg, rooms, messages)
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// StatsHandler serves the traffic counters and the process sample.
func (s *Server) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.cfg.Monitor.Snapshot(s.hub.Clients()))
	})
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.signer, writeError))
		r.Get("/me", s.handleMe)
		r.Get("/users/{username}", s.handleUser)
		r.Get("/chats", s.handleChats)
		r.Post("/chats", s.handleCreateChat)
		r.Get("/chats/{chatID}/messages", s.handleMessages)
		r.Get("/ws", s.hub.ServeWS)
	})
	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body wire.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := auth.ValidateRegister(auth.RegisterRequest{
		Username:  body.Username,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		s.internalError(w, "Hashing password", err)
		return
	}
	user, err := s.users.CreateUser(repositories.User{
		Username:     body.Username,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		PasswordHash: hash,
	})
	if errors.Is(err, errors.ErrUserAlreadyExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "Creating user", err)
		return
	}
	s.log.Info("User registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, toWireUser(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body wire.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	user, err := s.users.GetUserByUsername(body.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.ErrBadCredentials.Error())
		return
	}
	ok, err := auth.ComparePassword(body.Password, user.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, errors.ErrBadCredentials.Error())
		return
	}
	token, err := s.signer.GenerateToken(user.ID, user.Username)
	if err != nil {
		s.internalError(w, "Signing token", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.TokenResponse{Token: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	user, err := s.users.GetUserByID(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, toWireUser(user))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUserByUsername(chi.URLParam(r, "username"))
	if errors.Is(err, errors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, "Reading user", err)
		return
	}
	writeJSON(w, http.StatusOK, toWireUser(user))
}

// handleChats lists the rooms of user_id, the caller by default.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = claims.UserID
	}
	rooms, err := s.rooms.RoomsOfUser(userID)
	if err != nil {
		s.internalError(w, "Listing rooms", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(rooms, func(room repositories.DiskRoom, _ int) wire.Chat {
		return toWireChat(room)
	}))
}

// handleCreateChat creates a room with the caller and the named members.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	var body wire.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatName == "" {
		writeError(w, http.StatusBadRequest, "chat_name is required")
		return
	}
	members := []string{claims.UserID}
	for _, username := range lo.Uniq(body.Members) {
		user, err := s.users.GetUserByUsername(username)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown member "+username)
			return
		}
		members = append(members, user.ID)
	}
	room, err := s.rooms.CreateRoom(repositories.DiskRoom{Name: body.ChatName, Image: body.Image}, lo.Uniq(members)...)
	if err != nil {
		s.internalError(w, "Creating room", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWireChat(room))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	roomID := chi.URLParam(r, "chatID")
	if _, err := s.rooms.GetRoom(roomID); err != nil {
		writeError(w, http.StatusNotFound, errors.ErrRoomNotFound.Error())
		return
	}
	if member, err := s.rooms.IsMember(roomID, claims.UserID); err != nil || !member {
		writeError(w, http.StatusForbidden, errors.ErrNotMember.Error())
		return
	}
	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	messages, err := s.messages.RecentMessages(roomID, limit)
	if err != nil {
		s.internalError(w, "Reading messages", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(messages, func(m repositories.DiskMessage, _ int) wire.MessagePayload {
		return toWireMessage(m)
	}))
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}

func toWireUser(u repositories.User) wire.User {
	return wire.User{UserID: wire.ID(u.ID), Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func toWireChat(r repositories.DiskRoom) wire.Chat {
	return wire.Chat{ChatID: wire.ID(r.ID), ChatName: r.Name, Image: r.Image}
}

func toWireMessage(m repositories.DiskMessage) wire.MessagePayload {
	return wire.MessagePayload{
		MessageID: wire.ID(m.ID),
		ChatID:    wire.ID(m.Room),
		UserID:    wire.ID(m.AuthorID),
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Content:   m.Content,
		SentAt:    m.At,
		ClientID:  m.ClientID,
	}
}
