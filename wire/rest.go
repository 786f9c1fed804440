package wire

import "chatter/domain"

// User is the REST representation of a participant.
type User struct {
	UserID    ID     `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Chat is the REST representation of a room.
type Chat struct {
	ChatID   ID     `json:"chat_id"`
	ChatName string `json:"chat_name"`
	Image    string `json:"image,omitempty"`
}

func (u User) ToParticipant() domain.Participant {
	return domain.Participant{
		ID:        domain.ParticipantID(u.UserID),
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func FromParticipant(p domain.Participant) User {
	return User{UserID: ID(p.ID), Username: p.Username, FirstName: p.FirstName, LastName: p.LastName}
}

func (c Chat) ToRoom() domain.Room {
	return domain.Room{ID: domain.RoomID(c.ChatID), Name: c.ChatName, Image: c.Image}
}

func FromRoom(r domain.Room) Chat {
	return Chat{ChatID: ID(r.ID), ChatName: r.Name, Image: r.Image}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the body of every non-2xx REST answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateChatRequest names the members by username, the caller is always added.
type CreateChatRequest struct {
	ChatName string   `json:"chat_name"`
	Image    string   `json:"image,omitempty"`
	Members  []string `json:"members"`
}
