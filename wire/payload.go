package wire

import (
	"bytes"
	"chatter/domain"
	"encoding/json"
	"time"
)

type JoinPayload struct {
	Username string `json:"username"`
	UserID   ID     `json:"user_id"`
	ChatID   ID     `json:"chat_id"`
}

type SendPayload struct {
	UserID    ID     `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ChatID    ID     `json:"chat_id"`
	Content   string `json:"message_content"`
	// ClientID is optional, servers that echo it back allow exact reconciliation.
	ClientID string `json:"client_id,omitempty"`
}

type MessagePayload struct {
	MessageID ID        `json:"message_id"`
	ChatID    ID        `json:"chat_id"`
	UserID    ID        `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Content   string    `json:"message_content"`
	SentAt    time.Time `json:"message_sent_at"`
	ClientID  string    `json:"client_id,omitempty"`
}

// ErrorPayload accepts both {"message": "..."} and a bare JSON string.
type ErrorPayload struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
	// ChatID names the room of a refused join.
	ChatID ID `json:"chat_id,omitempty"`
}

func (p *ErrorPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		p.ClientID = ""
		p.ChatID = ""
		return json.Unmarshal(b, &p.Message)
	}
	type plain ErrorPayload
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*p = ErrorPayload(out)
	return nil
}

func NewJoinPayload(p domain.Participant, roomID domain.RoomID) JoinPayload {
	return JoinPayload{Username: p.Username, UserID: ID(p.ID), ChatID: ID(roomID)}
}

func NewSendPayload(p domain.Participant, m domain.Message) SendPayload {
	return SendPayload{
		UserID:    ID(p.ID),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		ChatID:    ID(m.RoomID),
		Content:   m.Content,
		ClientID:  m.CorrelationID,
	}
}

func (p MessagePayload) ToMessage() domain.Message {
	return domain.Message{
		ID:              domain.MessageID(p.MessageID),
		RoomID:          domain.RoomID(p.ChatID),
		SenderID:        domain.ParticipantID(p.UserID),
		SenderFirstName: p.FirstName,
		SenderLastName:  p.LastName,
		Content:         p.Content,
		SentAt:          p.SentAt,
		State:           domain.Confirmed,
		CorrelationID:   p.ClientID,
	}
}

func FromMessage(m domain.Message) MessagePayload {
	return MessagePayload{
		MessageID: ID(m.ID),
		ChatID:    ID(m.RoomID),
		UserID:    ID(m.SenderID),
		FirstName: m.SenderFirstName,
		LastName:  m.SenderLastName,
		Content:   m.Content,
		SentAt:    m.SentAt,
		ClientID:  m.CorrelationID,
	}
}
