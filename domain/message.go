// Package domain contains core concepts of the chat session.
// This file defines Message entries and their delivery lifecycle.
package domain

import (
	"strings"
	"time"
)

type MessageID string

type DeliveryState int

const (
	Pending DeliveryState = iota
	Confirmed
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one entry of a room sequence.
// Confirmed messages carry the server ID, pending and failed ones a local ID.
type Message struct {
	ID              MessageID
	RoomID          RoomID
	SenderID        ParticipantID
	SenderFirstName string
	SenderLastName  string
	Content         string
	SentAt          time.Time
	State           DeliveryState
	// CorrelationID is generated for local sends and echoed back by servers that support it.
	CorrelationID string
	// Reason holds the failure detail when State is Failed.
	Reason string
}

func (m Message) SenderDisplayName() string {
	return strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName)
}

func (m Message) IsLocal() bool {
	return m.State != Confirmed
}

// Chronological turns a most-recent-first history page into oldest-first order.
// The input slice is left untouched.
func Chronological(mostRecentFirst []Message) []Message {
	out := make([]Message, len(mostRecentFirst))
	for i, m := range mostRecentFirst {
		out[len(mostRecentFirst)-1-i] = m
	}
	return out
}
