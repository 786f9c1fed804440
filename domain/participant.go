// Package domain contains core concepts of the chat session.
// This file defines the Participant identity of the local user.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

type ParticipantID string

// Participant is immutable for the whole session.
type Participant struct {
	ID        ParticipantID
	Username  string
	FirstName string
	LastName  string
}

// DisplayName joins first and last name, falling back to the username.
func (p Participant) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Username
	}
	return name
}
