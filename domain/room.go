package domain

type RoomID string

// Room is a conversation the participant can join.
type Room struct {
	ID    RoomID
	Name  string
	Image string
}

func NewRoom(id RoomID, name string) Room {
	return Room{ID: id, Name: name}
}
