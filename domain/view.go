package domain

type AlertKind string

const (
	AlertError   AlertKind = "error"
	AlertSuccess AlertKind = "success"
)

// View is the snapshot the presentation layer renders.
// Loaded is false until the first history page of Room has been applied,
// so an empty room (Loaded, no messages) differs from a room still loading.
type View struct {
	Room       *Room
	Loaded     bool
	Messages   []Message
	Connection ConnectionState
}
