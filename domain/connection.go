package domain

// ConnectionState is the lifecycle of the single live connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChange is emitted on every connection transition.
// Err is set when the transition was caused by a failure.
type StateChange struct {
	Old ConnectionState
	New ConnectionState
	Err error
}

// Dropped reports an unexpected loss of an established connection.
func (c StateChange) Dropped() bool {
	return c.Old == Connected && c.New == Disconnected && c.Err != nil
}
