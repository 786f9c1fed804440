package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/wire"
	"context"
	"log/slog"
)

// MembershipTracker knows the room the participant is joined to.
// At most one room is active, joining another one releases the previous.
type MembershipTracker struct {
	log     *slog.Logger
	emitter contract.Emitter
	active  *domain.Room
}

func NewMembershipTracker(log *slog.Logger, emitter contract.Emitter) *MembershipTracker {
	return &MembershipTracker{log: log, emitter: emitter}
}

// Join releases the current room when it differs, emits the join request
// and makes room the active one without waiting for any acknowledgement.
// It returns the room that was released, if any. When the request cannot
// be emitted the participant is left without an active room.
func (t *MembershipTracker) Join(ctx context.Context, participant domain.Participant, room domain.Room) (*domain.Room, error) {
	if t.emitter.State() != domain.Connected {
		return nil, errors.ErrNotConnected
	}

	var released *domain.Room
	if t.active != nil && t.active.ID != room.ID {
		released = t.active
		t.log.Debug("Leaving room", "room", released.ID)
	}
	t.active = nil

	if err := t.emitter.Emit(ctx, wire.EventJoin, wire.NewJoinPayload(participant, room.ID)); err != nil {
		return released, err
	}
	joined := room
	t.active = &joined
	t.log.Info("Joined room", "room", room.ID, "participant", participant.ID)
	return released, nil
}

func (t *MembershipTracker) Active() (domain.Room, bool) {
	if t.active == nil {
		return domain.Room{}, false
	}
	return *t.active, true
}

// Release forgets the active room, nothing is sent on the wire.
func (t *MembershipTracker) Release() (domain.Room, bool) {
	room, ok := t.Active()
	t.active = nil
	return room, ok
}
