package runtime

import (
	"chatter/domain"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
)

// MessageStore is the ordered sequence of the active room.
// It merges the history page, live pushes and local sends.
// Not safe for concurrent use: the session loop owns it.
//
// The sequence is sorted by SentAt, ties keep arrival order.
type MessageStore struct {
	log        *slog.Logger
	roomID     domain.RoomID
	active     bool
	generation uint64
	loaded     bool
	messages   []domain.Message
}

func NewMessageStore(log *slog.Logger) *MessageStore {
	return &MessageStore{log: log}
}

// Reset switches the store to a room and starts a new load generation.
// The previous sequence is discarded. The returned generation must be
// handed back to LoadHistory.
func (s *MessageStore) Reset(roomID domain.RoomID) uint64 {
	s.generation++
	s.roomID = roomID
	s.active = true
	s.loaded = false
	s.messages = nil
	return s.generation
}

// Reload starts a new load generation for the active room. Local entries
// (pending or failed) are kept and merged with the next history page,
// confirmed ones are dropped since the page brings them back.
// On another room it behaves like Reset.
func (s *MessageStore) Reload(roomID domain.RoomID) uint64 {
	if !s.active || s.roomID != roomID {
		return s.Reset(roomID)
	}
	s.generation++
	s.loaded = false
	s.messages = lo.Filter(s.messages, func(m domain.Message, _ int) bool { return m.IsLocal() })
	return s.generation
}

// Clear drops the active room, every later push or history page is ignored.
func (s *MessageStore) Clear() {
	s.generation++
	s.roomID = ""
	s.active = false
	s.loaded = false
	s.messages = nil
}

func (s *MessageStore) ActiveRoom() (domain.RoomID, bool) {
	return s.roomID, s.active
}

// Current reports whether a fetch started for (roomID, generation) is still relevant.
func (s *MessageStore) Current(roomID domain.RoomID, generation uint64) bool {
	return s.active && s.roomID == roomID && s.generation == generation
}

// Loaded is false until a history page has been applied to the active room.
func (s *MessageStore) Loaded() bool {
	return s.loaded
}

// LoadHistory applies a most-recent-first page fetched for (roomID, generation).
// A page for another room or an older generation is stale and discarded.
// Confirmed messages pushed before the page arrived and local entries are kept.
func (s *MessageStore) LoadHistory(roomID domain.RoomID, generation uint64, mostRecentFirst []domain.Message) bool {
	if !s.Current(roomID, generation) {
		s.log.Debug("Discarding stale history", "room", roomID, "generation", generation)
		return false
	}

	known := make(map[domain.MessageID]struct{})
	history := lo.Filter(domain.Chronological(mostRecentFirst), func(m domain.Message, _ int) bool {
		if m.RoomID != roomID {
			return false
		}
		if m.ID == "" {
			return true
		}
		if _, dup := known[m.ID]; dup {
			return false
		}
		known[m.ID] = struct{}{}
		return true
	})
	for i := range history {
		history[i].State = domain.Confirmed
	}
	echoed := lo.SliceToMap(lo.Filter(history, func(m domain.Message, _ int) bool {
		return m.CorrelationID != ""
	}), func(m domain.Message) (string, struct{}) {
		return m.CorrelationID, struct{}{}
	})

	// Messages without an id are recognised by sender, time and content
	unnamed := lo.SliceToMap(lo.Filter(history, func(m domain.Message, _ int) bool {
		return m.ID == ""
	}), func(m domain.Message) (anonymousKey, struct{}) {
		return keyOf(m), struct{}{}
	})

	merged := history
	for _, m := range s.messages {
		if m.State == domain.Confirmed {
			if m.ID == "" {
				if _, dup := unnamed[keyOf(m)]; !dup {
					merged = append(merged, m)
				}
			} else if _, dup := known[m.ID]; !dup {
				merged = append(merged, m)
			}
			continue
		}
		if _, ok := echoed[m.CorrelationID]; ok && m.CorrelationID != "" {
			// Already confirmed by the history page itself
			continue
		}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SentAt.Before(merged[j].SentAt)
	})

	s.messages = merged
	s.loaded = true
	return true
}

type anonymousKey struct {
	sender  domain.ParticipantID
	sentAt  int64
	content string
}

func keyOf(m domain.Message) anonymousKey {
	return anonymousKey{sender: m.SenderID, sentAt: m.SentAt.UnixNano(), content: m.Content}
}

// AppendIncoming inserts a pushed message in the active room.
// Pushes for other rooms and duplicates of a known confirmed ID are ignored.
// A matching local send is reconciled: its entry is replaced by the confirmed copy.
func (s *MessageStore) AppendIncoming(msg domain.Message) bool {
	if !s.active || msg.RoomID != s.roomID {
		s.log.Debug("Ignoring message for inactive room", "room", msg.RoomID)
		return false
	}
	msg.State = domain.Confirmed
	if msg.ID != "" && lo.ContainsBy(s.messages, func(m domain.Message) bool {
		return m.State == domain.Confirmed && m.ID == msg.ID
	}) {
		s.log.Debug("Ignoring duplicate message", "id", msg.ID)
		return false
	}

	if idx := s.matchLocal(msg); idx >= 0 {
		s.log.Debug("Reconciled local message", "local_id", s.messages[idx].ID, "id", msg.ID)
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	}
	s.insert(msg)
	return true
}

// matchLocal finds the local entry confirmed by msg.
// The correlation id wins when the server echoed it, otherwise the oldest
// pending entry with the same sender and content is taken.
func (s *MessageStore) matchLocal(msg domain.Message) int {
	if msg.CorrelationID != "" {
		_, idx, ok := lo.FindIndexOf(s.messages, func(m domain.Message) bool {
			return m.IsLocal() && m.CorrelationID == msg.CorrelationID
		})
		if ok {
			return idx
		}
	}
	_, idx, _ := lo.FindIndexOf(s.messages, func(m domain.Message) bool {
		return m.State == domain.Pending &&
			m.RoomID == msg.RoomID &&
			m.SenderID == msg.SenderID &&
			m.Content == msg.Content
	})
	return idx
}

// AddPending inserts a local send. It is a no-op when no room is active
// or the message belongs to another room.
func (s *MessageStore) AddPending(msg domain.Message) bool {
	if !s.active || msg.RoomID != s.roomID {
		return false
	}
	msg.State = domain.Pending
	s.insert(msg)
	return true
}

// MarkFailed flips a local entry to failed. Confirmed messages never fail.
func (s *MessageStore) MarkFailed(localID domain.MessageID, reason string) (domain.Message, bool) {
	_, idx, ok := lo.FindIndexOf(s.messages, func(m domain.Message) bool {
		return m.IsLocal() && m.ID == localID
	})
	if !ok {
		return domain.Message{}, false
	}
	s.messages[idx].State = domain.Failed
	s.messages[idx].Reason = reason
	return s.messages[idx], true
}

// Remove deletes a local entry.
func (s *MessageStore) Remove(localID domain.MessageID) bool {
	_, idx, ok := lo.FindIndexOf(s.messages, func(m domain.Message) bool {
		return m.IsLocal() && m.ID == localID
	})
	if !ok {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	return true
}

func (s *MessageStore) Find(id domain.MessageID) (domain.Message, bool) {
	return lo.Find(s.messages, func(m domain.Message) bool { return m.ID == id })
}

// OldestPending returns the pending entry a send error refers to.
// With a correlation id only that entry matches.
func (s *MessageStore) OldestPending(correlationID string) (domain.Message, bool) {
	return lo.Find(s.messages, func(m domain.Message) bool {
		return m.State == domain.Pending && (correlationID == "" || m.CorrelationID == correlationID)
	})
}

// PendingSince returns pending entries sent at or before cutoff.
func (s *MessageStore) PendingSince(cutoff time.Time) []domain.Message {
	return lo.Filter(s.messages, func(m domain.Message, _ int) bool {
		return m.State == domain.Pending && !m.SentAt.After(cutoff)
	})
}

// Sequence returns a copy of the ordered sequence, never nil.
func (s *MessageStore) Sequence() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// insert keeps the order: after every entry sent at or before msg.
func (s *MessageStore) insert(msg domain.Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].SentAt.After(msg.SentAt)
	})
	s.messages = append(s.messages, domain.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
}
