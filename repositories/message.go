package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) (DiskMessage, error)
	RecentMessages(room string, limit int) ([]DiskMessage, error)
}

type MessageRepository struct {
	db       *badger.DB
	log      *slog.Logger
	maxLimit int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, maxLimit int) MessageRepository {
	return MessageRepository{db: db, log: log, maxLimit: maxLimit}
}

type DiskMessage struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	AuthorID  string    `json:"author_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
	ClientID  string    `json:"client_id,omitempty"`
}

// StoreMessage persists a message, assigning its ID when empty.
// The key "msg:{room}:{timestamp_padded}:{id}" keeps messages of a room
// sorted by time, the id breaks ties on the same nanosecond.
func (m MessageRepository) StoreMessage(message DiskMessage) (DiskMessage, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	message.At = message.At.UTC()
	data, err := json.Marshal(message)
	if err != nil {
		return DiskMessage{}, err
	}
	key := fmt.Sprintf("msg:%s:%019d:%s", message.Room, message.At.UnixNano(), message.ID)
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	return message, err
}

// RecentMessages scans the room prefix backwards and returns the
// most recent messages first. The limit is capped by maxLimit.
func (m MessageRepository) RecentMessages(room string, limit int) ([]DiskMessage, error) {
	if m.maxLimit > 0 && (limit <= 0 || limit > m.maxLimit) {
		limit = m.maxLimit
	}
	messages := make([]DiskMessage, 0, max(limit, 0))
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", room))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Past every padded timestamp of the room
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				m.log.Debug("Maximum of messages reached", "room", room, "limit", limit)
				break
			}
			var message DiskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			})
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}
