package repositories

import (
	"chatter/errors"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IRoomRepository interface {
	CreateRoom(room DiskRoom, members ...string) (DiskRoom, error)
	AddMember(roomID, userID string) error
	GetRoom(roomID string) (DiskRoom, error)
	RoomsOfUser(userID string) ([]DiskRoom, error)
	IsMember(roomID, userID string) (bool, error)
}

type RoomRepository struct {
	db *badger.DB
}

func NewRoomRepository(db *badger.DB) IRoomRepository {
	return &RoomRepository{db: db}
}

type DiskRoom struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CreateRoom stores "room:{id}" and one "member:{user}:{room}" marker per member.
func (r RoomRepository) CreateRoom(room DiskRoom, members ...string) (DiskRoom, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	data, err := json.Marshal(room)
	if err != nil {
		return DiskRoom{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("room:"+room.ID), data); err != nil {
			return err
		}
		for _, userID := range members {
			if err := txn.Set(memberKey(userID, room.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return DiskRoom{}, err
	}
	return room, nil
}

func (r RoomRepository) AddMember(roomID, userID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte("room:" + roomID)); err != nil {
			return roomNotFound(err)
		}
		return txn.Set(memberKey(userID, roomID), nil)
	})
}

func (r RoomRepository) GetRoom(roomID string) (DiskRoom, error) {
	var room DiskRoom
	err := r.db.View(func(txn *badger.Txn) error {
		return readRoom(txn, roomID, &room)
	})
	return room, err
}

// RoomsOfUser lists the rooms a user belongs to, sorted by name.
func (r RoomRepository) RoomsOfUser(userID string) ([]DiskRoom, error) {
	rooms := []DiskRoom{}
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("member:%s:", userID))
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			roomID := string(it.Item().Key()[len(prefix):])
			var room DiskRoom
			if err := readRoom(txn, roomID, &room); err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (r RoomRepository) IsMember(roomID, userID string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(memberKey(userID, roomID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func memberKey(userID, roomID string) []byte {
	return []byte(fmt.Sprintf("member:%s:%s", userID, roomID))
}

func readRoom(txn *badger.Txn, roomID string, room *DiskRoom) error {
	item, err := txn.Get([]byte("room:" + roomID))
	if err != nil {
		return roomNotFound(err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, room)
	})
}

func roomNotFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrRoomNotFound
	}
	return err
}
