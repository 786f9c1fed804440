package repositories

import (
	"chatter/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(user User) (User, error)
	GetUserByUsername(username string) (User, error)
	GetUserByID(id string) (User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is an account of the relay.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser persists a new account under "user:{username}" with an
// index "user_id:{id}" -> username. Usernames are unique.
func (u UserRepository) CreateUser(user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := []byte("user:" + user.Username)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte("user_id:"+user.ID), []byte(user.Username))
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (u UserRepository) GetUserByUsername(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		return readUser(txn, username, &user)
	})
	return user, err
}

func (u UserRepository) GetUserByID(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("user_id:" + id))
		if err != nil {
			return notFound(err)
		}
		username, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return readUser(txn, string(username), &user)
	})
	return user, err
}

func readUser(txn *badger.Txn, username string, user *User) error {
	item, err := txn.Get([]byte("user:" + username))
	if err != nil {
		return notFound(err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, user)
	})
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrNotFound
	}
	return err
}
