//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chatd/domain"
	"chatd/errors"
)

type IUserRepository interface {
	Create(username, displayName string) (domain.User, error)
	GetByUsername(username string) (domain.User, error)
	Save(user domain.User) error
	All() ([]domain.User, error)
	ResetAllOnline() error
}

type UserRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

// NewUserRepository wires a repository over the shared Badger handle.
// User IDs come from a dedicated sequence so they are never reused.
func NewUserRepository(db *badger.DB, log *slog.Logger) (*UserRepository, error) {
	seq, err := db.GetSequence([]byte("seq:users"), 100)
	if err != nil {
		return nil, fmt.Errorf("%w: user id sequence: %v", errors.ErrStoreUnavailable, err)
	}
	return &UserRepository{db: db, seq: seq, log: log}, nil
}

// Close releases the ID sequence lease back to Badger.
func (r *UserRepository) Close() error {
	return r.seq.Release()
}

// storedUser is the on-disk JSON shape. Kept separate from domain.User so
// the storage layout can evolve without touching the domain.
type storedUser struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Online       bool      `json:"online"`
	SessionToken string    `json:"session_token,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
}

func userKey(username string) []byte {
	return []byte("user:" + domain.NormalizeUsername(username))
}

// Create persists a brand new user. The username key is lowercased, which
// enforces case-insensitive uniqueness at the store level.
func (r *UserRepository) Create(username, displayName string) (domain.User, error) {
	next, err := r.seq.Next()
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: next user id: %v", errors.ErrStoreUnavailable, err)
	}
	user := domain.User{
		ID:          next + 1,
		Username:    domain.NormalizeUsername(username),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.Username)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", errors.ErrUserAlreadyExists, user.Username)
		}
		data, err := json.Marshal(fromUser(user))
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.User{}, wrapStoreErr(err)
	}
	r.log.Debug("User created", "username", user.Username, "id", user.ID)
	return user, nil
}

// GetByUsername retrieves a user, matching case-insensitively.
func (r *UserRepository) GetByUsername(username string) (domain.User, error) {
	var stored storedUser
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, domain.NormalizeUsername(username))
	}
	if err != nil {
		return domain.User{}, wrapStoreErr(err)
	}
	return toUser(stored), nil
}

// Save overwrites the stored snapshot of an existing user.
func (r *UserRepository) Save(user domain.User) error {
	data, err := json.Marshal(fromUser(user))
	if err != nil {
		return err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.Username), data)
	})
	return wrapStoreErr(err)
}

// All scans every stored user, in username order (the key order).
func (r *UserRepository) All() ([]domain.User, error) {
	var users []domain.User
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("user:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var stored storedUser
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				users = append(users, toUser(stored))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return users, nil
}

// ResetAllOnline clears stale online projections left over from a previous
// run that did not shut down cleanly.
func (r *UserRepository) ResetAllOnline() error {
	users, err := r.All()
	if err != nil {
		return err
	}
	for _, user := range users {
		if !user.Online && user.SessionToken == "" {
			continue
		}
		user.Online = false
		user.SessionToken = ""
		if err := r.Save(user); err != nil {
			return err
		}
	}
	r.log.Info("Stale online statuses reset", "users", len(users))
	return nil
}

// wrapStoreErr tags low-level Badger failures as store errors while letting
// domain sentinels pass through untouched.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, errors.ErrUserAlreadyExists) || stderrors.Is(err, errors.ErrUserNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
}

func fromUser(user domain.User) storedUser {
	return storedUser{
		ID:           user.ID,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		Online:       user.Online,
		SessionToken: user.SessionToken,
		LastSeen:     user.LastSeen,
		CreatedAt:    user.CreatedAt,
	}
}

func toUser(stored storedUser) domain.User {
	return domain.User{
		ID:           stored.ID,
		Username:     stored.Username,
		DisplayName:  stored.DisplayName,
		Online:       stored.Online,
		SessionToken: stored.SessionToken,
		LastSeen:     stored.LastSeen,
		CreatedAt:    stored.CreatedAt,
	}
}
