//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chatd/domain"
	"chatd/errors"
)

type IMessageRepository interface {
	Store(message domain.Message) (domain.Message, error)
	GroupHistory(limit int) ([]domain.Message, error)
	ConversationHistory(conversationID string, limit int) ([]domain.Message, error)
	MarkConversationRead(conversationID, readerUsername string) (int, error)
	CountUnread(username string) (int, error)
}

type MessageRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte("seq:messages"), 100)
	if err != nil {
		return nil, fmt.Errorf("%w: message id sequence: %v", errors.ErrStoreUnavailable, err)
	}
	return &MessageRepository{db: db, seq: seq, log: log}, nil
}

func (r *MessageRepository) Close() error {
	return r.seq.Release()
}

type storedMessage struct {
	ID             uint64            `json:"id"`
	Kind           domain.Kind       `json:"kind"`
	Content        string            `json:"content,omitempty"`
	Sender         string            `json:"sender"`
	SenderDisplay  string            `json:"sender_display,omitempty"`
	Receiver       string            `json:"receiver,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Group          bool              `json:"group"`
	Image          *domain.ImageMeta `json:"image,omitempty"`
	Read           bool              `json:"read"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Keys are designed for lexicographic time order:
//   - group messages:   "msg:group:{timestamp_padded}:{id_padded}"
//   - private messages: "msg:conv:{conversation_id}:{timestamp_padded}:{id_padded}"
//
// The 19-digit zero-padded UnixNano sorts chronologically and the padded
// monotonic ID disambiguates two messages landing on the same nanosecond.
// Private messages additionally leave an "unread:{receiver}:{id_padded}"
// marker that points back at the message key, so unread counting and read
// receipts never scan the whole conversation space.
func groupKey(at time.Time, id uint64) []byte {
	return []byte(fmt.Sprintf("msg:group:%019d:%020d", at.UnixNano(), id))
}

func convKey(conversationID string, at time.Time, id uint64) []byte {
	return []byte(fmt.Sprintf("msg:conv:%s:%019d:%020d", conversationID, at.UnixNano(), id))
}

func unreadKey(receiver string, id uint64) []byte {
	return []byte(fmt.Sprintf("unread:%s:%020d", receiver, id))
}

// Store assigns the message its ID and persistence timestamp and writes it
// durably. The returned message is the canonical persisted form; callers
// must only dispatch that, never the input.
func (r *MessageRepository) Store(message domain.Message) (domain.Message, error) {
	next, err := r.seq.Next()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: next message id: %v", errors.ErrStoreUnavailable, err)
	}
	message.ID = next + 1
	message.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(fromMessage(message))
	if err != nil {
		return domain.Message{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		var key []byte
		if message.Group {
			key = groupKey(message.CreatedAt, message.ID)
		} else {
			key = convKey(message.ConversationID, message.CreatedAt, message.ID)
			if err := txn.Set(unreadKey(message.Receiver, message.ID), key); err != nil {
				return err
			}
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Message{}, wrapStoreErr(err)
	}
	return message, nil
}

// GroupHistory returns at most limit group messages in chronological order.
// The scan walks newest-first to bound its cost and the slice is reversed
// afterwards to restore display order.
func (r *MessageRepository) GroupHistory(limit int) ([]domain.Message, error) {
	var newest []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:group:")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the last possible group key, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(newest) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var stored storedMessage
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				newest = append(newest, toMessage(stored))
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
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

// ConversationHistory returns at most limit messages of one conversation,
// oldest first. Forward iteration over the conversation prefix is already
// chronological thanks to the padded timestamp in the key.
func (r *MessageRepository) ConversationHistory(conversationID string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:conv:" + conversationID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var stored storedMessage
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				messages = append(messages, toMessage(stored))
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
	return messages, nil
}

// MarkConversationRead flips the read flag on every message of the
// conversation addressed to the reader. Re-running is a no-op: already-read
// messages are skipped and their unread markers are long gone.
func (r *MessageRepository) MarkConversationRead(conversationID, readerUsername string) (int, error) {
	reader := domain.NormalizeUsername(readerUsername)
	count := 0
	err := r.db.Update(func(txn *badger.Txn) error {
		prefix := []byte("msg:conv:" + conversationID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		type pending struct {
			key  []byte
			data []byte
			id   uint64
		}
		var updates []pending
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				var stored storedMessage
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				if stored.Read || stored.Receiver != reader {
					return nil
				}
				stored.Read = true
				data, err := json.Marshal(stored)
				if err != nil {
					return err
				}
				updates = append(updates, pending{key: key, data: data, id: stored.ID})
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, u := range updates {
			if err := txn.Set(u.key, u.data); err != nil {
				return err
			}
			if err := txn.Delete(unreadKey(reader, u.id)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

// CountUnread counts unread private messages addressed to a user via the
// unread marker prefix, without touching message bodies.
func (r *MessageRepository) CountUnread(username string) (int, error) {
	count := 0
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("unread:" + domain.NormalizeUsername(username) + ":")
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

func fromMessage(message domain.Message) storedMessage {
	return storedMessage{
		ID:             message.ID,
		Kind:           message.Kind,
		Content:        message.Content,
		Sender:         message.Sender,
		SenderDisplay:  message.SenderDisplay,
		Receiver:       message.Receiver,
		ConversationID: message.ConversationID,
		Group:          message.Group,
		Image:          message.Image,
		Read:           message.Read,
		CreatedAt:      message.CreatedAt,
	}
}

func toMessage(stored storedMessage) domain.Message {
	return domain.Message{
		ID:             stored.ID,
		Kind:           stored.Kind,
		Content:        stored.Content,
		Sender:         stored.Sender,
		SenderDisplay:  stored.SenderDisplay,
		Receiver:       stored.Receiver,
		ConversationID: stored.ConversationID,
		Group:          stored.Group,
		Image:          stored.Image,
		Read:           stored.Read,
		CreatedAt:      stored.CreatedAt,
	}
}
