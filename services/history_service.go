package services

import (
	"log/slog"

	"github.com/samber/lo"

	"chatd/domain"
	"chatd/repositories"
)

const (
	// DefaultHistoryLimit applies when a caller passes no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit bounds the cost of any single history query.
	MaxHistoryLimit = 200
)

type IHistoryService interface {
	GroupHistory(limit int) ([]MessagePayload, error)
	PrivateHistory(userA, userB string, limit int) ([]MessagePayload, error)
	MarkConversationRead(readerUsername, otherUsername string) (int, error)
	UnreadCount(username string) (int, error)
}

// HistoryService is the read side of the store: chronological retrieval of
// prior messages plus read-receipt bookkeeping. It never dispatches
// anything.
type HistoryService struct {
	log      *slog.Logger
	users    repositories.IUserRepository
	messages repositories.IMessageRepository
}

func NewHistoryService(log *slog.Logger, users repositories.IUserRepository,
	messages repositories.IMessageRepository) *HistoryService {
	return &HistoryService{log: log, users: users, messages: messages}
}

// GroupHistory returns up to limit group messages, oldest first.
func (s *HistoryService) GroupHistory(limit int) ([]MessagePayload, error) {
	messages, err := s.messages.GroupHistory(clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return toPayloads(messages), nil
}

// PrivateHistory returns the conversation between two users, oldest first.
// Both orderings of the pair resolve to the same conversation.
func (s *HistoryService) PrivateHistory(userA, userB string, limit int) ([]MessagePayload, error) {
	a, err := s.users.GetByUsername(userA)
	if err != nil {
		return nil, err
	}
	b, err := s.users.GetByUsername(userB)
	if err != nil {
		return nil, err
	}
	conversationID := domain.ConversationID(a.ID, b.ID)
	messages, err := s.messages.ConversationHistory(conversationID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return toPayloads(messages), nil
}

// MarkConversationRead flips every unread message addressed to the reader
// in the conversation with the other user. Idempotent.
func (s *HistoryService) MarkConversationRead(readerUsername, otherUsername string) (int, error) {
	reader, err := s.users.GetByUsername(readerUsername)
	if err != nil {
		return 0, err
	}
	other, err := s.users.GetByUsername(otherUsername)
	if err != nil {
		return 0, err
	}
	conversationID := domain.ConversationID(reader.ID, other.ID)
	count, err := s.messages.MarkConversationRead(conversationID, reader.Username)
	if err != nil {
		return 0, err
	}
	s.log.Debug("Conversation marked read",
		"conversation", conversationID, "reader", reader.Username, "count", count)
	return count, nil
}

// UnreadCount reports how many private messages are waiting for a user.
func (s *HistoryService) UnreadCount(username string) (int, error) {
	user, err := s.users.GetByUsername(username)
	if err != nil {
		return 0, err
	}
	return s.messages.CountUnread(user.Username)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func toPayloads(messages []domain.Message) []MessagePayload {
	return lo.Map(messages, func(message domain.Message, _ int) MessagePayload {
		return toMessagePayload(message, "")
	})
}
