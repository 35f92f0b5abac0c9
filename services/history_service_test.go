package services

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"chatd/domain"
	"chatd/errors"
)

func newHistoryFixture(t *testing.T) (*HistoryService, *stubUsers, *stubMessages) {
	t.Helper()
	users := newStubUsers("alice", "bob")
	messages := &stubMessages{}
	return NewHistoryService(slog.Default(), users, messages), users, messages
}

func storePrivate(t *testing.T, messages *stubMessages, sender, receiver string, senderID, receiverID uint64, content string) {
	t.Helper()
	_, err := messages.Store(domain.Message{
		Kind:           domain.KindText,
		Content:        content,
		Sender:         sender,
		Receiver:       receiver,
		ConversationID: domain.ConversationID(senderID, receiverID),
	})
	require.NoError(t, err)
}

func TestHistoryService_GroupHistory(t *testing.T) {
	req := require.New(t)
	service, _, messages := newHistoryFixture(t)

	for _, content := range []string{"first", "second"} {
		_, err := messages.Store(domain.Message{
			Kind: domain.KindText, Content: content, Sender: "alice", Group: true,
		})
		req.NoError(err)
	}

	payloads, err := service.GroupHistory(0)
	req.NoError(err)
	req.Len(payloads, 2)
	req.Equal("first", payloads[0].Content)
	req.True(payloads[0].GroupMessage)
}

func TestHistoryService_PrivateHistory_DirectionIndependent(t *testing.T) {
	req := require.New(t)
	service, _, messages := newHistoryFixture(t)

	storePrivate(t, messages, "alice", "bob", 1, 2, "hi bob")
	storePrivate(t, messages, "bob", "alice", 2, 1, "hi alice")

	// Both orderings of the pair see the same conversation
	forward, err := service.PrivateHistory("alice", "bob", 0)
	req.NoError(err)
	backward, err := service.PrivateHistory("bob", "alice", 0)
	req.NoError(err)
	req.Equal(forward, backward)
	req.Len(forward, 2)
}

func TestHistoryService_PrivateHistory_UnknownUser(t *testing.T) {
	req := require.New(t)
	service, _, _ := newHistoryFixture(t)

	_, err := service.PrivateHistory("alice", "ghost", 0)
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func TestHistoryService_MarkRead_And_UnreadCount(t *testing.T) {
	req := require.New(t)
	service, _, messages := newHistoryFixture(t)

	storePrivate(t, messages, "alice", "bob", 1, 2, "one")
	storePrivate(t, messages, "alice", "bob", 1, 2, "two")

	unread, err := service.UnreadCount("bob")
	req.NoError(err)
	req.Equal(2, unread)

	marked, err := service.MarkConversationRead("bob", "alice")
	req.NoError(err)
	req.Equal(2, marked)

	unread, err = service.UnreadCount("bob")
	req.NoError(err)
	req.Zero(unread)

	// Idempotent
	marked, err = service.MarkConversationRead("bob", "alice")
	req.NoError(err)
	req.Zero(marked)
}

func Test_ClampLimit(t *testing.T) {
	req := require.New(t)
	req.Equal(DefaultHistoryLimit, clampLimit(0))
	req.Equal(DefaultHistoryLimit, clampLimit(-5))
	req.Equal(25, clampLimit(25))
	req.Equal(MaxHistoryLimit, clampLimit(10_000))
}
