//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatd/contract"
	"chatd/domain"
	"chatd/domain/event"
	"chatd/errors"
	"chatd/moderation"
	"chatd/repositories"
)

type IMessageService interface {
	SendGroup(ctx context.Context, senderUsername string, kind domain.Kind, content string, image *domain.ImageMeta) (MessagePayload, error)
	SendPrivate(ctx context.Context, senderUsername, receiverUsername string, kind domain.Kind, content string, image *domain.ImageMeta) (MessagePayload, error)
	BroadcastSystemNotice(ctx context.Context, text string)
}

// MessageService validates, persists, and dispatches a single inbound
// message. Validation happens before any mutation, and persistence always
// happens before dispatch: an unpersisted message is never broadcast.
type MessageService struct {
	log       *slog.Logger
	users     repositories.IUserRepository
	messages  repositories.IMessageRepository
	deliverer contract.Deliverer
	censor    moderation.Censor
	events    chan<- event.DomainEvent
}

func NewMessageService(log *slog.Logger, users repositories.IUserRepository,
	messages repositories.IMessageRepository, deliverer contract.Deliverer,
	censor moderation.Censor, events chan<- event.DomainEvent) *MessageService {
	return &MessageService{
		log:       log,
		users:     users,
		messages:  messages,
		deliverer: deliverer,
		censor:    censor,
		events:    events,
	}
}

// SendGroup persists a group message and delivers it to the broadcast
// destination, sender included.
func (s *MessageService) SendGroup(ctx context.Context, senderUsername string, kind domain.Kind, content string, image *domain.ImageMeta) (MessagePayload, error) {
	sender, err := s.users.GetByUsername(senderUsername)
	if err != nil {
		return MessagePayload{}, err
	}

	message, err := domain.NewGroupMessage(sender, kind, s.moderate(kind, content), image)
	if err != nil {
		return MessagePayload{}, err
	}

	saved, err := s.messages.Store(message)
	if err != nil {
		return MessagePayload{}, err
	}
	s.log.Info("Group message persisted", "id", saved.ID, "sender", sender.Username)

	payload := toMessagePayload(saved, s.lang(saved))
	s.deliver(ctx, contract.DestBroadcast, payload)
	s.emit(event.MessageStored{Message: saved})
	return payload, nil
}

// SendPrivate persists a private message and delivers the identical payload
// to exactly two destinations: the receiver's queue and the sender's echo.
// An offline receiver simply has no subscription; the message still persists
// for later history retrieval.
func (s *MessageService) SendPrivate(ctx context.Context, senderUsername, receiverUsername string, kind domain.Kind, content string, image *domain.ImageMeta) (MessagePayload, error) {
	if strings.TrimSpace(receiverUsername) == "" {
		return MessagePayload{}, fmt.Errorf("%w: receiver username is required for private messages", errors.ErrInvalidMessage)
	}
	sender, err := s.users.GetByUsername(senderUsername)
	if err != nil {
		return MessagePayload{}, err
	}
	receiver, err := s.users.GetByUsername(receiverUsername)
	if err != nil {
		return MessagePayload{}, err
	}

	message, err := domain.NewPrivateMessage(sender, receiver, kind, s.moderate(kind, content), image)
	if err != nil {
		return MessagePayload{}, err
	}

	saved, err := s.messages.Store(message)
	if err != nil {
		return MessagePayload{}, err
	}
	s.log.Info("Private message persisted", "id", saved.ID,
		"sender", sender.Username, "receiver", receiver.Username)

	payload := toMessagePayload(saved, s.lang(saved))
	s.deliver(ctx, contract.DestUser(receiver.Username), payload)
	s.deliver(ctx, contract.DestUser(sender.Username), payload)
	s.emit(event.MessageStored{Message: saved})
	return payload, nil
}

// BroadcastSystemNotice dispatches a SYSTEM message to every subscriber.
// Notices are not persisted, so join/leave churn never pollutes history.
func (s *MessageService) BroadcastSystemNotice(ctx context.Context, text string) {
	payload := MessagePayload{
		SenderUsername: domain.SystemSender,
		SenderDisplay:  "System",
		Content:        text,
		MessageType:    domain.KindSystem,
		GroupMessage:   true,
		Timestamp:      time.Now().UTC(),
	}
	s.deliver(ctx, contract.DestBroadcast, payload)
}

// moderate censors TEXT content; captions and notices pass through.
func (s *MessageService) moderate(kind domain.Kind, content string) string {
	if kind != domain.KindText {
		return content
	}
	censored, matched := s.censor.Apply(content)
	if matched {
		s.log.Debug("Message content censored")
	}
	return censored
}

func (s *MessageService) lang(message domain.Message) string {
	if message.Kind != domain.KindText {
		return ""
	}
	return moderation.DetectLanguage(message.Content)
}

// deliver pushes the payload to the transport. Delivery is best-effort once
// the message is durable; a transport hiccup must not fail the send.
func (s *MessageService) deliver(ctx context.Context, dest contract.Destination, payload any) {
	if err := s.deliverer.Deliver(ctx, dest, payload); err != nil {
		s.log.Warn("Delivery failed", "destination", dest, "error", err)
	}
}

// emit hands the event to secondary sinks without ever blocking the send path.
func (s *MessageService) emit(evt event.DomainEvent) {
	select {
	case s.events <- evt:
	default:
		s.log.Debug("Event channel full, dropping secondary event")
	}
}
