// Package domain contains core concepts of the chat system.
// This file defines Message variants and the conversation pairing rule.
// Messages are immutable once persisted, except the read flag which only
// ever flips from false to true.
package domain

import (
	"fmt"
	"strings"
	"time"

	"chatd/errors"
)

// Kind discriminates the message variants. Validation depends on it:
// TEXT requires non-blank content, IMAGE allows an optional caption,
// SYSTEM is free-form and never persisted.
type Kind string

const (
	KindText   Kind = "TEXT"
	KindImage  Kind = "IMAGE"
	KindSystem Kind = "SYSTEM"
)

// SystemSender is the sender label carried by system notices.
const SystemSender = "SYSTEM"

// ImageMeta describes the stored image attached to an IMAGE message.
type ImageMeta struct {
	URL         string
	ContentType string
	SizeBytes   int64
}

// Message is a persisted chat event. Exactly one of the two shapes holds:
// group (Group=true, Receiver empty) or private (Group=false, Receiver set).
type Message struct {
	ID             uint64
	Kind           Kind
	Content        string
	Sender         string
	SenderDisplay  string
	Receiver       string
	ConversationID string
	Group          bool
	Image          *ImageMeta
	Read           bool
	CreatedAt      time.Time
}

// NewGroupMessage builds an unpersisted group message, enforcing the
// per-kind content rules before any mutation happens downstream.
func NewGroupMessage(sender User, kind Kind, content string, image *ImageMeta) (Message, error) {
	if err := validateContent(kind, content); err != nil {
		return Message{}, err
	}
	return Message{
		Kind:          kind,
		Content:       content,
		Sender:        sender.Username,
		SenderDisplay: sender.EffectiveDisplayName(),
		Group:         true,
		Image:         image,
	}, nil
}

// NewPrivateMessage builds an unpersisted private message between two
// distinct users and stamps the direction-independent conversation ID.
func NewPrivateMessage(sender, receiver User, kind Kind, content string, image *ImageMeta) (Message, error) {
	if sender.Username == receiver.Username {
		return Message{}, fmt.Errorf("%w: cannot send message to yourself", errors.ErrInvalidMessage)
	}
	if err := validateContent(kind, content); err != nil {
		return Message{}, err
	}
	return Message{
		Kind:           kind,
		Content:        content,
		Sender:         sender.Username,
		SenderDisplay:  sender.EffectiveDisplayName(),
		Receiver:       receiver.Username,
		ConversationID: ConversationID(sender.ID, receiver.ID),
		Group:          false,
		Image:          image,
	}, nil
}

// ConversationID pairs two user IDs into a single thread key. Both
// directions of a 1:1 exchange must land on the same key, so the smaller
// ID always comes first.
func ConversationID(a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("conv_%d_%d", a, b)
}

func validateContent(kind Kind, content string) error {
	switch kind {
	case KindText:
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("%w: text message content cannot be empty", errors.ErrInvalidMessage)
		}
	case KindImage, KindSystem:
		// Caption and notice text are optional.
	default:
		return fmt.Errorf("%w: unknown message kind %q", errors.ErrInvalidMessage, kind)
	}
	return nil
}

// Private reports whether the message belongs to a 1:1 conversation.
func (m Message) Private() bool {
	return m.Receiver != ""
}
