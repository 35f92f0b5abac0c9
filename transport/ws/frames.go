package ws

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"chatd/domain"
	"chatd/errors"
)

// Inbound actions a connected client may send. Join must come first; the
// router rejects sends from usernames that never joined anyway.
const (
	actionJoin        = "join"
	actionSendGroup   = "send_group"
	actionSendPrivate = "send_private"
	actionMarkRead    = "mark_read"
)

// Outbound channels mirror the destinations the core addresses.
const (
	channelGroupChat   = "group-chat"
	channelPresence    = "presence"
	channelOnlineUsers = "online-users"
	channelPrivate     = "private"
	channelError       = "error"
)

var validate = validator.New()

// Inbound is one client frame. Fields are action-dependent; validation
// happens per action before anything reaches the core.
type Inbound struct {
	Action           string      `json:"action" validate:"required,oneof=join send_group send_private mark_read"`
	Username         string      `json:"username,omitempty"`
	DisplayName      string      `json:"displayName,omitempty"`
	ReceiverUsername string      `json:"receiverUsername,omitempty"`
	OtherUsername    string      `json:"otherUsername,omitempty"`
	MessageType      domain.Kind `json:"messageType,omitempty"`
	Content          string      `json:"content,omitempty"`
	ImageURL         string      `json:"imageUrl,omitempty"`
	ImageContentType string      `json:"imageContentType,omitempty"`
	ImageSizeBytes   int64       `json:"imageSizeBytes,omitempty"`
}

// Outbound wraps every server-to-client payload in a channel envelope so a
// single connection can multiplex group, presence, and private traffic.
type Outbound struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// ErrorData is the payload on the error channel.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f Inbound) validateFrame() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	switch f.Action {
	case actionJoin:
		if f.Username == "" {
			return fmt.Errorf("%w: join requires a username", errors.ErrInvalidMessage)
		}
	case actionSendGroup, actionSendPrivate:
		if f.MessageType != domain.KindText && f.MessageType != domain.KindImage {
			return fmt.Errorf("%w: message type must be TEXT or IMAGE", errors.ErrInvalidMessage)
		}
	case actionMarkRead:
		if f.OtherUsername == "" {
			return fmt.Errorf("%w: mark_read requires otherUsername", errors.ErrInvalidMessage)
		}
	}
	return nil
}

// imageMeta extracts the attachment description, when one was sent.
func (f Inbound) imageMeta() *domain.ImageMeta {
	if f.MessageType != domain.KindImage || f.ImageURL == "" {
		return nil
	}
	return &domain.ImageMeta{
		URL:         f.ImageURL,
		ContentType: f.ImageContentType,
		SizeBytes:   f.ImageSizeBytes,
	}
}
