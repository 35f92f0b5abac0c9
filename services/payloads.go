package services

import (
	"time"

	"chatd/domain"
	"chatd/domain/event"
)

// MessagePayload is the outward-facing representation of a message, shared
// by the websocket frames and the REST responses.
type MessagePayload struct {
	ID               uint64      `json:"id,omitempty"`
	SenderUsername   string      `json:"senderUsername"`
	SenderDisplay    string      `json:"senderDisplayName"`
	ReceiverUsername string      `json:"receiverUsername,omitempty"`
	Content          string      `json:"content,omitempty"`
	MessageType      domain.Kind `json:"messageType"`
	ImageURL         string      `json:"imageUrl,omitempty"`
	ImageContentType string      `json:"imageContentType,omitempty"`
	ImageSizeBytes   int64       `json:"imageSizeBytes,omitempty"`
	GroupMessage     bool        `json:"groupMessage"`
	Lang             string      `json:"lang,omitempty"`
	Read             bool        `json:"read"`
	Timestamp        time.Time   `json:"timestamp"`
}

// OnlineUserPayload is the sidebar entry for one online user.
type OnlineUserPayload struct {
	ID          uint64 `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Online      bool   `json:"online"`
}

// PresencePayload notifies subscribers that a user joined or left.
type PresencePayload struct {
	Username    string               `json:"username"`
	DisplayName string               `json:"displayName"`
	Status      event.PresenceStatus `json:"status"`
	Timestamp   time.Time            `json:"timestamp"`
}

func toMessagePayload(message domain.Message, lang string) MessagePayload {
	payload := MessagePayload{
		ID:               message.ID,
		SenderUsername:   message.Sender,
		SenderDisplay:    message.SenderDisplay,
		ReceiverUsername: message.Receiver,
		Content:          message.Content,
		MessageType:      message.Kind,
		GroupMessage:     message.Group,
		Lang:             lang,
		Read:             message.Read,
		Timestamp:        message.CreatedAt,
	}
	if message.Image != nil {
		payload.ImageURL = message.Image.URL
		payload.ImageContentType = message.Image.ContentType
		payload.ImageSizeBytes = message.Image.SizeBytes
	}
	return payload
}

func toOnlineUserPayload(user domain.User) OnlineUserPayload {
	return OnlineUserPayload{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.EffectiveDisplayName(),
		Online:      user.Online,
	}
}
