package event

import (
	"time"

	"chatd/domain"
)

// DomainEvent is anything the fanout worker can hand to secondary sinks.
// Sinks observe side effects (search indexing, counters); they never sit
// on the delivery path of a message.
type DomainEvent interface {
	OccurredAt() time.Time
}

// MessageStored fires after a message has been durably persisted.
type MessageStored struct {
	Message domain.Message
}

func (e MessageStored) OccurredAt() time.Time { return e.Message.CreatedAt }

// PresenceStatus tags presence transitions.
type PresenceStatus string

const (
	StatusJoined PresenceStatus = "JOINED"
	StatusLeft   PresenceStatus = "LEFT"
)

// PresenceChanged fires when a user transitions online or offline.
type PresenceChanged struct {
	Username    string
	DisplayName string
	Status      PresenceStatus
	At          time.Time
}

func (e PresenceChanged) OccurredAt() time.Time { return e.At }
