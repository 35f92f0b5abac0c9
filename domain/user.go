// Package domain contains core concepts of the chat system.
// This file defines the User entity and presence projection fields.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"strings"
	"time"
)

// User is a chat participant. The username is the primary routing handle,
// unique case-insensitively and immutable once chosen.
type User struct {
	ID           uint64
	Username     string
	DisplayName  string
	Online       bool
	SessionToken string
	LastSeen     time.Time
	CreatedAt    time.Time
}

// NormalizeUsername lowercases and trims a raw username so that lookups
// and storage keys agree regardless of how the client typed it.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// EffectiveDisplayName falls back to the username when no display name was set.
func (u User) EffectiveDisplayName() string {
	if strings.TrimSpace(u.DisplayName) == "" {
		return u.Username
	}
	return u.DisplayName
}
