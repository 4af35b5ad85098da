// Package session contains the chat session entity: an append-only message
// log owned by a single user.
package session

import (
	"errors"
	"time"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid checks that the role is known.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single chat turn.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ChatSession is a user-owned conversation. Messages are append-only.
type ChatSession struct {
	ID       string
	OwnerID  string
	Title    string
	Messages []Message

	CreatedAt time.Time
	// UpdatedAt is the entity's merge version (wall-clock, last writer wins).
	UpdatedAt time.Time
}

var (
	ErrEmptyID      = errors.New("session id is required")
	ErrEmptyOwner   = errors.New("session owner is required")
	ErrEmptyContent = errors.New("message content is required")
	ErrBadRole      = errors.New("unknown message role")
)

// NewChatSession creates an empty session.
func NewChatSession(id, ownerID, title string, now time.Time) (*ChatSession, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &ChatSession{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Append adds a message to the log.
func (s *ChatSession) Append(role Role, content string, now time.Time) error {
	if !role.IsValid() {
		return ErrBadRole
	}
	if content == "" {
		return ErrEmptyContent
	}
	s.Messages = append(s.Messages, Message{Role: role, Content: content, CreatedAt: now})
	s.UpdatedAt = now
	return nil
}

// NewerThan reports whether this copy's version wins a last-writer merge.
func (s *ChatSession) NewerThan(other *ChatSession) bool {
	if other == nil {
		return true
	}
	return s.UpdatedAt.After(other.UpdatedAt)
}

// Clone creates a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = append([]Message(nil), s.Messages...)
	return &clone
}
