// Package conversation models persisted chat threads and their storage.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderPersona Sender = "persona"
)

// Invariant violations reported by Validate.
var (
	ErrMissingPersona    = errors.New("conversation has no persona")
	ErrForeignSender     = errors.New("message sender is not part of the conversation")
	ErrMessageIncomplete = errors.New("message is incomplete")
)

// Message is one entry in a thread. Messages are append-only; slice order is
// the conversation order.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	PersonaID string    `json:"personaId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a message written by the user.
func NewUserMessage(id, content string, ts time.Time) Message {
	return Message{ID: id, Content: content, Sender: SenderUser, Timestamp: ts}
}

// NewPersonaMessage builds a message written by personaID.
func NewPersonaMessage(id, personaID, content string, ts time.Time) Message {
	return Message{ID: id, Content: content, Sender: SenderPersona, PersonaID: personaID, Timestamp: ts}
}

// Conversation is a stored thread bound to one persona, or to several when
// IsGroup is set.
type Conversation struct {
	ID             string    `json:"id"`
	PersonaID      string    `json:"personaId"`
	IsGroup        bool      `json:"isGroup,omitempty"`
	ParticipantIDs []string  `json:"participantIds,omitempty"`
	// ActiveIDs is the subset of ParticipantIDs still taking part when the
	// group was saved. Removed personas stay in ParticipantIDs only.
	ActiveIDs      []string  `json:"activeParticipantIds,omitempty"`
	Messages       []Message `json:"messages"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the sender invariants.
func (c Conversation) Validate() error {
	if c.PersonaID == "" {
		return ErrMissingPersona
	}
	for i, m := range c.Messages {
		if m.ID == "" {
			return fmt.Errorf("%w: message %d has no id", ErrMessageIncomplete, i)
		}
		switch m.Sender {
		case SenderUser:
		case SenderPersona:
			if m.PersonaID == "" {
				return fmt.Errorf("%w: message %s has no persona id", ErrMessageIncomplete, m.ID)
			}
			if c.IsGroup {
				if !slices.Contains(c.ParticipantIDs, m.PersonaID) {
					return fmt.Errorf("%w: %s in message %s", ErrForeignSender, m.PersonaID, m.ID)
				}
			} else if m.PersonaID != c.PersonaID {
				return fmt.Errorf("%w: %s in message %s", ErrForeignSender, m.PersonaID, m.ID)
			}
		default:
			return fmt.Errorf("%w: message %s has sender %q", ErrMessageIncomplete, m.ID, m.Sender)
		}
	}
	return nil
}

// CurrentParticipants returns the ids a resumed group starts with. Records
// saved without ActiveIDs fall back to ParticipantIDs.
func (c Conversation) CurrentParticipants() []string {
	if len(c.ActiveIDs) > 0 {
		return slices.Clone(c.ActiveIDs)
	}
	return slices.Clone(c.ParticipantIDs)
}

// Involves reports whether personaID is bound to or participates in c.
func (c Conversation) Involves(personaID string) bool {
	return c.PersonaID == personaID || slices.Contains(c.ParticipantIDs, personaID)
}
