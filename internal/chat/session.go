package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/persona"
)

// Session is a linear conversation with one persona.
type Session struct {
	opts    Options
	persona persona.Persona

	mu       sync.Mutex
	id       string
	created  time.Time
	messages []conversation.Message
	title    string
	busy     bool
	epoch    int
}

// NewSession starts a session with p. When initial is non-nil the session
// continues that stored conversation and Save updates it in place.
func NewSession(p persona.Persona, initial *conversation.Conversation, opts Options) *Session {
	opts.fill()
	s := &Session{
		opts:     opts,
		persona:  p,
		title:    "Conversation with " + p.Name,
		messages: []conversation.Message{},
	}
	if initial != nil {
		s.id = initial.ID
		s.created = initial.CreatedAt
		s.messages = slices.Clone(initial.Messages)
		if initial.Title != "" {
			s.title = initial.Title
		}
	}
	return s
}

// Persona returns the bound persona.
func (s *Session) Persona() persona.Persona { return s.persona }

// ID returns the stored conversation id, or "" before the first save.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Send appends the user's message and one persona reply. The user's message
// is kept when the reply fails.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	turn, err := s.send(ctx, text)
	s.opts.Metrics.observe(ModeSingle, err)
	return turn, err
}

func (s *Session) send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Turn{}, ErrBusy
	}
	prior := slices.Clone(s.messages)
	user := conversation.NewUserMessage(s.opts.IDs(), text, s.opts.Clock())
	s.messages = append(s.messages, user)
	turn := Turn{User: user, Replies: []conversation.Message{}}
	if !s.persona.HasCredential() {
		s.mu.Unlock()
		return turn, fmt.Errorf("%w: %s", ErrMissingCredential, s.persona.Name)
	}
	s.busy = true
	epoch := s.epoch
	s.mu.Unlock()

	msg, err := reply(ctx, s.opts, s.persona, text, prior)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		s.opts.Logger.Warn("persona reply failed", zap.String("persona_id", s.persona.ID), zap.Error(err))
		return turn, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if epoch != s.epoch {
		return turn, nil
	}
	s.messages = append(s.messages, msg)
	turn.Replies = append(turn.Replies, msg)
	return turn, nil
}

// Reset clears the thread. A reply still in flight is discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []conversation.Message{}
	s.epoch++
}

// Messages returns a copy of the thread.
func (s *Session) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Busy reports whether a reply is being generated.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle renames the conversation. Blank titles are ignored.
func (s *Session) SetTitle(title string) {
	if title = strings.TrimSpace(title); title == "" {
		return
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// Save writes the thread to the conversation store.
func (s *Session) Save(ctx context.Context) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return conversation.Conversation{}, ErrEmptyConversation
	}
	now := s.opts.Clock()
	c := conversation.Conversation{
		ID:        s.id,
		PersonaID: s.persona.ID,
		Messages:  slices.Clone(s.messages),
		Title:     s.title,
		CreatedAt: s.created,
		UpdatedAt: now,
	}
	if c.ID == "" {
		c.ID = s.opts.IDs()
		c.CreatedAt = now
	}
	if err := s.opts.Conversations.Save(ctx, c); err != nil {
		return conversation.Conversation{}, err
	}
	s.id, s.created = c.ID, c.CreatedAt
	return c, nil
}

// Export renders the thread as a plain-text transcript.
func (s *Session) Export(now time.Time) (conversation.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return conversation.Transcript{}, ErrEmptyConversation
	}
	name := func(m conversation.Message) string {
		if m.Sender == conversation.SenderUser {
			return UserDisplayName
		}
		return s.persona.Name
	}
	return conversation.Export(s.title, s.messages, name, now), nil
}
