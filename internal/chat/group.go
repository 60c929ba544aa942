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

// DefaultGroupTitle names group conversations until the user renames them.
const DefaultGroupTitle = "Group Conversation"

// FollowUpPrompt is what a second responder is asked to react to.
func FollowUpPrompt(name, text string) string {
	return name + ` said: "` + text + `"`
}

// GroupSession is a shared thread in which several personas take turns.
type GroupSession struct {
	opts Options

	mu           sync.Mutex
	id           string
	created      time.Time
	participants []persona.Persona
	messages     []conversation.Message
	title        string
	busy         bool
	epoch        int
}

// NewGroupSession starts a group thread with participants. When initial is
// non-nil the session continues that stored conversation.
func NewGroupSession(participants []persona.Persona, initial *conversation.Conversation, opts Options) *GroupSession {
	opts.fill()
	g := &GroupSession{
		opts:     opts,
		title:    DefaultGroupTitle,
		messages: []conversation.Message{},
	}
	for _, p := range participants {
		g.addLocked(p)
	}
	if initial != nil {
		g.id = initial.ID
		g.created = initial.CreatedAt
		g.messages = slices.Clone(initial.Messages)
		if initial.Title != "" {
			g.title = initial.Title
		}
	}
	return g
}

func (g *GroupSession) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

// Participants returns the current participants in join order.
func (g *GroupSession) Participants() []persona.Persona {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.participants)
}

func (g *GroupSession) addLocked(p persona.Persona) bool {
	if slices.ContainsFunc(g.participants, func(x persona.Persona) bool { return x.ID == p.ID }) {
		return false
	}
	g.participants = append(g.participants, p)
	return true
}

// AddParticipant appends p unless it already participates.
func (g *GroupSession) AddParticipant(p persona.Persona) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(p)
}

// RemoveParticipant drops the persona with id. Its messages stay in the thread.
func (g *GroupSession) RemoveParticipant(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.participants)
	g.participants = slices.DeleteFunc(g.participants, func(p persona.Persona) bool { return p.ID == id })
	return len(g.participants) != n
}

func (g *GroupSession) eligible(exclude string) []persona.Persona {
	var out []persona.Persona
	for _, p := range g.participants {
		if p.ID != exclude && p.HasCredential() {
			out = append(out, p)
		}
	}
	return out
}

func (g *GroupSession) release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// Send appends the user's message and runs the responder policy: one random
// credentialed participant answers, then, with the configured probability, a
// different one reacts to that answer after a delay. A failed second reply is
// dropped.
func (g *GroupSession) Send(ctx context.Context, text string) (Turn, error) {
	turn, err := g.send(ctx, text)
	g.opts.Metrics.observe(ModeGroup, err)
	return turn, err
}

func (g *GroupSession) send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return Turn{}, ErrBusy
	}
	prior := slices.Clone(g.messages)
	user := conversation.NewUserMessage(g.opts.IDs(), text, g.opts.Clock())
	g.messages = append(g.messages, user)
	turn := Turn{User: user, Replies: []conversation.Message{}}

	candidates := g.eligible("")
	if len(candidates) == 0 {
		g.mu.Unlock()
		return turn, ErrNoEligibleParticipant
	}
	first := candidates[g.opts.RNG.IntN(len(candidates))]
	g.busy = true
	epoch := g.epoch
	g.mu.Unlock()
	defer g.release()

	msg, err := reply(ctx, g.opts, first, text, prior)
	if err != nil {
		g.opts.Logger.Warn("group reply failed", zap.String("persona_id", first.ID), zap.Error(err))
		return turn, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	g.mu.Lock()
	if epoch != g.epoch {
		g.mu.Unlock()
		return turn, nil
	}
	g.messages = append(g.messages, msg)
	turn.Replies = append(turn.Replies, msg)

	var second persona.Persona
	follow := false
	if len(g.participants) > 1 && g.opts.RNG.Float64() < g.opts.SecondResponderProbability {
		if others := g.eligible(first.ID); len(others) > 0 {
			second = others[g.opts.RNG.IntN(len(others))]
			follow = true
		}
	}
	thread := slices.Clone(g.messages)
	g.mu.Unlock()

	if !follow {
		return turn, nil
	}

	timer := time.NewTimer(g.opts.SecondResponderDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return turn, nil
	case <-timer.C:
	}

	prompt := FollowUpPrompt(first.Name, msg.Content)
	followUp, err := reply(ctx, g.opts, second, prompt, thread)
	if err != nil {
		g.opts.Logger.Debug("dropping follow-up reply", zap.String("persona_id", second.ID), zap.Error(err))
		return turn, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if epoch == g.epoch {
		g.messages = append(g.messages, followUp)
		turn.Replies = append(turn.Replies, followUp)
	}
	return turn, nil
}

// Reset clears the thread. Replies still in flight are discarded.
func (g *GroupSession) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = []conversation.Message{}
	g.epoch++
}

func (g *GroupSession) Messages() []conversation.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.messages)
}

func (g *GroupSession) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *GroupSession) Title() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.title
}

// SetTitle renames the conversation. Blank titles are ignored.
func (g *GroupSession) SetTitle(title string) {
	if title = strings.TrimSpace(title); title == "" {
		return
	}
	g.mu.Lock()
	g.title = title
	g.mu.Unlock()
}

// participantIDs lists current participants followed by removed personas that
// still have messages in the thread.
func (g *GroupSession) activeIDs() []string {
	ids := make([]string, 0, len(g.participants))
	for _, p := range g.participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func (g *GroupSession) participantIDs() []string {
	ids := g.activeIDs()
	for _, m := range g.messages {
		if m.Sender == conversation.SenderPersona && !slices.Contains(ids, m.PersonaID) {
			ids = append(ids, m.PersonaID)
		}
	}
	return ids
}

// Save writes the thread as a group conversation.
func (g *GroupSession) Save(ctx context.Context) (conversation.Conversation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.participants) == 0 {
		return conversation.Conversation{}, ErrNoParticipants
	}
	if len(g.messages) == 0 {
		return conversation.Conversation{}, ErrEmptyConversation
	}
	now := g.opts.Clock()
	c := conversation.Conversation{
		ID:             g.id,
		PersonaID:      g.participants[0].ID,
		IsGroup:        true,
		ParticipantIDs: g.participantIDs(),
		ActiveIDs:      g.activeIDs(),
		Messages:       slices.Clone(g.messages),
		Title:          g.title,
		CreatedAt:      g.created,
		UpdatedAt:      now,
	}
	if c.ID == "" {
		c.ID = g.opts.IDs()
		c.CreatedAt = now
	}
	if err := g.opts.Conversations.Save(ctx, c); err != nil {
		return conversation.Conversation{}, err
	}
	g.id, g.created = c.ID, c.CreatedAt
	return c, nil
}

// Export renders the thread. Messages from personas that no longer
// participate are attributed to UnknownDisplayName.
func (g *GroupSession) Export(now time.Time) (conversation.Transcript, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.messages) == 0 {
		return conversation.Transcript{}, ErrEmptyConversation
	}
	name := func(m conversation.Message) string {
		if m.Sender == conversation.SenderUser {
			return UserDisplayName
		}
		for _, p := range g.participants {
			if p.ID == m.PersonaID {
				return p.Name
			}
		}
		return UnknownDisplayName
	}
	return conversation.Export(g.title, g.messages, name, now), nil
}
