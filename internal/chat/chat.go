// Package chat runs persona conversations: one persona per thread, or a group
// of personas taking turns in a shared thread.
package chat

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/llm"
	"github.com/DatanoiseTV/personamcp/internal/persona"
)

// Group responder defaults.
const (
	DefaultSecondResponderProbability = 0.7
	DefaultSecondResponderDelay       = 1500 * time.Millisecond
)

// UserDisplayName labels the user's messages in exports.
const UserDisplayName = "You"

// UnknownDisplayName labels messages from personas that are no longer known.
const UnknownDisplayName = "Unknown"

var (
	ErrEmptyMessage          = errors.New("message is empty")
	ErrBusy                  = errors.New("a reply is already being generated")
	ErrMissingCredential     = errors.New("persona has no api key")
	ErrNoEligibleParticipant = errors.New("no participant with an api key is available to respond")
	ErrGeneration            = errors.New("failed to generate a reply")
	ErrEmptyConversation     = errors.New("conversation has no messages")
	ErrNoParticipants        = errors.New("group conversation has no participants")
)

// Saver persists conversations.
type Saver interface {
	Save(ctx context.Context, c conversation.Conversation) error
}

// RNG is the source of randomness for responder selection.
type RNG interface {
	IntN(n int) int
	Float64() float64
}

// Options carries the collaborators shared by single and group sessions.
type Options struct {
	Generator     llm.Generator
	Conversations Saver
	RNG           RNG
	Clock         func() time.Time
	IDs           func() string
	Logger        *zap.Logger
	Metrics       *Metrics

	// SecondResponderProbability is the chance that a second participant
	// answers the first reply in a group turn.
	SecondResponderProbability float64
	SecondResponderDelay       time.Duration
}

// DefaultOptions returns options with the default responder policy.
func DefaultOptions(gen llm.Generator, saver Saver) Options {
	return Options{
		Generator:                  gen,
		Conversations:              saver,
		SecondResponderProbability: DefaultSecondResponderProbability,
		SecondResponderDelay:       DefaultSecondResponderDelay,
	}
}

func (o *Options) fill() {
	if o.RNG == nil {
		o.RNG = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.IDs == nil {
		o.IDs = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Turn is the result of one Send: the user's message and the replies it
// produced, in thread order.
type Turn struct {
	User    conversation.Message   `json:"user"`
	Replies []conversation.Message `json:"replies"`
}

// history maps a thread onto model turns.
func history(msgs []conversation.Message) []llm.Turn {
	out := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Sender == conversation.SenderPersona {
			role = llm.RoleModel
		}
		out = append(out, llm.Turn{Role: role, Content: m.Content})
	}
	return out
}

// reply asks the model to answer prompt as p.
func reply(ctx context.Context, o Options, p persona.Persona, prompt string, prior []conversation.Message) (conversation.Message, error) {
	resp, err := o.Generator.Generate(ctx, llm.Request{
		APIKey:  p.GeminiAPIKey,
		Prompt:  prompt,
		Persona: p.Description(),
		History: history(prior),
	})
	if err != nil {
		return conversation.Message{}, err
	}
	return conversation.NewPersonaMessage(o.IDs(), p.ID, resp.Text, o.Clock()), nil
}
