package chat

import (
	"context"
	"errors"

	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

// PersonaSource lists and fetches personas.
type PersonaSource interface {
	Get(ctx context.Context, id string) (persona.Persona, error)
	List(ctx context.Context, opts persona.ListOptions) ([]persona.Persona, error)
}

// ConversationSource fetches stored conversations.
type ConversationSource interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	ForPersona(ctx context.Context, personaID string) ([]conversation.Conversation, error)
}

// View is what the simulator shows for a persona and conversation selection.
type View struct {
	Persona       *persona.Persona             `json:"persona"`
	Conversation  *conversation.Conversation   `json:"conversation,omitempty"`
	Conversations []conversation.Conversation `json:"conversations"`
}

// ResolveView picks the simulator selection. An unknown personaID falls back
// to the oldest persona. conversationID is honored only when it belongs to
// the selected persona.
func ResolveView(ctx context.Context, personas PersonaSource, convs ConversationSource, personaID, conversationID string) (View, error) {
	v := View{Conversations: []conversation.Conversation{}}

	var selected persona.Persona
	found := false
	if personaID != "" {
		p, err := personas.Get(ctx, personaID)
		switch {
		case err == nil:
			selected, found = p, true
		case !errors.Is(err, store.ErrNotFound):
			return View{}, err
		}
	}
	if !found {
		all, err := personas.List(ctx, persona.ListOptions{Sort: persona.SortDateAsc})
		if err != nil {
			return View{}, err
		}
		if len(all) == 0 {
			return v, nil
		}
		selected = all[0]
		conversationID = ""
	}
	v.Persona = &selected

	list, err := convs.ForPersona(ctx, selected.ID)
	if err != nil {
		return View{}, err
	}
	v.Conversations = list

	if conversationID != "" {
		c, err := convs.Get(ctx, conversationID)
		switch {
		case err == nil && c.PersonaID == selected.ID:
			v.Conversation = &c
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return View{}, err
		}
	}
	return v, nil
}
