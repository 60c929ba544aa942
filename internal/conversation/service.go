package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/DatanoiseTV/personamcp/internal/store"
)

// Service is the conversation store.
type Service struct {
	// mu serializes read-modify-write cycles on the collection.
	mu   sync.Mutex
	repo store.Repository[Conversation]
}

// NewService creates a conversation store over kv.
func NewService(kv store.KV) *Service {
	return &Service{repo: store.NewCollection[Conversation](kv, store.KeyConversations)}
}

// NewServiceWithRepository creates a conversation store over repo.
func NewServiceWithRepository(repo store.Repository[Conversation]) *Service {
	return &Service{repo: repo}
}

// Save validates c and replaces the stored record with the same id, or
// appends it when the id is new.
func (s *Service) Save(ctx context.Context, c Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	if i := slices.IndexFunc(all, func(x Conversation) bool { return x.ID == c.ID }); i >= 0 {
		all[i] = c
	} else {
		all = append(all, c)
	}
	if err := s.repo.SaveAll(ctx, all); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// Get returns the conversation with id.
func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to load conversations: %w", err)
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return Conversation{}, fmt.Errorf("conversation %q: %w", id, store.ErrNotFound)
}

// List returns every stored conversation in storage order.
func (s *Service) List(ctx context.Context) ([]Conversation, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return all, nil
}

// ForPersona returns the conversations personaID is bound to or takes part in.
func (s *Service) ForPersona(ctx context.Context, personaID string) ([]Conversation, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0)
	for _, c := range all {
		if c.Involves(personaID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Delete removes the conversation with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	i := slices.IndexFunc(all, func(x Conversation) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("conversation %q: %w", id, store.ErrNotFound)
	}
	if err := s.repo.SaveAll(ctx, slices.Delete(all, i, i+1)); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}
