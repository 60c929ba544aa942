package persona

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DatanoiseTV/personamcp/internal/store"
	"go.uber.org/zap"
)

// SortOrder selects the library ordering.
type SortOrder string

const (
	SortDateDesc SortOrder = "dateDesc"
	SortDateAsc  SortOrder = "dateAsc"
	SortNameAsc  SortOrder = "nameAsc"
	SortNameDesc SortOrder = "nameDesc"
)

// ErrIndexDisabled is returned by SemanticSearch when no index is configured.
var ErrIndexDisabled = errors.New("semantic index is not configured")

// ListOptions filters and orders List results.
type ListOptions struct {
	Query string
	Sort  SortOrder
}

// Match is a semantic search hit.
type Match struct {
	Persona Persona `json:"persona"`
	Score   float32 `json:"score"`
}

// Service is the persona library.
type Service struct {
	// mu serializes read-modify-write cycles on the library. Index and
	// credential updates happen outside it.
	mu         sync.Mutex
	repo       store.Repository[Persona]
	defaultKey *store.Setting
	index      Index
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIndex enables semantic search backed by idx.
func WithIndex(idx Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a persona library over kv.
func NewService(kv store.KV, opts ...Option) *Service {
	s := &Service{
		repo:       store.NewCollection[Persona](kv, store.KeyPersonas),
		defaultKey: store.NewSetting(kv, store.KeyGeminiAPIKey),
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDraft returns an unsaved persona pre-filled with the shared credential.
func (s *Service) NewDraft(ctx context.Context) (Persona, error) {
	key, err := s.defaultKey.Get(ctx)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to read default api key: %w", err)
	}
	return New(key, s.now()), nil
}

// DefaultAPIKey returns the shared credential, or "" when none is stored.
func (s *Service) DefaultAPIKey(ctx context.Context) (string, error) {
	return s.defaultKey.Get(ctx)
}

// SetDefaultAPIKey replaces the shared credential.
func (s *Service) SetDefaultAPIKey(ctx context.Context, key string) error {
	return s.defaultKey.Set(ctx, strings.TrimSpace(key))
}

// Save validates p and upserts it by id. An invalid persona leaves the
// library untouched.
func (s *Service) Save(ctx context.Context, p Persona) (Persona, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}

	p, created, err := s.upsert(ctx, p)
	if err != nil {
		return Persona{}, err
	}

	if p.HasCredential() {
		if err := s.defaultKey.Set(ctx, p.GeminiAPIKey); err != nil {
			s.logger.Warn("failed to remember api key", zap.Error(err))
		}
	}

	if s.index != nil {
		if err := s.index.Upsert(ctx, p); err != nil {
			s.logger.Warn("failed to index persona", zap.String("persona_id", p.ID), zap.Error(err))
		}
	}

	s.logger.Debug("persona saved", zap.String("persona_id", p.ID), zap.Bool("created", created))
	return p, nil
}

func (s *Service) upsert(ctx context.Context, p Persona) (Persona, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.repo.Load(ctx)
	if err != nil {
		return Persona{}, false, fmt.Errorf("failed to load personas: %w", err)
	}

	now := s.now()
	if p.ID == "" {
		p.ID = New("", now).ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	idx := slices.IndexFunc(all, func(x Persona) bool { return x.ID == p.ID })
	if idx >= 0 {
		p.CreatedAt = all[idx].CreatedAt
		all[idx] = p
	} else {
		all = append(all, p)
	}

	if err := s.repo.SaveAll(ctx, all); err != nil {
		return Persona{}, false, fmt.Errorf("failed to save personas: %w", err)
	}
	return p, idx < 0, nil
}

// Get returns the persona with id.
func (s *Service) Get(ctx context.Context, id string) (Persona, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to load personas: %w", err)
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return Persona{}, fmt.Errorf("persona %q: %w", id, store.ErrNotFound)
}

// Lookup returns the personas for ids in the order given, skipping ids that
// no longer exist.
func (s *Service) Lookup(ctx context.Context, ids []string) ([]Persona, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}
	byID := make(map[string]Persona, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	out := make([]Persona, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// List returns the personas matching opts.Query in opts.Sort order.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Persona, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}

	out := make([]Persona, 0, len(all))
	for _, p := range all {
		if p.Matches(opts.Query) {
			out = append(out, p)
		}
	}
	SortPersonas(out, opts.Sort)
	return out, nil
}

// SortPersonas orders ps in place. Unknown orders fall back to newest first.
func SortPersonas(ps []Persona, order SortOrder) {
	slices.SortStableFunc(ps, func(a, b Persona) int {
		switch order {
		case SortDateAsc:
			return a.CreatedAt.Compare(b.CreatedAt)
		case SortNameAsc:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case SortNameDesc:
			return strings.Compare(strings.ToLower(b.Name), strings.ToLower(a.Name))
		default:
			return b.CreatedAt.Compare(a.CreatedAt)
		}
	})
}

// Delete removes the persona with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.remove(ctx, id); err != nil {
		return err
	}

	if s.index != nil {
		if err := s.index.Remove(ctx, id); err != nil {
			s.logger.Warn("failed to remove persona from index", zap.String("persona_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load personas: %w", err)
	}
	idx := slices.IndexFunc(all, func(x Persona) bool { return x.ID == id })
	if idx < 0 {
		return fmt.Errorf("persona %q: %w", id, store.ErrNotFound)
	}
	if err := s.repo.SaveAll(ctx, slices.Delete(all, idx, idx+1)); err != nil {
		return fmt.Errorf("failed to save personas: %w", err)
	}
	return nil
}

// SemanticSearch ranks personas by similarity of their description to query.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int) ([]Match, error) {
	if s.index == nil {
		return nil, ErrIndexDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Match{}, nil
	}

	hits, err := s.index.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	found, err := s.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Persona, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		if p, ok := byID[h.ID]; ok {
			out = append(out, Match{Persona: p, Score: h.Score})
		}
	}
	return out, nil
}

// Reindex rebuilds the semantic index from the stored library.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrIndexDisabled
	}
	all, err := s.repo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load personas: %w", err)
	}
	if err := s.index.Reset(ctx); err != nil {
		return 0, fmt.Errorf("failed to reset index: %w", err)
	}
	for _, p := range all {
		if err := s.index.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("failed to index persona %q: %w", p.ID, err)
		}
	}
	return len(all), nil
}
