package orgchart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DatanoiseTV/personamcp/internal/store"
	"github.com/google/uuid"
)

// DefaultChartName names charts created without a name.
const DefaultChartName = "New Organization Chart"

// Chart validation errors.
var (
	ErrDuplicateID  = errors.New("duplicate id in chart")
	ErrOrphanEdge   = errors.New("edge references a missing node")
	ErrNameRequired = errors.New("chart name is required")
)

// Chart is a stored organization chart.
type Chart struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is a chart list entry.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks id uniqueness, the single me node rule and edge endpoints.
func (c Chart) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	nodes := make(map[string]struct{}, len(c.Nodes))
	me := 0
	for _, n := range c.Nodes {
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("%w: node %s", ErrDuplicateID, n.ID)
		}
		nodes[n.ID] = struct{}{}
		if n.Kind() == KindMe {
			me++
		}
	}
	if me > 1 {
		return ErrDuplicateMe
	}
	edges := make(map[string]struct{}, len(c.Edges))
	for _, e := range c.Edges {
		if _, dup := edges[e.ID]; dup {
			return fmt.Errorf("%w: edge %s", ErrDuplicateID, e.ID)
		}
		edges[e.ID] = struct{}{}
		_, okS := nodes[e.Source]
		_, okT := nodes[e.Target]
		if !okS || !okT {
			return fmt.Errorf("%w: %s (%s -> %s)", ErrOrphanEdge, e.ID, e.Source, e.Target)
		}
	}
	return nil
}

// Service stores charts.
type Service struct {
	mu   sync.Mutex
	repo store.Repository[Chart]
	now  func() time.Time
}

// NewService creates a chart store over kv.
func NewService(kv store.KV, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: store.NewCollection[Chart](kv, store.KeyOrgCharts), now: now}
}

// New returns an unsaved empty chart.
func (s *Service) New(name string) Chart {
	if strings.TrimSpace(name) == "" {
		name = DefaultChartName
	}
	now := s.now()
	return Chart{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Nodes:     []Node{},
		Edges:     []Edge{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Save validates c, stamps UpdatedAt and upserts it by id.
func (s *Service) Save(ctx context.Context, c Chart) (Chart, error) {
	if err := c.Validate(); err != nil {
		return Chart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.repo.Load(ctx)
	if err != nil {
		return Chart{}, fmt.Errorf("failed to load charts: %w", err)
	}

	c.UpdatedAt = s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	if i := slices.IndexFunc(all, func(x Chart) bool { return x.ID == c.ID }); i >= 0 {
		all[i] = c
	} else {
		all = append(all, c)
	}
	if err := s.repo.SaveAll(ctx, all); err != nil {
		return Chart{}, fmt.Errorf("failed to save charts: %w", err)
	}
	return c, nil
}

// Get returns the chart with id.
func (s *Service) Get(ctx context.Context, id string) (Chart, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return Chart{}, fmt.Errorf("failed to load charts: %w", err)
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return Chart{}, fmt.Errorf("chart %q: %w", id, store.ErrNotFound)
}

// List summarizes every stored chart.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	all, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load charts: %w", err)
	}
	out := make([]Summary, len(all))
	for i, c := range all {
		out[i] = Summary{ID: c.ID, Name: c.Name, Nodes: len(c.Nodes), Edges: len(c.Edges), UpdatedAt: c.UpdatedAt}
	}
	return out, nil
}

// Delete removes the chart with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load charts: %w", err)
	}
	i := slices.IndexFunc(all, func(x Chart) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("chart %q: %w", id, store.ErrNotFound)
	}
	if err := s.repo.SaveAll(ctx, slices.Delete(all, i, i+1)); err != nil {
		return fmt.Errorf("failed to save charts: %w", err)
	}
	return nil
}
