package orgchart

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Graph errors.
var (
	ErrUnknownKind    = errors.New("unknown node kind")
	ErrDuplicateMe    = errors.New(`you can only have one "Me" node`)
	ErrNodeNotFound   = errors.New("node not found")
	ErrEdgeNotFound   = errors.New("edge not found")
	ErrSelfLoop       = errors.New("a node cannot be connected to itself")
	ErrDuplicateEdge  = errors.New("nodes are already connected")
	ErrNotBindable    = errors.New("only persona nodes can be bound to a persona")
	ErrUnknownPersona = errors.New("persona does not exist")
)

// RNG supplies the position jitter of new nodes.
type RNG interface {
	Float64() float64
}

// Directory resolves persona names for label updates.
type Directory interface {
	PersonaName(id string) (string, bool)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(id string) (string, bool)

func (f DirectoryFunc) PersonaName(id string) (string, bool) { return f(id) }

// NodePatch is a partial update; nil fields are left unchanged.
type NodePatch struct {
	PersonaID  *string
	Role       *string
	Department *string
	Label      *string
}

// Graph holds the nodes and edges of one chart and enforces its invariants:
// at most one me node and no edge with a missing endpoint.
type Graph struct {
	nodes []Node
	edges []Edge
	rng   RNG
	newID func(prefix string) string
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithRNG sets the jitter source.
func WithRNG(r RNG) GraphOption {
	return func(g *Graph) { g.rng = r }
}

// WithIDs sets the id generator. It receives "n", "d", "me" or "e".
func WithIDs(f func(prefix string) string) GraphOption {
	return func(g *Graph) { g.newID = f }
}

// NewGraph wraps copies of nodes and edges.
func NewGraph(nodes []Node, edges []Edge, opts ...GraphOption) *Graph {
	g := &Graph{
		nodes: slices.Clone(nodes),
		edges: slices.Clone(edges),
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newID: ShortID,
	}
	if g.nodes == nil {
		g.nodes = []Node{}
	}
	if g.edges == nil {
		g.edges = []Edge{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShortID returns prefix plus a six character random suffix.
func ShortID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Nodes returns a copy of the nodes in insertion order.
func (g *Graph) Nodes() []Node { return slices.Clone(g.nodes) }

// Edges returns a copy of the edges in insertion order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	i := g.nodeIndex(id)
	if i < 0 {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Edge returns the edge with id.
func (g *Graph) Edge(id string) (Edge, bool) {
	i := g.edgeIndex(id)
	if i < 0 {
		return Edge{}, false
	}
	return g.edges[i], true
}

// Me returns the chart's me node, if any.
func (g *Graph) Me() (Node, bool) {
	for _, n := range g.nodes {
		if n.Kind() == KindMe {
			return n, true
		}
	}
	return Node{}, false
}

func (g *Graph) nodeIndex(id string) int {
	return slices.IndexFunc(g.nodes, func(n Node) bool { return n.ID == id })
}

func (g *Graph) edgeIndex(id string) int {
	return slices.IndexFunc(g.edges, func(e Edge) bool { return e.ID == id })
}

func (g *Graph) uniqueID(prefix string, taken func(string) bool) string {
	for {
		id := g.newID(prefix)
		if !taken(id) {
			return id
		}
	}
}

func (g *Graph) jitter(x, y float64) Position {
	return Position{X: x + g.rng.Float64()*200, Y: y + g.rng.Float64()*100}
}

// AddNode appends a node of kind with default data at a jittered position.
// Adding a second me node fails and leaves the graph unchanged.
func (g *Graph) AddNode(kind Kind) (Node, error) {
	var (
		prefix string
		pos    Position
		card   Card
	)
	switch kind {
	case KindPersona:
		prefix = "n"
		pos = g.jitter(100, 100)
		card = PersonaCard{Label: "New Employee", Role: "Employee"}
	case KindDepartment:
		prefix = "d"
		pos = g.jitter(300, 300)
		card = DepartmentCard{Label: "Department"}
	case KindMe:
		if _, ok := g.Me(); ok {
			return Node{}, ErrDuplicateMe
		}
		prefix = "me"
		pos = g.jitter(400, 200)
		card = MeCard{Label: "Me", Role: "Your Role"}
	default:
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	n := Node{
		ID:       g.uniqueID(prefix, func(id string) bool { return g.nodeIndex(id) >= 0 }),
		Position: pos,
		Card:     card,
	}
	g.nodes = append(g.nodes, n)
	return n, nil
}

// MoveNode places a node at pos.
func (g *Graph) MoveNode(id string, pos Position) (Node, error) {
	i := g.nodeIndex(id)
	if i < 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	g.nodes[i].Position = pos
	return g.nodes[i], nil
}

// Connect links two existing nodes. Edges touching the me node get the
// connection type.
func (g *Graph) Connect(source, target string) (Edge, error) {
	src, ok := g.Node(source)
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, source)
	}
	dst, ok := g.Node(target)
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, target)
	}
	if source == target {
		return Edge{}, ErrSelfLoop
	}
	if slices.ContainsFunc(g.edges, func(e Edge) bool { return e.Source == source && e.Target == target }) {
		return Edge{}, ErrDuplicateEdge
	}

	typ := EdgeDefault
	if src.Kind() == KindMe || dst.Kind() == KindMe {
		typ = EdgeConnection
	}
	e := Edge{
		ID:        g.uniqueID("e", func(id string) bool { return g.edgeIndex(id) >= 0 }),
		Source:    source,
		Target:    target,
		Label:     DefaultEdgeLabel,
		Type:      typ,
		MarkerEnd: &Marker{Type: MarkerArrowClosed},
	}
	g.edges = append(g.edges, e)
	return e, nil
}

// UpdateNode applies patch to the node with id. A bound persona that dir can
// resolve replaces the node label with the persona's name. dir may be nil.
func (g *Graph) UpdateNode(id string, patch NodePatch, dir Directory) (Node, error) {
	i := g.nodeIndex(id)
	if i < 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n := g.nodes[i]

	switch c := n.Card.(type) {
	case PersonaCard:
		if patch.PersonaID != nil {
			c.PersonaID = strings.TrimSpace(*patch.PersonaID)
		}
		if patch.Role != nil {
			c.Role = *patch.Role
		}
		if patch.Department != nil {
			c.Department = *patch.Department
		}
		if patch.Label != nil && strings.TrimSpace(*patch.Label) != "" {
			c.Label = *patch.Label
		}
		if c.PersonaID != "" && dir != nil {
			name, ok := dir.PersonaName(c.PersonaID)
			if !ok {
				return Node{}, fmt.Errorf("%w: %s", ErrUnknownPersona, c.PersonaID)
			}
			c.Label = name
		}
		n.Card = c
	case DepartmentCard:
		if err := rejectBinding(patch); err != nil {
			return Node{}, err
		}
		if patch.Label != nil && strings.TrimSpace(*patch.Label) != "" {
			c.Label = *patch.Label
		}
		n.Card = c
	case MeCard:
		if err := rejectBinding(patch); err != nil {
			return Node{}, err
		}
		if patch.Role != nil {
			c.Role = *patch.Role
		}
		if patch.Label != nil && strings.TrimSpace(*patch.Label) != "" {
			c.Label = *patch.Label
		}
		n.Card = c
	}

	g.nodes[i] = n
	return n, nil
}

func rejectBinding(p NodePatch) error {
	if p.PersonaID != nil && strings.TrimSpace(*p.PersonaID) != "" {
		return ErrNotBindable
	}
	return nil
}

// DeleteNode removes the node and every edge touching it, returning the
// removed edges.
func (g *Graph) DeleteNode(id string) ([]Edge, error) {
	i := g.nodeIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	g.nodes = slices.Delete(g.nodes, i, i+1)

	removed := []Edge{}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Touches(id) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	return removed, nil
}

// SetEdgeRelationship tags the edge and recomputes its label.
func (g *Graph) SetEdgeRelationship(id string, rel Relationship) (Edge, error) {
	i := g.edgeIndex(id)
	if i < 0 {
		return Edge{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	g.edges[i].Data.RelationshipType = rel
	g.edges[i].Label = RelationshipLabel(rel)
	return g.edges[i], nil
}

// DeleteEdge removes the edge with id.
func (g *Graph) DeleteEdge(id string) error {
	i := g.edgeIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	g.edges = slices.Delete(g.edges, i, i+1)
	return nil
}
