package orgchart

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Editor errors.
var (
	ErrNoSelection           = errors.New("no node selected")
	ErrNoPersonaOnConnection = errors.New("no persona associated with this connection")
	ErrUnboundNode           = errors.New("no persona is bound to this node")
	ErrNotEditable           = errors.New(`editing the "Me" node is not supported yet`)
	ErrUnknownIntent         = errors.New("unknown intent")
)

// Properties is the property panel of the selected node.
type Properties struct {
	PersonaID  string `json:"personaId,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	Label      string `json:"label,omitempty"`
}

func (p Properties) patch() NodePatch {
	return NodePatch{PersonaID: &p.PersonaID, Role: &p.Role, Department: &p.Department, Label: &p.Label}
}

// Intent is a user action raised from a node or edge.
type Intent interface {
	intent()
}

// StartConversation opens a chat with the persona on an edge.
type StartConversation struct{ EdgeID string }

// DefineRelationship tags an edge.
type DefineRelationship struct {
	EdgeID string
	Kind   Relationship
}

// DeleteConnection removes an edge.
type DeleteConnection struct{ EdgeID string }

// EditPersona opens the persona bound to a node for editing.
type EditPersona struct{ NodeID string }

func (StartConversation) intent()  {}
func (DefineRelationship) intent() {}
func (DeleteConnection) intent()   {}
func (EditPersona) intent()        {}

// Action tells the caller what to do after an intent was handled.
type Action string

const (
	ActionOpenSimulator     Action = "open-simulator"
	ActionOpenPersonaEditor Action = "open-persona-editor"
	ActionEdgeUpdated       Action = "edge-updated"
	ActionEdgeDeleted       Action = "edge-deleted"
)

// Outcome is the result of Dispatch.
type Outcome struct {
	Action    Action `json:"action"`
	PersonaID string `json:"personaId,omitempty"`
	Edge      *Edge  `json:"edge,omitempty"`
	Message   string `json:"message"`
}

// Editor is an in-memory editing session over one chart. Nothing is
// persisted until the caller saves the snapshot returned by Chart.
type Editor struct {
	mu       sync.Mutex
	chart    Chart
	graph    *Graph
	dir      Directory
	selected string
	form     Properties
}

// NewEditor opens chart for editing. dir resolves persona names and may be nil.
func NewEditor(chart Chart, dir Directory, opts ...GraphOption) *Editor {
	return &Editor{
		chart: chart,
		graph: NewGraph(chart.Nodes, chart.Edges, opts...),
		dir:   dir,
	}
}

// Chart returns a snapshot of the chart as currently edited.
func (e *Editor) Chart() Chart {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.chart
	c.Nodes = e.graph.Nodes()
	c.Edges = e.graph.Edges()
	return c
}

// Rename sets the chart name.
func (e *Editor) Rename(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.chart.Name = strings.TrimSpace(name)
}

// Selection returns the selected node.
func (e *Editor) Selection() (Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return Node{}, false
	}
	return e.graph.Node(e.selected)
}

// Select marks id as selected and loads its properties into the form.
func (e *Editor) Select(id string) (Node, Properties, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.graph.Node(id)
	if !ok {
		return Node{}, Properties{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	e.selected = id
	e.form = n.Properties()
	return n, e.form, nil
}

// ClearSelection returns to the no-selection state.
func (e *Editor) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clear()
}

func (e *Editor) clear() {
	e.selected = ""
	e.form = Properties{}
}

// Form returns the property panel contents.
func (e *Editor) Form() Properties {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.form
}

// SetForm replaces the property panel contents of the selection.
func (e *Editor) SetForm(p Properties) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return ErrNoSelection
	}
	e.form = p
	return nil
}

// Apply writes the form back onto the selected node.
func (e *Editor) Apply() (Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return Node{}, ErrNoSelection
	}
	n, err := e.graph.UpdateNode(e.selected, e.form.patch(), e.dir)
	if err != nil {
		return Node{}, err
	}
	e.form = n.Properties()
	return n, nil
}

// UpdateNode patches any node without touching the selection form unless the
// node is selected.
func (e *Editor) UpdateNode(id string, patch NodePatch) (Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.graph.UpdateNode(id, patch, e.dir)
	if err != nil {
		return Node{}, err
	}
	if id == e.selected {
		e.form = n.Properties()
	}
	return n, nil
}

// DeleteSelected removes the selected node and its edges.
func (e *Editor) DeleteSelected() ([]Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return nil, ErrNoSelection
	}
	removed, err := e.graph.DeleteNode(e.selected)
	if err != nil {
		return nil, err
	}
	e.clear()
	return removed, nil
}

// AddNode adds a node of kind and clears the selection.
func (e *Editor) AddNode(kind Kind) (Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.graph.AddNode(kind)
	if err != nil {
		return Node{}, err
	}
	e.clear()
	return n, nil
}

// MoveNode repositions a node.
func (e *Editor) MoveNode(id string, pos Position) (Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.graph.MoveNode(id, pos)
}

// DeleteNode removes a node and its edges, clearing the selection if it was
// the selected node.
func (e *Editor) DeleteNode(id string) ([]Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed, err := e.graph.DeleteNode(id)
	if err != nil {
		return nil, err
	}
	if e.selected == id {
		e.clear()
	}
	return removed, nil
}

// Connect links two nodes.
func (e *Editor) Connect(source, target string) (Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.graph.Connect(source, target)
}

// Dispatch handles an intent raised from the canvas.
func (e *Editor) Dispatch(in Intent) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch in := in.(type) {
	case StartConversation:
		edge, ok := e.graph.Edge(in.EdgeID)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, in.EdgeID)
		}
		pid := e.conversationPartner(edge)
		if pid == "" {
			return Outcome{}, ErrNoPersonaOnConnection
		}
		return Outcome{Action: ActionOpenSimulator, PersonaID: pid, Message: "Starting conversation"}, nil

	case DefineRelationship:
		edge, err := e.graph.SetEdgeRelationship(in.EdgeID, in.Kind)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionEdgeUpdated, Edge: &edge, Message: "Relationship updated"}, nil

	case DeleteConnection:
		edge, ok := e.graph.Edge(in.EdgeID)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, in.EdgeID)
		}
		if err := e.graph.DeleteEdge(in.EdgeID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionEdgeDeleted, Edge: &edge, Message: "Connection deleted"}, nil

	case EditPersona:
		n, ok := e.graph.Node(in.NodeID)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s", ErrNodeNotFound, in.NodeID)
		}
		switch n.Kind() {
		case KindMe:
			return Outcome{}, ErrNotEditable
		case KindPersona:
			if pid := n.PersonaID(); pid != "" {
				return Outcome{Action: ActionOpenPersonaEditor, PersonaID: pid, Message: "Opening persona"}, nil
			}
		}
		return Outcome{}, ErrUnboundNode
	}
	return Outcome{}, fmt.Errorf("%w: %T", ErrUnknownIntent, in)
}

// conversationPartner picks the bound persona on an edge, source first.
func (e *Editor) conversationPartner(edge Edge) string {
	for _, id := range []string{edge.Source, edge.Target} {
		if n, ok := e.graph.Node(id); ok && n.Kind() == KindPersona && n.PersonaID() != "" {
			return n.PersonaID()
		}
	}
	return ""
}
