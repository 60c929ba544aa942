// Package orgchart models organization charts: typed nodes, relationship
// edges, the editing session over a chart, and chart storage.
package orgchart

import (
	"encoding/json"
	"fmt"
)

// Kind is the node variant.
type Kind string

const (
	KindPersona    Kind = "persona"
	KindDepartment Kind = "department"
	KindMe         Kind = "me"
)

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Card is the variant-specific display data of a node. It is implemented by
// PersonaCard, DepartmentCard and MeCard only.
type Card interface {
	Kind() Kind
	Title() string
	sealed()
}

// PersonaCard is an employee box, optionally bound to a stored persona.
type PersonaCard struct {
	PersonaID  string
	Label      string
	Role       string
	Department string
}

// DepartmentCard is a department heading.
type DepartmentCard struct {
	Label string
}

// MeCard marks the user's own position in the chart.
type MeCard struct {
	Label string
	Role  string
}

func (PersonaCard) Kind() Kind    { return KindPersona }
func (DepartmentCard) Kind() Kind { return KindDepartment }
func (MeCard) Kind() Kind         { return KindMe }

func (c PersonaCard) Title() string    { return c.Label }
func (c DepartmentCard) Title() string { return c.Label }
func (c MeCard) Title() string         { return c.Label }

func (PersonaCard) sealed()    {}
func (DepartmentCard) sealed() {}
func (MeCard) sealed()         {}

// Node is a chart vertex.
type Node struct {
	ID       string
	Position Position
	Card     Card
}

// Kind returns the node variant.
func (n Node) Kind() Kind {
	if n.Card == nil {
		return ""
	}
	return n.Card.Kind()
}

// PersonaID returns the bound persona, or "" for unbound and non-persona nodes.
func (n Node) PersonaID() string {
	if c, ok := n.Card.(PersonaCard); ok {
		return c.PersonaID
	}
	return ""
}

// Properties returns the editable fields of the node.
func (n Node) Properties() Properties {
	switch c := n.Card.(type) {
	case PersonaCard:
		return Properties{PersonaID: c.PersonaID, Label: c.Label, Role: c.Role, Department: c.Department}
	case DepartmentCard:
		return Properties{Label: c.Label}
	case MeCard:
		return Properties{Label: c.Label, Role: c.Role}
	}
	return Properties{}
}

type nodeJSON struct {
	ID        string       `json:"id"`
	Type      Kind         `json:"type"`
	PersonaID string       `json:"personaId,omitempty"`
	Position  Position     `json:"position"`
	Data      nodeDataJSON `json:"data"`
}

type nodeDataJSON struct {
	Label      string `json:"label"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	PersonaID  string `json:"personaId,omitempty"`
}

// MarshalJSON writes the node in the flat layout charts are stored in.
func (n Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{ID: n.ID, Type: n.Kind(), Position: n.Position}
	switch c := n.Card.(type) {
	case PersonaCard:
		out.PersonaID = c.PersonaID
		out.Data = nodeDataJSON{Label: c.Label, Role: c.Role, Department: c.Department, PersonaID: c.PersonaID}
	case DepartmentCard:
		out.Data = nodeDataJSON{Label: c.Label}
	case MeCard:
		out.Data = nodeDataJSON{Label: c.Label, Role: c.Role}
	default:
		return nil, fmt.Errorf("node %q has no card", n.ID)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the stored layout into the matching card variant.
func (n *Node) UnmarshalJSON(b []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	n.ID = in.ID
	n.Position = in.Position
	switch in.Type {
	case KindPersona:
		pid := in.PersonaID
		if pid == "" {
			pid = in.Data.PersonaID
		}
		n.Card = PersonaCard{PersonaID: pid, Label: in.Data.Label, Role: in.Data.Role, Department: in.Data.Department}
	case KindDepartment:
		n.Card = DepartmentCard{Label: in.Data.Label}
	case KindMe:
		n.Card = MeCard{Label: in.Data.Label, Role: in.Data.Role}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, in.Type)
	}
	return nil
}
