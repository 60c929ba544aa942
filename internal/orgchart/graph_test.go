package orgchart

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRNG float64

func (r fixedRNG) Float64() float64 { return float64(r) }

func seqIDs() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%06d", prefix, n)
	}
}

func newTestGraph() *Graph {
	return NewGraph(nil, nil, WithRNG(fixedRNG(0.5)), WithIDs(seqIDs()))
}

func names(dir map[string]string) Directory {
	return DirectoryFunc(func(id string) (string, bool) {
		n, ok := dir[id]
		return n, ok
	})
}

func ptr[T any](v T) *T { return &v }

func TestAddNodeDefaults(t *testing.T) {
	g := newTestGraph()

	p, err := g.AddNode(KindPersona)
	require.NoError(t, err)
	assert.Equal(t, "n-000001", p.ID)
	assert.Equal(t, Position{X: 200, Y: 150}, p.Position)
	assert.Equal(t, PersonaCard{Label: "New Employee", Role: "Employee"}, p.Card)

	d, err := g.AddNode(KindDepartment)
	require.NoError(t, err)
	assert.Equal(t, "d-000002", d.ID)
	assert.Equal(t, Position{X: 400, Y: 350}, d.Position)
	assert.Equal(t, DepartmentCard{Label: "Department"}, d.Card)

	me, err := g.AddNode(KindMe)
	require.NoError(t, err)
	assert.Equal(t, "me-000003", me.ID)
	assert.Equal(t, Position{X: 500, Y: 250}, me.Position)
	assert.Equal(t, MeCard{Label: "Me", Role: "Your Role"}, me.Card)

	_, err = g.AddNode("robot")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAddNodeJitterRange(t *testing.T) {
	for _, r := range []float64{0, 0.999} {
		g := NewGraph(nil, nil, WithRNG(fixedRNG(r)))
		n, err := g.AddNode(KindPersona)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n.Position.X, 100.0)
		assert.Less(t, n.Position.X, 300.0)
		assert.GreaterOrEqual(t, n.Position.Y, 100.0)
		assert.Less(t, n.Position.Y, 200.0)
	}
}

func TestSecondMeNodeRejected(t *testing.T) {
	g := newTestGraph()
	_, err := g.AddNode(KindMe)
	require.NoError(t, err)
	before := g.Nodes()

	_, err = g.AddNode(KindMe)
	assert.ErrorIs(t, err, ErrDuplicateMe)
	assert.Equal(t, before, g.Nodes())
}

func TestUniqueIDsOnCollision(t *testing.T) {
	calls := 0
	ids := []string{"n-aaaaaa", "n-aaaaaa", "n-bbbbbb"}
	g := NewGraph(nil, nil, WithIDs(func(string) string {
		id := ids[calls]
		calls++
		return id
	}))

	a, err := g.AddNode(KindPersona)
	require.NoError(t, err)
	b, err := g.AddNode(KindPersona)
	require.NoError(t, err)
	assert.Equal(t, "n-aaaaaa", a.ID)
	assert.Equal(t, "n-bbbbbb", b.ID)
}

func TestConnect(t *testing.T) {
	g := newTestGraph()
	a, _ := g.AddNode(KindPersona)
	b, _ := g.AddNode(KindPersona)
	me, _ := g.AddNode(KindMe)

	e, err := g.Connect(a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, EdgeDefault, e.Type)
	assert.Equal(t, "Reports To", e.Label)
	assert.Equal(t, &Marker{Type: MarkerArrowClosed}, e.MarkerEnd)
	assert.False(t, e.Animated)
	assert.Equal(t, RelationshipUnset, e.Relationship())

	e2, err := g.Connect(me.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, EdgeConnection, e2.Type)

	e3, err := g.Connect(b.ID, me.ID)
	require.NoError(t, err)
	assert.Equal(t, EdgeConnection, e3.Type)

	_, err = g.Connect(a.ID, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = g.Connect("missing", a.ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = g.Connect(a.ID, a.ID)
	assert.ErrorIs(t, err, ErrSelfLoop)
	_, err = g.Connect(a.ID, b.ID)
	assert.ErrorIs(t, err, ErrDuplicateEdge)

	assert.Len(t, g.Edges(), 3)
}

func TestUpdateNode(t *testing.T) {
	dir := names(map[string]string{"p1": "Ada", "p2": "Grace"})

	t.Run("binding persona sets label", func(t *testing.T) {
		g := newTestGraph()
		n, _ := g.AddNode(KindPersona)

		got, err := g.UpdateNode(n.ID, NodePatch{PersonaID: ptr("p1"), Role: ptr("CTO"), Department: ptr("R&D")}, dir)
		require.NoError(t, err)
		assert.Equal(t, PersonaCard{PersonaID: "p1", Label: "Ada", Role: "CTO", Department: "R&D"}, got.Card)
		assert.Equal(t, "p1", got.PersonaID())

		got, err = g.UpdateNode(n.ID, NodePatch{PersonaID: ptr("p2")}, dir)
		require.NoError(t, err)
		assert.Equal(t, "Grace", got.Card.Title())
	})

	t.Run("unbinding keeps label", func(t *testing.T) {
		g := newTestGraph()
		n, _ := g.AddNode(KindPersona)
		_, err := g.UpdateNode(n.ID, NodePatch{PersonaID: ptr("p1")}, dir)
		require.NoError(t, err)

		got, err := g.UpdateNode(n.ID, NodePatch{PersonaID: ptr("")}, dir)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Card.Title())
		assert.Empty(t, got.PersonaID())
	})

	t.Run("unknown persona rejected", func(t *testing.T) {
		g := newTestGraph()
		n, _ := g.AddNode(KindPersona)
		_, err := g.UpdateNode(n.ID, NodePatch{PersonaID: ptr("ghost")}, dir)
		assert.ErrorIs(t, err, ErrUnknownPersona)

		same, _ := g.Node(n.ID)
		assert.Equal(t, n, same)
	})

	t.Run("department and me nodes", func(t *testing.T) {
		g := newTestGraph()
		d, _ := g.AddNode(KindDepartment)
		me, _ := g.AddNode(KindMe)

		got, err := g.UpdateNode(d.ID, NodePatch{Label: ptr("Engineering"), Role: ptr("ignored")}, dir)
		require.NoError(t, err)
		assert.Equal(t, DepartmentCard{Label: "Engineering"}, got.Card)

		got, err = g.UpdateNode(me.ID, NodePatch{Role: ptr("Founder")}, dir)
		require.NoError(t, err)
		assert.Equal(t, MeCard{Label: "Me", Role: "Founder"}, got.Card)

		_, err = g.UpdateNode(d.ID, NodePatch{PersonaID: ptr("p1")}, dir)
		assert.ErrorIs(t, err, ErrNotBindable)
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := newTestGraph().UpdateNode("nope", NodePatch{}, dir)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})
}

func TestDeleteNodeCascadesOnlyTouchingEdges(t *testing.T) {
	g := newTestGraph()
	a, _ := g.AddNode(KindPersona)
	b, _ := g.AddNode(KindPersona)
	c, _ := g.AddNode(KindDepartment)
	d, _ := g.AddNode(KindMe)

	ab, _ := g.Connect(a.ID, b.ID)
	bc, _ := g.Connect(b.ID, c.ID)
	ca, _ := g.Connect(c.ID, a.ID)
	da, _ := g.Connect(d.ID, a.ID)
	cd, _ := g.Connect(c.ID, d.ID)

	removed, err := g.DeleteNode(a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Edge{ab, ca, da}, removed)
	assert.Equal(t, []Edge{bc, cd}, g.Edges())

	_, ok := g.Node(a.ID)
	assert.False(t, ok)
	assert.Len(t, g.Nodes(), 3)

	_, err = g.DeleteNode(a.ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestSetEdgeRelationship(t *testing.T) {
	tests := []struct {
		rel   Relationship
		label string
	}{
		{RelationshipReportsTo, "Reports To"},
		{RelationshipNoReport, "No Report"},
		{RelationshipFutureReport, "Future Report"},
		{"mentor", "Relationship"},
		{RelationshipUnset, "Relationship"},
	}
	for _, tt := range tests {
		t.Run(string(tt.rel), func(t *testing.T) {
			g := newTestGraph()
			a, _ := g.AddNode(KindPersona)
			b, _ := g.AddNode(KindPersona)
			e, _ := g.Connect(a.ID, b.ID)

			got, err := g.SetEdgeRelationship(e.ID, tt.rel)
			require.NoError(t, err)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.rel, got.Relationship())

			stored, _ := g.Edge(e.ID)
			assert.Equal(t, got, stored)
		})
	}

	_, err := newTestGraph().SetEdgeRelationship("e-x", RelationshipNoReport)
	assert.ErrorIs(t, err, ErrEdgeNotFound)
}

func TestDeleteEdge(t *testing.T) {
	g := newTestGraph()
	a, _ := g.AddNode(KindPersona)
	b, _ := g.AddNode(KindPersona)
	e, _ := g.Connect(a.ID, b.ID)

	require.NoError(t, g.DeleteEdge(e.ID))
	assert.Empty(t, g.Edges())
	assert.Len(t, g.Nodes(), 2)
	assert.ErrorIs(t, g.DeleteEdge(e.ID), ErrEdgeNotFound)
}

func TestStyleFor(t *testing.T) {
	assert.Equal(t, EdgeStyle{StrokeWidth: 2, Stroke: "#10b981"}, StyleFor(RelationshipReportsTo))
	assert.Equal(t, "5,5", StyleFor(RelationshipNoReport).StrokeDasharray)
	assert.Equal(t, "#3b82f6", StyleFor(RelationshipFutureReport).Stroke)
	assert.Equal(t, EdgeStyle{}, StyleFor(RelationshipUnset))
}

func TestShortID(t *testing.T) {
	id := ShortID("n")
	assert.Regexp(t, `^n-[0-9a-f]{6}$`, id)
}
