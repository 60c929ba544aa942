package orgchart

// Relationship is the semantic tag on an edge.
type Relationship string

const (
	RelationshipUnset        Relationship = ""
	RelationshipReportsTo    Relationship = "reports-to"
	RelationshipNoReport     Relationship = "no-report"
	RelationshipFutureReport Relationship = "future-report"
)

// EdgeType selects how an edge is drawn and whether it offers a context menu.
type EdgeType string

const (
	EdgeDefault    EdgeType = "default"
	EdgeConnection EdgeType = "connection"
)

// MarkerArrowClosed is the terminator every new edge gets.
const MarkerArrowClosed = "arrowclosed"

// DefaultEdgeLabel is the label of a freshly connected edge.
const DefaultEdgeLabel = "Reports To"

// Marker is an edge terminator.
type Marker struct {
	Type string `json:"type"`
}

// EdgeData carries the relationship tag.
type EdgeData struct {
	RelationshipType Relationship `json:"relationshipType,omitempty"`
}

// Edge is a directed link between two nodes of the same chart.
type Edge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Label     string   `json:"label,omitempty"`
	Type      EdgeType `json:"type,omitempty"`
	Animated  bool     `json:"animated"`
	MarkerEnd *Marker  `json:"markerEnd,omitempty"`
	Data      EdgeData `json:"data"`
}

// Relationship returns the edge's tag.
func (e Edge) Relationship() Relationship {
	return e.Data.RelationshipType
}

// Touches reports whether nodeID is either endpoint.
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// RelationshipLabel is the display label for rel.
func RelationshipLabel(rel Relationship) string {
	switch rel {
	case RelationshipReportsTo:
		return "Reports To"
	case RelationshipNoReport:
		return "No Report"
	case RelationshipFutureReport:
		return "Future Report"
	default:
		return "Relationship"
	}
}

// EdgeStyle is the stroke an edge is rendered with. The zero value means the
// renderer's default stroke.
type EdgeStyle struct {
	StrokeWidth     float64 `json:"strokeWidth,omitempty"`
	StrokeDasharray string  `json:"strokeDasharray,omitempty"`
	Stroke          string  `json:"stroke,omitempty"`
}

// StyleFor returns the rendering style for rel.
func StyleFor(rel Relationship) EdgeStyle {
	switch rel {
	case RelationshipReportsTo:
		return EdgeStyle{StrokeWidth: 2, Stroke: "#10b981"}
	case RelationshipNoReport:
		return EdgeStyle{StrokeWidth: 1.5, StrokeDasharray: "5,5", Stroke: "#6b7280"}
	case RelationshipFutureReport:
		return EdgeStyle{StrokeWidth: 1.5, StrokeDasharray: "8,4", Stroke: "#3b82f6"}
	}
	return EdgeStyle{}
}
