package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
)

// NodeView is a node with its editable properties.
type NodeView struct {
	Node       orgchart.Node       `json:"node"`
	Properties orgchart.Properties `json:"properties"`
}

// directory resolves persona names for chart labels.
func (a *App) directory(ctx context.Context) orgchart.Directory {
	return orgchart.DirectoryFunc(func(id string) (string, bool) {
		p, err := a.personas.Get(ctx, id)
		if err != nil {
			return "", false
		}
		return p.Name, true
	})
}

// editor returns the open editor for chart_id, opening the stored chart if
// it is not open yet.
func (a *App) editor(ctx context.Context, request mcp.CallToolRequest) (*orgchart.Editor, *mcp.CallToolResult) {
	id := strings.TrimSpace(request.GetString("chart_id", ""))
	if id == "" {
		return nil, mcp.NewToolResultError("Chart ID cannot be empty")
	}
	if e, err := a.sessions.Editor(id); err == nil {
		return e, nil
	}
	c, err := a.charts.Get(ctx, id)
	if err != nil {
		return nil, errorResult("Failed to open chart", err)
	}
	e, err := a.sessions.OpenEditor(id, func() *orgchart.Editor {
		return orgchart.NewEditor(c, a.directory(context.Background()))
	})
	if err != nil {
		return nil, errorResult("Failed to open chart", err)
	}
	return e, nil
}

// createChartHandler stores a new empty chart and opens it.
func (a *App) createChartHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := a.charts.Save(ctx, a.charts.New(request.GetString("name", "")))
	if err != nil {
		return errorResult("Failed to create chart", err), nil
	}
	if _, err := a.sessions.OpenEditor(c.ID, func() *orgchart.Editor {
		return orgchart.NewEditor(c, a.directory(context.Background()))
	}); err != nil {
		return errorResult("Failed to open chart", err), nil
	}
	a.logger.Debug("chart created", zap.String("chart_id", c.ID))
	return jsonResult(c)
}

// listChartsHandler lists stored charts.
func (a *App) listChartsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries, err := a.charts.List(ctx)
	if err != nil {
		return errorResult("Failed to list charts", err), nil
	}
	if len(summaries) == 0 {
		return mcp.NewToolResultText(NoChartsMsg), nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d charts:\n", len(summaries)))
	for _, s := range summaries {
		sb.WriteString(fmt.Sprintf("- [%s] %s (%d nodes, %d edges)\n", s.ID, s.Name, s.Nodes, s.Edges))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// openChartHandler opens a chart for editing and returns its current state.
func (a *App) openChartHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(e.Chart())
}

// addNodeHandler adds a persona, department or me node.
func (a *App) addNodeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	n, err := e.AddNode(orgchart.Kind(request.GetString("kind", "")))
	if err != nil {
		return errorResult("Failed to add node", err), nil
	}
	return jsonResult(n)
}

// moveNodeHandler repositions a node on the canvas.
func (a *App) moveNodeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	n, err := e.MoveNode(request.GetString("node_id", ""), orgchart.Position{
		X: request.GetFloat("x", 0),
		Y: request.GetFloat("y", 0),
	})
	if err != nil {
		return errorResult("Failed to move node", err), nil
	}
	return jsonResult(n)
}

// connectHandler links two nodes.
func (a *App) connectHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	edge, err := e.Connect(request.GetString("source", ""), request.GetString("target", ""))
	if err != nil {
		return errorResult("Failed to connect nodes", err), nil
	}
	return jsonResult(edge)
}

// selectNodeHandler selects a node and returns its property panel.
func (a *App) selectNodeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	id := strings.TrimSpace(request.GetString("node_id", ""))
	if id == "" {
		e.ClearSelection()
		return mcp.NewToolResultText("Selection cleared."), nil
	}
	n, props, err := e.Select(id)
	if err != nil {
		return errorResult("Failed to select node", err), nil
	}
	return jsonResult(NodeView{Node: n, Properties: props})
}

// updateNodeHandler edits node properties. Without node_id the selected node
// is updated through the property panel.
func (a *App) updateNodeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	args := request.GetArguments()
	field := func(key string) *string {
		if v, ok := args[key].(string); ok {
			return &v
		}
		return nil
	}
	patch := orgchart.NodePatch{
		PersonaID:  field("persona_id"),
		Role:       field("role"),
		Department: field("department"),
		Label:      field("label"),
	}

	var (
		n   orgchart.Node
		err error
	)
	if id := strings.TrimSpace(request.GetString("node_id", "")); id != "" {
		n, err = e.UpdateNode(id, patch)
	} else {
		form := e.Form()
		if patch.PersonaID != nil {
			form.PersonaID = *patch.PersonaID
		}
		if patch.Role != nil {
			form.Role = *patch.Role
		}
		if patch.Department != nil {
			form.Department = *patch.Department
		}
		if patch.Label != nil {
			form.Label = *patch.Label
		}
		if err = e.SetForm(form); err == nil {
			n, err = e.Apply()
		}
	}
	if err != nil {
		return errorResult("Failed to update node", err), nil
	}
	return jsonResult(NodeView{Node: n, Properties: n.Properties()})
}

// deleteNodeHandler removes a node, or the selected node when node_id is
// omitted, together with its edges.
func (a *App) deleteNodeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	var (
		removed []orgchart.Edge
		err     error
	)
	if id := strings.TrimSpace(request.GetString("node_id", "")); id != "" {
		removed, err = e.DeleteNode(id)
	} else {
		removed, err = e.DeleteSelected()
	}
	if err != nil {
		return errorResult("Failed to delete node", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Node deleted with %d connections.", len(removed))), nil
}

// relationshipHandler tags an edge.
func (a *App) relationshipHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.dispatch(ctx, request, orgchart.DefineRelationship{
		EdgeID: request.GetString("edge_id", ""),
		Kind:   orgchart.Relationship(request.GetString("relationship", "")),
	})
}

// deleteEdgeHandler removes an edge.
func (a *App) deleteEdgeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.dispatch(ctx, request, orgchart.DeleteConnection{EdgeID: request.GetString("edge_id", "")})
}

// intentHandler raises a canvas intent. Starting a conversation opens a chat
// session with the persona on the edge.
func (a *App) intentHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in orgchart.Intent
	switch request.GetString("intent", "") {
	case "start_conversation":
		in = orgchart.StartConversation{EdgeID: request.GetString("edge_id", "")}
	case "define_relationship":
		in = orgchart.DefineRelationship{
			EdgeID: request.GetString("edge_id", ""),
			Kind:   orgchart.Relationship(request.GetString("relationship", "")),
		}
	case "delete_connection":
		in = orgchart.DeleteConnection{EdgeID: request.GetString("edge_id", "")}
	case "edit_persona":
		in = orgchart.EditPersona{NodeID: request.GetString("node_id", "")}
	default:
		return mcp.NewToolResultError("Intent must be one of start_conversation, define_relationship, delete_connection, edit_persona"), nil
	}
	return a.dispatch(ctx, request, in)
}

func (a *App) dispatch(ctx context.Context, request mcp.CallToolRequest, in orgchart.Intent) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	out, err := e.Dispatch(in)
	if err != nil {
		if errors.Is(err, orgchart.ErrNoPersonaOnConnection) || errors.Is(err, orgchart.ErrNotEditable) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return errorResult("Action failed", err), nil
	}

	switch out.Action {
	case orgchart.ActionOpenSimulator:
		p, err := a.personas.Get(ctx, out.PersonaID)
		if err != nil {
			return errorResult("Failed to load persona", err), nil
		}
		t := chat.NewSession(p, nil, a.chatOpts)
		sessionID, err := a.sessions.OpenChat(t)
		if err != nil {
			return errorResult("Failed to open chat", err), nil
		}
		return jsonResult(struct {
			orgchart.Outcome
			Chat ChatSummary `json:"chat"`
		}{out, summarize(sessionID, t)})

	case orgchart.ActionOpenPersonaEditor:
		p, err := a.personas.Get(ctx, out.PersonaID)
		if err != nil {
			return errorResult("Failed to load persona", err), nil
		}
		return jsonResult(struct {
			orgchart.Outcome
			Persona PersonaView `json:"persona"`
		}{out, viewPersona(p)})
	}
	return jsonResult(out)
}

// saveChartHandler stores the chart as currently edited.
func (a *App) saveChartHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e, errRes := a.editor(ctx, request)
	if errRes != nil {
		return errRes, nil
	}
	if name := strings.TrimSpace(request.GetString("name", "")); name != "" {
		e.Rename(name)
	}
	c, err := a.charts.Save(ctx, e.Chart())
	if err != nil {
		return errorResult("Failed to save chart", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: '%s' (%s)", ChartSavedMsg, c.Name, c.ID)), nil
}

// deleteChartHandler removes a stored chart and closes its editor.
func (a *App) deleteChartHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("chart_id", ""))
	if id == "" {
		return mcp.NewToolResultError("Chart ID cannot be empty"), nil
	}
	if err := a.charts.Delete(ctx, id); err != nil {
		return errorResult("Failed to delete chart", err), nil
	}
	a.sessions.CloseEditor(id)
	return mcp.NewToolResultText(fmt.Sprintf("Chart '%s' deleted.", id)), nil
}

// closeChartHandler discards unsaved edits of a chart.
func (a *App) closeChartHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("chart_id", ""))
	if !a.sessions.CloseEditor(id) {
		return mcp.NewToolResultError(fmt.Sprintf("Chart '%s' is not open.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chart '%s' closed.", id)), nil
}
