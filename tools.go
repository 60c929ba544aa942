package main

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// tools returns every MCP tool with its handler.
func (a *App) tools() []server.ServerTool {
	var tools []server.ServerTool
	tools = append(tools, a.personaTools()...)
	tools = append(tools, a.chatTools()...)
	tools = append(tools, a.conversationTools()...)
	tools = append(tools, a.orgChartTools()...)
	return tools
}

// handlers indexes the tool handlers by name for the REPL.
func (a *App) handlers() map[string]server.ToolHandlerFunc {
	out := make(map[string]server.ToolHandlerFunc)
	for _, t := range a.tools() {
		out[t.Tool.Name] = t.Handler
	}
	return out
}

func (a *App) personaTools() []server.ServerTool {
	traits := func(name, desc string) mcp.ToolOption {
		return mcp.WithArray(name, mcp.Description(desc), mcp.WithStringItems())
	}
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("persona_save",
				mcp.WithDescription("Creates a persona, or updates the persona with the given id. Omitted fields keep their stored values."),
				mcp.WithString("id", mcp.Description("ID of the persona to update; omit to create a new one")),
				mcp.WithString("name", mcp.Description("Display name (required for new personas)")),
				mcp.WithString("tagline", mcp.Description("One-line summary")),
				mcp.WithString("background", mcp.Description("Free-text biography")),
				mcp.WithString("avatar", mcp.Description("Avatar image URL; a placeholder is used when empty")),
				traits("personality", "Personality traits"),
				traits("interests", "Interests"),
				traits("values", "Values"),
				traits("behaviors", "Typical behaviors"),
				traits("strengths", "Strengths"),
				traits("weaknesses", "Weaknesses"),
				mcp.WithString("communication",
					mcp.Description("Communication style"),
					mcp.Enum("balanced", "formal", "casual", "direct", "empathetic", "humorous"),
				),
				mcp.WithArray("data_sources",
					mcp.Description("Typed references to material the persona was derived from"),
					mcp.Items(map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type":        map[string]any{"type": "string", "enum": []string{"social", "professional", "behavioral", "custom"}},
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"url":         map[string]any{"type": "string"},
						},
						"required": []string{"type", "name"},
					}),
				),
				mcp.WithString("api_key", mcp.Description("Gemini API key used when this persona replies")),
			),
			Handler: a.savePersonaHandler,
		},
		{
			Tool: mcp.NewTool("persona_get",
				mcp.WithDescription("Returns one persona. The API key is never included."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Persona ID")),
			),
			Handler: a.getPersonaHandler,
		},
		{
			Tool: mcp.NewTool("persona_list",
				mcp.WithDescription("Lists personas, optionally filtered by a text query."),
				mcp.WithString("query", mcp.Description("Case-insensitive match on name, tagline, personality and interests")),
				mcp.WithString("sort",
					mcp.Description("Sort order"),
					mcp.Enum("dateDesc", "dateAsc", "nameAsc", "nameDesc"),
				),
			),
			Handler: a.listPersonasHandler,
		},
		{
			Tool: mcp.NewTool("persona_delete",
				mcp.WithDescription("Deletes a persona. Saved conversations and chart nodes that reference it are kept."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Persona ID")),
			),
			Handler: a.deletePersonaHandler,
		},
		{
			Tool: mcp.NewTool("persona_search",
				mcp.WithDescription("Finds personas by semantic similarity of their description to a query."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Natural language description of the persona you are looking for")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			),
			Handler: a.searchPersonasHandler,
		},
		{
			Tool: mcp.NewTool("settings_set_api_key",
				mcp.WithDescription("Stores the Gemini API key pre-filled into new personas. An empty key clears it."),
				mcp.WithString("api_key", mcp.Description("Gemini API key")),
			),
			Handler: a.setAPIKeyHandler,
		},
	}
}

func (a *App) chatTools() []server.ServerTool {
	session := mcp.WithString("session_id", mcp.Required(), mcp.Description("Chat session ID returned by chat_start"))
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("chat_start",
				mcp.WithDescription("Opens a chat session with one persona, a group of personas, or a saved conversation."),
				mcp.WithString("persona_id", mcp.Description("Persona for a one-to-one chat")),
				mcp.WithArray("persona_ids", mcp.Description("Participants of a group chat"), mcp.WithStringItems()),
				mcp.WithBoolean("group", mcp.Description("Start an empty group chat")),
				mcp.WithString("conversation_id", mcp.Description("Saved conversation to continue")),
			),
			Handler: a.startChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_send",
				mcp.WithDescription("Sends a message and returns the persona replies."),
				session,
				mcp.WithString("message", mcp.Required(), mcp.Description("Message text")),
			),
			Handler: a.sendChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_reset",
				mcp.WithDescription("Clears all messages of the session."),
				session,
			),
			Handler: a.resetChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_save",
				mcp.WithDescription("Saves the session as a conversation. Saving again updates the same conversation."),
				session,
				mcp.WithString("title", mcp.Description("Optional new title")),
			),
			Handler: a.saveChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_export",
				mcp.WithDescription("Exports the session as a plain-text transcript."),
				session,
				mcp.WithString("directory", mcp.Description("Directory to write the transcript file to; omit to return the text")),
			),
			Handler: a.exportChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_title",
				mcp.WithDescription("Renames the session's conversation."),
				session,
				mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
			),
			Handler: a.titleChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_participants",
				mcp.WithDescription("Adds or removes participants of a group chat. Messages of removed personas stay in the thread."),
				session,
				mcp.WithArray("add", mcp.Description("Persona IDs to add"), mcp.WithStringItems()),
				mcp.WithArray("remove", mcp.Description("Persona IDs to remove"), mcp.WithStringItems()),
			),
			Handler: a.participantsChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_close",
				mcp.WithDescription("Closes a chat session. Unsaved messages are discarded."),
				session,
			),
			Handler: a.closeChatHandler,
		},
		{
			Tool: mcp.NewTool("chat_sessions",
				mcp.WithDescription("Lists the open chat sessions."),
			),
			Handler: a.listChatsHandler,
		},
	}
}

func (a *App) conversationTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("conversation_list",
				mcp.WithDescription("Lists saved conversations."),
				mcp.WithString("persona_id", mcp.Description("Only conversations this persona takes part in")),
			),
			Handler: a.listConversationsHandler,
		},
		{
			Tool: mcp.NewTool("conversation_get",
				mcp.WithDescription("Returns a saved conversation with all messages."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Conversation ID")),
			),
			Handler: a.getConversationHandler,
		},
		{
			Tool: mcp.NewTool("conversation_delete",
				mcp.WithDescription("Deletes a saved conversation."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Conversation ID")),
			),
			Handler: a.deleteConversationHandler,
		},
	}
}

func (a *App) orgChartTools() []server.ServerTool {
	chart := mcp.WithString("chart_id", mcp.Required(), mcp.Description("Organization chart ID"))
	edge := mcp.WithString("edge_id", mcp.Required(), mcp.Description("Edge ID"))
	relationship := mcp.WithString("relationship",
		mcp.Description("Relationship tag; empty clears it"),
		mcp.Enum("", "reports-to", "no-report", "future-report"),
	)
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("orgchart_create",
				mcp.WithDescription("Creates an empty organization chart and opens it for editing."),
				mcp.WithString("name", mcp.Description("Chart name")),
			),
			Handler: a.createChartHandler,
		},
		{
			Tool:    mcp.NewTool("orgchart_list", mcp.WithDescription("Lists saved organization charts.")),
			Handler: a.listChartsHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_open",
				mcp.WithDescription("Opens a chart for editing and returns its nodes and edges. Edits stay in memory until orgchart_save."),
				chart,
			),
			Handler: a.openChartHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_add_node",
				mcp.WithDescription("Adds a node. A chart can hold a single me node."),
				chart,
				mcp.WithString("kind", mcp.Required(), mcp.Enum("persona", "department", "me")),
			),
			Handler: a.addNodeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_move_node",
				mcp.WithDescription("Moves a node on the canvas."),
				chart,
				mcp.WithString("node_id", mcp.Required(), mcp.Description("Node ID")),
				mcp.WithNumber("x", mcp.Required()),
				mcp.WithNumber("y", mcp.Required()),
			),
			Handler: a.moveNodeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_connect",
				mcp.WithDescription("Connects two nodes with a directed edge."),
				chart,
				mcp.WithString("source", mcp.Required(), mcp.Description("Source node ID")),
				mcp.WithString("target", mcp.Required(), mcp.Description("Target node ID")),
			),
			Handler: a.connectHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_select",
				mcp.WithDescription("Selects a node and returns its properties. Omit node_id to clear the selection."),
				chart,
				mcp.WithString("node_id", mcp.Description("Node ID")),
			),
			Handler: a.selectNodeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_update_node",
				mcp.WithDescription("Updates node properties. Binding a persona sets the label to its name. Without node_id the selected node is updated."),
				chart,
				mcp.WithString("node_id", mcp.Description("Node ID; defaults to the selection")),
				mcp.WithString("persona_id", mcp.Description("Persona to bind (persona nodes only); empty unbinds")),
				mcp.WithString("role", mcp.Description("Role")),
				mcp.WithString("department", mcp.Description("Department")),
				mcp.WithString("label", mcp.Description("Label")),
			),
			Handler: a.updateNodeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_delete_node",
				mcp.WithDescription("Deletes a node and every edge touching it. Without node_id the selected node is deleted."),
				chart,
				mcp.WithString("node_id", mcp.Description("Node ID; defaults to the selection")),
			),
			Handler: a.deleteNodeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_relationship",
				mcp.WithDescription("Sets the relationship of an edge, which also sets its label and style."),
				chart, edge, relationship,
			),
			Handler: a.relationshipHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_delete_edge",
				mcp.WithDescription("Deletes an edge."),
				chart, edge,
			),
			Handler: a.deleteEdgeHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_intent",
				mcp.WithDescription("Raises a canvas action. start_conversation opens a chat with the persona on an edge; edit_persona returns the persona bound to a node."),
				chart,
				mcp.WithString("intent", mcp.Required(),
					mcp.Enum("start_conversation", "define_relationship", "delete_connection", "edit_persona"),
				),
				mcp.WithString("edge_id", mcp.Description("Edge ID for edge intents")),
				mcp.WithString("node_id", mcp.Description("Node ID for edit_persona")),
				relationship,
			),
			Handler: a.intentHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_save",
				mcp.WithDescription("Saves the chart as currently edited."),
				chart,
				mcp.WithString("name", mcp.Description("Optional new name")),
			),
			Handler: a.saveChartHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_close",
				mcp.WithDescription("Closes a chart editor, discarding unsaved edits."),
				chart,
			),
			Handler: a.closeChartHandler,
		},
		{
			Tool: mcp.NewTool("orgchart_delete",
				mcp.WithDescription("Deletes a saved chart."),
				chart,
			),
			Handler: a.deleteChartHandler,
		},
	}
}
