package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/persona"
)

// ChatSummary describes an open chat session.
type ChatSummary struct {
	SessionID      string                 `json:"sessionId"`
	ConversationID string                 `json:"conversationId,omitempty"`
	Title          string                 `json:"title"`
	Group          bool                   `json:"group"`
	Participants   []ParticipantView      `json:"participants"`
	Messages       []conversation.Message `json:"messages"`
}

// ParticipantView is a chat participant as shown to the user.
type ParticipantView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	HasCredential bool   `json:"hasCredential"`
}

func participantsOf(t Thread) []persona.Persona {
	switch s := t.(type) {
	case *chat.Session:
		return []persona.Persona{s.Persona()}
	case *chat.GroupSession:
		return s.Participants()
	}
	return nil
}

func summarize(sessionID string, t Thread) ChatSummary {
	_, group := t.(*chat.GroupSession)
	ps := participantsOf(t)
	views := make([]ParticipantView, 0, len(ps))
	for _, p := range ps {
		views = append(views, ParticipantView{ID: p.ID, Name: p.Name, HasCredential: p.HasCredential()})
	}
	return ChatSummary{
		SessionID:      sessionID,
		ConversationID: t.ID(),
		Title:          t.Title(),
		Group:          group,
		Participants:   views,
		Messages:       t.Messages(),
	}
}

// speaker names the author of m within t.
func speaker(t Thread, m conversation.Message) string {
	if m.Sender == conversation.SenderUser {
		return chat.UserDisplayName
	}
	for _, p := range participantsOf(t) {
		if p.ID == m.PersonaID {
			return p.Name
		}
	}
	return chat.UnknownDisplayName
}

// startChatHandler opens a single or group session, optionally resuming a
// stored conversation.
func (a *App) startChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID := strings.TrimSpace(request.GetString("conversation_id", ""))
	personaID := strings.TrimSpace(request.GetString("persona_id", ""))
	personaIDs := request.GetStringSlice("persona_ids", nil)
	group := request.GetBool("group", false) || len(personaIDs) > 0

	var thread Thread
	switch {
	case conversationID != "":
		c, err := a.convs.Get(ctx, conversationID)
		if err != nil {
			return errorResult("Failed to load conversation", err), nil
		}
		if c.IsGroup {
			ps, err := a.personas.Lookup(ctx, c.CurrentParticipants())
			if err != nil {
				return errorResult("Failed to load participants", err), nil
			}
			thread = chat.NewGroupSession(ps, &c, a.chatOpts)
		} else {
			p, err := a.personas.Get(ctx, c.PersonaID)
			if err != nil {
				return errorResult("Failed to load persona", err), nil
			}
			thread = chat.NewSession(p, &c, a.chatOpts)
		}

	case group:
		ps, err := a.personas.Lookup(ctx, personaIDs)
		if err != nil {
			return errorResult("Failed to load participants", err), nil
		}
		thread = chat.NewGroupSession(ps, nil, a.chatOpts)

	case personaID != "":
		p, err := a.personas.Get(ctx, personaID)
		if err != nil {
			return errorResult("Failed to load persona", err), nil
		}
		thread = chat.NewSession(p, nil, a.chatOpts)

	default:
		return mcp.NewToolResultError("Provide persona_id, persona_ids or conversation_id"), nil
	}

	sessionID, err := a.sessions.OpenChat(thread)
	if err != nil {
		return errorResult("Failed to open chat", err), nil
	}
	a.logger.Debug("chat opened", zap.String("session_id", sessionID), zap.Bool("group", group))
	return jsonResult(summarize(sessionID, thread))
}

// sendChatHandler runs one turn and returns the replies it produced.
func (a *App) sendChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}

	turn, err := t.Send(ctx, request.GetString("message", ""))
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return mcp.NewToolResultError("Message cannot be empty"), nil
	case errors.Is(err, chat.ErrGeneration):
		return mcp.NewToolResultError(fmt.Sprintf("Failed to generate response: %v", err)), nil
	case err != nil:
		return errorResult("Failed to send message", err), nil
	}

	var sb strings.Builder
	for _, m := range turn.Replies {
		sb.WriteString(fmt.Sprintf("%s: %s\n", speaker(t, m), m.Content))
	}
	if sb.Len() == 0 {
		return mcp.NewToolResultText("(no reply)"), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// resetChatHandler clears the thread of a session.
func (a *App) resetChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}
	t.Reset()
	return mcp.NewToolResultText(ConversationResetMsg), nil
}

// saveChatHandler stores the thread as a conversation.
func (a *App) saveChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}
	if title := request.GetString("title", ""); title != "" {
		t.SetTitle(title)
	}

	c, err := t.Save(ctx)
	if errors.Is(err, chat.ErrEmptyConversation) {
		return mcp.NewToolResultError(EmptyConversationMsg), nil
	}
	if err != nil {
		return errorResult("Failed to save conversation", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: '%s' (%s)", ConversationSavedMsg, c.Title, c.ID)), nil
}

// exportChatHandler renders the thread as a plain-text transcript, written to
// directory when one is given.
func (a *App) exportChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}

	tr, err := t.Export(a.now())
	if errors.Is(err, chat.ErrEmptyConversation) {
		return mcp.NewToolResultError(EmptyExportMsg), nil
	}
	if err != nil {
		return errorResult("Failed to export conversation", err), nil
	}

	dir := strings.TrimSpace(request.GetString("directory", ""))
	if dir == "" {
		return mcp.NewToolResultText(tr.Body), nil
	}
	if filepath.Base(tr.Filename) != tr.Filename {
		return mcp.NewToolResultError(fmt.Sprintf("Refusing to write transcript as %q", tr.Filename)), nil
	}
	path := filepath.Join(dir, tr.Filename)
	if err := os.WriteFile(path, []byte(tr.Body), 0o644); err != nil {
		return errorResult("Failed to write transcript", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Transcript written to %s", path)), nil
}

// titleChatHandler renames the thread.
func (a *App) titleChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}
	title := strings.TrimSpace(request.GetString("title", ""))
	if title == "" {
		return mcp.NewToolResultError("Title cannot be empty"), nil
	}
	t.SetTitle(title)
	return mcp.NewToolResultText(fmt.Sprintf("Title set to '%s'", t.Title())), nil
}

// participantsChatHandler adds and removes group participants.
func (a *App) participantsChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errRes := a.thread(request)
	if errRes != nil {
		return errRes, nil
	}
	g, ok := t.(*chat.GroupSession)
	if !ok {
		return mcp.NewToolResultError("Participants can only be changed in a group chat"), nil
	}

	add, err := a.personas.Lookup(ctx, request.GetStringSlice("add", nil))
	if err != nil {
		return errorResult("Failed to load participants", err), nil
	}
	for _, p := range add {
		g.AddParticipant(p)
	}
	for _, id := range request.GetStringSlice("remove", nil) {
		g.RemoveParticipant(id)
	}
	return jsonResult(summarize(request.GetString("session_id", ""), g))
}

// closeChatHandler discards a session. Unsaved messages are lost.
func (a *App) closeChatHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("session_id", ""))
	if err := a.sessions.CloseChat(id); err != nil {
		return errorResult("Failed to close chat", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chat %s closed.", id)), nil
}

// listChatsHandler lists the open sessions.
func (a *App) listChatsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(a.sessions.Chats())
}

func (a *App) thread(request mcp.CallToolRequest) (Thread, *mcp.CallToolResult) {
	id := strings.TrimSpace(request.GetString("session_id", ""))
	if id == "" {
		return nil, mcp.NewToolResultError("Session ID cannot be empty")
	}
	t, err := a.sessions.Chat(id)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Unknown chat session %s. Start one with chat_start.", id))
	}
	return t, nil
}

// listConversationsHandler lists stored conversations, optionally only those
// involving persona_id.
func (a *App) listConversationsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		cs  []conversation.Conversation
		err error
	)
	if pid := strings.TrimSpace(request.GetString("persona_id", "")); pid != "" {
		cs, err = a.convs.ForPersona(ctx, pid)
	} else {
		cs, err = a.convs.List(ctx)
	}
	if err != nil {
		return errorResult("Failed to list conversations", err), nil
	}
	if len(cs) == 0 {
		return mcp.NewToolResultText(NoConversationsMsg), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d conversations:\n", len(cs)))
	for _, c := range cs {
		kind := "single"
		if c.IsGroup {
			kind = fmt.Sprintf("group of %d", len(c.CurrentParticipants()))
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s (%s, %d messages, updated %s)\n",
			c.ID, c.Title, kind, len(c.Messages), c.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// getConversationHandler returns one stored conversation.
func (a *App) getConversationHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("Conversation ID cannot be empty"), nil
	}
	c, err := a.convs.Get(ctx, id)
	if err != nil {
		return errorResult("Failed to get conversation", err), nil
	}
	return jsonResult(c)
}

// deleteConversationHandler removes a stored conversation.
func (a *App) deleteConversationHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("Conversation ID cannot be empty"), nil
	}
	if err := a.convs.Delete(ctx, id); err != nil {
		return errorResult("Failed to delete conversation", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation '%s' deleted.", id)), nil
}
