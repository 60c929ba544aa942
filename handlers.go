package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/logging"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult turns a domain error into the message shown to the user.
func errorResult(action string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, chat.ErrMissingCredential):
		return mcp.NewToolResultError(MissingCredentialMsg)
	case errors.Is(err, chat.ErrNoEligibleParticipant):
		return mcp.NewToolResultError(NoEligibleMsg)
	case errors.Is(err, chat.ErrNoParticipants):
		return mcp.NewToolResultError(NoParticipantsMsg)
	case errors.Is(err, chat.ErrBusy):
		return mcp.NewToolResultError(SessionBusyMsg)
	case errors.Is(err, persona.ErrIndexDisabled):
		return mcp.NewToolResultError(IndexDisabledMsg)
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: not found", action))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

// PersonaView is a persona as returned by the tools. The API key is never
// echoed back.
type PersonaView struct {
	persona.Persona
	GeminiAPIKey  string `json:"geminiApiKey,omitempty"`
	HasCredential bool   `json:"hasCredential"`
}

func viewPersona(p persona.Persona) PersonaView {
	return PersonaView{Persona: p, HasCredential: p.HasCredential()}
}

// personaPatch holds the persona_save arguments. Nil fields keep the stored
// value; an empty list clears it.
type personaPatch struct {
	ID            string               `json:"id"`
	Name          *string              `json:"name"`
	Avatar        *string              `json:"avatar"`
	Tagline       *string              `json:"tagline"`
	Background    *string              `json:"background"`
	Personality   []string             `json:"personality"`
	Interests     []string             `json:"interests"`
	Values        []string             `json:"values"`
	Behaviors     []string             `json:"behaviors"`
	Strengths     []string             `json:"strengths"`
	Weaknesses    []string             `json:"weaknesses"`
	Communication *string              `json:"communication"`
	DataSources   []persona.DataSource `json:"data_sources"`
	APIKey        *string              `json:"api_key"`
}

func (pp personaPatch) apply(p *persona.Persona) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	list := func(dst *[]string, src []string) {
		if src != nil {
			*dst = src
		}
	}
	set(&p.Name, pp.Name)
	set(&p.Avatar, pp.Avatar)
	set(&p.Tagline, pp.Tagline)
	set(&p.Background, pp.Background)
	set(&p.GeminiAPIKey, pp.APIKey)
	list(&p.Traits.Personality, pp.Personality)
	list(&p.Traits.Interests, pp.Interests)
	list(&p.Traits.Values, pp.Values)
	list(&p.Traits.Behaviors, pp.Behaviors)
	list(&p.Traits.Strengths, pp.Strengths)
	list(&p.Traits.Weaknesses, pp.Weaknesses)
	if pp.Communication != nil {
		p.Traits.Communication = persona.CommunicationStyle(strings.ToLower(strings.TrimSpace(*pp.Communication)))
	}
	if pp.DataSources != nil {
		p.DataSources = pp.DataSources
	}
}

// savePersonaHandler creates a persona, or updates one when id is given.
func (a *App) savePersonaHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var patch personaPatch
	if err := request.BindArguments(&patch); err != nil {
		return mcp.NewToolResultError("Invalid arguments"), nil
	}

	var p persona.Persona
	var err error
	if id := strings.TrimSpace(patch.ID); id != "" {
		p, err = a.personas.Get(ctx, id)
	} else {
		p, err = a.personas.NewDraft(ctx)
	}
	if err != nil {
		return errorResult("Failed to load persona", err), nil
	}

	patch.apply(&p)
	if strings.TrimSpace(p.Avatar) == "" {
		p.Avatar = persona.RandomAvatar(rand.IntN(1000))
	}
	for i := range p.DataSources {
		if p.DataSources[i].ID == "" {
			p.DataSources[i].ID = fmt.Sprintf("src-%d", i+1)
		}
	}

	saved, err := a.personas.Save(ctx, p)
	if err != nil {
		return errorResult("Failed to save persona", err), nil
	}
	a.logger.Info("persona saved", zap.String("persona_id", saved.ID))
	return jsonResult(viewPersona(saved))
}

// getPersonaHandler returns one persona.
func (a *App) getPersonaHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("Persona ID cannot be empty"), nil
	}
	p, err := a.personas.Get(ctx, id)
	if err != nil {
		return errorResult("Failed to get persona", err), nil
	}
	return jsonResult(viewPersona(p))
}

// listPersonasHandler lists the library, filtered and sorted.
func (a *App) listPersonasHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ps, err := a.personas.List(ctx, persona.ListOptions{
		Query: request.GetString("query", ""),
		Sort:  persona.SortOrder(request.GetString("sort", string(persona.SortDateDesc))),
	})
	if err != nil {
		return errorResult("Failed to list personas", err), nil
	}
	if len(ps) == 0 {
		return mcp.NewToolResultText(NoPersonasMsg), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d personas:\n", len(ps)))
	for _, p := range ps {
		sb.WriteString(fmt.Sprintf("- [%s] %s", p.ID, p.Name))
		if p.Tagline != "" {
			sb.WriteString(" - " + p.Tagline)
		}
		if !p.HasCredential() {
			sb.WriteString(" (no API key)")
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// deletePersonaHandler removes a persona. Conversations and chart nodes that
// reference it are left as they are.
func (a *App) deletePersonaHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("Persona ID cannot be empty"), nil
	}
	if err := a.personas.Delete(ctx, id); err != nil {
		return errorResult("Failed to delete persona", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", PersonaDeletedMsg, id)), nil
}

// searchPersonasHandler ranks personas by semantic similarity.
func (a *App) searchPersonasHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("Query cannot be empty"), nil
	}
	limit := request.GetInt("limit", DefaultSearchResults)

	matches, err := a.personas.SemanticSearch(ctx, query, limit)
	if err != nil {
		return errorResult("Search failed", err), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No matching personas."), nil
	}

	var sb strings.Builder
	sb.WriteString("Matching personas:\n\n")
	for _, m := range matches {
		sb.WriteString(fmt.Sprintf("[%s] %s (Sim: %.2f)\n%s\n---\n", m.Persona.ID, m.Persona.Name, m.Score, m.Persona.Tagline))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// setAPIKeyHandler stores the key pre-filled into new personas.
func (a *App) setAPIKeyHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.TrimSpace(request.GetString("api_key", ""))
	if err := a.personas.SetDefaultAPIKey(ctx, key); err != nil {
		return errorResult("Failed to store API key", err), nil
	}
	a.logger.Debug("default api key updated", logging.RedactedString("api_key", key))
	if key == "" {
		return mcp.NewToolResultText("Default API key cleared."), nil
	}
	return mcp.NewToolResultText("Default API key saved. New personas will use it."), nil
}
