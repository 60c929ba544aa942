package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
	"github.com/DatanoiseTV/personamcp/internal/persona"
)

// PersonaView is a persona as returned by the API. The credential itself is
// never echoed back.
type PersonaView struct {
	persona.Persona
	GeminiAPIKey  string `json:"geminiApiKey,omitempty"`
	HasCredential bool   `json:"hasCredential"`
}

func viewOf(p persona.Persona) PersonaView {
	return PersonaView{Persona: p, HasCredential: p.HasCredential()}
}

func (s *Server) handleListPersonas(c echo.Context) error {
	ps, err := s.deps.Personas.List(c.Request().Context(), persona.ListOptions{
		Query: c.QueryParam("q"),
		Sort:  persona.SortOrder(c.QueryParam("sort")),
	})
	if err != nil {
		return err
	}
	out := make([]PersonaView, len(ps))
	for i, p := range ps {
		out[i] = viewOf(p)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPersona(c echo.Context) error {
	p, err := s.deps.Personas.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(p))
}

func (s *Server) handleSavePersona(c echo.Context) error {
	var p persona.Persona
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := s.deps.Personas.Save(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(saved))
}

func (s *Server) handleDeletePersona(c echo.Context) error {
	if err := s.deps.Personas.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	if id := c.QueryParam("personaId"); id != "" {
		list, err := s.deps.Conversations.ForPersona(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, list)
	}
	list, err := s.deps.Conversations.List(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.deps.Conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.deps.Conversations.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SimulatorResponse is the body of GET /api/v1/simulator.
type SimulatorResponse struct {
	Persona      *PersonaView `json:"persona"`
	chat.View
}

func (s *Server) handleSimulator(c echo.Context) error {
	v, err := chat.ResolveView(c.Request().Context(), s.deps.Personas, s.deps.Conversations,
		c.QueryParam("personaId"), c.QueryParam("conversationId"))
	if err != nil {
		return err
	}
	resp := SimulatorResponse{View: v}
	if v.Persona != nil {
		pv := viewOf(*v.Persona)
		resp.Persona = &pv
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListCharts(c echo.Context) error {
	list, err := s.deps.Charts.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetChart(c echo.Context) error {
	chart, err := s.deps.Charts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chart)
}

// handleSaveChart creates a chart, or replaces one when the body carries an id.
func (s *Server) handleSaveChart(c echo.Context) error {
	var in orgchart.Chart
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	chart := s.deps.Charts.New(in.Name)
	if in.ID != "" {
		chart.ID = in.ID
		chart.CreatedAt = in.CreatedAt
	}
	if in.Nodes != nil {
		chart.Nodes = in.Nodes
	}
	if in.Edges != nil {
		chart.Edges = in.Edges
	}
	saved, err := s.deps.Charts.Save(c.Request().Context(), chart)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteChart(c echo.Context) error {
	if err := s.deps.Charts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
