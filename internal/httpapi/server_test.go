package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

type testServer struct {
	*Server
	personas *persona.Service
	convs    *conversation.Service
	charts   *orgchart.Service
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	kv := store.NewMemory()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	ts := &testServer{
		personas: persona.NewService(kv, persona.WithClock(clock)),
		convs:    conversation.NewService(kv),
		charts:   orgchart.NewService(kv, clock),
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "personamcp_test_total", Help: "test"}))

	srv, err := NewServer(Deps{
		Personas:      ts.personas,
		Conversations: ts.convs,
		Charts:        ts.charts,
		Gatherer:      reg,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	ts.Server = srv
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	kv := store.NewMemory()
	deps := Deps{
		Personas:      persona.NewService(kv),
		Conversations: conversation.NewService(kv),
		Charts:        orgchart.NewService(kv, nil),
	}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(deps, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", srv.config.Host)
		assert.Equal(t, 8765, srv.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when stores are missing", func(t *testing.T) {
		_, err := NewServer(Deps{}, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestMetricsRoute(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "personamcp_test_total")
}

func TestPersonaRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/personas", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "name")

	rec = ts.do(http.MethodPost, "/api/v1/personas", `{"name":"Ada","geminiApiKey":"secret","traits":{"interests":["chess"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
	ada := decode[PersonaView](t, rec)
	assert.True(t, ada.HasCredential)
	assert.NotEmpty(t, ada.ID)

	rec = ts.do(http.MethodPost, "/api/v1/personas", `{"name":"Grace","traits":{"interests":["compilers"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/personas?sort=nameDesc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]PersonaView](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "Grace", list[0].Name)

	rec = ts.do(http.MethodGet, "/api/v1/personas?q=CHESS", "")
	list = decode[[]PersonaView](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Ada", list[0].Name)

	rec = ts.do(http.MethodGet, "/api/v1/personas/"+ada.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/v1/personas/"+ada.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/personas/"+ada.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationRoutes(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	for _, c := range []conversation.Conversation{
		{ID: "c1", PersonaID: "p1", Messages: []conversation.Message{}},
		{ID: "c2", PersonaID: "p2", Messages: []conversation.Message{}},
	} {
		require.NoError(t, ts.convs.Save(ctx, c))
	}

	rec := ts.do(http.MethodGet, "/api/v1/conversations", "")
	assert.Len(t, decode[[]conversation.Conversation](t, rec), 2)

	rec = ts.do(http.MethodGet, "/api/v1/conversations?personaId=p2", "")
	list := decode[[]conversation.Conversation](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].ID)

	rec = ts.do(http.MethodGet, "/api/v1/conversations/c1", "")
	assert.Equal(t, "c1", decode[conversation.Conversation](t, rec).ID)

	rec = ts.do(http.MethodDelete, "/api/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodDelete, "/api/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimulatorRoute(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	rec := ts.do(http.MethodGet, "/api/v1/simulator", "")
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[map[string]any](t, rec)
	assert.Nil(t, empty["persona"])

	ada, err := ts.personas.Save(ctx, persona.Persona{Name: "Ada", GeminiAPIKey: "secret"})
	require.NoError(t, err)
	require.NoError(t, ts.convs.Save(ctx, conversation.Conversation{ID: "c1", PersonaID: ada.ID, Messages: []conversation.Message{}}))

	rec = ts.do(http.MethodGet, "/api/v1/simulator?personaId="+ada.ID+"&conversationId=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var resp struct {
		Persona       PersonaView                 `json:"persona"`
		Conversation  *conversation.Conversation  `json:"conversation"`
		Conversations []conversation.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ada.ID, resp.Persona.ID)
	assert.True(t, resp.Persona.HasCredential)
	require.NotNil(t, resp.Conversation)
	assert.Equal(t, "c1", resp.Conversation.ID)
	assert.Len(t, resp.Conversations, 1)
}

func TestChartRoutes(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/org-charts", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	blank := decode[orgchart.Chart](t, rec)
	assert.Equal(t, orgchart.DefaultChartName, blank.Name)

	body := `{"name":"Platform","nodes":[
		{"id":"me","type":"me","position":{"x":0,"y":0},"data":{"label":"Me"}},
		{"id":"d1","type":"department","position":{"x":10,"y":10},"data":{"label":"Eng"}}
	],"edges":[{"id":"e1","source":"me","target":"d1","label":"Reports To"}]}`
	rec = ts.do(http.MethodPost, "/api/v1/org-charts", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	chart := decode[orgchart.Chart](t, rec)
	assert.Len(t, chart.Nodes, 2)
	assert.Len(t, chart.Edges, 1)

	bad := `{"name":"Broken","nodes":[
		{"id":"a","type":"me","position":{"x":0,"y":0},"data":{}},
		{"id":"b","type":"me","position":{"x":0,"y":0},"data":{}}
	]}`
	rec = ts.do(http.MethodPost, "/api/v1/org-charts", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/org-charts", "")
	assert.Len(t, decode[[]orgchart.Summary](t, rec), 2)

	rec = ts.do(http.MethodGet, "/api/v1/org-charts/"+chart.ID, "")
	assert.Equal(t, "Platform", decode[orgchart.Chart](t, rec).Name)

	rec = ts.do(http.MethodDelete, "/api/v1/org-charts/"+chart.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/api/v1/org-charts/"+chart.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
