// Package httpapi serves the navigable views (library, simulator, org
// charts) as a JSON API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

// PersonaStore is the persona library used by the API.
type PersonaStore interface {
	chat.PersonaSource
	Save(ctx context.Context, p persona.Persona) (persona.Persona, error)
	Delete(ctx context.Context, id string) error
}

// ConversationStore is the conversation store used by the API.
type ConversationStore interface {
	chat.ConversationSource
	List(ctx context.Context) ([]conversation.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// ChartStore is the org-chart store used by the API.
type ChartStore interface {
	New(name string) orgchart.Chart
	Save(ctx context.Context, c orgchart.Chart) (orgchart.Chart, error)
	Get(ctx context.Context, id string) (orgchart.Chart, error)
	List(ctx context.Context) ([]orgchart.Summary, error)
	Delete(ctx context.Context, id string) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Deps are the stores behind the routes.
type Deps struct {
	Personas      PersonaStore
	Conversations ConversationStore
	Charts        ChartStore
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server serves the JSON API.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config
	deps   Deps
}

// NewServer creates a server. A nil cfg listens on localhost:8765.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Personas == nil || deps.Conversations == nil || deps.Charts == nil {
		return nil, fmt.Errorf("persona, conversation and chart stores are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8765}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, logger: logger, config: cfg, deps: deps}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/personas", s.handleListPersonas)
	v1.POST("/personas", s.handleSavePersona)
	v1.GET("/personas/:id", s.handleGetPersona)
	v1.DELETE("/personas/:id", s.handleDeletePersona)

	v1.GET("/conversations", s.handleListConversations)
	v1.GET("/conversations/:id", s.handleGetConversation)
	v1.DELETE("/conversations/:id", s.handleDeleteConversation)

	v1.GET("/simulator", s.handleSimulator)

	v1.GET("/org-charts", s.handleListCharts)
	v1.POST("/org-charts", s.handleSaveChart)
	v1.GET("/org-charts/:id", s.handleGetChart)
	v1.DELETE("/org-charts/:id", s.handleDeleteChart)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persona.ErrNameRequired),
		errors.Is(err, persona.ErrInvalidCommunication),
		errors.Is(err, persona.ErrInvalidSource),
		errors.Is(err, orgchart.ErrNameRequired),
		errors.Is(err, orgchart.ErrDuplicateID),
		errors.Is(err, orgchart.ErrDuplicateMe),
		errors.Is(err, orgchart.ErrOrphanEdge),
		errors.Is(err, orgchart.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := statusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if code == http.StatusInternalServerError {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
			msg = http.StatusText(code)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{Error: msg})
	}
}
