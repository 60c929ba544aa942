package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Generation defaults.
const (
	DefaultModel           = "gemini-1.5-flash"
	DefaultTemperature     = 0.7
	DefaultTopK            = 40
	DefaultTopP            = 0.95
	DefaultMaxOutputTokens = 250
)

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	Model           string
	BaseURL         string
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
	Timeout         time.Duration
	HTTPClient      *http.Client
}

func (c *GeminiConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.TopP == 0 {
		c.TopP = DefaultTopP
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
}

// Gemini generates persona replies with the Gemini API. Each persona carries
// its own key, so one client is kept per key.
type Gemini struct {
	cfg    GeminiConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGemini creates a generator. No connection is made until the first call.
func NewGemini(cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Gemini{cfg: cfg, logger: logger, clients: make(map[string]*genai.Client)}
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.cfg.HTTPClient,
	}
	if g.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = g.cfg.BaseURL
	}
	if g.cfg.Timeout > 0 {
		cc.HTTPOptions.Timeout = genai.Ptr(g.cfg.Timeout)
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	g.clients[apiKey] = c
	return c, nil
}

// Contents builds the ordered request contents: system prompt, history, prompt.
func Contents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+2)
	out = append(out, genai.NewContentFromText(SystemPrompt(req.Persona), genai.RoleUser))
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	out = append(out, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	return out
}

// Generate sends one request. Errors are classified as ErrAPI or ErrNetwork
// and paired with the matching fallback text.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return Response{Text: FallbackAPIError}, ErrMissingAPIKey
	}

	client, err := g.client(ctx, req.APIKey)
	if err != nil {
		return Response{Text: FallbackNetwork}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, Contents(req), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.cfg.Temperature),
		TopK:            genai.Ptr(g.cfg.TopK),
		TopP:            genai.Ptr(g.cfg.TopP),
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			g.logger.Warn("gemini api error", zap.Int("code", apiErr.Code), zap.String("status", apiErr.Status))
			return Response{Text: FallbackAPIError}, fmt.Errorf("%w: %s", ErrAPI, apiErr.Message)
		}
		g.logger.Warn("gemini request failed", zap.Error(err))
		return Response{Text: FallbackNetwork}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 || resp.Candidates[0].Content.Parts[0].Text == "" {
		return Response{Text: FallbackNoCandidate}, nil
	}
	return Response{Text: resp.Candidates[0].Content.Parts[0].Text}, nil
}
