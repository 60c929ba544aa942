package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// Embedding defaults.
const (
	DefaultEmbeddingModel = "gemini-embedding-001"
	EmbeddingDimension    = 768

	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

// EmbedderConfig configures the Gemini embedder.
type EmbedderConfig struct {
	APIKey     string
	Model      string
	Dimension  int32
	BaseURL    string
	HTTPClient *http.Client
}

// Embedder produces L2-normalized Gemini embeddings for the persona index.
type Embedder struct {
	cfg EmbedderConfig

	once   sync.Once
	client *genai.Client
	err    error
}

// NewEmbedder creates an embedder. The client is created lazily.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = EmbeddingDimension
	}
	return &Embedder{cfg: cfg}
}

func (e *Embedder) init(ctx context.Context) (*genai.Client, error) {
	e.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     e.cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: e.cfg.HTTPClient,
		}
		if e.cfg.BaseURL != "" {
			cc.HTTPOptions.BaseURL = e.cfg.BaseURL
		}
		e.client, e.err = genai.NewClient(ctx, cc)
	})
	return e.client, e.err
}

// EmbedDocument embeds text for storage.
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskTypeDocument)
}

// EmbedQuery embeds text for retrieval.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskTypeQuery)
}

func (e *Embedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	client, err := e.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	dim := e.cfg.Dimension
	res, err := client.Models.EmbedContent(ctx, e.cfg.Model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	values := res.Embeddings[0].Values
	normalize(values)
	return values, nil
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	magnitude := float32(math.Sqrt(sum))
	if magnitude <= 0 {
		return
	}
	for i := range v {
		v[i] /= magnitude
	}
}
