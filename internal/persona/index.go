package persona

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// Embedder turns text into vectors for the semantic index.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Hit is one ranked index result.
type Hit struct {
	ID    string
	Score float32
}

// Index stores persona descriptions for similarity search.
type Index interface {
	Upsert(ctx context.Context, p Persona) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Reset(ctx context.Context) error
	Close() error
}

const collectionName = "personas"

// ChromemIndex keeps the index in an embedded chromem-go database.
type ChromemIndex struct {
	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	embedder Embedder
	logger   *zap.Logger
}

// NewChromemIndex opens a persistent index under dir. An empty dir keeps the
// index in memory.
func NewChromemIndex(dir string, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}

	idx := &ChromemIndex{db: db, embedder: embedder, logger: logger}
	col, err := db.GetOrCreateCollection(collectionName, nil, idx.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	idx.col = col

	logger.Debug("persona index ready", zap.String("backend", "chromem"), zap.String("dir", dir), zap.Int("documents", col.Count()))
	return idx, nil
}

func (c *ChromemIndex) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedDocument(ctx, text)
	}
}

func (c *ChromemIndex) Upsert(ctx context.Context, p Persona) error {
	vec, err := c.embedder.EmbedDocument(ctx, p.Description())
	if err != nil {
		return fmt.Errorf("failed to embed persona %q: %w", p.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.col.AddDocument(ctx, chromem.Document{
		ID:        p.ID,
		Content:   p.Description(),
		Embedding: vec,
		Metadata:  map[string]string{"name": p.Name},
	})
}

func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.col.Delete(ctx, nil, nil, id)
}

func (c *ChromemIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := min(limit, c.col.Count())
	if n <= 0 {
		return []Hit{}, nil
	}
	res, err := c.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(res))
	for i, r := range res {
		hits[i] = Hit{ID: r.ID, Score: r.Similarity}
	}
	return hits, nil
}

// Reset drops and recreates the collection.
func (c *ChromemIndex) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	col, err := c.db.GetOrCreateCollection(collectionName, nil, c.embedFunc())
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	c.col = col
	return nil
}

// Close is a no-op; persistent collections are written on every change.
func (c *ChromemIndex) Close() error { return nil }

// QdrantConfig holds connection settings for a remote Qdrant index.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantIndex keeps the index in a remote Qdrant collection.
type QdrantIndex struct {
	client   *qdrant.Client
	collName string
	dim      uint64
	embedder Embedder
	logger   *zap.Logger
}

// NewQdrantIndex connects to Qdrant and creates the collection if needed.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "personamcp-personas"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	q := &QdrantIndex{
		client:   client,
		collName: cfg.Collection,
		dim:      uint64(cfg.Dimension),
		embedder: embedder,
		logger:   logger,
	}

	exists, err := client.CollectionExists(ctx, q.collName)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check qdrant collection: %w", err)
	}
	if !exists {
		if err := q.create(ctx); err != nil {
			client.Close()
			return nil, err
		}
	}

	logger.Info("persona index ready", zap.String("backend", "qdrant"),
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("collection", q.collName))
	return q, nil
}

func (q *QdrantIndex) create(ctx context.Context) error {
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, p Persona) error {
	vec, err := q.embedder.EmbedDocument(ctx, p.Description())
	if err != nil {
		return fmt.Errorf("failed to embed persona %q: %w", p.ID, err)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collName,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"persona_id": p.ID,
				"name":       p.Name,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert persona %q: %w", p.ID, err)
	}
	return nil
}

func (q *QdrantIndex) Remove(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collName,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete persona %q: %w", id, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}
	vec, err := q.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	n := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collName,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, pt := range points {
		v, ok := pt.Payload["persona_id"]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: v.GetStringValue(), Score: pt.Score})
	}
	return hits, nil
}

// Reset deletes and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collName); err != nil {
		return fmt.Errorf("failed to delete qdrant collection: %w", err)
	}
	return q.create(ctx)
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// pointID maps a persona id onto a Qdrant point id. UUID ids are used as
// they are; any other id gets a name-based UUID derived from it.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("persona:"+id)).String())
}
