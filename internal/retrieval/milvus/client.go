package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/retrieval"
	"github.com/learncoach/backend/pkg/logger"
)

// Embedder turns query text into the vector the collection is indexed
// by. The LLM client satisfies this.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Client struct {
	client         client.Client
	embedder       Embedder
	collectionName string
	vectorDim      int
}

// Chunk is one embedded slice of an uploaded course document.
type Chunk struct {
	ID        string
	Embedding []float32
	Text      string
	Source    string
	Subject   string
	Timestamp time.Time
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int, embedder Embedder) (*Client, error) {
	var c client.Client
	var err error
	if apiKey != "" {
		c, err = client.NewClient(context.Background(), client.Config{Address: endpoint, APIKey: apiKey})
	} else {
		c, err = client.NewGrpcClient(context.Background(), endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		embedder:       embedder,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Course material chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "source",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "subject",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.L2, 1024)
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	subjects := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		sources[i] = chunk.Source
		subjects[i] = chunk.Subject
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("subject", subjects),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector store", zap.Int("count", len(chunks)))

	return nil
}

// Search embeds queryText and returns the topK nearest passages,
// optionally restricted to a subject. Results keep store order, nearest
// first.
func (m *Client) Search(ctx context.Context, queryText, subject string, topK int) ([]retrieval.Passage, error) {
	embedding, err := m.embedder.GenerateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	expr := ""
	if subject != "" {
		expr = fmt.Sprintf(`subject == "%s"`, subject)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "source"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	passages := make([]retrieval.Passage, 0)
	for _, sr := range searchResult {
		textCol := sr.Fields.GetColumn("text")
		sourceCol := sr.Fields.GetColumn("source")

		for i := 0; i < sr.ResultCount; i++ {
			text, _ := textCol.Get(i)
			source, _ := sourceCol.Get(i)

			passages = append(passages, retrieval.Passage{
				Text:     text.(string),
				Source:   source.(string),
				Distance: float64(sr.Scores[i]),
			})
		}
	}

	logger.Info("Vector search completed",
		zap.String("subject", subject),
		zap.Int("topK", topK),
		zap.Int("results", len(passages)),
	)

	return passages, nil
}
