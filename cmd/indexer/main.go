package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/llm"
	"github.com/learncoach/backend/internal/retrieval/milvus"
	"github.com/learncoach/backend/pkg/config"
	appLogger "github.com/learncoach/backend/pkg/logger"
)

// indexer loads course material chunks from a JSONL file into the
// vector store. One JSON object per line:
//
//	{"text": "...", "source": "lecture-1.pdf", "subject": "go-basics"}
type chunkLine struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Subject string `json:"subject"`
}

const insertBatchSize = 50

func main() {
	inputPath := flag.String("input", "", "path to a JSONL file of chunks")
	flag.Parse()

	if *inputPath == "" {
		fmt.Println("usage: indexer -input chunks.jsonl")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	index, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
		llmClient,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.EnsureCollection(ctx); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	file, err := os.Open(*inputPath)
	if err != nil {
		appLogger.Fatal("Failed to open input file", zap.Error(err))
	}
	defer file.Close()

	var batch []milvus.Chunk
	total := 0
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cl chunkLine
		if err := json.Unmarshal(line, &cl); err != nil {
			appLogger.Warn("Skipping malformed line", zap.Error(err))
			skipped++
			continue
		}
		if cl.Text == "" {
			skipped++
			continue
		}

		embedding, err := llmClient.GenerateEmbedding(ctx, cl.Text)
		if err != nil {
			appLogger.Fatal("Failed to embed chunk", zap.Error(err), zap.String("source", cl.Source))
		}

		batch = append(batch, milvus.Chunk{
			ID:        uuid.New().String(),
			Embedding: embedding,
			Text:      cl.Text,
			Source:    cl.Source,
			Subject:   cl.Subject,
			Timestamp: time.Now(),
		})

		if len(batch) >= insertBatchSize {
			if err := index.Insert(ctx, batch); err != nil {
				appLogger.Fatal("Failed to insert batch", zap.Error(err))
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		appLogger.Fatal("Failed to read input file", zap.Error(err))
	}

	if len(batch) > 0 {
		if err := index.Insert(ctx, batch); err != nil {
			appLogger.Fatal("Failed to insert batch", zap.Error(err))
		}
		total += len(batch)
	}

	appLogger.Info("Indexing complete",
		zap.Int("chunks", total),
		zap.Int("skipped", skipped),
	)
}
