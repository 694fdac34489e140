package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamGeneration marks the one fatal failure mode of the answer
// pipeline: the language model could not produce the initial answer.
// Everything else degrades instead of failing.
var ErrUpstreamGeneration = errors.New("upstream generation failed")

// Generator is the language model backend. Stateless per call; safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

type Stage string

const (
	StageInitial            Stage = "initial"
	StageRetrievalAugmented Stage = "retrieval_augmented"
)

// Turn is one prior exchange of the conversation, newest last.
type Turn struct {
	Role    string
	Content string
}

// Query is one incoming question. Immutable for the duration of the
// pipeline.
type Query struct {
	Question   string
	Subject    string
	UserID     string
	SkillLevel string
	History    []Turn
}

// Answer is the structured result of one compose pass. A new Answer is
// built when the pipeline advances a stage; earlier ones are never
// mutated.
type Answer struct {
	Explanation string
	Example     string
	Relevance   string
	NextStep    string

	UsedRetrieval bool
	Confidence    int
	Sources       []string
	Stage         Stage
}

// Text renders the answer as a single block, the form the confidence
// estimator and the chat surface consume.
func (a *Answer) Text() string {
	return a.Explanation + "\n\n" + a.Example + "\n\n" + a.Relevance + "\n\n" + a.NextStep
}

// Config is the immutable tuning surface of the pipeline, fixed at
// construction.
type Config struct {
	ConfidenceThreshold int
	TopK                int
	SimilarityThreshold float64
	MaxContextChars     int
	RetrievalTimeout    time.Duration
	EstimateTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 70,
		TopK:                5,
		SimilarityThreshold: 0.7,
		MaxContextChars:     6000,
		RetrievalTimeout:    10 * time.Second,
		EstimateTimeout:     20 * time.Second,
	}
}
