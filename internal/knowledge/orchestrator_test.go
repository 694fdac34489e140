package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learncoach/backend/internal/retrieval"
	"github.com/learncoach/backend/internal/storage/models"
)

const sampleResponse = `EXPLANATION: A variable is a named storage location for a value.
EXAMPLE: x = 5 assigns the integer 5 to the name x.
RELEVANCE: Every non-trivial program stores intermediate values.
NEXT_STEP: Learn about data types next.`

// fakeGenerator scripts the language model. Self-evaluation prompts are
// routed by their distinctive preamble so compose and estimate calls
// can be scripted independently.
type fakeGenerator struct {
	composeResponses  []string
	composeErrs       []error
	estimateResponses []string
	estimateErrs      []error

	composeCalls  int
	estimateCalls int
	prompts       []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	g.prompts = append(g.prompts, prompt)

	if strings.Contains(prompt, "critical evaluator") {
		i := g.estimateCalls
		g.estimateCalls++
		if i < len(g.estimateErrs) && g.estimateErrs[i] != nil {
			return "", g.estimateErrs[i]
		}
		if i < len(g.estimateResponses) {
			return g.estimateResponses[i], nil
		}
		return "CONFIDENCE: 50", nil
	}

	i := g.composeCalls
	g.composeCalls++
	if i < len(g.composeErrs) && g.composeErrs[i] != nil {
		return "", g.composeErrs[i]
	}
	if i < len(g.composeResponses) {
		return g.composeResponses[i], nil
	}
	return sampleResponse, nil
}

type indexCall struct {
	query   string
	subject string
	topK    int
}

type fakeIndex struct {
	passages []retrieval.Passage
	err      error
	calls    []indexCall
}

func (f *fakeIndex) Search(ctx context.Context, queryText, subject string, topK int) ([]retrieval.Passage, error) {
	f.calls = append(f.calls, indexCall{query: queryText, subject: subject, topK: topK})
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGapSink struct {
	gaps []*models.GapRecord
}

func (s *fakeGapSink) Record(gap *models.GapRecord) *models.GapRecord {
	gap.ID = "gap-1"
	gap.Status = models.GapStatusPending
	gap.CreatedAt = time.Now()
	gap.UpdatedAt = gap.CreatedAt
	s.gaps = append(s.gaps, gap)
	return gap
}

func newTestOrchestrator(gen *fakeGenerator, index *fakeIndex, sink *fakeGapSink) *Orchestrator {
	cfg := DefaultConfig()
	cfg.RetrievalTimeout = time.Second
	cfg.EstimateTimeout = time.Second

	composer := NewComposer(gen, cfg.MaxContextChars)
	estimator := NewEstimator(gen, cfg.EstimateTimeout)
	return NewOrchestrator(composer, estimator, index, sink, cfg)
}

func TestAnswerHighConfidenceSkipsRetrieval(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 85"},
	}
	index := &fakeIndex{}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	result, err := o.Answer(context.Background(), Query{Question: "What is a variable in Python?"})
	require.NoError(t, err)

	assert.Equal(t, 85, result.Answer.Confidence)
	assert.False(t, result.Answer.UsedRetrieval)
	assert.Equal(t, StageInitial, result.Answer.Stage)
	assert.Nil(t, result.Gap)
	assert.Empty(t, index.calls, "retrieval must not run on a confident first answer")
	assert.Equal(t, 1, gen.composeCalls)
	assert.Equal(t, 1, gen.estimateCalls)
}

func TestAnswerThresholdTiePasses(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 70"},
	}
	index := &fakeIndex{}
	o := newTestOrchestrator(gen, index, &fakeGapSink{})

	result, err := o.Answer(context.Background(), Query{Question: "What is recursion?"})
	require.NoError(t, err)

	assert.False(t, result.Answer.UsedRetrieval)
	assert.Nil(t, result.Gap)
	assert.Empty(t, index.calls)
}

func TestAnswerLowConfidenceEscalates(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 40", "CONFIDENCE: 80"},
	}
	index := &fakeIndex{
		passages: []retrieval.Passage{
			{Text: "Attention masks hide padded positions.", Source: "lecture-9.pdf", Distance: 0.2},
			{Text: "Ragged batches need per-row masks.", Source: "lecture-10.pdf", Distance: 0.3},
			{Text: "Unrelated material.", Source: "intro.pdf", Distance: 0.9},
		},
	}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	query := Query{Question: "Explain attention masking for ragged batches", Subject: "deep-learning"}
	result, err := o.Answer(context.Background(), query)
	require.NoError(t, err)

	require.Len(t, index.calls, 1)
	assert.Equal(t, "deep-learning", index.calls[0].subject)
	assert.Equal(t, 5, index.calls[0].topK)

	assert.True(t, result.Answer.UsedRetrieval)
	assert.Equal(t, StageRetrievalAugmented, result.Answer.Stage)
	assert.Equal(t, []string{"lecture-9.pdf", "lecture-10.pdf"}, result.Answer.Sources,
		"passages beyond the similarity bound must be dropped")
	assert.Equal(t, 80, result.Answer.Confidence)
	assert.Nil(t, result.Gap)

	assert.Equal(t, 2, gen.composeCalls)
	assert.Equal(t, 2, gen.estimateCalls)
}

func TestAnswerGapRecordedWhenStillBelowThreshold(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 40", "CONFIDENCE: 55"},
	}
	index := &fakeIndex{
		passages: []retrieval.Passage{
			{Text: "Some partially relevant material.", Source: "notes.pdf", Distance: 0.4},
		},
	}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	query := Query{Question: "Explain quantum error correction surface codes", Subject: "quantum"}
	result, err := o.Answer(context.Background(), query)
	require.NoError(t, err)

	require.NotNil(t, result.Gap)
	assert.Equal(t, models.GapStatusPending, result.Gap.Status)
	assert.Equal(t, query.Question, result.Gap.Question)
	assert.Equal(t, "quantum", result.Gap.Subject)
	assert.Equal(t, 55, result.Gap.Confidence)
	require.Len(t, sink.gaps, 1)

	assert.Equal(t, 55, result.Answer.Confidence)
	assert.True(t, result.Answer.UsedRetrieval, "a low score degrades the audit trail, not the answer")
}

func TestAnswerEmptyRetrievalKeepsInitialAnswer(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 40"},
	}
	index := &fakeIndex{} // nothing indexed for this subject
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	result, err := o.Answer(context.Background(), Query{Question: "What is X?", Subject: "empty-course"})
	require.NoError(t, err)

	assert.False(t, result.Answer.UsedRetrieval)
	assert.Equal(t, StageInitial, result.Answer.Stage)
	assert.Equal(t, 1, gen.composeCalls, "no augmentation possible without passages")
	require.NotNil(t, result.Gap)
	assert.Equal(t, models.GapStatusPending, result.Gap.Status)
}

func TestAnswerRetrievalUnavailableDegrades(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 40"},
	}
	index := &fakeIndex{err: errors.New("connection refused")}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	result, err := o.Answer(context.Background(), Query{Question: "What is X?"})
	require.NoError(t, err, "retrieval is best-effort, never a hard dependency")

	assert.False(t, result.Answer.UsedRetrieval)
	assert.Equal(t, 40, result.Answer.Confidence)
	require.NotNil(t, result.Gap)
}

func TestAnswerAllPassagesBeyondBound(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 40"},
	}
	index := &fakeIndex{
		passages: []retrieval.Passage{
			{Text: "Far away.", Source: "a.pdf", Distance: 0.8},
			{Text: "Even further.", Source: "b.pdf", Distance: 0.95},
		},
	}
	o := newTestOrchestrator(gen, index, &fakeGapSink{})

	result, err := o.Answer(context.Background(), Query{Question: "What is X?"})
	require.NoError(t, err)

	assert.False(t, result.Answer.UsedRetrieval)
	assert.Equal(t, 1, gen.composeCalls)
}

func TestAnswerInitialComposeFailureIsFatal(t *testing.T) {
	gen := &fakeGenerator{
		composeErrs: []error{errors.New("connection reset")},
	}
	index := &fakeIndex{}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	result, err := o.Answer(context.Background(), Query{Question: "What is X?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.Nil(t, result)
	assert.Empty(t, sink.gaps)
	assert.Empty(t, index.calls)
}

func TestAnswerRecomposeFailureKeepsInitialAnswer(t *testing.T) {
	gen := &fakeGenerator{
		composeErrs:       []error{nil, errors.New("timeout")},
		estimateResponses: []string{"CONFIDENCE: 40"},
	}
	index := &fakeIndex{
		passages: []retrieval.Passage{
			{Text: "Relevant material.", Source: "notes.pdf", Distance: 0.1},
		},
	}
	sink := &fakeGapSink{}
	o := newTestOrchestrator(gen, index, sink)

	result, err := o.Answer(context.Background(), Query{Question: "What is X?"})
	require.NoError(t, err, "only the initial compose is fatal")

	assert.False(t, result.Answer.UsedRetrieval)
	assert.Equal(t, StageInitial, result.Answer.Stage)
	assert.Equal(t, 40, result.Answer.Confidence)
	require.NotNil(t, result.Gap)
}

func TestAnswerCallBounds(t *testing.T) {
	gen := &fakeGenerator{
		estimateResponses: []string{"CONFIDENCE: 10", "CONFIDENCE: 20"},
	}
	index := &fakeIndex{
		passages: []retrieval.Passage{
			{Text: "Material.", Source: "a.pdf", Distance: 0.1},
		},
	}
	o := newTestOrchestrator(gen, index, &fakeGapSink{})

	_, err := o.Answer(context.Background(), Query{Question: "Hard question"})
	require.NoError(t, err)

	assert.LessOrEqual(t, gen.composeCalls, 2)
	assert.LessOrEqual(t, gen.estimateCalls, 2)
	assert.Len(t, index.calls, 1)
}

func TestAnswerSectionsAlwaysPopulated(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "complete response", response: sampleResponse},
		{name: "markers missing", response: "Just a plain paragraph with no structure."},
		{name: "partial markers", response: "EXPLANATION: only this section came back."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{
				composeResponses:  []string{tt.response},
				estimateResponses: []string{"CONFIDENCE: 90"},
			}
			o := newTestOrchestrator(gen, &fakeIndex{}, &fakeGapSink{})

			result, err := o.Answer(context.Background(), Query{Question: "What is X?"})
			require.NoError(t, err)

			assert.NotEmpty(t, result.Answer.Explanation)
			assert.NotEmpty(t, result.Answer.Example)
			assert.NotEmpty(t, result.Answer.Relevance)
			assert.NotEmpty(t, result.Answer.NextStep)
		})
	}
}
