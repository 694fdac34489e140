package knowledge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/metrics"
	"github.com/learncoach/backend/internal/retrieval"
	"github.com/learncoach/backend/internal/storage/models"
	"github.com/learncoach/backend/pkg/logger"
)

// GapSink receives unresolved low-confidence queries. Implementations
// must absorb their own failures; the sink is never allowed to fail an
// answer.
type GapSink interface {
	Record(gap *models.GapRecord) *models.GapRecord
}

// AnswerResult is what one pipeline run produces: the answer itself and
// the gap record, if the run ended below the confidence threshold.
type AnswerResult struct {
	Answer *Answer
	Gap    *models.GapRecord
}

// Orchestrator decides, per query, the minimal-cost path to a
// sufficiently confident answer: answer from model knowledge first,
// self-evaluate, escalate to course-material retrieval only when the
// score falls short, and record the gap when escalation still isn't
// enough. One pass, no backtracking; at most two compose calls, two
// estimates and one retrieval per query.
type Orchestrator struct {
	composer  *Composer
	estimator *Estimator
	index     retrieval.Index
	gaps      GapSink
	cfg       Config
}

func NewOrchestrator(composer *Composer, estimator *Estimator, index retrieval.Index, gaps GapSink, cfg Config) *Orchestrator {
	return &Orchestrator{
		composer:  composer,
		estimator: estimator,
		index:     index,
		gaps:      gaps,
		cfg:       cfg,
	}
}

// Answer runs the confidence-gated pipeline. The only error it returns
// is ErrUpstreamGeneration, when the initial compose fails; every later
// stage degrades instead of failing, so a user who gets past the first
// model call always gets an answer.
func (o *Orchestrator) Answer(ctx context.Context, query Query) (*AnswerResult, error) {
	logger.Info("Processing question",
		zap.String("question", truncate(query.Question, 100)),
		zap.String("subject", query.Subject),
	)

	initial, err := o.composer.Compose(ctx, query, nil)
	if err != nil {
		metrics.AnswersTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamGeneration, err)
	}

	confidence := o.estimator.Estimate(ctx, query, initial)
	initial.Confidence = confidence
	metrics.ConfidenceScore.WithLabelValues(string(StageInitial)).Observe(float64(confidence))

	logger.Info("Initial answer composed", zap.Int("confidence", confidence))

	if confidence >= o.cfg.ConfidenceThreshold {
		metrics.AnswersTotal.WithLabelValues("direct").Inc()
		return &AnswerResult{Answer: initial}, nil
	}

	final := initial
	passages := o.retrieve(ctx, query)

	if len(passages) > 0 {
		metrics.RetrievalTriggered.Inc()

		augmented, err := o.composer.Compose(ctx, query, passages)
		if err != nil {
			// Only the initial compose is fatal; a failed re-compose
			// degrades to the answer we already have.
			logger.Warn("Augmented compose failed, keeping initial answer", zap.Error(err))
		} else {
			augmented.Confidence = o.estimator.Estimate(ctx, query, augmented)
			metrics.ConfidenceScore.WithLabelValues(string(StageRetrievalAugmented)).Observe(float64(augmented.Confidence))
			final = augmented

			logger.Info("Retrieval-augmented answer composed",
				zap.Int("initial_confidence", confidence),
				zap.Int("final_confidence", augmented.Confidence),
				zap.Int("passages", len(passages)),
			)
		}
	}

	result := &AnswerResult{Answer: final}

	if final.Confidence < o.cfg.ConfidenceThreshold {
		result.Gap = o.gaps.Record(&models.GapRecord{
			Question:   query.Question,
			Subject:    query.Subject,
			Confidence: final.Confidence,
		})
		metrics.AnswersTotal.WithLabelValues("gap").Inc()

		logger.Warn("Confidence still below threshold, gap recorded",
			zap.Int("confidence", final.Confidence),
			zap.Bool("used_retrieval", final.UsedRetrieval),
		)
	} else {
		metrics.AnswersTotal.WithLabelValues("augmented").Inc()
	}

	return result, nil
}

// retrieve runs the single conditional retrieval call. Unreachable or
// slow retrieval means no passages, never a failed request; the bound
// on similarity distance drops weakly related passages.
func (o *Orchestrator) retrieve(ctx context.Context, query Query) []retrieval.Passage {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	passages, err := o.index.Search(ctx, query.Question, query.Subject, o.cfg.TopK)
	if err != nil {
		metrics.RetrievalUnavailable.Inc()
		logger.Warn("Retrieval unavailable, degrading to model-only answer", zap.Error(err))
		return nil
	}

	accepted := passages[:0:0]
	for _, p := range passages {
		if p.Distance <= o.cfg.SimilarityThreshold {
			accepted = append(accepted, p)
		}
	}
	metrics.RetrievalPassages.Observe(float64(len(accepted)))

	if len(accepted) == 0 {
		logger.Info("No passages within similarity bound",
			zap.Int("returned", len(passages)),
			zap.Float64("bound", o.cfg.SimilarityThreshold),
		)
	}

	return accepted
}
