package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/metrics"
	"github.com/learncoach/backend/pkg/logger"
)

const defaultHeuristicScore = 50

// Hedging phrases that signal the model is guessing. Each occurrence
// lowers the heuristic score.
var hedgeMarkers = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"i do not know",
	"possibly",
	"it might be",
	"i believe",
	"i think",
	"uncertain",
}

// Estimator rates how well-supported an answer is on a 0-100 scale.
// The primary strategy asks the model to critique its own answer; when
// that response cannot be parsed into an in-range integer, a
// deterministic heuristic takes over. Estimate never fails, so the
// orchestrator can always branch.
type Estimator struct {
	generator Generator
	timeout   time.Duration
}

func NewEstimator(generator Generator, timeout time.Duration) *Estimator {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Estimator{
		generator: generator,
		timeout:   timeout,
	}
}

func (e *Estimator) Estimate(ctx context.Context, query Query, answer *Answer) int {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	answerText := answer.Text()

	response, err := e.generator.Generate(ctx, e.buildPrompt(query.Question, answerText), 200, 0.1)
	if err != nil {
		metrics.EstimatorFallbacks.WithLabelValues("generate_error").Inc()
		logger.Warn("Self-evaluation call failed, using heuristic", zap.Error(err))
		return heuristicScore(answerText)
	}

	score, err := parseSelfScore(response)
	if err != nil {
		metrics.EstimatorFallbacks.WithLabelValues("parse_error").Inc()
		logger.Warn("Self-evaluation response unparseable, using heuristic",
			zap.Error(err),
			zap.String("response", truncate(response, 200)),
		)
		return heuristicScore(answerText)
	}

	return score
}

func (e *Estimator) buildPrompt(question, answer string) string {
	return fmt.Sprintf(`You are a critical evaluator. Analyze the following question and answer pair.

QUESTION: %s

ANSWER: %s

How confident are you that this answer is correct and complete?

Respond in this exact format:
CONFIDENCE: [0-100]
COMPLETENESS: [complete/partial/incomplete]
IS_GUESS: [true/false]`, question, answer)
}

// parseSelfScore extracts the integer from a "CONFIDENCE: N" line and
// clamps it to [0,100]. Any other shape is an error, which sends the
// caller to the heuristic.
func parseSelfScore(response string) (int, error) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CONFIDENCE:") {
			continue
		}

		value := strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:"))
		value = strings.Trim(value, "[]%")
		score, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("confidence value %q is not an integer", value)
		}
		return clamp(score), nil
	}

	return 0, fmt.Errorf("no CONFIDENCE line in response")
}

// heuristicScore is the deterministic fallback. It penalizes very short
// answers and hedging language, and otherwise stays conservative at
// mid-range.
func heuristicScore(text string) int {
	score := defaultHeuristicScore

	tokens, sentences, ok := analyzeText(text)
	if ok {
		if tokens < 30 {
			score -= 15
		}
		if sentences >= 4 {
			score += 5
		}
	} else if len(text) < 160 {
		score -= 15
	}

	lower := strings.ToLower(text)
	penalty := 0
	for _, marker := range hedgeMarkers {
		if strings.Contains(lower, marker) {
			penalty += 10
		}
	}
	if penalty > 30 {
		penalty = 30
	}
	score -= penalty

	return clamp(score)
}

// analyzeText tokenizes and segments the answer. prose can fail on
// degenerate input, in which case the caller uses raw length instead.
func analyzeText(text string) (tokens, sentences int, ok bool) {
	doc, err := prose.NewDocument(text, prose.WithExtraction(false), prose.WithTagging(false))
	if err != nil {
		return 0, 0, false
	}
	return len(doc.Tokens()), len(doc.Sentences()), true
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
