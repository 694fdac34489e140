package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/cache/redis"
	"github.com/learncoach/backend/internal/knowledge"
	"github.com/learncoach/backend/internal/metrics"
	"github.com/learncoach/backend/internal/storage/models"
	"github.com/learncoach/backend/internal/storage/sqlite"
	"github.com/learncoach/backend/pkg/logger"
	"github.com/learncoach/backend/pkg/utils"
)

type AnswerHandler struct {
	orchestrator *knowledge.Orchestrator
	store        *sqlite.Client
	cache        *redis.Client
	answerTTL    time.Duration
}

type answerRequest struct {
	Question   string        `json:"question"`
	Subject    string        `json:"subject"`
	UserID     string        `json:"user_id"`
	SkillLevel string        `json:"skill_level"`
	History    []historyTurn `json:"history"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type answerResponse struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	Answer        answerSections `json:"answer"`
	Confidence    int            `json:"confidence"`
	UsedRetrieval bool           `json:"used_retrieval"`
	Sources       []string       `json:"sources"`
	Stage         string         `json:"stage"`
	GapLogged     bool           `json:"gap_logged"`
	LatencyMS     int            `json:"latency_ms"`
}

type answerSections struct {
	Explanation string `json:"explanation"`
	Example     string `json:"example"`
	Relevance   string `json:"relevance"`
	NextStep    string `json:"next_step"`
}

// cache may be nil when redis is disabled.
func NewAnswerHandler(orchestrator *knowledge.Orchestrator, store *sqlite.Client, cache *redis.Client, answerTTL time.Duration) *AnswerHandler {
	return &AnswerHandler{
		orchestrator: orchestrator,
		store:        store,
		cache:        cache,
		answerTTL:    answerTTL,
	}
}

func (h *AnswerHandler) HandleAnswer(c *fiber.Ctx) error {
	var req answerRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	queryHash := utils.HashQuery(req.Question, req.Subject)
	if h.cache != nil {
		var cached answerResponse
		hit, err := h.cache.GetAnswer(c.Context(), queryHash, &cached)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.Inc()
			return c.JSON(cached)
		}
		metrics.CacheMisses.Inc()
	}

	query := knowledge.Query{
		Question:   req.Question,
		Subject:    req.Subject,
		UserID:     req.UserID,
		SkillLevel: req.SkillLevel,
	}
	for _, turn := range req.History {
		query.History = append(query.History, knowledge.Turn{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	start := time.Now()
	result, err := h.orchestrator.Answer(c.Context(), query)
	if err != nil {
		if errors.Is(err, knowledge.ErrUpstreamGeneration) {
			logger.Error("Initial answer generation failed", zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "I couldn't process that, please try again",
			})
		}
		logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer question",
		})
	}
	latency := int(time.Since(start).Milliseconds())
	metrics.AnswerDuration.WithLabelValues(string(result.Answer.Stage)).Observe(time.Since(start).Seconds())

	answerID := uuid.New().String()
	h.recordAnswer(answerID, req, result, latency)

	resp := answerResponse{
		ID:       answerID,
		Question: req.Question,
		Answer: answerSections{
			Explanation: result.Answer.Explanation,
			Example:     result.Answer.Example,
			Relevance:   result.Answer.Relevance,
			NextStep:    result.Answer.NextStep,
		},
		Confidence:    result.Answer.Confidence,
		UsedRetrieval: result.Answer.UsedRetrieval,
		Sources:       result.Answer.Sources,
		Stage:         string(result.Answer.Stage),
		GapLogged:     result.Gap != nil,
		LatencyMS:     latency,
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}

	if h.cache != nil {
		if err := h.cache.SetAnswer(c.Context(), queryHash, resp, h.answerTTL); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	return c.JSON(resp)
}

// recordAnswer persists the answer to history. Best effort: a storage
// failure is logged, not surfaced.
func (h *AnswerHandler) recordAnswer(answerID string, req answerRequest, result *knowledge.AnswerResult, latency int) {
	record := &models.AnswerRecord{
		ID:            answerID,
		UserID:        req.UserID,
		Question:      req.Question,
		Subject:       req.Subject,
		Explanation:   result.Answer.Explanation,
		Example:       result.Answer.Example,
		Relevance:     result.Answer.Relevance,
		NextStep:      result.Answer.NextStep,
		Confidence:    result.Answer.Confidence,
		UsedRetrieval: result.Answer.UsedRetrieval,
		GapLogged:     result.Gap != nil,
		LatencyMS:     latency,
		CreatedAt:     time.Now(),
	}

	if err := h.store.InsertAnswerRecord(record); err != nil {
		logger.Warn("Failed to record answer history", zap.Error(err))
		return
	}

	for i, source := range result.Answer.Sources {
		err := h.store.InsertAnswerSource(&models.AnswerSource{
			AnswerID: answerID,
			Source:   source,
			Position: i,
		})
		if err != nil {
			logger.Warn("Failed to record answer source", zap.Error(err))
		}
	}
}

func (h *AnswerHandler) GetAnswerHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	records, err := h.store.GetAnswerHistory(userID, limit)
	if err != nil {
		logger.Error("Failed to load answer history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load answer history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":             r.ID,
			"question":       r.Question,
			"subject":        r.Subject,
			"explanation":    r.Explanation,
			"confidence":     r.Confidence,
			"used_retrieval": r.UsedRetrieval,
			"gap_logged":     r.GapLogged,
			"latency_ms":     r.LatencyMS,
			"created_at":     r.CreatedAt.Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
