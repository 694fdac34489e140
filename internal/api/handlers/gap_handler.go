package handlers

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/cache/redis"
	"github.com/learncoach/backend/internal/storage/models"
	"github.com/learncoach/backend/internal/storage/sqlite"
	"github.com/learncoach/backend/pkg/logger"
)

// GapHandler exposes the recorded knowledge gaps for admin review.
// Gaps only ever transition status; they are never deleted.
type GapHandler struct {
	store *sqlite.Client
	cache *redis.Client
}

// cache may be nil when redis is disabled.
func NewGapHandler(store *sqlite.Client, cache *redis.Client) *GapHandler {
	return &GapHandler{store: store, cache: cache}
}

func (h *GapHandler) ListGaps(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && status != models.GapStatusPending &&
		status != models.GapStatusResolved && status != models.GapStatusDismissed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status filter",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	gaps, err := h.store.ListGapRecords(status, limit, offset)
	if err != nil {
		logger.Error("Failed to list gap records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list gaps",
		})
	}

	items := make([]fiber.Map, 0, len(gaps))
	for _, g := range gaps {
		item := fiber.Map{
			"id":          g.ID,
			"question":    g.Question,
			"subject":     g.Subject,
			"confidence":  g.Confidence,
			"status":      g.Status,
			"resolution":  g.Resolution,
			"admin_notes": g.AdminNotes,
			"created_at":  g.CreatedAt.Unix(),
			"updated_at":  g.UpdatedAt.Unix(),
		}
		if g.ResolvedAt != nil {
			item["resolved_at"] = g.ResolvedAt.Unix()
		}
		items = append(items, item)
	}

	return c.JSON(fiber.Map{
		"gaps": items,
	})
}

func (h *GapHandler) ResolveGap(c *fiber.Ctx) error {
	var req struct {
		Resolution string `json:"resolution"`
		AdminNotes string `json:"admin_notes"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Resolution == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Resolution is required",
		})
	}

	err := h.transition(c, models.GapStatusResolved, req.Resolution, req.AdminNotes)
	if err != nil {
		return err
	}

	// Resolving a gap means new material was indexed; cached answers
	// may no longer reflect it.
	if h.cache != nil && c.Response().StatusCode() == fiber.StatusOK {
		if err := h.cache.InvalidateAnswers(c.Context()); err != nil {
			logger.Warn("Failed to invalidate answer cache", zap.Error(err))
		}
	}

	return nil
}

func (h *GapHandler) DismissGap(c *fiber.Ctx) error {
	var req struct {
		AdminNotes string `json:"admin_notes"`
	}
	// Body is optional for a dismissal.
	c.BodyParser(&req)

	return h.transition(c, models.GapStatusDismissed, "", req.AdminNotes)
}

func (h *GapHandler) transition(c *fiber.Ctx, status, resolution, adminNotes string) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Gap id is required",
		})
	}

	err := h.store.UpdateGapStatus(id, status, resolution, adminNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Gap not found",
		})
	}
	if err != nil {
		logger.Error("Failed to update gap", zap.Error(err), zap.String("gap_id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update gap",
		})
	}

	return c.JSON(fiber.Map{
		"id":     id,
		"status": status,
	})
}
