package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from|exec\s|<script)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxQuestionLength   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed or abusive question payloads before they
// reach the answer pipeline.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/answer") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			question, ok := req["question"].(string)
			if !ok || strings.TrimSpace(question) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question is required and must be a string",
				})
			}

			if len(question) > cfg.MaxQuestionLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question exceeds maximum length",
				})
			}

			if sqlInjectionPattern.MatchString(question) || xssPattern.MatchString(question) {
				cfg.Logger.Warn("Suspicious question content rejected",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid question content",
				})
			}
		}

		return c.Next()
	}
}
