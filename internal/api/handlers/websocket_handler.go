package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/knowledge"
	"github.com/learncoach/backend/pkg/logger"
)

// WebSocketHandler streams answers over a chat connection: a status
// frame while the pipeline runs, the answer text word by word, then a
// completion frame with confidence and provenance.
type WebSocketHandler struct {
	orchestrator *knowledge.Orchestrator
}

func NewWebSocketHandler(orchestrator *knowledge.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type       string `json:"type"`
			Question   string `json:"question"`
			Subject    string `json:"subject"`
			UserID     string `json:"user_id"`
			SkillLevel string `json:"skill_level"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "question" || msg.Question == "" {
			continue
		}

		logger.Info("Processing WebSocket question", zap.String("question", msg.Question))

		query := knowledge.Query{
			Question:   msg.Question,
			Subject:    msg.Subject,
			UserID:     msg.UserID,
			SkillLevel: msg.SkillLevel,
		}

		err = h.streamAnswer(c, query)
		if err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, "I couldn't process that, please try again")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, query knowledge.Query) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Thinking...")

	result, err := h.orchestrator.Answer(ctx, query)
	if err != nil {
		return err
	}

	words := splitIntoWords(result.Answer.Text())
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, result)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result *knowledge.AnswerResult) error {
	sources := result.Answer.Sources
	if sources == nil {
		sources = []string{}
	}

	msg := map[string]interface{}{
		"type":           "complete",
		"confidence":     result.Answer.Confidence,
		"used_retrieval": result.Answer.UsedRetrieval,
		"sources":        sources,
		"stage":          string(result.Answer.Stage),
		"gap_logged":     result.Gap != nil,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
