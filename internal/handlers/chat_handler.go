package handlers

import (
	"errors"
	"net/http"
	"strings"

	"ai_therapist/internal/middleware"
	"ai_therapist/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ChatRequest 聊天请求
type ChatRequest struct {
	Message *string `json:"message"`
}

// ChatResponse 聊天响应
type ChatResponse struct {
	Response string `json:"response"`
	Spoken   bool   `json:"spoken"`
	Warning  string `json:"warning,omitempty"`
}

// ChatHandler 聊天处理器
type ChatHandler struct {
	chat    *services.ChatService
	history *services.HistoryStore
	worker  *services.SpeechWorker
	logger  zerolog.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(chat *services.ChatService, history *services.HistoryStore, worker *services.SpeechWorker, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:    chat,
		history: history,
		worker:  worker,
		logger:  logger.With().Str("component", "handler").Logger(),
	}
}

// Chat 处理POST /chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	message := ""
	if req.Message != nil {
		message = *req.Message
	}

	reply, err := h.chat.Handle(c.Request.Context(), message)
	if errors.Is(err, services.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No input provided"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("处理聊天请求失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	// spoken固定为true，兜底回复同样如此
	resp := ChatResponse{Response: reply.Text, Spoken: true}
	if len(reply.Warnings) > 0 {
		warnings := make([]string, 0, len(reply.Warnings))
		for _, w := range reply.Warnings {
			warnings = append(warnings, w.Error())
		}
		resp.Warning = strings.Join(warnings, "; ")
	}

	c.JSON(http.StatusOK, resp)
}

// History 处理GET /history
func (h *ChatHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.history.History()})
}

// Health 处理GET /health
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         "ai_therapist",
		"speech_worker":   h.worker.State().String(),
		"speech_queue":    h.worker.QueueLen(),
		"history_entries": h.history.Len(),
	})
}
