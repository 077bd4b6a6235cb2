package services

import (
	"context"
	"errors"
	"strings"

	"ai_therapist/internal/metrics"
)

// ErrEmptyMessage 用户消息为空
var ErrEmptyMessage = errors.New("用户消息为空")

// ChatService 聊天入口，同步生成文本，语音异步处理
type ChatService struct {
	dialog  *DialogService
	metrics *metrics.Metrics
}

// NewChatService 创建聊天服务
func NewChatService(dialog *DialogService, m *metrics.Metrics) *ChatService {
	return &ChatService{dialog: dialog, metrics: m}
}

// Handle 处理一条用户消息，空消息直接拒绝
func (s *ChatService) Handle(ctx context.Context, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		s.metrics.ChatRequest(metrics.ResultRejected)
		return Reply{}, ErrEmptyMessage
	}
	return s.dialog.Generate(ctx, message), nil
}
