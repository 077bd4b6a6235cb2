package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai_therapist/internal/metrics"
	"ai_therapist/internal/models"

	"github.com/rs/zerolog"
)

// ErrEmptyReply 模型返回空文本
var ErrEmptyReply = errors.New("模型返回了空回复")

// Reply 一次生成的结果
type Reply struct {
	Text     string  // 返回给用户的文本
	Fallback bool    // 生成失败，Text为固定兜底文本
	Spoken   bool    // 已放入语音队列
	Err      error   // 生成失败的原因
	Warnings []error // 持久化或入队失败等不影响回复的问题
}

// DialogOptions 对话服务参数
type DialogOptions struct {
	Persona  string                 // 系统提示词
	Window   int                    // 发送给模型的历史条数（不含本次用户消息）
	Generate models.GenerateOptions // 采样参数
	Timeout  time.Duration          // 单次生成超时
}

// DialogService 处理对话服务
type DialogService struct {
	store     *HistoryStore
	generator models.ChatGenerator
	speech    models.SpeechQueue
	publisher models.ExchangePublisher
	options   DialogOptions
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewDialogService 创建新的对话服务
func NewDialogService(store *HistoryStore, generator models.ChatGenerator, speech models.SpeechQueue, opts DialogOptions, logger zerolog.Logger, m *metrics.Metrics) *DialogService {
	if opts.Persona == "" {
		opts.Persona = DefaultPersona
	}
	return &DialogService{
		store:     store,
		generator: generator,
		speech:    speech,
		options:   opts,
		logger:    logger.With().Str("component", "dialog").Logger(),
		metrics:   m,
	}
}

// SetPublisher 设置对话事件发布器，可为nil
func (s *DialogService) SetPublisher(p models.ExchangePublisher) {
	s.publisher = p
}

// Generate 处理用户消息并返回回复，生成失败时返回兜底文本
func (s *DialogService) Generate(ctx context.Context, userText string) Reply {
	var reply Reply

	// 添加用户消息到历史记录，同时取出窗口
	userMsg := models.Message{Role: models.RoleUser, Content: userText}
	window, err := s.store.AppendWithWindow(userMsg, s.options.Window)
	if err != nil {
		if !errors.Is(err, ErrPersist) {
			// 只有角色非法才会走到这里
			return s.fallback(reply, fmt.Errorf("记录用户消息失败: %w", err))
		}
		reply.Warnings = append(reply.Warnings, err)
	}

	// 构建提示词
	messages := s.buildMessages(window)

	// 调用模型生成回复
	genCtx := ctx
	if s.options.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.options.Timeout)
		defer cancel()
	}
	text, err := s.generator.Complete(genCtx, messages, s.options.Generate)
	if err != nil {
		return s.fallback(reply, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.fallback(reply, ErrEmptyReply)
	}

	// 添加助手回复到历史记录
	if err := s.store.Append(models.Message{Role: models.RoleAssistant, Content: text}); err != nil {
		reply.Warnings = append(reply.Warnings, err)
	}

	// 放入语音队列，不等待播放
	if err := s.speech.Enqueue(text); err != nil {
		s.logger.Warn().Err(err).Msg("回复未能放入语音队列")
		reply.Warnings = append(reply.Warnings, err)
	} else {
		reply.Spoken = true
	}

	if s.publisher != nil {
		if err := s.publisher.PublishExchange(userText, text); err != nil {
			s.logger.Warn().Err(err).Msg("发布对话事件失败")
		}
	}

	reply.Text = text
	s.metrics.ChatRequest(metrics.ResultOK)
	return reply
}

// fallback 记录失败并返回兜底文本，不写入助手消息也不入队
func (s *DialogService) fallback(reply Reply, err error) Reply {
	s.metrics.GenerationFailure()
	s.metrics.ChatRequest(metrics.ResultFallback)
	s.logger.Error().Err(err).Msg("生成回复失败")

	reply.Text = FallbackReply
	reply.Fallback = true
	reply.Err = err
	return reply
}

// buildMessages 由人设和历史窗口构建消息序列
func (s *DialogService) buildMessages(window []models.Message) []models.Message {
	messages := make([]models.Message, 0, len(window)+1)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: s.options.Persona})
	messages = append(messages, window...)
	return messages
}

// GetHistory 获取对话历史
func (s *DialogService) GetHistory() []models.Message {
	return s.store.History()
}
