package groq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ai_therapist/internal/models"

	"github.com/sashabaranov/go-openai"
)

// DefaultBaseURL Groq的OpenAI兼容接口地址
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ErrNoChoices 响应中没有候选回复
var ErrNoChoices = errors.New("模型没有返回回复")

// Config Groq客户端配置
type Config struct {
	BaseURL string        // 接口地址
	APIKey  string        // 访问凭证
	Model   string        // 默认模型
	Timeout time.Duration // 请求超时
}

// Client 基于go-openai的Groq对话客户端
type Client struct {
	client *openai.Client
	model  string
}

// NewClient 创建Groq客户端
func NewClient(config Config) *Client {
	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = DefaultBaseURL
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}
}

// Complete 实现models.ChatGenerator
func (c *Client) Complete(ctx context.Context, messages []models.Message, options models.GenerateOptions) (string, error) {
	model := c.model
	if options.Model != "" {
		model = options.Model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(messages),
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("请求Groq失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func toChatMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
