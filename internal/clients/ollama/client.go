package ollama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai_therapist/internal/models"

	"github.com/bytedance/sonic"
)

// Config Ollama客户端配置
type Config struct {
	Host    string        // Ollama服务器地址（完整URL）
	Model   string        // 使用的模型名称
	Timeout time.Duration // 请求超时
}

// Client Ollama客户端
type Client struct {
	config Config
	client *http.Client
}

// ChatRequest 对话请求参数
type ChatRequest struct {
	Model    string           `json:"model"`             // 模型名称
	Messages []models.Message `json:"messages"`          // 消息序列
	Stream   bool             `json:"stream"`            // 是否流式输出
	Options  Options          `json:"options,omitempty"` // 可选参数
}

// Options 生成选项
type Options struct {
	Temperature float32 `json:"temperature,omitempty"` // 温度参数
	TopP        float32 `json:"top_p,omitempty"`       // Top-p采样
	NumPredict  int     `json:"num_predict,omitempty"` // 最大生成token数
}

// ChatResponse 对话响应
type ChatResponse struct {
	Model           string         `json:"model"`             // 模型名称
	CreatedAt       string         `json:"created_at"`        // 创建时间
	Message         models.Message `json:"message"`           // 生成的消息
	Done            bool           `json:"done"`              // 是否完成
	TotalDuration   int64          `json:"total_duration"`    // 总耗时(纳秒)
	PromptEvalCount int            `json:"prompt_eval_count"` // 提示词评估数量
	EvalCount       int            `json:"eval_count"`        // 评估数量
}

// NewClient 创建新的Ollama客户端
func NewClient(config Config) *Client {
	config.Host = strings.TrimRight(config.Host, "/")
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Chat 发送一次非流式对话请求
func (c *Client) Chat(ctx context.Context, messages []models.Message, options Options) (*ChatResponse, error) {
	return c.chat(ctx, c.config.Model, messages, options)
}

// Complete 实现models.ChatGenerator
func (c *Client) Complete(ctx context.Context, messages []models.Message, options models.GenerateOptions) (string, error) {
	model := c.config.Model
	if options.Model != "" {
		model = options.Model
	}
	resp, err := c.chat(ctx, model, messages, Options{
		Temperature: options.Temperature,
		TopP:        options.TopP,
		NumPredict:  options.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *Client) chat(ctx context.Context, model string, messages []models.Message, options Options) (*ChatResponse, error) {
	// 准备请求体
	reqBody := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}

	jsonData, err := sonic.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.config.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	// 检查响应状态码
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("服务器返回错误(%d): %s", resp.StatusCode, string(body))
	}

	var response ChatResponse
	if err := sonic.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	return &response, nil
}
