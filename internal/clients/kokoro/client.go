package kokoro

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ai_therapist/internal/models"

	"github.com/sashabaranov/go-openai"
)

// 默认参数
const (
	DefaultBaseURL    = "http://localhost:8880/v1"
	DefaultModel      = "kokoro"
	DefaultVoice      = "af_heart"
	DefaultSampleRate = 24000
	DefaultSplit      = `\n+`
)

// Config Kokoro语音合成配置
type Config struct {
	BaseURL      string        // OpenAI兼容的语音接口
	APIKey       string        // 本地服务通常不需要
	Model        string        // 模型名称
	Voice        string        // 音色
	Speed        float64       // 语速
	SplitPattern string        // 分段正则
	SampleRate   int           // PCM采样率
	Timeout      time.Duration // 单段请求超时
}

// Client 分段调用Kokoro合成16位单声道PCM
type Client struct {
	client     *openai.Client
	model      string
	voice      string
	speed      float64
	sampleRate int
	split      *regexp.Regexp
}

// NewClient 创建Kokoro客户端
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.Speed <= 0 {
		config.Speed = 1
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.SplitPattern == "" {
		config.SplitPattern = DefaultSplit
	}

	split, err := regexp.Compile(config.SplitPattern)
	if err != nil {
		return nil, fmt.Errorf("分段正则无效: %w", err)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		voice:      config.Voice,
		speed:      config.Speed,
		sampleRate: config.SampleRate,
		split:      split,
	}, nil
}

// Segments 按分段正则切分文本，丢弃空白段
func (c *Client) Segments(text string) []string {
	var out []string
	for _, part := range c.split.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Synthesize 实现models.Synthesizer，逐段合成并回调
func (c *Client) Synthesize(ctx context.Context, text string, fn func(*models.AudioSegment) error) error {
	for _, part := range c.Segments(text) {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := c.speech(ctx, part)
		if err != nil {
			return err
		}

		if err := fn(&models.AudioSegment{Data: data, SampleRate: c.sampleRate, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) speech(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormat("pcm"),
		Speed:          c.speed,
	})
	if err != nil {
		return nil, fmt.Errorf("语音合成失败: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("读取合成音频失败: %w", err)
	}
	return data, nil
}
