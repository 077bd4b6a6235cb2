// Package config 提供配置加载和管理功能
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 语言模型提供方
const (
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
)

// 音频编码
const (
	EncodingPCM  = "pcm"
	EncodingULaw = "ulaw"
)

// Config 应用程序配置结构
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	LLM     LLMConfig     `yaml:"llm"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	TTS     TTSConfig     `yaml:"tts"`
	Speech  SpeechConfig  `yaml:"speech"`
	Audio   AudioConfig   `yaml:"audio"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host            string        `yaml:"host"`             // 服务器监听地址
	Port            int           `yaml:"port"`             // 服务器监听端口
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 优雅关闭超时
}

// HistoryConfig 对话历史配置
type HistoryConfig struct {
	Path   string `yaml:"path"`   // 历史记录文件
	Window int    `yaml:"window"` // 发送给模型的历史条数
}

// LLMConfig 语言模型配置
type LLMConfig struct {
	Provider    string        `yaml:"provider"`    // groq 或 ollama
	BaseURL     string        `yaml:"base_url"`    // OpenAI兼容接口地址
	APIKeyEnv   string        `yaml:"api_key_env"` // API密钥所在的环境变量
	APIKey      string        `yaml:"-"`           // 从环境变量读取
	Model       string        `yaml:"model"`       // 模型名称
	MaxTokens   int           `yaml:"max_tokens"`  // 最大生成token数
	Temperature float32       `yaml:"temperature"` // 温度参数
	TopP        float32       `yaml:"top_p"`       // Top-p采样
	Timeout     time.Duration `yaml:"timeout"`     // 单次请求超时
	Persona     string        `yaml:"persona"`     // 系统提示词，为空时使用内置人设
}

// OllamaConfig Ollama配置
type OllamaConfig struct {
	Host  string `yaml:"host"`  // Ollama服务器地址
	Model string `yaml:"model"` // 模型名称
}

// TTSConfig 语音合成配置
type TTSConfig struct {
	BaseURL      string        `yaml:"base_url"`      // Kokoro服务地址
	APIKey       string        `yaml:"api_key"`       // 可选
	Model        string        `yaml:"model"`         // 模型名称
	Voice        string        `yaml:"voice"`         // 音色
	Speed        float64       `yaml:"speed"`         // 语速
	SplitPattern string        `yaml:"split_pattern"` // 分段正则
	SampleRate   int           `yaml:"sample_rate"`   // 输出采样率
	Timeout      time.Duration `yaml:"timeout"`       // 单段合成超时
}

// SpeechConfig 语音队列配置
type SpeechConfig struct {
	QueueSize    int           `yaml:"queue_size"`    // 队列容量
	PollInterval time.Duration `yaml:"poll_interval"` // 轮询间隔
	StopTimeout  time.Duration `yaml:"stop_timeout"`  // 停止等待时间
}

// AudioConfig 音频输出配置
type AudioConfig struct {
	Encoding     string        `yaml:"encoding"`      // pcm 或 ulaw
	Realtime     bool          `yaml:"realtime"`      // 按音频时长阻塞
	WriteTimeout time.Duration `yaml:"write_timeout"` // WebSocket写超时
}

// NATSConfig 事件总线配置，URL为空时不启用
type NATSConfig struct {
	URL     string `yaml:"url"`     // 例如 nats://localhost:4222
	Token   string `yaml:"token"`   // 可选
	Subject string `yaml:"subject"` // 问答完成事件的主题
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug/info/warn/error
	Format string `yaml:"format"` // json 或 console
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ShutdownTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			Path:   "db.json",
			Window: 3,
		},
		LLM: LLMConfig{
			Provider:    ProviderGroq,
			BaseURL:     "https://api.groq.com/openai/v1",
			APIKeyEnv:   "GROQ_API_KEY",
			Model:       "llama3-70b-8192",
			MaxTokens:   150,
			Temperature: 0.7,
			TopP:        0.8,
			Timeout:     30 * time.Second,
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama3",
		},
		TTS: TTSConfig{
			BaseURL:      "http://localhost:8880/v1",
			Model:        "kokoro",
			Voice:        "af_heart",
			Speed:        1,
			SplitPattern: `\n+`,
			SampleRate:   24000,
			Timeout:      60 * time.Second,
		},
		Speech: SpeechConfig{
			QueueSize:    16,
			PollInterval: time.Second,
			StopTimeout:  time.Second,
		},
		Audio: AudioConfig{
			Encoding:     EncodingPCM,
			Realtime:     true,
			WriteTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "therapist.exchange.completed",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 从文件加载配置，文件不存在时使用默认配置
func Load(filename string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用默认配置
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	applyDefaults(config)

	// API密钥只从环境变量读取
	config.LLM.APIKey = os.Getenv(config.LLM.APIKeyEnv)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// applyDefaults 为显式清零的字段补默认值
func applyDefaults(config *Config) {
	def := Default()

	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if config.LLM.APIKeyEnv == "" {
		config.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if config.LLM.Timeout <= 0 {
		config.LLM.Timeout = def.LLM.Timeout
	}
	if config.TTS.SplitPattern == "" {
		config.TTS.SplitPattern = def.TTS.SplitPattern
	}
	if config.TTS.SampleRate <= 0 {
		config.TTS.SampleRate = def.TTS.SampleRate
	}
	if config.TTS.Speed <= 0 {
		config.TTS.Speed = def.TTS.Speed
	}
	if config.Speech.QueueSize <= 0 {
		config.Speech.QueueSize = def.Speech.QueueSize
	}
	if config.Speech.PollInterval <= 0 {
		config.Speech.PollInterval = def.Speech.PollInterval
	}
	if config.Speech.StopTimeout <= 0 {
		config.Speech.StopTimeout = def.Speech.StopTimeout
	}
	if config.Audio.Encoding == "" {
		config.Audio.Encoding = def.Audio.Encoding
	}
	if config.NATS.Subject == "" {
		config.NATS.Subject = def.NATS.Subject
	}
}

// validateConfig 验证配置是否有效
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Host == "" {
		return ErrEmptyHost
	}
	if config.Server.Port <= 0 {
		return ErrInvalidPort
	}

	// 验证历史配置
	if config.History.Path == "" {
		return ErrEmptyHistoryPath
	}
	if config.History.Window <= 0 {
		return ErrInvalidWindow
	}

	// 验证语言模型配置
	switch config.LLM.Provider {
	case ProviderGroq:
		if config.LLM.APIKey == "" {
			return fmt.Errorf("%w: 请设置环境变量%s", ErrEmptyAPIKey, config.LLM.APIKeyEnv)
		}
		if config.LLM.Model == "" {
			return ErrEmptyModel
		}
	case ProviderOllama:
		if config.Ollama.Host == "" {
			return fmt.Errorf("Ollama服务器地址不能为空")
		}
		if config.Ollama.Model == "" {
			return ErrEmptyModel
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, config.LLM.Provider)
	}
	if config.LLM.MaxTokens <= 0 {
		return fmt.Errorf("最大生成token数必须大于0")
	}

	// 验证音频配置
	if config.Audio.Encoding != EncodingPCM && config.Audio.Encoding != EncodingULaw {
		return ErrInvalidEncoding
	}

	return nil
}
