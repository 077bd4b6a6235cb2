package models

import "context"

// Role 消息角色
type Role string

// 消息角色常量
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message 对话消息，创建后不可修改
type Message struct {
	Role    Role   `json:"role"`    // 消息角色：user/assistant/system
	Content string `json:"content"` // 消息内容
}

// GenerateOptions 生成参数
type GenerateOptions struct {
	Model       string  // 模型名称
	MaxTokens   int     // 最大生成token数
	Temperature float32 // 温度参数
	TopP        float32 // Top-p采样
}

// ChatGenerator 语言模型生成接口
type ChatGenerator interface {
	// Complete 根据消息序列生成回复文本
	Complete(ctx context.Context, messages []Message, options GenerateOptions) (string, error)
}

// ExchangePublisher 对话事件发布接口
type ExchangePublisher interface {
	// PublishExchange 发布一次完整的问答
	PublishExchange(user, assistant string) error
}
