package config

import "errors"

// 配置相关错误
var (
	ErrEmptyHost        = errors.New("服务器地址不能为空")
	ErrInvalidPort      = errors.New("服务器端口必须大于0")
	ErrEmptyAPIKey      = errors.New("语言模型API密钥不能为空")
	ErrUnknownProvider  = errors.New("未知的语言模型提供方")
	ErrEmptyModel       = errors.New("模型名称不能为空")
	ErrInvalidWindow    = errors.New("历史窗口大小必须大于0")
	ErrInvalidEncoding  = errors.New("音频编码只支持pcm或ulaw")
	ErrEmptyHistoryPath = errors.New("历史记录文件路径不能为空")
)
