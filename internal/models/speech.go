package models

import (
	"context"
	"time"
)

// AudioSegment 一段合成后的音频（16位单声道PCM）
type AudioSegment struct {
	Data       []byte // PCM数据
	SampleRate int    // 采样率
	Text       string // 对应的文本片段
}

// Synthesizer 语音合成接口
type Synthesizer interface {
	// Synthesize 按顺序逐段合成音频，每段合成后调用fn，fn返回错误时停止
	Synthesize(ctx context.Context, text string, fn func(*AudioSegment) error) error
}

// Player 音频输出设备接口
type Player interface {
	// Play 播放一段音频，阻塞直到播放结束
	Play(ctx context.Context, segment *AudioSegment) error
}

// SpeechQueue 语音队列接口
type SpeechQueue interface {
	// Enqueue 将文本放入语音队列，不等待播放
	Enqueue(text string) error
}

// Duration 计算音频时长，按16位单声道计算
func (s *AudioSegment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	samples := len(s.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}
