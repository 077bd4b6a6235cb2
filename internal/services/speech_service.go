package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai_therapist/internal/metrics"
	"ai_therapist/internal/models"

	"github.com/rs/zerolog"
)

// 语音队列相关错误
var (
	ErrQueueFull     = errors.New("语音队列已满")
	ErrWorkerStopped = errors.New("语音工作协程已停止")
	ErrStopTimeout   = errors.New("等待语音工作协程退出超时")
)

// WorkerState 语音工作协程状态
type WorkerState int32

// 语音工作协程状态常量
const (
	StateIdle WorkerState = iota
	StateSynthesizing
	StatePlaying
	StateStopping
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SpeechRequest 语音请求，要么是文本，要么是停止标记
type SpeechRequest struct {
	Text string
	stop bool
}

// TextRequest 创建文本请求
func TextRequest(text string) SpeechRequest {
	return SpeechRequest{Text: text}
}

// StopRequest 创建停止标记
func StopRequest() SpeechRequest {
	return SpeechRequest{stop: true}
}

// IsStop 是否为停止标记
func (r SpeechRequest) IsStop() bool {
	return r.stop
}

// SpeechOptions 语音工作协程参数
type SpeechOptions struct {
	QueueSize    int           // 队列容量
	PollInterval time.Duration // 轮询间隔，决定停止信号的最大响应延迟
}

// SpeechWorker 单个常驻的语音合成与播放协程
type SpeechWorker struct {
	synthesizer  models.Synthesizer
	player       models.Player
	queue        chan SpeechRequest
	pollInterval time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Metrics

	state atomic.Int32

	enqueueMu sync.Mutex
	closed    bool

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSpeechWorker 创建语音工作协程，需要调用Start启动
func NewSpeechWorker(synthesizer models.Synthesizer, player models.Player, opts SpeechOptions, logger zerolog.Logger, m *metrics.Metrics) *SpeechWorker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &SpeechWorker{
		synthesizer:  synthesizer,
		player:       player,
		queue:        make(chan SpeechRequest, opts.QueueSize),
		pollInterval: opts.PollInterval,
		logger:       logger.With().Str("component", "speech").Logger(),
		metrics:      m,
		done:         make(chan struct{}),
	}
}

// Start 启动工作协程，多次调用只会启动一次
func (w *SpeechWorker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		go w.run(ctx)
	})
}

// Enqueue 将文本放入队列，不阻塞
func (w *SpeechWorker) Enqueue(text string) error {
	return w.Submit(TextRequest(text))
}

// Submit 放入一个请求，队列满时立即返回ErrQueueFull
func (w *SpeechWorker) Submit(req SpeechRequest) error {
	w.enqueueMu.Lock()
	defer w.enqueueMu.Unlock()

	if w.closed {
		return ErrWorkerStopped
	}

	select {
	case w.queue <- req:
	default:
		w.metrics.SpeechItem(metrics.ResultDropped)
		return ErrQueueFull
	}
	w.metrics.SetQueueDepth(len(w.queue))

	// 停止标记之后的请求不再接受
	if req.IsStop() {
		w.closed = true
	}
	return nil
}

// Stop 发出停止信号并等待协程退出，最多等待timeout
func (w *SpeechWorker) Stop(timeout time.Duration) error {
	// 从未启动时直接结束
	w.startOnce.Do(func() {
		w.setState(StateStopped)
		close(w.done)
	})

	w.enqueueMu.Lock()
	if !w.closed {
		select {
		case w.queue <- StopRequest():
		default:
		}
		w.closed = true
	}
	w.enqueueMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.done:
		w.logger.Info().Msg("语音工作协程已退出")
		return nil
	case <-time.After(timeout):
		w.logger.Warn().Dur("timeout", timeout).Msg("等待语音工作协程退出超时")
		return ErrStopTimeout
	}
}

// Done 协程退出后关闭
func (w *SpeechWorker) Done() <-chan struct{} {
	return w.done
}

// State 当前状态
func (w *SpeechWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// QueueLen 队列中等待的请求数
func (w *SpeechWorker) QueueLen() int {
	return len(w.queue)
}

func (w *SpeechWorker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// run 工作协程主循环
func (w *SpeechWorker) run(ctx context.Context) {
	defer close(w.done)
	defer w.setState(StateStopped)

	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("语音工作协程已启动")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			w.setState(StateStopping)
			return
		}

		select {
		case <-ctx.Done():
			w.setState(StateStopping)
			return

		case req := <-w.queue:
			w.metrics.SetQueueDepth(len(w.queue))
			if req.IsStop() {
				w.setState(StateStopping)
				w.logger.Info().Msg("收到停止标记")
				return
			}
			w.speak(ctx, req.Text)

		case <-ticker.C:
			w.metrics.SetQueueDepth(len(w.queue))
		}
	}
}

// speak 合成并逐段播放一条文本，错误只记录不退出
func (w *SpeechWorker) speak(ctx context.Context, text string) {
	start := time.Now()
	segments := 0

	defer func() {
		if r := recover(); r != nil {
			w.metrics.SpeechItem(metrics.ResultFailed)
			w.logger.Error().Interface("panic", r).Msg("语音处理发生panic")
		}
		w.setState(StateIdle)
	}()

	w.setState(StateSynthesizing)
	err := w.synthesizer.Synthesize(ctx, text, func(seg *models.AudioSegment) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.setState(StatePlaying)
		if err := w.player.Play(ctx, seg); err != nil {
			return fmt.Errorf("播放音频失败: %w", err)
		}
		segments++
		w.setState(StateSynthesizing)
		return nil
	})

	switch {
	case err != nil && ctx.Err() != nil:
		w.metrics.SpeechItem(metrics.ResultDropped)
		w.logger.Debug().Int("segments", segments).Msg("停止中，放弃当前语音")
	case err != nil:
		w.metrics.SpeechItem(metrics.ResultFailed)
		w.logger.Error().Err(err).Int("segments", segments).Msg("语音合成或播放失败")
	default:
		w.metrics.SpeechItem(metrics.ResultPlayed)
		w.logger.Debug().Int("segments", segments).Dur("elapsed", time.Since(start)).Msg("语音播放完成")
	}
}
