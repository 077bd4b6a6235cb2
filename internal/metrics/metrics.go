// Package metrics 提供Prometheus指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 结果标签
const (
	ResultOK       = "ok"
	ResultFallback = "fallback"
	ResultRejected = "rejected"
	ResultPlayed   = "played"
	ResultFailed   = "failed"
	ResultDropped  = "dropped"
)

// Metrics 服务指标，所有方法对nil安全
type Metrics struct {
	chatRequests       *prometheus.CounterVec
	generationFailures prometheus.Counter
	speechItems        *prometheus.CounterVec
	persistFailures    prometheus.Counter
	queueDepth         prometheus.Gauge
	historyEntries     prometheus.Gauge
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by result.",
		}, []string{"result"}),
		generationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Failed calls to the language model.",
		}),
		speechItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_items_total",
			Help: "Speech requests by result.",
		}, []string{"result"}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "history_persist_failures_total",
			Help: "Failed writes of the history file.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "speech_queue_depth",
			Help: "Speech requests waiting in the queue.",
		}),
		historyEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "history_entries",
			Help: "Entries in the conversation history.",
		}),
	}
}

// ChatRequest 记录一次聊天请求
func (m *Metrics) ChatRequest(result string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(result).Inc()
}

// GenerationFailure 记录一次生成失败
func (m *Metrics) GenerationFailure() {
	if m == nil {
		return
	}
	m.generationFailures.Inc()
}

// SpeechItem 记录一条语音请求的结果
func (m *Metrics) SpeechItem(result string) {
	if m == nil {
		return
	}
	m.speechItems.WithLabelValues(result).Inc()
}

// PersistFailure 记录一次持久化失败
func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// SetQueueDepth 更新队列深度
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetHistoryEntries 更新历史条数
func (m *Metrics) SetHistoryEntries(n int) {
	if m == nil {
		return
	}
	m.historyEntries.Set(float64(n))
}
