package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ai_therapist/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zaf/g711"
)

// 音频编码
const (
	AudioEncodingPCM  = "pcm"
	AudioEncodingULaw = "ulaw"
)

// ErrHubClosed 音频广播已关闭
var ErrHubClosed = errors.New("音频广播已关闭")

// AudioOptions 音频输出参数
type AudioOptions struct {
	Encoding     string        // pcm 或 ulaw
	Realtime     bool          // 按音频时长阻塞，模拟声卡播放
	WriteTimeout time.Duration // 单个客户端写超时
}

// segmentHeader 每段音频前发送的描述信息
type segmentHeader struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Text       string `json:"text"`
	Bytes      int    `json:"bytes"`
}

// AudioHub 通过WebSocket把音频广播给所有连接的播放端
type AudioHub struct {
	options  AudioOptions
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

// NewAudioHub 创建音频广播
func NewAudioHub(opts AudioOptions, logger zerolog.Logger) *AudioHub {
	if opts.Encoding == "" {
		opts.Encoding = AudioEncodingPCM
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &AudioHub{
		options: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.With().Str("component", "audio").Logger(),
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleConnection 处理播放端的WebSocket连接
func (h *AudioHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("升级WebSocket连接失败")
		return
	}

	// 注册新客户端
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Str("remote", r.RemoteAddr).Int("clients", count).Msg("播放端已连接")

	// 处理连接关闭
	defer h.unregister(conn)

	// 播放端不发送数据，读取只用于发现断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("读取消息错误")
			}
			return
		}
	}
}

func (h *AudioHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Play 广播一段音频，实时模式下阻塞到这段音频播放完
func (h *AudioHub) Play(ctx context.Context, segment *models.AudioSegment) error {
	payload := segment.Data
	if h.options.Encoding == AudioEncodingULaw {
		payload = g711.EncodeUlaw(segment.Data)
	}

	header := segmentHeader{
		Type:       "segment",
		SampleRate: segment.SampleRate,
		Encoding:   h.options.Encoding,
		Text:       segment.Text,
		Bytes:      len(payload),
	}

	if err := h.broadcast(header, payload); err != nil {
		return err
	}

	if !h.options.Realtime {
		return nil
	}

	timer := time.NewTimer(segment.Duration())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast 发送给所有客户端，写失败的客户端被移除
func (h *AudioHub) broadcast(header segmentHeader, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	for conn := range h.clients {
		deadline := time.Now().Add(h.options.WriteTimeout)
		conn.SetWriteDeadline(deadline)
		err := conn.WriteJSON(header)
		if err == nil {
			err = conn.WriteMessage(websocket.BinaryMessage, payload)
		}
		if err != nil {
			h.logger.Warn().Err(err).Msg("发送音频失败，断开播放端")
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return nil
}

// ClientCount 当前连接数
func (h *AudioHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有播放端，之后的播放返回ErrHubClosed
func (h *AudioHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
	return nil
}
