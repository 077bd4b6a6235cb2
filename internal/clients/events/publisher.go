package events

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject 问答完成事件的默认主题
const DefaultSubject = "therapist.exchange.completed"

// Exchange 一次完整问答
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode 序列化事件
func (e Exchange) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// Publisher 把问答事件发布到NATS
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPublisher 连接NATS，断线后自动重连
func NewPublisher(url, token, subject string, logger zerolog.Logger) (*Publisher, error) {
	logger = logger.With().Str("component", "events").Logger()
	if subject == "" {
		subject = DefaultSubject
	}

	opts := []nats.Option{
		nats.Name("ai_therapist"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS连接断开")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS已重连")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	return &Publisher{conn: nc, subject: subject, logger: logger, now: time.Now}, nil
}

// PublishExchange 实现models.ExchangePublisher
func (p *Publisher) PublishExchange(user, assistant string) error {
	payload, err := Exchange{User: user, Assistant: assistant, Timestamp: p.now().UTC()}.Encode()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Close 刷新缓冲并断开连接
func (p *Publisher) Close() {
	if err := p.conn.FlushTimeout(time.Second); err != nil {
		p.logger.Debug().Err(err).Msg("刷新NATS缓冲失败")
	}
	p.conn.Close()
}
