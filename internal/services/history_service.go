package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ai_therapist/internal/metrics"
	"ai_therapist/internal/models"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// 历史记录相关错误
var (
	ErrPersist         = errors.New("保存对话历史失败")
	ErrInvalidRole     = errors.New("无效的消息角色")
	ErrOrphanAssistant = errors.New("助手消息之前没有用户消息")
)

// HistoryStore 对话历史存储，独占历史文件
type HistoryStore struct {
	path    string
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	history []models.Message
	hasUser bool
}

// NewHistoryStore 创建历史存储并从文件加载
func NewHistoryStore(path string, logger zerolog.Logger, m *metrics.Metrics) *HistoryStore {
	s := &HistoryStore{
		path:    path,
		logger:  logger.With().Str("component", "history").Logger(),
		metrics: m,
	}
	s.Load()
	return s
}

// Load 读取历史文件，文件不存在或内容无效时返回空历史
func (s *HistoryStore) Load() []models.Message {
	history := s.readFile()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = history
	s.hasUser = false
	for _, msg := range history {
		if msg.Role == models.RoleUser {
			s.hasUser = true
			break
		}
	}
	s.metrics.SetHistoryEntries(len(history))

	return cloneMessages(history)
}

// readFile 读取并解析历史文件
func (s *HistoryStore) readFile() []models.Message {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("读取历史文件失败，使用空历史")
		}
		return []models.Message{}
	}

	var raw []models.Message
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("历史文件格式无效，使用空历史")
		return []models.Message{}
	}

	history := make([]models.Message, 0, len(raw))
	for i, msg := range raw {
		if !msg.Role.Valid() {
			s.logger.Warn().Int("index", i).Str("role", string(msg.Role)).Msg("跳过无效角色的历史记录")
			continue
		}
		history = append(history, msg)
	}

	s.logger.Info().Int("entries", len(history)).Str("path", s.path).Msg("已加载对话历史")
	return history
}

// Append 追加一条记录并保存到文件，保存失败时内存中的记录保留
func (s *HistoryStore) Append(entry models.Message) error {
	_, err := s.AppendWithWindow(entry, 0)
	return err
}

// AppendWithWindow 追加一条记录，并在同一临界区内返回它之前的n条记录加上它本身
func (s *HistoryStore) AppendWithWindow(entry models.Message, n int) ([]models.Message, error) {
	if !entry.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, entry.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Role == models.RoleAssistant && !s.hasUser {
		return nil, ErrOrphanAssistant
	}

	window := tail(s.history, n)
	window = append(window, entry)

	s.history = append(s.history, entry)
	if entry.Role == models.RoleUser {
		s.hasUser = true
	}
	s.metrics.SetHistoryEntries(len(s.history))

	if err := s.persist(); err != nil {
		s.metrics.PersistFailure()
		s.logger.Error().Err(err).Str("path", s.path).Msg("保存对话历史失败")
		return window, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	return window, nil
}

// persist 整体重写历史文件，调用方必须持有写锁
func (s *HistoryStore) persist() error {
	data, err := sonic.ConfigStd.MarshalIndent(s.history, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化历史失败: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("替换历史文件失败: %w", err)
	}
	return nil
}

// RecentWindow 返回最近n条记录的副本
func (s *HistoryStore) RecentWindow(n int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.history, n)
}

// History 返回完整历史的副本
func (s *HistoryStore) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.history)
}

// Len 返回历史条数
func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// tail 复制最后n条记录
func tail(history []models.Message, n int) []models.Message {
	if n <= 0 {
		return []models.Message{}
	}
	if n > len(history) {
		n = len(history)
	}
	return cloneMessages(history[len(history)-n:])
}

func cloneMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
