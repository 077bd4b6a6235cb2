package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ai_therapist/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator 记录收到的消息并返回预设结果
type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    [][]models.Message
	options  []models.GenerateOptions
	deadline bool
}

func (g *fakeGenerator) Complete(ctx context.Context, messages []models.Message, opts models.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, append([]models.Message(nil), messages...))
	g.options = append(g.options, opts)
	_, g.deadline = ctx.Deadline()
	return g.reply, g.err
}

// fakeQueue 记录入队文本
type fakeQueue struct {
	mu    sync.Mutex
	items []string
	err   error
}

func (q *fakeQueue) Enqueue(text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, text)
	return nil
}

func (q *fakeQueue) Items() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

type fakePublisher struct {
	user, assistant []string
}

func (p *fakePublisher) PublishExchange(user, assistant string) error {
	p.user = append(p.user, user)
	p.assistant = append(p.assistant, assistant)
	return nil
}

var testGenerateOptions = models.GenerateOptions{
	Model:       "llama3-70b-8192",
	MaxTokens:   150,
	Temperature: 0.7,
	TopP:        0.8,
}

func newTestDialog(t *testing.T, gen models.ChatGenerator, queue models.SpeechQueue, window int) (*DialogService, *HistoryStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	store := NewHistoryStore(path, zerolog.Nop(), nil)
	dialog := NewDialogService(store, gen, queue, DialogOptions{
		Persona:  "test persona",
		Window:   window,
		Generate: testGenerateOptions,
		Timeout:  time.Second,
	}, zerolog.Nop(), nil)
	return dialog, store, path
}

func TestDialogService_HelloScenario(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi there!"}
	queue := &fakeQueue{}
	dialog, _, path := newTestDialog(t, gen, queue, 3)

	reply := dialog.Generate(context.Background(), "Hello")

	assert.Equal(t, "Hi there!", reply.Text)
	assert.False(t, reply.Fallback)
	assert.True(t, reply.Spoken)
	assert.NoError(t, reply.Err)
	assert.Empty(t, reply.Warnings)

	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}, readHistoryFile(t, path))
	assert.Equal(t, []string{"Hi there!"}, queue.Items())

	require.Len(t, gen.calls, 1)
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "test persona"},
		{Role: models.RoleUser, Content: "Hello"},
	}, gen.calls[0])
	assert.Equal(t, testGenerateOptions, gen.options[0])
	assert.True(t, gen.deadline)
}

func TestDialogService_TrimsReply(t *testing.T) {
	gen := &fakeGenerator{reply: "  spaced out \n"}
	queue := &fakeQueue{}
	dialog, store, _ := newTestDialog(t, gen, queue, 3)

	reply := dialog.Generate(context.Background(), "hi")
	assert.Equal(t, "spaced out", reply.Text)
	assert.Equal(t, "spaced out", store.History()[1].Content)
	assert.Equal(t, []string{"spaced out"}, queue.Items())
}

func TestDialogService_GenerationFailure(t *testing.T) {
	tests := []struct {
		name  string
		gen   *fakeGenerator
		isErr error
	}{
		{name: "接口错误", gen: &fakeGenerator{err: errors.New("rate limited")}},
		{name: "空回复", gen: &fakeGenerator{reply: "   "}, isErr: ErrEmptyReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			dialog, store, _ := newTestDialog(t, tt.gen, queue, 3)

			reply := dialog.Generate(context.Background(), "Hello")

			assert.Equal(t, FallbackReply, reply.Text)
			assert.True(t, reply.Fallback)
			assert.False(t, reply.Spoken)
			require.Error(t, reply.Err)
			if tt.isErr != nil {
				assert.ErrorIs(t, reply.Err, tt.isErr)
			}

			// 只保留用户消息，不写入助手消息，也不入队
			assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "Hello"}}, store.History())
			assert.Empty(t, queue.Items())
		})
	}
}

func TestDialogService_WindowScenario(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	dialog, store, _ := newTestDialog(t, gen, &fakeQueue{}, 3)

	prior := []models.Message{
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "u2"},
		{Role: models.RoleAssistant, Content: "a2"},
		{Role: models.RoleUser, Content: "u3"},
	}
	for _, msg := range prior {
		require.NoError(t, store.Append(msg))
	}

	dialog.Generate(context.Background(), "u4")

	require.Len(t, gen.calls, 1)
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "test persona"},
		{Role: models.RoleUser, Content: "u2"},
		{Role: models.RoleAssistant, Content: "a2"},
		{Role: models.RoleUser, Content: "u3"},
		{Role: models.RoleUser, Content: "u4"},
	}, gen.calls[0])

	// 窗口不会截断持久化的历史
	assert.Equal(t, 7, store.Len())
}

func TestDialogService_LongInputPassedThrough(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	dialog, _, _ := newTestDialog(t, gen, &fakeQueue{}, 3)

	long := make([]byte, 100000)
	for i := range long {
		long[i] = 'a'
	}
	dialog.Generate(context.Background(), string(long))

	require.Len(t, gen.calls, 1)
	last := gen.calls[0][len(gen.calls[0])-1]
	assert.Equal(t, string(long), last.Content)
}

func TestDialogService_EnqueueFailureIsWarning(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi"}
	queue := &fakeQueue{err: ErrQueueFull}
	dialog, store, _ := newTestDialog(t, gen, queue, 3)

	reply := dialog.Generate(context.Background(), "Hello")

	assert.Equal(t, "Hi", reply.Text)
	assert.False(t, reply.Fallback)
	assert.False(t, reply.Spoken)
	require.Len(t, reply.Warnings, 1)
	assert.ErrorIs(t, reply.Warnings[0], ErrQueueFull)
	assert.Equal(t, 2, store.Len())
}

func TestDialogService_PersistFailureIsWarning(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi"}
	queue := &fakeQueue{}
	store := NewHistoryStore(filepath.Join(t.TempDir(), "missing", "db.json"), zerolog.Nop(), nil)
	dialog := NewDialogService(store, gen, queue, DialogOptions{Window: 3, Generate: testGenerateOptions}, zerolog.Nop(), nil)

	reply := dialog.Generate(context.Background(), "Hello")

	assert.Equal(t, "Hi", reply.Text)
	assert.True(t, reply.Spoken)
	require.Len(t, reply.Warnings, 2)
	for _, w := range reply.Warnings {
		assert.ErrorIs(t, w, ErrPersist)
	}
	assert.Equal(t, 2, store.Len())
	// 未设置人设时使用内置人设
	assert.Equal(t, DefaultPersona, gen.calls[0][0].Content)
}

func TestDialogService_PublishesExchange(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi there!"}
	dialog, _, _ := newTestDialog(t, gen, &fakeQueue{}, 3)
	pub := &fakePublisher{}
	dialog.SetPublisher(pub)

	dialog.Generate(context.Background(), "Hello")

	assert.Equal(t, []string{"Hello"}, pub.user)
	assert.Equal(t, []string{"Hi there!"}, pub.assistant)

	gen.err = errors.New("down")
	dialog.Generate(context.Background(), "again")
	assert.Len(t, pub.user, 1)
}

func TestDialogService_WithSpeechWorker(t *testing.T) {
	gen := &fakeGenerator{reply: "line one\nline two"}
	player := &recordingPlayer{}
	worker := newTestWorker(&fakeSynthesizer{}, player, 4)
	worker.Start(context.Background())
	defer worker.Stop(time.Second)

	dialog, _, _ := newTestDialog(t, gen, worker, 3)
	reply := dialog.Generate(context.Background(), "Hello")

	assert.True(t, reply.Spoken)
	assert.Eventually(t, func() bool { return len(player.Played()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"line one\nline two"}, player.Played())
}

func TestChatService_RejectsEmptyMessage(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi"}
	queue := &fakeQueue{}
	dialog, store, _ := newTestDialog(t, gen, queue, 3)
	chat := NewChatService(dialog, nil)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := chat.Handle(context.Background(), msg)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, gen.calls)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, queue.Items())

	reply, err := chat.Handle(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi", reply.Text)
}
