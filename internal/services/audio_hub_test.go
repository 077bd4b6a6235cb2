package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai_therapist/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, opts AudioOptions) (*AudioHub, *httptest.Server) {
	t.Helper()
	hub := NewAudioHub(opts, zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func dialHub(t *testing.T, hub *AudioHub, server *httptest.Server, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readSegment(t *testing.T, conn *websocket.Conn) (segmentHeader, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var header segmentHeader
	require.NoError(t, conn.ReadJSON(&header))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	return header, data
}

func TestAudioHub_Broadcast(t *testing.T) {
	hub, server := newTestHub(t, AudioOptions{Encoding: AudioEncodingPCM})
	first := dialHub(t, hub, server, 1)
	second := dialHub(t, hub, server, 2)

	seg := &models.AudioSegment{Data: []byte{1, 2, 3, 4}, SampleRate: 24000, Text: "Hello."}
	require.NoError(t, hub.Play(context.Background(), seg))

	for _, conn := range []*websocket.Conn{first, second} {
		header, data := readSegment(t, conn)
		assert.Equal(t, "segment", header.Type)
		assert.Equal(t, 24000, header.SampleRate)
		assert.Equal(t, AudioEncodingPCM, header.Encoding)
		assert.Equal(t, "Hello.", header.Text)
		assert.Equal(t, 4, header.Bytes)
		assert.Equal(t, []byte{1, 2, 3, 4}, data)
	}
}

func TestAudioHub_ULaw(t *testing.T) {
	hub, server := newTestHub(t, AudioOptions{Encoding: AudioEncodingULaw})
	conn := dialHub(t, hub, server, 1)

	pcm := make([]byte, 320)
	require.NoError(t, hub.Play(context.Background(), &models.AudioSegment{Data: pcm, SampleRate: 8000}))

	header, data := readSegment(t, conn)
	assert.Equal(t, AudioEncodingULaw, header.Encoding)
	// 每个16位样本编码为1字节
	assert.Len(t, data, 160)
	assert.Equal(t, 160, header.Bytes)
}

func TestAudioHub_NoClients(t *testing.T) {
	hub, _ := newTestHub(t, AudioOptions{})
	assert.NoError(t, hub.Play(context.Background(), &models.AudioSegment{Data: []byte{0, 0}, SampleRate: 24000}))
}

func TestAudioHub_Realtime(t *testing.T) {
	hub, _ := newTestHub(t, AudioOptions{Realtime: true})

	// 2400个样本，24kHz下为100ms
	seg := &models.AudioSegment{Data: make([]byte, 4800), SampleRate: 24000}
	require.Equal(t, 100*time.Millisecond, seg.Duration())

	start := time.Now()
	require.NoError(t, hub.Play(context.Background(), seg))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAudioHub_RealtimeCanceled(t *testing.T) {
	hub, _ := newTestHub(t, AudioOptions{Realtime: true})

	// 10秒的音频
	seg := &models.AudioSegment{Data: make([]byte, 480000), SampleRate: 24000}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := hub.Play(ctx, seg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAudioHub_ClientDisconnect(t *testing.T) {
	hub, server := newTestHub(t, AudioOptions{})
	conn := dialHub(t, hub, server, 1)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, hub.Play(context.Background(), &models.AudioSegment{Data: []byte{0, 0}, SampleRate: 24000}))
}

func TestAudioHub_Close(t *testing.T) {
	hub, server := newTestHub(t, AudioOptions{})
	conn := dialHub(t, hub, server, 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	err = hub.Play(context.Background(), &models.AudioSegment{Data: []byte{0, 0}, SampleRate: 24000})
	assert.ErrorIs(t, err, ErrHubClosed)

	// 重复关闭
	assert.NoError(t, hub.Close())
}
