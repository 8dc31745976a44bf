package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alym00sa/hira/internal/config"
)

func testServerConfig(apiKey string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		AI:     config.AIConfig{OpenAIAPIKey: apiKey},
		Relay: config.RelayConfig{
			AssistantName: "HiRA",
			Voice:         "shimmer",
			ToolName:      "search_knowledge_base",
		},
	}
}

// stubDialer 返回内存管道的上游拨号器
type stubDialer struct {
	remoteCh chan *pipeEnd
}

func newStubDialer() *stubDialer {
	return &stubDialer{remoteCh: make(chan *pipeEnd, 1)}
}

func (d *stubDialer) Dial(ctx context.Context) (Conn, error) {
	local, remote := newPipe()
	d.remoteCh <- remote
	return local, nil
}

// failingDialer 始终拨号失败
type failingDialer struct{}

func (d *failingDialer) Dial(ctx context.Context) (Conn, error) {
	return nil, errors.New("upstream unreachable")
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestServerRefusesWithoutAPIKey(t *testing.T) {
	s := NewServer(testServerConfig(""), &stubContextBuilder{}, newStubDialer(), zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/relay"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// 升级成功但立即收到策略违规关闭帧，会话从未桥接
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestServerClosesOnUpstreamDialFailure(t *testing.T) {
	s := NewServer(testServerConfig("sk-test"), &stubContextBuilder{}, &failingDialer{}, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/relay"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestServerBridgesThroughStubUpstream(t *testing.T) {
	dialer := newStubDialer()
	s := NewServer(testServerConfig("sk-test"), &stubContextBuilder{}, dialer, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/relay?user_id=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var remote *pipeEnd
	select {
	case remote = <-dialer.remoteCh:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream dial never happened")
	}

	// 客户端事件穿过会话到达上游
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_audio_buffer.commit"}`)))
	select {
	case m := <-remote.in:
		assert.Contains(t, string(m.data), "input_audio_buffer.commit")
	case <-time.After(2 * time.Second):
		t.Fatal("event did not reach upstream")
	}

	// 上游事件原路返回客户端
	require.NoError(t, remote.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.created"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "response.created")
}

func TestServerHealthAndMetricsEndpoints(t *testing.T) {
	s := NewServer(testServerConfig("sk-test"), &stubContextBuilder{}, newStubDialer(), zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
