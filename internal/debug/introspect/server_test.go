package introspect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// fakeConns 固定的连接视图
type fakeConns map[string]types.ConnState

func (f fakeConns) Peers() []string {
	peers := make([]string, 0, len(f))
	for id := range f {
		peers = append(peers, id)
	}
	return peers
}

func (f fakeConns) State(peerID string) (types.ConnState, bool) {
	s, ok := f[peerID]
	return s, ok
}

type fakePresence []string

func (f fakePresence) OnlinePeers() []string { return f }

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	server := New(cfg)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func get(t *testing.T, server *Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNew(t *testing.T) {
	server := New(Config{})
	assert.Equal(t, DefaultAddr, server.config.Addr)

	server = New(Config{Addr: "127.0.0.1:8080"})
	assert.Equal(t, "127.0.0.1:8080", server.config.Addr)
}

func TestServer_StartStop(t *testing.T) {
	server := New(Config{Addr: "127.0.0.1:0"})
	ctx := context.Background()

	require.NoError(t, server.Start(ctx))
	assert.True(t, server.running)
	assert.NotEqual(t, "127.0.0.1:0", server.Addr())

	// 重复启动、重复停止均无副作用
	require.NoError(t, server.Start(ctx))
	require.NoError(t, server.Stop())
	assert.False(t, server.running)
	require.NoError(t, server.Stop())
}

func TestServer_Endpoints(t *testing.T) {
	id, err := identity.Generate("alice")
	require.NoError(t, err)
	server := startServer(t, Config{
		Identity: id,
		Conns: fakeConns{
			"bob":   types.ConnStateConnected,
			"carol": types.ConnStateHaveLocalOffer,
		},
		Presence: fakePresence{"bob"},
	})

	t.Run("健康检查", func(t *testing.T) {
		var health HealthResponse
		assert.Equal(t, http.StatusOK, get(t, server, "/health", &health))
		assert.Equal(t, "ok", health.Status)
	})

	t.Run("身份", func(t *testing.T) {
		var info IdentityInfo
		assert.Equal(t, http.StatusOK, get(t, server, "/debug/introspect/identity", &info))
		assert.Equal(t, id.ID(), info.ID)
		assert.Equal(t, "alice", info.Nickname)
	})

	t.Run("连接", func(t *testing.T) {
		var info ConnectionInfo
		assert.Equal(t, http.StatusOK, get(t, server, "/debug/introspect/connections", &info))
		assert.Equal(t, 2, info.Total)
		assert.Equal(t, 1, info.Connected)
		assert.Equal(t, []string{"bob"}, info.Online)
		for _, p := range info.Peers {
			assert.Equal(t, p.ID == "bob", p.Online)
		}
	})

	t.Run("完整报告", func(t *testing.T) {
		var resp IntrospectResponse
		assert.Equal(t, http.StatusOK, get(t, server, "/debug/introspect", &resp))
		assert.NotEmpty(t, resp.Uptime)
		require.NotNil(t, resp.Runtime)
		assert.Greater(t, resp.Runtime.NumGoroutine, 0)
		assert.NotNil(t, resp.Identity)
	})
}

func TestServer_Degraded(t *testing.T) {
	server := startServer(t, Config{})

	var health HealthResponse
	assert.Equal(t, http.StatusOK, get(t, server, "/health", &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, server, "/debug/introspect/identity", nil))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, server, "/debug/introspect/connections", nil))
	assert.Equal(t, http.StatusNotFound, get(t, server, "/metrics", nil))
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New("test")
	m.InviteIssued()
	server := startServer(t, Config{Metrics: m.Handler()})

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_invite_issued_total")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server := startServer(t, Config{})

	resp, err := http.Post("http://"+server.Addr()+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_CustomHandlers(t *testing.T) {
	server := startServer(t, Config{
		CustomHandlers: map[string]http.HandlerFunc{
			"/custom": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("custom response"))
			},
		},
	})

	resp, err := http.Get("http://" + server.Addr() + "/custom")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "custom response", string(body))
}

func TestConfigFromUnified(t *testing.T) {
	cfg := config.NewConfig()
	assert.Nil(t, ConfigFromUnified(cfg), "未配置地址时禁用")

	cfg.Diagnostics.IntrospectAddr = "127.0.0.1:6061"
	got := ConfigFromUnified(cfg)
	require.NotNil(t, got)
	assert.Equal(t, "127.0.0.1:6061", got.Addr)
}
