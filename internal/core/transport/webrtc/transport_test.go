package webrtc

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

type handler struct {
	candidates chan types.ICECandidate
	opened     chan interfaces.DataChannel
	messages   chan []byte
}

func newHandler() *handler {
	return &handler{
		candidates: make(chan types.ICECandidate, 32),
		opened:     make(chan interfaces.DataChannel, 1),
		messages:   make(chan []byte, 8),
	}
}

func (h *handler) OnICECandidate(c types.ICECandidate) { h.candidates <- c }
func (h *handler) OnDataChannel(interfaces.DataChannel) {}
func (h *handler) OnChannelOpen(dc interfaces.DataChannel) { h.opened <- dc }
func (h *handler) OnChannelMessage(_ interfaces.DataChannel, b []byte) { h.messages <- b }
func (h *handler) OnClosed(error) {}

// pipe 将一端的候选转发给另一端
func pipe(from *handler, to interfaces.PeerConnection, stop <-chan struct{}) {
	for {
		select {
		case c := <-from.candidates:
			_ = to.AddICECandidate(c)
		case <-stop:
			return
		}
	}
}

// TestTransport_Loopback 本机回环协商（无需 STUN）
func TestTransport_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过真实网络测试")
	}

	tr, err := New(config.TransportConfig{})
	require.NoError(t, err)

	ha, hb := newHandler(), newHandler()
	a, err := tr.NewPeerConnection("bob", ha)
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.NewPeerConnection("alice", hb)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.CreateDataChannel("trustlink")
	require.NoError(t, err)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.False(t, b.HasRemoteDescription())

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, a.SetRemoteDescription(answer))

	stop := make(chan struct{})
	defer close(stop)
	go pipe(ha, b, stop)
	go pipe(hb, a, stop)

	var dcA interfaces.DataChannel
	select {
	case dcA = <-ha.opened:
	case <-time.After(15 * time.Second):
		t.Fatal("数据通道未打开")
	}

	require.Eventually(t, dcA.IsOpen, time.Second, 10*time.Millisecond)
	require.NoError(t, dcA.Send([]byte("hello")))

	select {
	case msg := <-hb.messages:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("未收到消息")
	}
}

func TestTransport_InvalidSDPType(t *testing.T) {
	tr, err := New(config.TransportConfig{})
	require.NoError(t, err)
	pc, err := tr.NewPeerConnection("x", newHandler())
	require.NoError(t, err)
	defer pc.Close()

	assert.Error(t, pc.SetRemoteDescription(types.SessionDescription{Type: "bogus"}))
}

func TestTerminalError(t *testing.T) {
	tests := []struct {
		name  string
		state webrtc.PeerConnectionState
		want  error
	}{
		{"新建", webrtc.PeerConnectionStateNew, nil},
		{"连接中", webrtc.PeerConnectionStateConnecting, nil},
		{"已连接", webrtc.PeerConnectionStateConnected, nil},
		{"暂时断开", webrtc.PeerConnectionStateDisconnected, nil},
		{"失败", webrtc.PeerConnectionStateFailed, types.ErrTransportFailed},
		{"已关闭", webrtc.PeerConnectionStateClosed, types.ErrConnectionClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := terminalError(tt.state)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
