package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// recorder 记录回调的测试 handler
type recorder struct {
	mu         sync.Mutex
	candidates []types.ICECandidate
	channel    interfaces.DataChannel
	opened     chan struct{}
	messages   chan []byte
	closed     chan error
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		closed:   make(chan error, 1),
	}
}

func (r *recorder) OnICECandidate(c types.ICECandidate) {
	r.mu.Lock()
	r.candidates = append(r.candidates, c)
	r.mu.Unlock()
}

func (r *recorder) OnDataChannel(dc interfaces.DataChannel) {
	r.mu.Lock()
	r.channel = dc
	r.mu.Unlock()
}

func (r *recorder) OnChannelOpen(dc interfaces.DataChannel) {
	r.mu.Lock()
	r.channel = dc
	r.mu.Unlock()
	r.opened <- struct{}{}
}

func (r *recorder) OnChannelMessage(_ interfaces.DataChannel, data []byte) {
	r.messages <- data
}

func (r *recorder) OnClosed(err error) {
	r.closed <- err
}

func (r *recorder) waitCandidate(t *testing.T) types.ICECandidate {
	t.Helper()
	var c types.ICECandidate
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.candidates) == 0 {
			return false
		}
		c = r.candidates[0]
		return true
	}, time.Second, 5*time.Millisecond)
	return c
}

func waitOpen(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(time.Second):
		t.Fatal("数据通道未打开")
	}
}

// negotiate 完成一次完整协商
func negotiate(t *testing.T, n *Network) (*recorder, *recorder, interfaces.PeerConnection, interfaces.PeerConnection) {
	t.Helper()
	ra, rb := newRecorder(), newRecorder()

	a, err := n.Transport("alice").NewPeerConnection("bob", ra)
	require.NoError(t, err)
	b, err := n.Transport("bob").NewPeerConnection("alice", rb)
	require.NoError(t, err)

	_, err = a.CreateDataChannel("trustlink")
	require.NoError(t, err)
	offer, err := a.CreateOffer()
	require.NoError(t, err)

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, a.SetRemoteDescription(answer))

	require.NoError(t, b.AddICECandidate(ra.waitCandidate(t)))
	require.NoError(t, a.AddICECandidate(rb.waitCandidate(t)))
	return ra, rb, a, b
}

func TestNetwork_Negotiate(t *testing.T) {
	n := NewNetwork()
	ra, rb, a, b := negotiate(t, n)
	defer a.Close()
	defer b.Close()

	waitOpen(t, ra)
	waitOpen(t, rb)

	require.NoError(t, ra.channel.Send([]byte("1")))
	require.NoError(t, ra.channel.Send([]byte("2")))
	assert.Equal(t, "1", string(<-rb.messages))
	assert.Equal(t, "2", string(<-rb.messages))

	require.NoError(t, rb.channel.Send([]byte("pong")))
	assert.Equal(t, "pong", string(<-ra.messages))
	assert.Equal(t, "trustlink", rb.channel.Label())
}

func TestNetwork_CandidateBeforeRemoteDescription(t *testing.T) {
	n := NewNetwork()
	ra := newRecorder()
	a, err := n.Transport("alice").NewPeerConnection("bob", ra)
	require.NoError(t, err)
	b, err := n.Transport("bob").NewPeerConnection("alice", newRecorder())
	require.NoError(t, err)

	_, err = a.CreateDataChannel("x")
	require.NoError(t, err)
	_, err = a.CreateOffer()
	require.NoError(t, err)

	err = b.AddICECandidate(ra.waitCandidate(t))
	assert.ErrorIs(t, err, ErrNoRemoteDescription)
}

func TestNetwork_InvalidStates(t *testing.T) {
	n := NewNetwork()
	a, err := n.Transport("alice").NewPeerConnection("bob", newRecorder())
	require.NoError(t, err)

	t.Run("无 offer 时创建 answer", func(t *testing.T) {
		_, err := a.CreateAnswer()
		assert.ErrorIs(t, err, ErrWrongState)
	})

	t.Run("无效描述", func(t *testing.T) {
		err := a.SetRemoteDescription(types.SessionDescription{Type: "offer", SDP: "garbage"})
		assert.ErrorIs(t, err, ErrInvalidDescription)
	})

	t.Run("关闭后操作", func(t *testing.T) {
		require.NoError(t, a.Close())
		_, err := a.CreateOffer()
		assert.ErrorIs(t, err, types.ErrConnectionClosed)
	})
}

func TestNetwork_CloseNotifiesPeer(t *testing.T) {
	n := NewNetwork()
	ra, rb, a, b := negotiate(t, n)
	waitOpen(t, ra)
	waitOpen(t, rb)

	require.NoError(t, a.Close())
	select {
	case err := <-rb.closed:
		assert.ErrorIs(t, err, types.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("对端未收到关闭通知")
	}
	assert.False(t, rb.channel.IsOpen())
	assert.ErrorIs(t, rb.channel.Send([]byte("x")), types.ErrChannelNotReady)
	require.NoError(t, b.Close())
	assert.Zero(t, n.Open())
}

func TestNetwork_SuppressICE(t *testing.T) {
	n := NewNetwork()
	n.SuppressICE(true)

	ra := newRecorder()
	a, err := n.Transport("alice").NewPeerConnection("bob", ra)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.CreateOffer()
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	ra.mu.Lock()
	defer ra.mu.Unlock()
	assert.Empty(t, ra.candidates)
}
