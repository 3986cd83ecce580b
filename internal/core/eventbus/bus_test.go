package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// TestBus_EmitAndReceive 测试事件发射和接收
func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.PresenceEvent))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.PresenceEvent))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.PresenceEvent{PeerID: "bob", Online: true}))

	select {
	case ev := <-sub.Out():
		got := ev.(types.PresenceEvent)
		assert.Equal(t, "bob", got.PeerID)
		assert.True(t, got.Online)
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}
}

// TestBus_TypeRouting 测试按类型路由
func TestBus_TypeRouting(t *testing.T) {
	bus := NewBus()

	presence, err := bus.Subscribe(new(types.PresenceEvent))
	require.NoError(t, err)
	defer presence.Close()

	em, err := bus.Emitter(new(types.MessageEvent))
	require.NoError(t, err)
	require.NoError(t, em.Emit(types.MessageEvent{PeerID: "bob"}))

	select {
	case ev := <-presence.Out():
		t.Fatalf("收到不相关事件: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBus_InvalidArgs 测试非法参数
func TestBus_InvalidArgs(t *testing.T) {
	bus := NewBus()

	tests := []struct {
		name string
		arg  interface{}
		want error
	}{
		{"nil 类型", nil, ErrInvalidEventType},
		{"非指针类型", types.PresenceEvent{}, ErrNonPointerType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bus.Subscribe(tt.arg)
			assert.ErrorIs(t, err, tt.want)
			_, err = bus.Emitter(tt.arg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestEmitter_WrongTypeAndClosed 测试发射器错误路径
func TestEmitter_WrongTypeAndClosed(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.PresenceEvent))
	require.NoError(t, err)

	assert.ErrorIs(t, em.Emit(&types.PresenceEvent{}), ErrWrongEventType)

	require.NoError(t, em.Close())
	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(types.PresenceEvent{}), ErrEmitterClosed)
}

// TestBus_Stateful 测试有状态发射器回放最后事件
func TestBus_Stateful(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.ConnectionStateEvent), Stateful())
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.ConnectionStateEvent{PeerID: "a", State: types.ConnStateNew}))
	require.NoError(t, em.Emit(types.ConnectionStateEvent{PeerID: "a", State: types.ConnStateConnected}))

	sub, err := bus.Subscribe(new(types.ConnectionStateEvent))
	require.NoError(t, err)
	defer sub.Close()

	ev := <-sub.Out()
	assert.Equal(t, types.ConnStateConnected, ev.(types.ConnectionStateEvent).State)
}

// TestBus_SlowSubscriberDoesNotBlock 测试慢订阅者不阻塞发射
func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(types.MessageEvent), BufSize(1))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.MessageEvent))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = em.Emit(types.MessageEvent{ID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("发射被阻塞")
	}
	assert.Len(t, sub.Out(), 1)
}

// TestSubscription_CloseWhileEmitting 测试发射过程中关闭订阅
func TestSubscription_CloseWhileEmitting(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.MessageEvent))
	require.NoError(t, err)
	defer em.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := bus.Subscribe(new(types.MessageEvent), BufSize(0))
		require.NoError(t, err)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = em.Emit(types.MessageEvent{})
			}
		}()
		go func(s interfaces.Subscription) {
			defer wg.Done()
			_ = s.Close()
			_ = s.Close()
		}(sub)
	}
	wg.Wait()
	assert.Empty(t, bus.nodes[em.(*Emitter).node.typ].sinks)
}

// TestBus_NodeReleased 测试无订阅者和发射器时节点被释放
func TestBus_NodeReleased(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(types.PresenceEvent))
	require.NoError(t, err)
	em, err := bus.Emitter(new(types.PresenceEvent))
	require.NoError(t, err)

	assert.Len(t, bus.GetAllEventTypes(), 1)

	require.NoError(t, sub.Close())
	assert.Len(t, bus.GetAllEventTypes(), 1)

	require.NoError(t, em.Close())
	assert.Empty(t, bus.GetAllEventTypes())

	_, ok := <-sub.Out()
	assert.False(t, ok)
}
