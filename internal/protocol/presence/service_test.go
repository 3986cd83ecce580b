package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/internal/core/crypto"
	"github.com/dep2p/go-trustlink/internal/core/eventbus"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/internal/core/storage/memory"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// fakeConns 记录广播并保存注册的处理器
type fakeConns struct {
	mu        sync.Mutex
	broadcast []*types.Envelope
	handlers  map[types.EnvelopeKind]interfaces.EnvelopeHandler
}

func newFakeConns() *fakeConns {
	return &fakeConns{handlers: make(map[types.EnvelopeKind]interfaces.EnvelopeHandler)}
}

func (f *fakeConns) Broadcast(_ context.Context, env *types.Envelope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, env)
	return 1
}

func (f *fakeConns) HandleEnvelope(kind types.EnvelopeKind, h interfaces.EnvelopeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
}

func (f *fakeConns) deliver(from string, rec types.PresenceRecord) {
	data, _ := json.Marshal(&rec)
	f.mu.Lock()
	h := f.handlers[types.EnvelopePresence]
	f.mu.Unlock()
	h(from, &types.Envelope{Kind: types.EnvelopePresence, Data: data})
}

func (f *fakeConns) sent() []*types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Envelope(nil), f.broadcast...)
}

type fixture struct {
	clk   *clock.Mock
	store *memory.Store
}

func newFixture() *fixture {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{clk: clk, store: memory.New(memory.WithClock(clk))}
}

func (f *fixture) service(t *testing.T, self string, conns Broadcaster, bus interfaces.EventBus) *Service {
	t.Helper()
	s, err := New(self, f.store, conns, f.clk, nil, bus, WithStaleness(60*time.Second))
	require.NoError(t, err)
	return s
}

func (f *fixture) record(t *testing.T, id string) types.PresenceRecord {
	t.Helper()
	data, err := f.store.GetOnce(context.Background(), recordPath(id))
	require.NoError(t, err)
	var rec types.PresenceRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestSetOnline_PublishesRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.service(t, "alice", nil, nil)
	bob := f.service(t, "bob", nil, nil)
	defer alice.SetOffline(ctx)

	require.NoError(t, alice.SetOnline(ctx))

	rec := f.record(t, "alice")
	assert.Equal(t, "alice", rec.PeerID)
	assert.Equal(t, types.PresenceOnline, rec.Status)
	assert.True(t, rec.LastSeen.Equal(f.clk.Now()))

	online, err := bob.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestIsOnline_Staleness(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.service(t, "alice", nil, nil)
	bob := f.service(t, "bob", nil, nil)

	require.NoError(t, alice.SetOnline(ctx))
	// 崩溃：停止心跳但不发布离线
	alice.stopHeartbeat()

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"刚发布", 0, true},
		{"阈值内", 59 * time.Second, true},
		{"恰好到达阈值", time.Second, false},
		{"远超阈值", time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clk.Add(tt.advance)
			online, err := bob.IsOnline(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, online)
		})
	}
	assert.Equal(t, types.PresenceOnline, f.record(t, "alice").Status, "记录不会被删除或改写")
}

func TestHeartbeat_KeepsOnline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.service(t, "alice", nil, nil)
	bob := f.service(t, "bob", nil, nil)
	defer alice.SetOffline(ctx)

	require.NoError(t, alice.SetOnline(ctx))
	// 等待心跳循环创建 ticker
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 4; i++ {
		f.clk.Add(30 * time.Second)
		now := f.clk.Now()
		require.Eventually(t, func() bool {
			return f.record(t, "alice").LastSeen.Equal(now)
		}, time.Second, 5*time.Millisecond)
	}

	online, err := bob.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online, "两分钟后心跳仍保持在线")
}

func TestSetOffline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conns := newFakeConns()
	alice := f.service(t, "alice", conns, nil)
	bob := f.service(t, "bob", nil, nil)

	require.NoError(t, alice.SetOnline(ctx))
	require.NoError(t, alice.SetOffline(ctx))

	assert.Equal(t, types.PresenceOffline, f.record(t, "alice").Status)
	online, err := bob.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	sent := conns.sent()
	require.Len(t, sent, 2)
	for _, env := range sent {
		assert.Equal(t, types.EnvelopePresence, env.Kind)
	}
	var last types.PresenceRecord
	require.NoError(t, json.Unmarshal(sent[1].Data, &last))
	assert.Equal(t, types.PresenceOffline, last.Status)
}

func TestIsOnline_Invalid(t *testing.T) {
	f := newFixture()
	bob := f.service(t, "bob", nil, nil)

	t.Run("从未发布", func(t *testing.T) {
		online, err := bob.IsOnline(context.Background(), "nobody")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("空 ID", func(t *testing.T) {
		_, err := bob.IsOnline(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidPeerID)
	})
}

func TestWatch_OnlineThenStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bus := eventbus.NewBus()
	sub, err := bus.Subscribe(new(types.PresenceEvent))
	require.NoError(t, err)
	defer sub.Close()

	alice := f.service(t, "alice", nil, nil)
	bob := f.service(t, "bob", nil, bus)
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop(ctx)

	ch, err := bob.Watch("alice")
	require.NoError(t, err)

	require.NoError(t, alice.SetOnline(ctx))
	alice.stopHeartbeat()

	select {
	case ev := <-ch:
		assert.Equal(t, "alice", ev.PeerID)
		assert.True(t, ev.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到上线事件")
	}
	select {
	case raw := <-sub.Out():
		ev := raw.(types.PresenceEvent)
		assert.True(t, ev.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("事件总线未收到上线事件")
	}
	assert.Equal(t, []string{"alice"}, bob.OnlinePeers())

	// 推进时钟直到清理循环降级
	var offline types.PresenceEvent
	require.Eventually(t, func() bool {
		select {
		case offline = <-ch:
			return true
		default:
			f.clk.Add(15 * time.Second)
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, offline.Online)
	assert.Empty(t, bob.OnlinePeers())
}

func TestHandleEnvelope(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conns := newFakeConns()
	bob := f.service(t, "bob", conns, nil)
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop(ctx)

	now := f.clk.Now()
	t.Run("冒充他人被忽略", func(t *testing.T) {
		conns.deliver("mallory", types.PresenceRecord{PeerID: "alice", Status: types.PresenceOnline, LastSeen: now})
		assert.Empty(t, bob.OnlinePeers())
	})

	t.Run("数据通道广播先于存储复制", func(t *testing.T) {
		conns.deliver("alice", types.PresenceRecord{PeerID: "alice", Status: types.PresenceOnline, LastSeen: now})
		assert.Equal(t, []string{"alice"}, bob.OnlinePeers())

		online, err := bob.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online, "存储中无记录时使用缓存")
	})

	t.Run("旧记录不覆盖新记录", func(t *testing.T) {
		conns.deliver("alice", types.PresenceRecord{PeerID: "alice", Status: types.PresenceOffline, LastSeen: now.Add(-time.Minute)})
		assert.Equal(t, []string{"alice"}, bob.OnlinePeers())
	})
}

func TestSignedRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cs := crypto.NewService()
	aliceID, err := identity.Generate("alice")
	require.NoError(t, err)
	bobID, err := identity.Generate("bob")
	require.NoError(t, err)

	signed := func(id *identity.Identity) *Service {
		s, err := New(id.ID(), f.store, nil, f.clk, nil, nil, WithStaleness(60*time.Second), WithSigner(id, cs))
		require.NoError(t, err)
		return s
	}
	alice, bob := signed(aliceID), signed(bobID)
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop(ctx)

	t.Run("存储中伪造的记录被忽略", func(t *testing.T) {
		forged := types.PresenceRecord{PeerID: aliceID.ID(), Status: types.PresenceOnline, LastSeen: f.clk.Now(), Timestamp: f.clk.Now()}
		data, err := json.Marshal(&forged)
		require.NoError(t, err)
		require.NoError(t, f.store.Put(ctx, recordPath(aliceID.ID()), data))

		online, err := bob.IsOnline(ctx, aliceID.ID())
		require.NoError(t, err)
		assert.False(t, online)
		assert.Never(t, func() bool { return len(bob.OnlinePeers()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("本人签名的记录生效", func(t *testing.T) {
		require.NoError(t, alice.SetOnline(ctx))
		defer alice.SetOffline(ctx)

		assert.NotEmpty(t, f.record(t, aliceID.ID()).Signature)
		online, err := bob.IsOnline(ctx, aliceID.ID())
		require.NoError(t, err)
		assert.True(t, online)
		assert.Eventually(t, func() bool {
			return len(bob.OnlinePeers()) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("签名身份不一致", func(t *testing.T) {
		_, err := New("bob", f.store, nil, f.clk, nil, nil, WithSigner(aliceID, cs))
		assert.ErrorIs(t, err, ErrSignerMismatch)
	})
}

func TestLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.service(t, "bob", nil, nil)

	_, err := s.Watch("alice")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.Stop(ctx), ErrNotStarted)

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)
	assert.ErrorIs(t, s.Unwatch("alice"), ErrWatchNotFound)

	ch, err := s.Watch("alice")
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))

	_, ok := <-ch
	assert.False(t, ok, "停止后 Watch 通道关闭")
}

func TestNew_Invalid(t *testing.T) {
	store := memory.New()
	tests := []struct {
		name  string
		self  string
		store interfaces.TrustStore
		opts  []Option
		want  error
	}{
		{"缺少存储", "bob", nil, nil, ErrNilStore},
		{"空 ID", "", store, nil, ErrInvalidPeerID},
		{"心跳不小于阈值", "bob", store, []Option{WithStaleness(time.Minute), WithHeartbeatInterval(time.Minute)}, ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.self, tt.store, nil, nil, nil, nil, tt.opts...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
