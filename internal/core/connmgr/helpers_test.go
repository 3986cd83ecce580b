package connmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-trustlink/internal/core/eventbus"
	"github.com/dep2p/go-trustlink/internal/core/transport/memory"
	"github.com/dep2p/go-trustlink/internal/util/retry"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// router 进程内信令路由，异步投递以模拟乱序
type router struct {
	mu   sync.Mutex
	mgrs map[string]*Manager
	hold func(*types.PeerSignal) bool
	held []*types.PeerSignal
	dup  bool
	sent map[types.SignalType]int
}

func newRouter() *router {
	return &router{
		mgrs: make(map[string]*Manager),
		sent: make(map[types.SignalType]int),
	}
}

func (r *router) endpoint(self string) interfaces.SignalingChannel {
	return &endpoint{r: r, self: self}
}

// holdWhile 暂存满足条件的信令直到 release
func (r *router) holdWhile(fn func(*types.PeerSignal) bool) {
	r.mu.Lock()
	r.hold = fn
	r.mu.Unlock()
}

func (r *router) release() {
	r.mu.Lock()
	held := r.held
	r.held, r.hold = nil, nil
	r.mu.Unlock()
	for _, sig := range held {
		r.deliver(sig)
	}
}

func (r *router) count(t types.SignalType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[t]
}

func (r *router) route(sig *types.PeerSignal) {
	r.mu.Lock()
	r.sent[sig.Type]++
	if r.hold != nil && r.hold(sig) {
		r.held = append(r.held, sig)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.deliver(sig)
}

func (r *router) deliver(sig *types.PeerSignal) {
	r.mu.Lock()
	m := r.mgrs[sig.To]
	n := 1
	if r.dup {
		n = 2
	}
	r.mu.Unlock()
	if m == nil {
		return
	}
	for i := 0; i < n; i++ {
		go m.HandleSignal(context.Background(), sig)
	}
}

type endpoint struct {
	r    *router
	self string
}

func (e *endpoint) Send(_ context.Context, target string, t types.SignalType, payload []byte) error {
	e.r.route(&types.PeerSignal{
		Type:      t,
		From:      e.self,
		To:        target,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now(),
		Nonce:     uuid.NewString(),
	})
	return nil
}

func (e *endpoint) Start(context.Context, interfaces.SignalHandler) error { return nil }

func (e *endpoint) Stop() error { return nil }

// trustTable 可配置的信任检查
type trustTable struct {
	mu        sync.Mutex
	untrusted map[string]bool
	blocked   map[string]bool
	// stalled 查询该对端时阻塞到通道关闭（模拟缓慢的信任查询）
	stalled map[string]chan struct{}
}

func newTrustTable() *trustTable {
	return &trustTable{
		untrusted: make(map[string]bool),
		blocked:   make(map[string]bool),
		stalled:   make(map[string]chan struct{}),
	}
}

func (t *trustTable) IsTrusted(ctx context.Context, peer string) (bool, error) {
	t.mu.Lock()
	gate := t.stalled[peer]
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.untrusted[peer], nil
}

func (t *trustTable) IsBlocked(_ context.Context, peer string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked[peer], nil
}

// stateLog 记录连接状态事件
type stateLog struct {
	mu     sync.Mutex
	events []types.ConnectionStateEvent
}

func (l *stateLog) states(peer string) []types.ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.ConnState
	for _, e := range l.events {
		if e.PeerID == peer {
			out = append(out, e.State)
		}
	}
	return out
}

func (l *stateLog) last(peer string) (types.ConnectionStateEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].PeerID == peer {
			return l.events[i], true
		}
	}
	return types.ConnectionStateEvent{}, false
}

// node 测试中的一个参与者
type node struct {
	id    string
	mgr   *Manager
	bus   *eventbus.Bus
	trust *trustTable
	log   *stateLog
}

type nodeOptions struct {
	clock clock.Clock
	cfg   *Config
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadyWait = 2 * time.Second
	cfg.ReadyPollInterval = 10 * time.Millisecond
	cfg.NegotiationTimeout = 10 * time.Second
	cfg.TrustLookup = retry.Policy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond}
	return cfg
}

func newNode(t *testing.T, net *memory.Network, r *router, id string, o nodeOptions) *node {
	t.Helper()
	cfg := testConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	bus := eventbus.NewBus()
	trust := newTrustTable()
	mgr, err := New(id, net.Transport(id), r.endpoint(id), NewGater(trust, cfg.TrustLookup), o.clock, nil, bus, cfg)
	require.NoError(t, err)

	sub, err := bus.Subscribe(new(types.ConnectionStateEvent), interfaces.BufSize(256))
	require.NoError(t, err)
	log := &stateLog{}
	go func() {
		for e := range sub.Out() {
			log.mu.Lock()
			log.events = append(log.events, e.(types.ConnectionStateEvent))
			log.mu.Unlock()
		}
	}()

	r.mu.Lock()
	r.mgrs[id] = mgr
	r.mu.Unlock()

	t.Cleanup(func() {
		_ = mgr.Close()
		_ = sub.Close()
	})
	return &node{id: id, mgr: mgr, bus: bus, trust: trust, log: log}
}

// waitConnected 等待双方都进入 CONNECTED
func waitConnected(t *testing.T, a, b *node) {
	t.Helper()
	require.Eventually(t, func() bool {
		sa, _ := a.mgr.State(b.id)
		sb, _ := b.mgr.State(a.id)
		return sa == types.ConnStateConnected && sb == types.ConnStateConnected
	}, 3*time.Second, 10*time.Millisecond, "%s 与 %s 未能建立连接", a.id, b.id)
}
