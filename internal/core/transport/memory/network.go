// Package memory 提供进程内回环传输
//
// Network 模拟一个 WebRTC 网络：每个参与者通过 Network.Transport(id)
// 获得自己的 interfaces.Transport。协商规则与 WebRTC 保持一致：
//
//   - CreateOffer / CreateAnswer 设置本地描述并异步产生一个 ICE 候选
//   - 未设置远端描述时 AddICECandidate 返回错误
//   - 双方描述就位且各自收到对端至少一个候选后，数据通道打开
//
// 所有回调在每个连接独立的串行执行器中异步调用，顺序与触发顺序一致。
package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var (
	// ErrNoRemoteDescription 未设置远端描述
	ErrNoRemoteDescription = errors.New("memory: remote description not set")
	// ErrInvalidDescription 无效的会话描述
	ErrInvalidDescription = errors.New("memory: invalid session description")
	// ErrInvalidCandidate 无效的 ICE 候选
	ErrInvalidCandidate = errors.New("memory: invalid ice candidate")
	// ErrWrongState 当前状态不允许该操作
	ErrWrongState = errors.New("memory: operation not allowed in current state")
)

const (
	sdpPrefix       = "v=0 mem "
	candidatePrefix = "candidate:mem "
)

// Network 进程内回环网络
type Network struct {
	mu    sync.Mutex
	conns map[string]*PeerConnection

	seq atomic.Uint64

	suppressICE atomic.Bool
	created     atomic.Int64
}

// NewNetwork 创建回环网络
func NewNetwork() *Network {
	return &Network{conns: make(map[string]*PeerConnection)}
}

// Transport 返回 localID 使用的传输层
func (n *Network) Transport(localID string) interfaces.Transport {
	return &transport{net: n, local: localID}
}

// SuppressICE 停止产生 ICE 候选，协商将无法完成（用于测试协商超时）
func (n *Network) SuppressICE(on bool) {
	n.suppressICE.Store(on)
}

// Created 返回累计创建的连接数
func (n *Network) Created() int64 {
	return n.created.Load()
}

// Open 返回仍处于打开状态的连接数
func (n *Network) Open() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

func (n *Network) register(pc *PeerConnection) {
	n.mu.Lock()
	n.conns[pc.token] = pc
	n.mu.Unlock()
	n.created.Add(1)
}

func (n *Network) unregister(pc *PeerConnection) {
	n.mu.Lock()
	delete(n.conns, pc.token)
	n.mu.Unlock()
}

func (n *Network) lookup(token string) *PeerConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[token]
}

// transport 单个参与者的传输层
type transport struct {
	net   *Network
	local string
}

// NewPeerConnection 创建对等连接
func (t *transport) NewPeerConnection(peerID string, handler interfaces.PeerConnectionHandler) (interfaces.PeerConnection, error) {
	if handler == nil {
		return nil, fmt.Errorf("memory: nil handler")
	}
	pc := &PeerConnection{
		net:     t.net,
		local:   t.local,
		remote:  peerID,
		token:   fmt.Sprintf("%s-%d", t.local, t.net.seq.Add(1)),
		handler: handler,
		exec:    newExecutor(),
	}
	t.net.register(pc)
	return pc, nil
}

// executor 串行回调执行器
type executor struct {
	mu     sync.Mutex
	queue  []func()
	active bool
}

func newExecutor() *executor {
	return &executor{}
}

func (e *executor) run(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.mu.Unlock()

	go func() {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.active = false
				e.mu.Unlock()
				return
			}
			next := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			next()
		}
	}()
}

// candidateFor 构造 token 对应的候选
func candidateFor(token string) types.ICECandidate {
	mid := "0"
	var idx uint16
	return types.ICECandidate{
		Candidate:     candidatePrefix + token,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}
